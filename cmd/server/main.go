// Package main provides the entry point for the retraining service: a
// scheduling loop that retrains and validates trading models against
// historical data, pacing itself by market hours.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helios-quant/retrainer/internal/api"
	"github.com/helios-quant/retrainer/internal/config"
	"github.com/helios-quant/retrainer/internal/data"
	"github.com/helios-quant/retrainer/internal/jobs"
	"github.com/helios-quant/retrainer/internal/market"
	"github.com/helios-quant/retrainer/internal/orchestrator"
	"github.com/helios-quant/retrainer/internal/registry"
	"github.com/helios-quant/retrainer/internal/replay"
	"github.com/helios-quant/retrainer/internal/schedule"
	"github.com/helios-quant/retrainer/internal/simulator"
	"github.com/helios-quant/retrainer/internal/strategy"
	"github.com/helios-quant/retrainer/internal/workers"
	"github.com/helios-quant/retrainer/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	host := flag.String("host", "", "Server host (overrides config)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	dataDir := flag.String("data", "", "Data directory (overrides config)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dataDir != "" {
		cfg.Data.Dir = *dataDir
	}

	logger.Info("Starting retraining service",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("symbols", cfg.Orchestrator.Symbols),
		zap.Strings("algorithms", cfg.Registry.Algorithms),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Data and model stores
	dataStore, err := data.NewStore(logger, cfg.Data.Dir)
	if err != nil {
		logger.Fatal("Failed to initialize data store", zap.Error(err))
	}

	modelRegistry, err := registry.NewModelRegistry(logger, cfg.Registry.Dir)
	if err != nil {
		logger.Fatal("Failed to initialize model registry", zap.Error(err))
	}

	// Market clock and scheduler
	clock, err := market.NewClock(cfg.Market.Timezone, cfg.Market.OpenHour, cfg.Market.CloseHour)
	if err != nil {
		logger.Fatal("Failed to initialize market clock", zap.Error(err))
	}
	intensity := schedule.NewIntensityScheduler(logger, clock, cfg.Scheduler, cfg.Registry.Algorithms)

	// Replay pipeline
	sim := simulator.FromSettings(cfg.Simulator)
	engine := replay.NewEngine(logger, sim, cfg.Replay)
	strategies := strategy.NewRegistry(logger)

	// Job tracking and execution
	jobRegistry := jobs.NewRegistry(logger)
	pool := workers.NewPool(logger, workers.DefaultPoolConfig("replay"))

	promRegistry := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(promRegistry)

	orch := orchestrator.New(
		logger,
		cfg.Orchestrator,
		intensity,
		jobRegistry,
		modelRegistry,
		engine,
		strategies,
		dataStore,
		pool,
		metrics,
	)

	serverConfig := &types.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		WebSocketPath:  cfg.Server.WebSocketPath,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxConnections: cfg.Server.MaxConnections,
	}
	server := api.NewServer(logger, serverConfig, orch, intensity, modelRegistry, dataStore, promRegistry)

	orch.SetEventHandler(server.BroadcastEvent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Service started successfully",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
	)

	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()

	// Stop in reverse order of startup
	if err := orch.Stop(); err != nil {
		logger.Error("Error stopping orchestrator", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
