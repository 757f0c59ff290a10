// Package api provides the HTTP and WebSocket server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/helios-quant/retrainer/internal/data"
	"github.com/helios-quant/retrainer/internal/orchestrator"
	"github.com/helios-quant/retrainer/internal/registry"
	"github.com/helios-quant/retrainer/internal/schedule"
	"github.com/helios-quant/retrainer/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
)

// Server is the HTTP/WebSocket API server
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	httpServer *http.Server
	hub        *Hub
	orch       *orchestrator.Orchestrator
	scheduler  *schedule.IntensityScheduler
	models     *registry.ModelRegistry
	store      *data.Store
}

// NewServer creates a new API server
func NewServer(
	logger *zap.Logger,
	config *types.ServerConfig,
	orch *orchestrator.Orchestrator,
	scheduler *schedule.IntensityScheduler,
	models *registry.ModelRegistry,
	store *data.Store,
	gatherer prometheus.Gatherer,
) *Server {
	server := &Server{
		logger:    logger,
		config:    config,
		router:    mux.NewRouter(),
		hub:       NewHub(logger, config.MaxConnections),
		orch:      orch,
		scheduler: scheduler,
		models:    models,
		store:     store,
	}

	server.setupRoutes(gatherer)
	return server
}

// setupRoutes configures HTTP routes
func (s *Server) setupRoutes(gatherer prometheus.Gatherer) {
	// Health and status
	s.router.HandleFunc("/api/v1/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/v1/status", s.handleStatus).Methods("GET")

	// Jobs
	s.router.HandleFunc("/api/v1/jobs", s.handleListJobs).Methods("GET")
	s.router.HandleFunc("/api/v1/jobs/{id}", s.handleGetJob).Methods("GET")

	// Backtests
	s.router.HandleFunc("/api/v1/backtest/run", s.handleRunBacktest).Methods("POST")

	// Scheduler
	s.router.HandleFunc("/api/v1/scheduler/recommendation", s.handleRecommendation).Methods("GET")

	// Models
	s.router.HandleFunc("/api/v1/models/{algorithm}", s.handleGetChampion).Methods("GET")
	s.router.HandleFunc("/api/v1/models/{algorithm}/history", s.handleGetHistory).Methods("GET")
	s.router.HandleFunc("/api/v1/models/{algorithm}/promotions", s.handleGetPromotions).Methods("GET")

	// Data
	s.router.HandleFunc("/api/v1/data/symbols", s.handleGetSymbols).Methods("GET")
	s.router.HandleFunc("/api/v1/data/history/{symbol}", s.handleGetBars).Methods("GET")

	// Prometheus
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// WebSocket
	s.router.HandleFunc(s.config.WebSocketPath, s.hub.HandleConnection)
}

// BroadcastEvent pushes an orchestrator event to websocket subscribers.
// Wired as the orchestrator's event handler.
func (s *Server) BroadcastEvent(event orchestrator.Event) {
	s.hub.Broadcast(event)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	handler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.orch.GetStatus())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.orch.GetStatus().Jobs
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	for _, job := range s.orch.GetStatus().Jobs {
		if job.ID == id {
			json.NewEncoder(w).Encode(job)
			return
		}
	}

	http.Error(w, "Job not found", http.StatusNotFound)
}

// handleRunBacktest submits a manual replay job
func (s *Server) handleRunBacktest(w http.ResponseWriter, r *http.Request) {
	var config types.BacktestConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	id, err := s.orch.SubmitManualJob(r.Context(), &config)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":     id,
		"status": string(types.JobStatusQueued),
	})
}

func (s *Server) handleRecommendation(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.scheduler.Recommend(time.Now()))
}

func (s *Server) handleGetChampion(w http.ResponseWriter, r *http.Request) {
	algorithm := mux.Vars(r)["algorithm"]

	champion := s.models.GetChampion(algorithm)
	if champion == nil {
		http.Error(w, "No champion for algorithm", http.StatusNotFound)
		return
	}

	json.NewEncoder(w).Encode(champion)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	algorithm := mux.Vars(r)["algorithm"]

	history := s.models.History(algorithm)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"algorithm": algorithm,
		"versions":  history,
		"count":     len(history),
	})
}

func (s *Server) handleGetPromotions(w http.ResponseWriter, r *http.Request) {
	algorithm := mux.Vars(r)["algorithm"]

	promotions := s.models.Promotions(algorithm)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"algorithm":  algorithm,
		"promotions": promotions,
		"count":      len(promotions),
	})
}

func (s *Server) handleGetSymbols(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbols": s.store.AvailableSymbols(),
	})
}

func (s *Server) handleGetBars(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()

	if v := r.URL.Query().Get("start"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			start = t
		}
	}
	if v := r.URL.Query().Get("end"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			end = t
		}
	}

	bars, err := s.store.LoadBars(r.Context(), symbol, start, end)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol,
		"bars":   bars,
		"count":  len(bars),
	})
}
