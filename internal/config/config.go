// Package config loads service configuration from file and environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates all service settings.
type Config struct {
	Server       ServerSettings       `mapstructure:"server"`
	Scheduler    SchedulerSettings    `mapstructure:"scheduler"`
	Orchestrator OrchestratorSettings `mapstructure:"orchestrator"`
	Simulator    SimulatorSettings    `mapstructure:"simulator"`
	Replay       ReplaySettings       `mapstructure:"replay"`
	Data         DataSettings         `mapstructure:"data"`
	Registry     RegistrySettings     `mapstructure:"registry"`
	Market       MarketSettings       `mapstructure:"market"`
}

// ServerSettings configures the HTTP/WebSocket server.
type ServerSettings struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	WebSocketPath  string        `mapstructure:"websocket_path"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// SchedulerSettings configures intensity levels and budgets.
type SchedulerSettings struct {
	IntensiveBudget int           `mapstructure:"intensive_budget"`
	ModerateBudget  int           `mapstructure:"moderate_budget"`
	LightBudget     int           `mapstructure:"light_budget"`
	IntensiveCycle  time.Duration `mapstructure:"intensive_cycle"`
	ModerateCycle   time.Duration `mapstructure:"moderate_cycle"`
	LightCycle      time.Duration `mapstructure:"light_cycle"`
}

// OrchestratorSettings configures the scheduling loop.
type OrchestratorSettings struct {
	Symbols            []string      `mapstructure:"symbols"`
	LookbackDays       int           `mapstructure:"lookback_days"`
	JobRetention       time.Duration `mapstructure:"job_retention"`
	CycleBackoff       time.Duration `mapstructure:"cycle_backoff"`
	WatchdogMultiplier int           `mapstructure:"watchdog_multiplier"`
	MinSharpeRatio     float64       `mapstructure:"min_sharpe_ratio"`
	MinWinRate         float64       `mapstructure:"min_win_rate"`
	MaxDrawdown        float64       `mapstructure:"max_drawdown"`
	MinTradeCount      int           `mapstructure:"min_trade_count"`
}

// SimulatorSettings configures the execution simulator. The slippage and
// impact constants are illustrative market-friction parameters, tunable
// per deployment.
type SimulatorSettings struct {
	TickSlippage     float64 `mapstructure:"tick_slippage"`
	ImpactFactor     float64 `mapstructure:"impact_factor"`
	CommissionPerQty float64 `mapstructure:"commission_per_qty"`
	SizeEpsilon      float64 `mapstructure:"size_epsilon"`
}

// ReplaySettings configures the replay engine.
type ReplaySettings struct {
	MinLookbackBars        int `mapstructure:"min_lookback_bars"`
	MaxConsecutiveFailures int `mapstructure:"max_consecutive_failures"`
	LearningHorizonBars    int `mapstructure:"learning_horizon_bars"`
}

// DataSettings configures historical bar storage.
type DataSettings struct {
	Dir string `mapstructure:"dir"`
}

// RegistrySettings configures the model registry.
type RegistrySettings struct {
	Dir        string   `mapstructure:"dir"`
	Algorithms []string `mapstructure:"algorithms"`
}

// MarketSettings configures the market-hours clock.
type MarketSettings struct {
	Timezone  string `mapstructure:"timezone"`
	OpenHour  int    `mapstructure:"open_hour"`
	CloseHour int    `mapstructure:"close_hour"`
}

// Load reads configuration from an optional YAML file with environment
// overrides (RETRAINER_ prefix) on top of defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RETRAINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocket_path", "/ws")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.max_connections", 100)

	v.SetDefault("scheduler.intensive_budget", 4)
	v.SetDefault("scheduler.moderate_budget", 2)
	v.SetDefault("scheduler.light_budget", 1)
	v.SetDefault("scheduler.intensive_cycle", 2*time.Minute)
	v.SetDefault("scheduler.moderate_cycle", 10*time.Minute)
	v.SetDefault("scheduler.light_cycle", 30*time.Minute)

	v.SetDefault("orchestrator.symbols", []string{"ES", "NQ", "CL"})
	v.SetDefault("orchestrator.lookback_days", 30)
	v.SetDefault("orchestrator.job_retention", 10*time.Minute)
	v.SetDefault("orchestrator.cycle_backoff", 30*time.Second)
	v.SetDefault("orchestrator.watchdog_multiplier", 3)
	v.SetDefault("orchestrator.min_sharpe_ratio", 0.5)
	v.SetDefault("orchestrator.min_win_rate", 0.4)
	v.SetDefault("orchestrator.max_drawdown", 0.2)
	v.SetDefault("orchestrator.min_trade_count", 10)

	v.SetDefault("simulator.tick_slippage", 0.25)
	v.SetDefault("simulator.impact_factor", 0.05)
	v.SetDefault("simulator.commission_per_qty", 2.25)
	v.SetDefault("simulator.size_epsilon", 1e-9)

	v.SetDefault("replay.min_lookback_bars", 20)
	v.SetDefault("replay.max_consecutive_failures", 10)
	v.SetDefault("replay.learning_horizon_bars", 5)

	v.SetDefault("data.dir", "./data/bars")

	v.SetDefault("registry.dir", "./data/models")
	v.SetDefault("registry.algorithms", []string{"momentum", "meanreversion", "breakout"})

	v.SetDefault("market.timezone", "America/New_York")
	v.SetDefault("market.open_hour", 9)
	v.SetDefault("market.close_hour", 16)
}
