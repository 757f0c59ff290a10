// Package types provides configuration types for the retraining service.
package types

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// BacktestConfig represents the configuration for one replay run
type BacktestConfig struct {
	Strategy       string          `json:"strategy"`
	Symbol         string          `json:"symbol"`
	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	Timeframe      Timeframe       `json:"timeframe"`
	InitialCapital decimal.Decimal `json:"initialCapital"`
	LearningMode   bool            `json:"learningMode"`
}

// Validate checks the config invariants.
func (c *BacktestConfig) Validate() error {
	if c.Strategy == "" {
		return fmt.Errorf("strategy is required")
	}
	if c.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}
	if c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("end date %s before start date %s", c.EndDate.Format(time.RFC3339), c.StartDate.Format(time.RFC3339))
	}
	if !c.InitialCapital.IsPositive() {
		return fmt.Errorf("initial capital must be positive, got %s", c.InitialCapital)
	}
	return nil
}

// BacktestResult represents the immutable outcome of a replay run
type BacktestResult struct {
	Config      *BacktestConfig     `json:"config"`
	State       SimulationState     `json:"state"`
	Metrics     *PerformanceMetrics `json:"metrics"`
	Decisions   []Decision          `json:"decisions"`
	Trades      []SimulatedTrade    `json:"trades"`
	BarsTotal   int                 `json:"barsTotal"`
	BarsSkipped int                 `json:"barsSkipped"`
	Reason      string              `json:"reason,omitempty"` // e.g. "no data"
	Cancelled   bool                `json:"cancelled"`
	StartedAt   time.Time           `json:"startedAt"`
	CompletedAt time.Time           `json:"completedAt"`
	Duration    time.Duration       `json:"duration"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	WebSocketPath  string        `json:"websocketPath"`
	ReadTimeout    time.Duration `json:"readTimeout"`
	WriteTimeout   time.Duration `json:"writeTimeout"`
	MaxConnections int           `json:"maxConnections"`
}
