// Package types provides shared type definitions for the retraining service.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Action represents a trading decision action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Timeframe represents bar timeframes
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

// Bar represents a single OHLCV candlestick
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Decision represents the output of a decision function for one bar.
type Decision struct {
	Timestamp  time.Time       `json:"timestamp"`
	Action     Action          `json:"action"`
	Size       decimal.Decimal `json:"size"`       // target contracts, >= 0
	Confidence float64         `json:"confidence"` // 0..1
	Strategy   string          `json:"strategy"`
	// ForwardReturn is the realized return a fixed horizon after the
	// decision, filled in during learning-mode replay when enough bars
	// remain to look ahead.
	ForwardReturn *float64 `json:"forwardReturn,omitempty"`
}

// RiskContext carries portfolio state into a decision function.
type RiskContext struct {
	Position      decimal.Decimal `json:"position"`
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	Capital       decimal.Decimal `json:"capital"`
}

// SimulationState tracks simulated position and PnL during a replay.
type SimulationState struct {
	Position      decimal.Decimal `json:"position"` // signed contract count
	AvgEntryPrice decimal.Decimal `json:"avgEntryPrice"`
	RealizedPnL   decimal.Decimal `json:"realizedPnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealizedPnl"`
	TotalTrades   int             `json:"totalTrades"`
	WinningTrades int             `json:"winningTrades"`
	LosingTrades  int             `json:"losingTrades"`
}

// SimulatedTrade records one simulated fill.
type SimulatedTrade struct {
	Timestamp   time.Time       `json:"timestamp"`
	Action      Action          `json:"action"`
	Size        decimal.Decimal `json:"size"`
	FillPrice   decimal.Decimal `json:"fillPrice"`
	Slippage    decimal.Decimal `json:"slippage"`
	Commission  decimal.Decimal `json:"commission"`
	RealizedPnL decimal.Decimal `json:"realizedPnl"`
}

// JobStatus represents the lifecycle status of a scheduled job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusCompleted JobStatus = "COMPLETED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusError     JobStatus = "ERROR"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// IsTerminal reports whether a status ends the job lifecycle.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusError, JobStatusCancelled:
		return true
	}
	return false
}

// JobPriority represents how aggressively a job was scheduled.
type JobPriority string

const (
	PriorityIntensive JobPriority = "INTENSIVE"
	PriorityModerate  JobPriority = "MODERATE"
	PriorityDaily     JobPriority = "DAILY"
	PriorityLight     JobPriority = "LIGHT"
)

// Job represents a tracked retraining/backtest job.
type Job struct {
	ID        string          `json:"id"`
	Algorithm string          `json:"algorithm"`
	Symbol    string          `json:"symbol"`
	Priority  JobPriority     `json:"priority"`
	Status    JobStatus       `json:"status"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
	Config    *BacktestConfig `json:"config,omitempty"`
	Result    *BacktestResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ModelVersion represents one registered model version for an algorithm.
type ModelVersion struct {
	Algorithm   string              `json:"algorithm"`
	VersionID   string              `json:"versionId"`
	CreatedAt   time.Time           `json:"createdAt"`
	ArtifactRef string              `json:"artifactRef,omitempty"`
	Metrics     *PerformanceMetrics `json:"metrics,omitempty"`
	IsChampion  bool                `json:"isChampion"`
	PromotedAt  *time.Time          `json:"promotedAt,omitempty"`
}

// PromotionRecord is an append-only audit entry for a champion change.
type PromotionRecord struct {
	ID         string    `json:"id"`
	Algorithm  string    `json:"algorithm"`
	VersionID  string    `json:"versionId"`
	PromotedAt time.Time `json:"promotedAt"`
	Reason     string    `json:"reason"`
}

// PerformanceMetrics represents risk-adjusted replay metrics.
type PerformanceMetrics struct {
	TotalReturn   float64 `json:"totalReturn"`
	SharpeRatio   float64 `json:"sharpeRatio"`
	SortinoRatio  float64 `json:"sortinoRatio"`
	CalmarRatio   float64 `json:"calmarRatio"`
	MaxDrawdown   float64 `json:"maxDrawdown"` // reported negative
	VaR95         float64 `json:"var95"`
	CVaR95        float64 `json:"cvar95"`
	WinRate       float64 `json:"winRate"`
	TotalTrades   int     `json:"totalTrades"`
	WinningTrades int     `json:"winningTrades"`
	LosingTrades  int     `json:"losingTrades"`
}
