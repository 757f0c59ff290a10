// Package replay drives historical bars through a decision function and
// the execution simulator, producing deterministic backtest results.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/helios-quant/retrainer/internal/config"
	"github.com/helios-quant/retrainer/internal/simulator"
	"github.com/helios-quant/retrainer/pkg/types"
	"go.uber.org/zap"
)

// ReasonNoData tags a result produced from an empty bar range. Absence of
// historical data is an expected, recoverable condition, not an error.
const ReasonNoData = "no data"

// ReasonCancelled tags a partial result cut short by cancellation.
const ReasonCancelled = "cancelled"

// BarSource is the historical data capability. An empty result is a
// valid, non-error response.
type BarSource interface {
	LoadBars(ctx context.Context, symbol string, start, end time.Time) ([]*types.Bar, error)
}

// DecisionFunc is the decision capability replayed against history. It is
// the same function live trading uses, which is what guarantees identical
// logic between historical validation and production.
type DecisionFunc func(symbol string, bars []*types.Bar, risk types.RiskContext) (*types.Decision, error)

// Engine replays a bar range through a decision function bar by bar.
type Engine struct {
	logger   *zap.Logger
	sim      *simulator.ExecutionSimulator
	metrics  *MetricsCalculator
	settings config.ReplaySettings
}

// NewEngine creates a replay engine.
func NewEngine(logger *zap.Logger, sim *simulator.ExecutionSimulator, settings config.ReplaySettings) *Engine {
	return &Engine{
		logger:   logger.Named("replay"),
		sim:      sim,
		metrics:  NewMetricsCalculator(),
		settings: settings,
	}
}

// Run executes one replay. Cancellation is checked once per bar and yields
// a partial result marked cancelled rather than an error. A decision
// failure on a single bar is skipped; only a run of consecutive failures
// exceeding the configured budget fails the whole job.
func (e *Engine) Run(ctx context.Context, cfg *types.BacktestConfig, decide DecisionFunc, source BarSource) (*types.BacktestResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backtest config: %w", err)
	}

	startedAt := time.Now()
	result := &types.BacktestResult{
		Config:    cfg,
		StartedAt: startedAt,
	}

	bars, err := source.LoadBars(ctx, cfg.Symbol, cfg.StartDate, cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to load bars for %s: %w", cfg.Symbol, err)
	}

	if len(bars) == 0 {
		result.Reason = ReasonNoData
		result.Metrics = e.metrics.Calculate(nil, result.State)
		e.finish(result)
		e.logger.Info("replay found no data",
			zap.String("symbol", cfg.Symbol),
			zap.Time("start", cfg.StartDate),
			zap.Time("end", cfg.EndDate),
		)
		return result, nil
	}

	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	days := groupByDay(bars)
	result.BarsTotal = len(bars)

	state := types.SimulationState{}
	var returns []float64
	var consecutiveFailures int
	index := 0

	for _, day := range days {
		for range day.bars {
			bar := bars[index]

			select {
			case <-ctx.Done():
				result.Cancelled = true
				result.Reason = ReasonCancelled
				result.State = state
				result.Metrics = e.metrics.Calculate(returns, state)
				e.finish(result)
				e.logger.Info("replay cancelled",
					zap.String("symbol", cfg.Symbol),
					zap.Int("barsProcessed", index),
				)
				return result, nil
			default:
			}

			if index < e.settings.MinLookbackBars {
				result.BarsSkipped++
				index++
				continue
			}

			window := bars[:index]
			risk := types.RiskContext{
				Position:      state.Position,
				AvgEntryPrice: state.AvgEntryPrice,
				RealizedPnL:   state.RealizedPnL,
				Capital:       cfg.InitialCapital,
			}

			decision, err := e.decideSafely(decide, cfg.Symbol, window, risk)
			if err != nil {
				consecutiveFailures++
				result.BarsSkipped++
				e.logger.Warn("decision failed on bar, skipping",
					zap.String("symbol", cfg.Symbol),
					zap.Time("bar", bar.Timestamp),
					zap.Int("consecutive", consecutiveFailures),
					zap.Error(err),
				)
				if consecutiveFailures > e.settings.MaxConsecutiveFailures {
					result.State = state
					result.Metrics = e.metrics.Calculate(returns, state)
					e.finish(result)
					return result, fmt.Errorf("aborting replay after %d consecutive decision failures: %w",
						consecutiveFailures, err)
				}
				index++
				continue
			}
			consecutiveFailures = 0

			newState, trade := e.sim.Apply(decision, bar, state)
			state = newState

			if decision != nil {
				d := *decision
				if cfg.LearningMode {
					if fr, ok := forwardReturn(bars, index, e.settings.LearningHorizonBars, d.Action); ok {
						d.ForwardReturn = &fr
					}
				}
				result.Decisions = append(result.Decisions, d)
			}

			if trade != nil {
				result.Trades = append(result.Trades, *trade)
				if !trade.RealizedPnL.IsZero() && cfg.InitialCapital.IsPositive() {
					ret, _ := trade.RealizedPnL.Div(cfg.InitialCapital).Float64()
					returns = append(returns, ret)
				}
			}

			index++
		}
	}

	result.State = state
	result.Metrics = e.metrics.Calculate(returns, state)
	e.finish(result)

	e.logger.Info("replay completed",
		zap.String("strategy", cfg.Strategy),
		zap.String("symbol", cfg.Symbol),
		zap.Int("bars", result.BarsTotal),
		zap.Int("decisions", len(result.Decisions)),
		zap.Int("trades", state.TotalTrades),
		zap.Float64("sharpe", result.Metrics.SharpeRatio),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// decideSafely invokes the decision function with panic containment so a
// single bad bar cannot abort the whole historical run.
func (e *Engine) decideSafely(decide DecisionFunc, symbol string, window []*types.Bar, risk types.RiskContext) (decision *types.Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = nil
			err = fmt.Errorf("decision function panicked: %v", r)
		}
	}()
	return decide(symbol, window, risk)
}

func (e *Engine) finish(result *types.BacktestResult) {
	result.CompletedAt = time.Now()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
}

// forwardReturn looks ahead a fixed horizon for learning feedback: the
// signed return a trade in the decision's direction would have realized.
func forwardReturn(bars []*types.Bar, index, horizon int, action types.Action) (float64, bool) {
	if action == types.ActionHold || horizon <= 0 || index+horizon >= len(bars) {
		return 0, false
	}
	entry := bars[index].Close
	exit := bars[index+horizon].Close
	if entry.IsZero() {
		return 0, false
	}
	ret, _ := exit.Sub(entry).Div(entry).Float64()
	if action == types.ActionSell {
		ret = -ret
	}
	return ret, true
}

type tradingDay struct {
	date time.Time
	bars []*types.Bar
}

// groupByDay buckets chronologically sorted bars by trading day.
func groupByDay(bars []*types.Bar) []tradingDay {
	var days []tradingDay
	for _, bar := range bars {
		date := bar.Timestamp.Truncate(24 * time.Hour)
		if len(days) == 0 || !days[len(days)-1].date.Equal(date) {
			days = append(days, tradingDay{date: date})
		}
		days[len(days)-1].bars = append(days[len(days)-1].bars, bar)
	}
	return days
}
