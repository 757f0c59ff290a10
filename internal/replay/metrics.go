// Package replay provides performance metrics calculation.
package replay

import (
	"math"
	"sort"

	"github.com/helios-quant/retrainer/pkg/types"
)

// SortinoSentinel is reported when a return series has no downside at all;
// a finite stand-in for "infinitely good" that survives JSON encoding.
const SortinoSentinel = 100.0

const tradingDaysPerYear = 252

// MetricsCalculator computes risk-adjusted metrics from per-decision
// returns. All functions tolerate empty and degenerate input: these are
// reporting functions, not validation gates.
type MetricsCalculator struct{}

// NewMetricsCalculator creates a new metrics calculator
func NewMetricsCalculator() *MetricsCalculator {
	return &MetricsCalculator{}
}

// Calculate computes the full metric set over a return series.
func (mc *MetricsCalculator) Calculate(returns []float64, state types.SimulationState) *types.PerformanceMetrics {
	m := &types.PerformanceMetrics{
		TotalTrades:   state.TotalTrades,
		WinningTrades: state.WinningTrades,
		LosingTrades:  state.LosingTrades,
		SharpeRatio:   mc.Sharpe(returns),
		SortinoRatio:  mc.Sortino(returns),
		MaxDrawdown:   mc.MaxDrawdown(returns),
		VaR95:         mc.VaR95(returns),
		WinRate:       mc.WinRate(state.WinningTrades, state.TotalTrades),
	}
	m.CVaR95 = mc.CVaR(returns, m.VaR95)
	m.TotalReturn = mc.sum(returns)
	m.CalmarRatio = mc.Calmar(returns, m.MaxDrawdown)
	return m
}

// Sharpe is the annualized mean return over annualized volatility.
// Zero volatility yields 0, never a division by zero.
func (mc *MetricsCalculator) Sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	sd := mc.stdDev(returns)
	if sd == 0 {
		return 0
	}
	return mc.mean(returns) * tradingDaysPerYear / (sd * math.Sqrt(tradingDaysPerYear))
}

// Sortino is Sharpe with downside deviation in the denominator. The
// deviation is the population root-mean-square of the negative returns
// taken over the whole series, so a single loss still yields a real
// denominator. A series with no negative returns reports SortinoSentinel.
func (mc *MetricsCalculator) Sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	var sumSq float64
	hasDownside := false
	for _, r := range returns {
		if r < 0 {
			hasDownside = true
			sumSq += r * r
		}
	}
	if !hasDownside {
		return SortinoSentinel
	}
	dd := math.Sqrt(sumSq / float64(len(returns)))
	return mc.mean(returns) * tradingDaysPerYear / (dd * math.Sqrt(tradingDaysPerYear))
}

// MaxDrawdown is the deepest peak-to-trough decline of the cumulative
// return series, reported as a negative number (0 when never underwater).
func (mc *MetricsCalculator) MaxDrawdown(returns []float64) float64 {
	var cumulative, peak, maxDD float64
	for _, r := range returns {
		cumulative += r
		if cumulative > peak {
			peak = cumulative
		}
		if dd := cumulative - peak; dd < maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// Calmar is annualized return over drawdown magnitude; 0 with no drawdown.
func (mc *MetricsCalculator) Calmar(returns []float64, maxDrawdown float64) float64 {
	if len(returns) == 0 || maxDrawdown == 0 {
		return 0
	}
	annualized := mc.mean(returns) * tradingDaysPerYear
	return annualized / math.Abs(maxDrawdown)
}

// VaR95 is the 5th percentile of the return distribution.
func (mc *MetricsCalculator) VaR95(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	idx := int(float64(len(sorted)) * 0.05)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// CVaR is the mean of all returns at or below the VaR threshold.
func (mc *MetricsCalculator) CVaR(returns []float64, var95 float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var sum float64
	var n int
	for _, r := range returns {
		if r <= var95 {
			sum += r
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// WinRate is winning over total trades, 0 when no trades.
func (mc *MetricsCalculator) WinRate(winning, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(winning) / float64(total)
}

func (mc *MetricsCalculator) mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func (mc *MetricsCalculator) stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := mc.mean(values)
	var sumSquares float64
	for _, v := range values {
		diff := v - mean
		sumSquares += diff * diff
	}
	return math.Sqrt(sumSquares / float64(len(values)-1))
}

func (mc *MetricsCalculator) sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}
