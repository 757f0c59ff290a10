package replay_test

import (
	"math"
	"testing"

	"github.com/helios-quant/retrainer/internal/replay"
	"github.com/helios-quant/retrainer/pkg/types"
)

func TestCalculateThreeTradeSequence(t *testing.T) {
	mc := replay.NewMetricsCalculator()

	returns := []float64{0.01, -0.02, 0.015}
	state := types.SimulationState{
		TotalTrades:   3,
		WinningTrades: 2,
		LosingTrades:  1,
	}

	m := mc.Calculate(returns, state)

	if want := 2.0 / 3.0; math.Abs(m.WinRate-want) > 1e-9 {
		t.Errorf("WinRate incorrect: got %f want %f", m.WinRate, want)
	}
	if want := 0.005; math.Abs(m.TotalReturn-want) > 1e-9 {
		t.Errorf("TotalReturn incorrect: got %f want %f", m.TotalReturn, want)
	}
	// Cumulative path: 0.01, -0.01, 0.005; peak 0.01, trough -0.01.
	if want := -0.02; math.Abs(m.MaxDrawdown-want) > 1e-9 {
		t.Errorf("MaxDrawdown incorrect: got %f want %f", m.MaxDrawdown, want)
	}
	if m.MaxDrawdown > 0 {
		t.Error("MaxDrawdown must be reported negative")
	}
}

func TestSharpeZeroVolatility(t *testing.T) {
	mc := replay.NewMetricsCalculator()

	if got := mc.Sharpe([]float64{0.01, 0.01, 0.01}); got != 0 {
		t.Errorf("Constant returns must report Sharpe 0, got %f", got)
	}
	if got := mc.Sharpe(nil); got != 0 {
		t.Errorf("Empty series must report Sharpe 0, got %f", got)
	}
	if got := mc.Sharpe([]float64{0.01}); got != 0 {
		t.Errorf("Single return must report Sharpe 0, got %f", got)
	}
}

func TestSortinoNoDownside(t *testing.T) {
	mc := replay.NewMetricsCalculator()

	if got := mc.Sortino([]float64{0.01, 0.02, 0.03}); got != replay.SortinoSentinel {
		t.Errorf("All-positive series must report the sentinel, got %f", got)
	}
	if got := mc.Sortino([]float64{0.01, -0.02, 0.03}); got == replay.SortinoSentinel {
		t.Error("Series with downside must not report the sentinel")
	}

	// One loss in three: downside deviation sqrt(0.0004/3), mean 0.02/3.
	got := mc.Sortino([]float64{0.01, -0.02, 0.03})
	want := (0.02 / 3) * 252 / (math.Sqrt(0.0004/3) * math.Sqrt(252))
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Single-loss Sortino incorrect: got %f want %f", got, want)
	}
	if got <= 0 {
		t.Errorf("Profitable series with one loss must have positive Sortino, got %f", got)
	}
}

func TestVaRAndCVaR(t *testing.T) {
	mc := replay.NewMetricsCalculator()

	returns := make([]float64, 100)
	for i := range returns {
		returns[i] = float64(i-50) / 1000.0 // -0.05 .. 0.049
	}

	v := mc.VaR95(returns)
	if want := -0.045; math.Abs(v-want) > 1e-9 {
		t.Errorf("VaR95 incorrect: got %f want %f", v, want)
	}

	cv := mc.CVaR(returns, v)
	if cv > v {
		t.Errorf("CVaR must be at least as bad as VaR: cvar %f var %f", cv, v)
	}
}

func TestCalculateEmptyInput(t *testing.T) {
	mc := replay.NewMetricsCalculator()

	m := mc.Calculate(nil, types.SimulationState{})

	if m.SharpeRatio != 0 || m.MaxDrawdown != 0 || m.WinRate != 0 || m.TotalReturn != 0 {
		t.Errorf("Empty input must yield zero metrics: %+v", m)
	}
	if m.TotalTrades != 0 {
		t.Errorf("No trades expected, got %d", m.TotalTrades)
	}
}

func TestCalmarNoDrawdown(t *testing.T) {
	mc := replay.NewMetricsCalculator()

	if got := mc.Calmar([]float64{0.01, 0.02}, 0); got != 0 {
		t.Errorf("No drawdown must yield Calmar 0, got %f", got)
	}

	got := mc.Calmar([]float64{0.01, -0.02, 0.015}, -0.02)
	if got == 0 {
		t.Error("Nonzero drawdown should yield a finite Calmar")
	}
}
