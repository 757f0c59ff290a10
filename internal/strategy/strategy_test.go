package strategy_test

import (
	"testing"
	"time"

	"github.com/helios-quant/retrainer/internal/strategy"
	"github.com/helios-quant/retrainer/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func flatBars(n int, price float64) []*types.Bar {
	start := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	bars := make([]*types.Bar, n)
	for i := range bars {
		c := decimal.NewFromFloat(price)
		bars[i] = &types.Bar{
			Timestamp: start.Add(time.Duration(i) * time.Minute),
			Open:      c, High: c, Low: c, Close: c,
			Volume: decimal.NewFromInt(1000),
		}
	}
	return bars
}

func TestRegistryBuiltins(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())

	for _, name := range []string{"momentum", "meanreversion", "breakout"} {
		if _, err := r.Get(name); err != nil {
			t.Errorf("Built-in %s missing: %v", name, err)
		}
	}
	if _, err := r.Get("nope"); err == nil {
		t.Error("Unknown strategy must be an error")
	}
	if got := len(r.List()); got != 3 {
		t.Errorf("Expected 3 built-ins, got %d", got)
	}
}

func TestMomentumDirection(t *testing.T) {
	fn := strategy.Momentum(10)

	bars := flatBars(30, 100)
	for i := 20; i < 30; i++ {
		c := decimal.NewFromFloat(100 + float64(i-19)*0.5)
		bars[i].Close = c
		bars[i].High = c
	}

	d, err := fn("ES", bars, types.RiskContext{})
	if err != nil {
		t.Fatalf("Momentum failed: %v", err)
	}
	if d.Action != types.ActionBuy {
		t.Errorf("Rising closes should signal BUY, got %s", d.Action)
	}
	if !d.Size.Equal(decimal.NewFromInt(1)) {
		t.Errorf("Target size should be 1, got %s", d.Size)
	}

	// Flat tape holds.
	d, err = fn("ES", flatBars(30, 100), types.RiskContext{})
	if err != nil {
		t.Fatal(err)
	}
	if d.Action != types.ActionHold {
		t.Errorf("Flat tape should HOLD, got %s", d.Action)
	}
}

func TestMeanReversionFadesDeviation(t *testing.T) {
	fn := strategy.MeanReversion(20)

	bars := flatBars(30, 100)
	bars[29].Close = decimal.NewFromFloat(110) // well above the average

	d, err := fn("ES", bars, types.RiskContext{})
	if err != nil {
		t.Fatalf("MeanReversion failed: %v", err)
	}
	if d.Action != types.ActionSell {
		t.Errorf("Price above the mean should signal SELL, got %s", d.Action)
	}
}

func TestBreakoutAboveRange(t *testing.T) {
	fn := strategy.Breakout(20)

	bars := flatBars(30, 100)
	bars[29].Close = decimal.NewFromFloat(105)

	d, err := fn("ES", bars, types.RiskContext{})
	if err != nil {
		t.Fatalf("Breakout failed: %v", err)
	}
	if d.Action != types.ActionBuy {
		t.Errorf("Close above range high should signal BUY, got %s", d.Action)
	}
}

func TestShortWindowHolds(t *testing.T) {
	for name, fn := range map[string]func(string, []*types.Bar, types.RiskContext) (*types.Decision, error){
		"momentum":      strategy.Momentum(10),
		"meanreversion": strategy.MeanReversion(20),
		"breakout":      strategy.Breakout(20),
	} {
		d, err := fn("ES", flatBars(3, 100), types.RiskContext{})
		if err != nil {
			t.Fatalf("%s failed: %v", name, err)
		}
		if d.Action != types.ActionHold {
			t.Errorf("%s with a short window should HOLD, got %s", name, d.Action)
		}
	}
}

func TestDecisionsArePure(t *testing.T) {
	fn := strategy.Momentum(10)
	bars := flatBars(30, 100)
	for i := 20; i < 30; i++ {
		bars[i].Close = decimal.NewFromFloat(100 + float64(i-19)*0.5)
	}

	a, _ := fn("ES", bars, types.RiskContext{})
	b, _ := fn("ES", bars, types.RiskContext{})

	if a.Action != b.Action || !a.Size.Equal(b.Size) || a.Confidence != b.Confidence {
		t.Errorf("Identical windows produced different decisions: %+v vs %+v", a, b)
	}
}
