// Package strategy provides built-in decision functions and their registry.
package strategy

import (
	"fmt"
	"sync"

	"github.com/helios-quant/retrainer/internal/replay"
	"github.com/helios-quant/retrainer/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Registry manages the decision functions available for replay. Each
// registered function is the same capability live trading would call, so
// every entry must be pure: identical windows yield identical decisions.
type Registry struct {
	mu        sync.RWMutex
	logger    *zap.Logger
	functions map[string]replay.DecisionFunc
}

// NewRegistry creates a registry with the built-in decision functions.
func NewRegistry(logger *zap.Logger) *Registry {
	r := &Registry{
		logger:    logger.Named("strategy"),
		functions: make(map[string]replay.DecisionFunc),
	}

	r.Register("momentum", Momentum(10))
	r.Register("meanreversion", MeanReversion(20))
	r.Register("breakout", Breakout(20))

	return r
}

// Register adds a decision function under a name.
func (r *Registry) Register(name string, fn replay.DecisionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.functions[name] = fn
}

// Get returns a decision function by name.
func (r *Registry) Get(name string) (replay.DecisionFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.functions[name]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %s", name)
	}
	return fn, nil
}

// List returns all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	return names
}

// Momentum goes long when the close has risen over the period, short when
// it has fallen, sized one contract.
func Momentum(period int) replay.DecisionFunc {
	return func(symbol string, bars []*types.Bar, risk types.RiskContext) (*types.Decision, error) {
		if len(bars) < period {
			return hold(bars, "momentum"), nil
		}
		last := bars[len(bars)-1]
		ref := bars[len(bars)-period]
		if ref.Close.IsZero() {
			return hold(bars, "momentum"), nil
		}

		change := last.Close.Sub(ref.Close).Div(ref.Close)
		threshold := decimal.NewFromFloat(0.002)

		switch {
		case change.GreaterThan(threshold):
			return decide(last, types.ActionBuy, "momentum", change), nil
		case change.LessThan(threshold.Neg()):
			return decide(last, types.ActionSell, "momentum", change.Abs()), nil
		default:
			return hold(bars, "momentum"), nil
		}
	}
}

// MeanReversion fades deviation from the period moving average.
func MeanReversion(period int) replay.DecisionFunc {
	return func(symbol string, bars []*types.Bar, risk types.RiskContext) (*types.Decision, error) {
		if len(bars) < period {
			return hold(bars, "meanreversion"), nil
		}

		sma := decimal.Zero
		for _, b := range bars[len(bars)-period:] {
			sma = sma.Add(b.Close)
		}
		sma = sma.Div(decimal.NewFromInt(int64(period)))
		if sma.IsZero() {
			return hold(bars, "meanreversion"), nil
		}

		last := bars[len(bars)-1]
		deviation := last.Close.Sub(sma).Div(sma)
		threshold := decimal.NewFromFloat(0.01)

		switch {
		case deviation.GreaterThan(threshold):
			return decide(last, types.ActionSell, "meanreversion", deviation.Abs()), nil
		case deviation.LessThan(threshold.Neg()):
			return decide(last, types.ActionBuy, "meanreversion", deviation.Abs()), nil
		default:
			return hold(bars, "meanreversion"), nil
		}
	}
}

// Breakout trades closes beyond the period high/low.
func Breakout(period int) replay.DecisionFunc {
	return func(symbol string, bars []*types.Bar, risk types.RiskContext) (*types.Decision, error) {
		if len(bars) < period+1 {
			return hold(bars, "breakout"), nil
		}

		window := bars[len(bars)-period-1 : len(bars)-1]
		high := window[0].High
		low := window[0].Low
		for _, b := range window[1:] {
			if b.High.GreaterThan(high) {
				high = b.High
			}
			if b.Low.LessThan(low) {
				low = b.Low
			}
		}

		last := bars[len(bars)-1]
		switch {
		case last.Close.GreaterThan(high):
			return decide(last, types.ActionBuy, "breakout", decimal.NewFromFloat(0.8)), nil
		case last.Close.LessThan(low):
			return decide(last, types.ActionSell, "breakout", decimal.NewFromFloat(0.8)), nil
		default:
			return hold(bars, "breakout"), nil
		}
	}
}

func decide(bar *types.Bar, action types.Action, name string, strength decimal.Decimal) *types.Decision {
	confidence, _ := strength.Float64()
	if confidence > 1 {
		confidence = 1
	}
	return &types.Decision{
		Timestamp:  bar.Timestamp,
		Action:     action,
		Size:       decimal.NewFromInt(1),
		Confidence: confidence,
		Strategy:   name,
	}
}

func hold(bars []*types.Bar, name string) *types.Decision {
	d := &types.Decision{Action: types.ActionHold, Strategy: name}
	if len(bars) > 0 {
		d.Timestamp = bars[len(bars)-1].Timestamp
	}
	return d
}
