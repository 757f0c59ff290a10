// Package simulator provides deterministic trade execution simulation.
package simulator

import (
	"math"

	"github.com/helios-quant/retrainer/pkg/types"
	"github.com/shopspring/decimal"
)

// SlippageModel prices the friction of executing a given size against a bar.
// Implementations must be deterministic: identical inputs always produce
// identical slippage.
type SlippageModel interface {
	Calculate(size decimal.Decimal, bar *types.Bar) decimal.Decimal
}

// FixedTickSlippage applies a constant per-fill price concession.
type FixedTickSlippage struct {
	Ticks decimal.Decimal
}

// NewFixedTickSlippage creates a fixed slippage model.
func NewFixedTickSlippage(ticks float64) *FixedTickSlippage {
	return &FixedTickSlippage{Ticks: decimal.NewFromFloat(ticks)}
}

// Calculate returns the fixed concession regardless of size.
func (f *FixedTickSlippage) Calculate(size decimal.Decimal, bar *types.Bar) decimal.Decimal {
	return f.Ticks
}

// ImpactSlippage adds a square-root market-impact term on top of a base
// tick concession: slip = base + k * sqrt(size / volume) * close.
type ImpactSlippage struct {
	BaseTicks    decimal.Decimal
	ImpactFactor decimal.Decimal
}

// NewImpactSlippage creates a size-dependent slippage model.
func NewImpactSlippage(baseTicks, impactFactor float64) *ImpactSlippage {
	return &ImpactSlippage{
		BaseTicks:    decimal.NewFromFloat(baseTicks),
		ImpactFactor: decimal.NewFromFloat(impactFactor),
	}
}

// Calculate returns base slippage plus a participation-scaled impact term.
func (m *ImpactSlippage) Calculate(size decimal.Decimal, bar *types.Bar) decimal.Decimal {
	if bar == nil || bar.Volume.IsZero() {
		return m.BaseTicks
	}

	participation := size.Abs().Div(bar.Volume)
	pf, _ := participation.Float64()
	impact := m.ImpactFactor.Mul(decimal.NewFromFloat(math.Sqrt(pf))).Mul(bar.Close)

	return m.BaseTicks.Add(impact)
}
