// Package simulator applies slippage, commission and market impact to a
// decision stream, maintaining simulated position and PnL state.
package simulator

import (
	"github.com/helios-quant/retrainer/internal/config"
	"github.com/helios-quant/retrainer/pkg/types"
	"github.com/shopspring/decimal"
)

// ExecutionSimulator converts decisions into simulated fills. Apply is a
// pure function of its inputs: the live and replay paths must agree
// bit-for-bit when fed the same decisions and bars.
type ExecutionSimulator struct {
	slippage   SlippageModel
	commission decimal.Decimal // per contract
	epsilon    decimal.Decimal
}

// NewExecutionSimulator creates a simulator with the given friction model.
func NewExecutionSimulator(slippage SlippageModel, commissionPerQty, sizeEpsilon float64) *ExecutionSimulator {
	return &ExecutionSimulator{
		slippage:   slippage,
		commission: decimal.NewFromFloat(commissionPerQty),
		epsilon:    decimal.NewFromFloat(sizeEpsilon),
	}
}

// FromSettings builds a simulator from configuration.
func FromSettings(s config.SimulatorSettings) *ExecutionSimulator {
	return NewExecutionSimulator(
		NewImpactSlippage(s.TickSlippage, s.ImpactFactor),
		s.CommissionPerQty,
		s.SizeEpsilon,
	)
}

// Apply executes one decision against one bar. The decision size is the
// target position: BUY 2 means "be long 2", SELL 2 means "be short 2".
// HOLD, or a target within epsilon of the current position, is a no-op
// apart from re-marking unrealized PnL at the bar close.
func (sim *ExecutionSimulator) Apply(decision *types.Decision, bar *types.Bar, state types.SimulationState) (next types.SimulationState, trade *types.SimulatedTrade) {
	next = state

	defer func() {
		// Unrealized PnL is always marked at the current close.
		if next.Position.IsZero() {
			next.UnrealizedPnL = decimal.Zero
		} else {
			next.UnrealizedPnL = bar.Close.Sub(next.AvgEntryPrice).Mul(next.Position)
		}
	}()

	if decision == nil || decision.Action == types.ActionHold {
		return next, nil
	}

	target := decision.Size
	if decision.Action == types.ActionSell {
		target = target.Neg()
	}

	delta := target.Sub(state.Position)
	if delta.Abs().LessThanOrEqual(sim.epsilon) {
		return next, nil
	}

	slip := sim.slippage.Calculate(delta, bar)
	fillPrice := bar.Close
	if delta.IsPositive() {
		fillPrice = fillPrice.Add(slip) // buyer pays up
	} else {
		fillPrice = fillPrice.Sub(slip) // seller concedes down
	}

	commission := sim.commission.Mul(delta.Abs())
	trade = &types.SimulatedTrade{
		Timestamp:  bar.Timestamp,
		Action:     decision.Action,
		Size:       delta.Abs(),
		FillPrice:  fillPrice,
		Slippage:   slip,
		Commission: commission,
	}

	// Quantity closed against the existing position, if any.
	var closed decimal.Decimal
	if !state.Position.IsZero() && state.Position.Sign() != delta.Sign() {
		closed = decimal.Min(delta.Abs(), state.Position.Abs())
	}

	realized := decimal.Zero
	if closed.IsPositive() {
		direction := decimal.NewFromInt(int64(state.Position.Sign()))
		realized = fillPrice.Sub(state.AvgEntryPrice).Mul(closed).Mul(direction)
	}
	realized = realized.Sub(commission)

	trade.RealizedPnL = realized
	next.RealizedPnL = state.RealizedPnL.Add(realized)
	next.Position = state.Position.Add(delta)

	switch {
	case next.Position.IsZero():
		next.AvgEntryPrice = decimal.Zero
	case closed.IsPositive() && next.Position.Sign() != state.Position.Sign():
		// Position flipped: the surviving quantity was opened at this fill.
		next.AvgEntryPrice = fillPrice
	case closed.IsZero() && state.Position.IsZero():
		next.AvgEntryPrice = fillPrice
	case closed.IsZero():
		// Adding to an existing position: volume-weighted entry.
		prevQty := state.Position.Abs()
		addQty := delta.Abs()
		next.AvgEntryPrice = state.AvgEntryPrice.Mul(prevQty).
			Add(fillPrice.Mul(addQty)).
			Div(prevQty.Add(addQty))
	}

	if closed.IsPositive() {
		next.TotalTrades++
		if realized.IsPositive() {
			next.WinningTrades++
		} else {
			next.LosingTrades++
		}
	}

	return next, trade
}
