package strategy

import (
	"fmt"
	"math"

	"github.com/1uv0cean/coin-trader/internal/domain/regime"
)

// Strategy is an immutable trading variant bound to exactly one market
// state. TP/SL distances are expressed in ATR multiples applied at entry.
type Strategy struct {
	State       regime.State `json:"state"`
	Name        string       `json:"name"`
	PositionPct float64      `json:"position_pct"` // base fraction of capital
	TPATRMult   float64      `json:"tp_atr_mult"`
	SLATRMult   float64      `json:"sl_atr_mult"`
	Enabled     bool         `json:"enabled"`
	Ladder      Ladder       `json:"ladder"`
}

// Bracket is a computed take-profit / stop-loss pair for a long entry.
type Bracket struct {
	TP float64 `json:"tp"`
	SL float64 `json:"sl"`
}

// referenceATRPct is the ATR-to-price ratio used to verify the fee-awareness
// invariant at catalog construction time.
const referenceATRPct = 0.01

// minBracketATRMult is the smallest TP/SL distance, as an ATR fraction,
// allowed before a bracket is widened.
const minBracketATRMult = 0.2

// Catalog is the closed set of strategy variants, one per market state.
// Selection is a total function over [0,9].
type Catalog struct {
	feeRate    float64
	strategies [10]Strategy
}

// Option mutates catalog construction.
type Option func(*Catalog)

// EnableAll activates every variant, including the defensive set that is
// disabled by default. Intended for research and backtest sweeps.
func EnableAll() Option {
	return func(c *Catalog) {
		for i := range c.strategies {
			c.strategies[i].Enabled = true
		}
	}
}

// NewCatalog builds the strategy set and verifies the fee-awareness
// invariant: after round-trip fees, every take-profit target must remain
// net positive.
func NewCatalog(feeRate float64, opts ...Option) (*Catalog, error) {
	if feeRate < 0 || feeRate >= 0.01 {
		return nil, fmt.Errorf("fee rate %.6f outside [0, 0.01)", feeRate)
	}

	c := &Catalog{feeRate: feeRate}
	defs := [10]Strategy{
		{State: regime.StateExtremePanic, Name: "panic_scalp", PositionPct: 0.08, TPATRMult: 3.0, SLATRMult: 1.5},
		{State: regime.StateStrongDown, Name: "down_bounce", PositionPct: 0.12, TPATRMult: 2.5, SLATRMult: 1.2},
		{State: regime.StateDownPersist, Name: "conservative_entry", PositionPct: 0.08, TPATRMult: 2.0, SLATRMult: 1.5},
		{State: regime.StateWeakDown, Name: "weak_down_swing", PositionPct: 0.08, TPATRMult: 1.5, SLATRMult: 1.0},
		{State: regime.StateBearishTurn, Name: "defensive_trend", PositionPct: 0.10, TPATRMult: 2.0, SLATRMult: 1.0},
		{State: regime.StateNeutralBox, Name: "box_scalp", PositionPct: 0.12, TPATRMult: 1.5, SLATRMult: 1.0},
		{State: regime.StateBullishTurn, Name: "breakout_entry", PositionPct: 0.15, TPATRMult: 2.0, SLATRMult: 1.5, Enabled: true},
		{State: regime.StateWeakUp, Name: "trend_follow", PositionPct: 0.15, TPATRMult: 2.5, SLATRMult: 1.5, Enabled: true},
		{State: regime.StateStrongUp, Name: "aggressive_breakout", PositionPct: 0.20, TPATRMult: 3.0, SLATRMult: 1.5, Enabled: true},
		{State: regime.StateExtremeGreed, Name: "greed_fade", PositionPct: 0.05, TPATRMult: 2.0, SLATRMult: 1.2},
	}

	for i, def := range defs {
		def.Ladder = DefaultLadder()
		if err := verifyFeeInvariant(def, feeRate); err != nil {
			return nil, fmt.Errorf("strategy %s: %w", def.Name, err)
		}
		c.strategies[i] = def
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// verifyFeeInvariant rejects any variant whose TP distance at reference
// volatility does not clear the round-trip fee cost.
func verifyFeeInvariant(s Strategy, feeRate float64) error {
	tpDelta := s.TPATRMult * referenceATRPct // as a fraction of entry price
	if tpDelta <= 2*feeRate {
		return fmt.Errorf("TP delta %.5f does not exceed round-trip fee %.5f", tpDelta, 2*feeRate)
	}
	return nil
}

// Select maps a state to its strategy. Total and deterministic over [0,9];
// out-of-range states are clamped to the nearest bucket.
func (c *Catalog) Select(state regime.State) Strategy {
	if state < 0 {
		state = 0
	} else if state > 9 {
		state = 9
	}
	return c.strategies[state]
}

// FeeRate returns the round-trip fee rate the catalog was validated against.
func (c *Catalog) FeeRate() float64 {
	return c.feeRate
}

// ShouldEnter evaluates the entry predicate of a strategy against the
// current snapshot. Disabled strategies never enter.
func (c *Catalog) ShouldEnter(s Strategy, snap regime.Snapshot) bool {
	if !s.Enabled {
		return false
	}
	switch s.State {
	case regime.StateExtremePanic:
		return snap.RSI <= 20 && snap.VolumeRel5 >= 2.0 && snap.Change1 <= -8
	case regime.StateStrongDown:
		return snap.StochK <= 25 && snap.MACD <= snap.MACDSignal*0.9 && snap.Change1 <= -5
	case regime.StateDownPersist:
		return snap.MACD > snap.MACDSignal*0.95 && snap.VolumeRel5 > 0.8 && snap.RSI > 35
	case regime.StateWeakDown:
		return snap.BBWidth >= 0.015 && snap.RSI >= 35
	case regime.StateBearishTurn:
		return snap.MACD > snap.MACDSignal && snap.RSI <= 65
	case regime.StateNeutralBox:
		return snap.BBWidth <= 0.06 && snap.BBWidth >= 0.01 && snap.Price < snap.BBLower*1.01
	case regime.StateBullishTurn:
		return snap.EMA20vs50 > 0 && snap.VolumeRel5 >= 1.2 && snap.MACD > snap.MACDSignal
	case regime.StateWeakUp:
		return snap.EMA20vs50 > 0 && snap.EMA50vs100 > 0 && snap.VolumeRel5 > 1.0 && snap.RSI < 70
	case regime.StateStrongUp:
		return snap.RSI <= 75 && snap.VolumeRel5 >= 1.5 && snap.MACD > snap.MACDSignal
	case regime.StateExtremeGreed:
		return snap.RSI < 75 || snap.StochK < 85
	default:
		return false
	}
}

// ComputeBracket derives the TP/SL pair from ATR at entry time. Distances
// are floored at a fraction of ATR, and the take-profit is additionally
// floored so its delta strictly exceeds the round-trip fee.
func (c *Catalog) ComputeBracket(s Strategy, entryPrice, atr float64) Bracket {
	minDist := atr * minBracketATRMult

	tp := entryPrice + s.TPATRMult*atr
	if tp < entryPrice+minDist {
		tp = entryPrice + minDist
	}
	feeFloor := entryPrice * (1 + 2.5*c.feeRate)
	tp = math.Max(tp, feeFloor)

	sl := entryPrice - s.SLATRMult*atr
	if sl > entryPrice-minDist {
		sl = entryPrice - minDist
	}
	if sl < 0 {
		sl = 0
	}

	return Bracket{TP: tp, SL: sl}
}
