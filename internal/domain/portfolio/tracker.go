package portfolio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/1uv0cean/coin-trader/internal/domain/regime"
)

// Position is one open holding. Owned exclusively by the Tracker: created on
// an accepted entry, mutated on partial exits and stop adjustments,
// destroyed on full exit.
type Position struct {
	ID          string       `json:"id"`
	Instrument  string       `json:"instrument"`
	Strategy    string       `json:"strategy"`
	State       regime.State `json:"state"`
	EntryPrice  float64      `json:"entry_price"`
	Quantity    float64      `json:"quantity"`
	EntryTime   time.Time    `json:"entry_time"`
	TP          float64      `json:"tp"`
	SL          float64      `json:"sl"`
	EntryFee    float64      `json:"entry_fee"`
	LadderStage int          `json:"ladder_stage"`
}

// Trade is one realized (full or partial) exit. Trade history is
// append-only; records are never rewritten.
type Trade struct {
	ID         string       `json:"id"`
	PositionID string       `json:"position_id"`
	Instrument string       `json:"instrument"`
	Strategy   string       `json:"strategy"`
	State      regime.State `json:"state"`
	EntryPrice float64      `json:"entry_price"`
	ExitPrice  float64      `json:"exit_price"`
	Quantity   float64      `json:"quantity"`
	PnL        float64      `json:"pnl"`
	PnLPct     float64      `json:"pnl_pct"`
	Fees       float64      `json:"fees"`
	EntryTime  time.Time    `json:"entry_time"`
	ExitTime   time.Time    `json:"exit_time"`
	Reason     string       `json:"reason"`
	Partial    bool         `json:"partial"`
}

// Tracker holds the open positions, available balance and realized trade
// ledger. It is the only mutable shared state in the pipeline and is only
// ever mutated from within a decision cycle.
type Tracker struct {
	mu        sync.RWMutex
	balance   float64
	feeRate   float64
	positions map[string]*Position
	history   []Trade
	newID     func() string
}

// NewTracker creates a tracker with the given starting balance.
func NewTracker(initialBalance, feeRate float64) *Tracker {
	return &Tracker{
		balance:   initialBalance,
		feeRate:   feeRate,
		positions: make(map[string]*Position),
		newID:     uuid.NewString,
	}
}

// SequentialIDs replaces random identifiers with a monotonic sequence so
// that repeated runs over the same data serialize identically.
func (t *Tracker) SequentialIDs() {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	t.newID = func() string {
		n++
		return fmt.Sprintf("t-%06d", n)
	}
}

// Balance returns the available (non-invested) balance.
func (t *Tracker) Balance() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balance
}

// Position returns a copy of the open position for an instrument.
func (t *Tracker) Position(instrument string) (Position, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.positions[instrument]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// OpenInstruments returns the instruments with open positions, sorted.
func (t *Tracker) OpenInstruments() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.positions))
	for inst := range t.positions {
		out = append(out, inst)
	}
	sort.Strings(out)
	return out
}

// OpenCount returns the number of open positions.
func (t *Tracker) OpenCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.positions)
}

// Open creates a position. At most one open position per instrument; the
// entry fee is deducted from the balance along with the notional.
func (t *Tracker) Open(instrument, strategy string, state regime.State,
	price, qty float64, tp, sl float64, ts time.Time) (Position, error) {

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.positions[instrument]; exists {
		return Position{}, fmt.Errorf("position already open for %s", instrument)
	}
	if qty <= 0 || price <= 0 {
		return Position{}, fmt.Errorf("invalid open: qty=%.8f price=%.4f", qty, price)
	}

	notional := qty * price
	fee := notional * t.feeRate
	if notional+fee > t.balance {
		return Position{}, fmt.Errorf("insufficient balance: need %.2f, have %.2f", notional+fee, t.balance)
	}

	pos := &Position{
		ID:         t.newID(),
		Instrument: instrument,
		Strategy:   strategy,
		State:      state,
		EntryPrice: price,
		Quantity:   qty,
		EntryTime:  ts,
		TP:         tp,
		SL:         sl,
		EntryFee:   fee,
	}
	t.positions[instrument] = pos
	t.balance -= notional + fee
	return *pos, nil
}

// Close fully exits a position at the given price and books the realized
// trade. Returns the appended trade record.
func (t *Tracker) Close(instrument string, price float64, ts time.Time, reason string) (Trade, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeLocked(instrument, price, ts, reason)
}

func (t *Tracker) closeLocked(instrument string, price float64, ts time.Time, reason string) (Trade, error) {
	pos, ok := t.positions[instrument]
	if !ok {
		return Trade{}, fmt.Errorf("no open position for %s", instrument)
	}
	trade := t.book(pos, pos.Quantity, price, ts, reason, false)
	delete(t.positions, instrument)
	return trade, nil
}

// Reduce sells a fraction of a position (ladder partial exit). If the
// remainder would be dust, the position is closed instead.
func (t *Tracker) Reduce(instrument string, ratio, price float64, ts time.Time, reason string) (Trade, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ratio <= 0 || ratio >= 1 {
		return Trade{}, fmt.Errorf("reduce ratio %.2f outside (0,1)", ratio)
	}
	pos, ok := t.positions[instrument]
	if !ok {
		return Trade{}, fmt.Errorf("no open position for %s", instrument)
	}

	sellQty := pos.Quantity * ratio
	remaining := pos.Quantity - sellQty
	if remaining*price < 1e-8 {
		return t.closeLocked(instrument, price, ts, reason)
	}

	trade := t.book(pos, sellQty, price, ts, reason, true)
	pos.Quantity = remaining
	return trade, nil
}

// book records a realized exit for qty units of pos and credits the
// proceeds. Entry fee is attributed proportionally.
func (t *Tracker) book(pos *Position, qty, price float64, ts time.Time, reason string, partial bool) Trade {
	proceeds := qty * price
	exitFee := proceeds * t.feeRate
	entryFeeShare := pos.EntryFee * (qty / pos.Quantity)

	cost := qty*pos.EntryPrice + entryFeeShare
	pnl := proceeds - exitFee - cost
	pnlPct := 0.0
	if cost > 0 {
		pnlPct = pnl / cost * 100
	}

	trade := Trade{
		ID:         t.newID(),
		PositionID: pos.ID,
		Instrument: pos.Instrument,
		Strategy:   pos.Strategy,
		State:      pos.State,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  price,
		Quantity:   qty,
		PnL:        pnl,
		PnLPct:     pnlPct,
		Fees:       entryFeeShare + exitFee,
		EntryTime:  pos.EntryTime,
		ExitTime:   ts,
		Reason:     reason,
		Partial:    partial,
	}
	t.history = append(t.history, trade)
	t.balance += proceeds - exitFee
	pos.EntryFee -= entryFeeShare
	return trade
}

// RaiseStop lifts the stop-loss. Stops only ever tighten; a lower value is
// ignored.
func (t *Tracker) RaiseStop(instrument string, newSL float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[instrument]
	if !ok {
		return fmt.Errorf("no open position for %s", instrument)
	}
	if newSL > pos.SL {
		pos.SL = newSL
	}
	return nil
}

// AdvanceLadder moves the position's ladder stage forward by one rung.
func (t *Tracker) AdvanceLadder(instrument string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[instrument]
	if !ok {
		return fmt.Errorf("no open position for %s", instrument)
	}
	pos.LadderStage++
	return nil
}

// MarkToMarket returns total unrealized P&L at the given prices.
// Instruments without a quote are valued at entry.
func (t *Tracker) MarkToMarket(prices map[string]float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	unrealized := 0.0
	for inst, pos := range t.positions {
		price, ok := prices[inst]
		if !ok {
			continue
		}
		unrealized += (price - pos.EntryPrice) * pos.Quantity
	}
	return unrealized
}

// Equity returns balance plus the market value of open positions.
func (t *Tracker) Equity(prices map[string]float64) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := t.balance
	for inst, pos := range t.positions {
		price, ok := prices[inst]
		if !ok {
			price = pos.EntryPrice
		}
		total += pos.Quantity * price
	}
	return total
}

// History returns a copy of the realized trade ledger.
func (t *Tracker) History() []Trade {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Trade, len(t.history))
	copy(out, t.history)
	return out
}

// RealizedPnL returns the sum of realized trade P&L.
func (t *Tracker) RealizedPnL() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0.0
	for _, tr := range t.history {
		total += tr.PnL
	}
	return total
}

// Adopt registers an externally discovered holding (exchange state is
// authoritative after a consistency fault). No balance movement is booked.
func (t *Tracker) Adopt(instrument string, qty, avgPrice, tp, sl float64, ts time.Time) Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos := &Position{
		ID:         t.newID(),
		Instrument: instrument,
		Strategy:   "external",
		State:      regime.StateNeutralBox,
		EntryPrice: avgPrice,
		Quantity:   qty,
		EntryTime:  ts,
		TP:         tp,
		SL:         sl,
	}
	t.positions[instrument] = pos
	return *pos
}

// Revert unwinds a position whose entry order never filled: the position
// is removed and the debited notional plus entry fee returns to the
// balance. No trade is booked.
func (t *Tracker) Revert(instrument string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[instrument]
	if !ok {
		return fmt.Errorf("no open position for %s", instrument)
	}
	t.balance += pos.Quantity*pos.EntryPrice + pos.EntryFee
	delete(t.positions, instrument)
	return nil
}

// Drop removes a position without booking a trade, for reconciliation when
// the exchange no longer reports the holding.
func (t *Tracker) Drop(instrument string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.positions, instrument)
}
