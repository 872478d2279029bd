package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/1uv0cean/coin-trader/internal/data"
	"github.com/1uv0cean/coin-trader/internal/domain/portfolio"
	"github.com/1uv0cean/coin-trader/internal/domain/regime"
	"github.com/1uv0cean/coin-trader/internal/domain/risk"
	"github.com/1uv0cean/coin-trader/internal/domain/strategy"
)

// Action is the outcome kind of one decision step.
type Action int

const (
	ActionHold Action = iota
	ActionOpen
	ActionClose
	ActionReduce
	ActionRaiseStop
)

func (a Action) String() string {
	switch a {
	case ActionOpen:
		return "OPEN"
	case ActionClose:
		return "CLOSE"
	case ActionReduce:
		return "REDUCE"
	case ActionRaiseStop:
		return "RAISE_STOP"
	default:
		return "HOLD"
	}
}

// Decision is one executed (or declined) action for an instrument. A single
// step can emit several decisions: ladder rungs fire in sequence before the
// entry check runs.
type Decision struct {
	Instrument string           `json:"instrument"`
	Action     Action           `json:"action"`
	Reason     string           `json:"reason"`
	State      regime.State     `json:"state"`
	Price      float64          `json:"price"`
	Quantity   float64          `json:"quantity,omitempty"`
	Trade      *portfolio.Trade `json:"trade,omitempty"`
}

// Hold durations for the time-based exits, measured against candle
// timestamps so backtests stay deterministic.
const (
	profitableExitAfter = 24 * time.Hour
	forceExitAfter      = 48 * time.Hour
)

// maxEntryATRPct blocks new entries when ATR exceeds this fraction of
// price. Brackets built in such conditions are too wide to size sensibly.
const maxEntryATRPct = 0.15

// Engine runs the per-instrument decision pipeline: snapshot, classify,
// exits, entry. It owns no I/O; callers feed it candle history and it
// mutates the tracker it was built with.
type Engine struct {
	classifier *regime.Classifier
	catalog    *strategy.Catalog
	risk       *risk.Manager
	tracker    *portfolio.Tracker
	log        zerolog.Logger

	lastState map[string]regime.State
	onReject  func(reason string)
}

// New builds a decision engine over the given collaborators.
func New(catalog *strategy.Catalog, rm *risk.Manager, tracker *portfolio.Tracker, log zerolog.Logger) *Engine {
	return &Engine{
		classifier: regime.NewClassifier(),
		catalog:    catalog,
		risk:       rm,
		tracker:    tracker,
		log:        log,
		lastState:  make(map[string]regime.State),
	}
}

// OnRejection registers a callback invoked with the reason of every risk
// rejection on the entry path.
func (e *Engine) OnRejection(fn func(reason string)) {
	e.onReject = fn
}

// Tracker exposes the portfolio the engine mutates.
func (e *Engine) Tracker() *portfolio.Tracker {
	return e.tracker
}

// LastState returns the most recent classification for an instrument.
func (e *Engine) LastState(instrument string) (regime.State, bool) {
	s, ok := e.lastState[instrument]
	return s, ok
}

// Step evaluates one instrument against its candle history up to and
// including the newest candle. Exit checks on an open position run before
// any entry evaluation.
func (e *Engine) Step(instrument string, candles data.Series) ([]Decision, error) {
	last, ok := candles.Last()
	if !ok {
		return nil, fmt.Errorf("no candles for %s", instrument)
	}
	price := last.Close
	now := last.Timestamp

	snap, err := regime.NewSnapshot(candles)
	if err != nil {
		if errors.Is(err, regime.ErrInsufficientHistory) {
			// Keep the prior state; never flip to neutral on a data gap.
			return e.holdOnly(instrument, price), nil
		}
		return nil, fmt.Errorf("snapshot %s: %w", instrument, err)
	}

	state := e.classifier.Classify(snap)
	e.lastState[instrument] = state

	var decisions []Decision

	if pos, open := e.tracker.Position(instrument); open {
		exits, closed := e.checkExits(pos, price, now, state)
		decisions = append(decisions, exits...)
		if closed {
			return decisions, nil
		}
	}

	if _, open := e.tracker.Position(instrument); !open {
		if d := e.tryEnter(instrument, snap, state, price, now); d != nil {
			decisions = append(decisions, *d)
		}
	}

	if len(decisions) == 0 {
		decisions = append(decisions, Decision{
			Instrument: instrument, Action: ActionHold, State: state, Price: price,
		})
	}
	return decisions, nil
}

func (e *Engine) holdOnly(instrument string, price float64) []Decision {
	state := e.lastState[instrument]
	return []Decision{{
		Instrument: instrument, Action: ActionHold, State: state,
		Price: price, Reason: "insufficient history",
	}}
}

// checkExits runs the exit cascade for an open position. Returns the
// decisions taken and whether the position was fully closed.
func (e *Engine) checkExits(pos portfolio.Position, price float64, now time.Time, state regime.State) ([]Decision, bool) {
	var decisions []Decision
	profitPct := (price - pos.EntryPrice) / pos.EntryPrice * 100

	strat := e.catalog.Select(pos.State)
	ladder := strat.Ladder

	// Ladder rungs fire in order; a large move can cross several in one
	// candle.
	stage := pos.LadderStage
	for {
		rung := ladder.Next(stage, profitPct)
		if rung == nil {
			break
		}
		stage++
		switch rung.Action {
		case strategy.RaiseStop:
			newSL := pos.EntryPrice * (1 + rung.StopPct/100)
			if err := e.tracker.RaiseStop(pos.Instrument, newSL); err != nil {
				break
			}
			_ = e.tracker.AdvanceLadder(pos.Instrument)
			e.log.Info().Str("instrument", pos.Instrument).Float64("sl", newSL).
				Float64("profit_pct", profitPct).Msg("ladder stop raised")
			decisions = append(decisions, Decision{
				Instrument: pos.Instrument, Action: ActionRaiseStop, State: state,
				Price: price, Reason: fmt.Sprintf("ladder +%.1f%%", rung.TriggerPct),
			})
		case strategy.PartialExit:
			trade, err := e.tracker.Reduce(pos.Instrument, rung.ExitRatio, price, now,
				fmt.Sprintf("ladder +%.1f%%", rung.TriggerPct))
			if err != nil {
				break
			}
			e.recordExit(trade)
			if _, still := e.tracker.Position(pos.Instrument); !still {
				// Dust remainder was swept into a full close.
				decisions = append(decisions, Decision{
					Instrument: pos.Instrument, Action: ActionClose, State: state,
					Price: price, Reason: trade.Reason, Quantity: trade.Quantity, Trade: &trade,
				})
				return decisions, true
			}
			_ = e.tracker.AdvanceLadder(pos.Instrument)
			decisions = append(decisions, Decision{
				Instrument: pos.Instrument, Action: ActionReduce, State: state,
				Price: price, Reason: trade.Reason, Quantity: trade.Quantity, Trade: &trade,
			})
		case strategy.FullExit:
			trade, err := e.tracker.Close(pos.Instrument, price, now,
				fmt.Sprintf("ladder +%.1f%%", rung.TriggerPct))
			if err != nil {
				break
			}
			e.recordExit(trade)
			decisions = append(decisions, Decision{
				Instrument: pos.Instrument, Action: ActionClose, State: state,
				Price: price, Reason: trade.Reason, Quantity: trade.Quantity, Trade: &trade,
			})
			return decisions, true
		}
		pos, _ = e.tracker.Position(pos.Instrument)
	}

	if pos.TP > 0 && price >= pos.TP {
		return e.closeOut(decisions, pos, price, now, state, "take_profit")
	}
	if pos.SL > 0 && price <= pos.SL {
		return e.closeOut(decisions, pos, price, now, state, "stop_loss")
	}

	held := now.Sub(pos.EntryTime)
	if held >= forceExitAfter {
		return e.closeOut(decisions, pos, price, now, state, "max_hold")
	}
	if held >= profitableExitAfter && profitPct > 0 {
		return e.closeOut(decisions, pos, price, now, state, "time_exit")
	}

	return decisions, false
}

func (e *Engine) closeOut(decisions []Decision, pos portfolio.Position, price float64, now time.Time, state regime.State, reason string) ([]Decision, bool) {
	trade, err := e.tracker.Close(pos.Instrument, price, now, reason)
	if err != nil {
		e.log.Error().Err(err).Str("instrument", pos.Instrument).Msg("close failed")
		return decisions, false
	}
	e.recordExit(trade)
	e.log.Info().Str("instrument", pos.Instrument).Str("reason", reason).
		Float64("pnl", trade.PnL).Float64("pnl_pct", trade.PnLPct).Msg("position closed")
	return append(decisions, Decision{
		Instrument: pos.Instrument, Action: ActionClose, State: state,
		Price: price, Reason: reason, Quantity: trade.Quantity, Trade: &trade,
	}), true
}

func (e *Engine) recordExit(trade portfolio.Trade) {
	e.risk.RecordTrade(trade.PnL)
}

// tryEnter evaluates the entry path; returns nil when no entry happens.
func (e *Engine) tryEnter(instrument string, snap regime.Snapshot, state regime.State, price float64, now time.Time) *Decision {
	strat := e.catalog.Select(state)
	if !e.catalog.ShouldEnter(strat, snap) {
		return nil
	}

	if snap.ATR > price*maxEntryATRPct {
		e.log.Debug().Str("instrument", instrument).Float64("atr", snap.ATR).
			Msg("entry skipped: volatility too high")
		return nil
	}

	bracket := e.catalog.ComputeBracket(strat, price, snap.ATR)

	prices := map[string]float64{instrument: price}
	qty, err := e.risk.SizePosition(risk.Signal{
		Instrument: instrument,
		Price:      price,
		StopLoss:   bracket.SL,
		BasePct:    strat.PositionPct,
	}, risk.PortfolioView{
		Capital:         e.tracker.Equity(prices),
		OpenInstruments: e.tracker.OpenInstruments(),
	})
	if err != nil {
		var rej *risk.Rejection
		if errors.As(err, &rej) {
			e.log.Debug().Str("instrument", instrument).Str("reason", string(rej.Reason)).
				Str("detail", rej.Detail).Msg("entry rejected")
			if e.onReject != nil {
				e.onReject(string(rej.Reason))
			}
		}
		return nil
	}

	// Never spend more than the free balance allows, fees included.
	maxAffordable := e.tracker.Balance() / (price * (1 + e.catalog.FeeRate()))
	if qty > maxAffordable {
		qty = maxAffordable
	}
	if qty*price < e.risk.Limits().MinOrderAmount {
		return nil
	}

	pos, err := e.tracker.Open(instrument, strat.Name, state, price, qty, bracket.TP, bracket.SL, now)
	if err != nil {
		e.log.Error().Err(err).Str("instrument", instrument).Msg("open failed")
		return nil
	}

	e.log.Info().Str("instrument", instrument).Str("strategy", strat.Name).
		Stringer("state", state).Float64("price", price).Float64("qty", qty).
		Float64("tp", bracket.TP).Float64("sl", bracket.SL).Msg("position opened")

	return &Decision{
		Instrument: instrument, Action: ActionOpen, State: state,
		Price: price, Quantity: pos.Quantity,
		Reason: fmt.Sprintf("%s entry", strat.Name),
	}
}
