package live

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/1uv0cean/coin-trader/internal/config"
	"github.com/1uv0cean/coin-trader/internal/domain/portfolio"
	"github.com/1uv0cean/coin-trader/internal/domain/regime"
	"github.com/1uv0cean/coin-trader/internal/domain/risk"
	"github.com/1uv0cean/coin-trader/internal/engine"
	"github.com/1uv0cean/coin-trader/internal/exchange"
	httpapi "github.com/1uv0cean/coin-trader/internal/interfaces/http"
	"github.com/1uv0cean/coin-trader/internal/metrics"
	"github.com/1uv0cean/coin-trader/internal/notify"
	"github.com/1uv0cean/coin-trader/internal/persistence"
	"github.com/1uv0cean/coin-trader/internal/scan"
)

const (
	universeRefreshEvery = 4 * time.Hour
	breakerPause         = time.Hour
	candleHistory        = 200
)

// Deps wires the loop's collaborators. All fields are required except
// Scanner, Notifier, Repo and Metrics, which degrade to no-ops.
type Deps struct {
	Config   config.Config
	Client   exchange.Client
	Engine   *engine.Engine
	Risk     *risk.Manager
	Tracker  *portfolio.Tracker
	Scanner  *scan.Scanner
	Notifier notify.Notifier
	Repo     persistence.TradeRepo
	Metrics  *metrics.Set
	Log      zerolog.Logger
}

// Loop drives the trading cycle: refresh the universe, reconcile against
// the exchange, step every instrument through the decision engine, and
// mirror the resulting orders.
type Loop struct {
	cfg      config.Config
	client   exchange.Client
	engine   *engine.Engine
	risk     *risk.Manager
	tracker  *portfolio.Tracker
	scanner  *scan.Scanner
	notifier notify.Notifier
	repo     persistence.TradeRepo
	metrics  *metrics.Set
	log      zerolog.Logger

	now func() time.Time

	mu          sync.RWMutex
	universe    []string
	cycle       int64
	running     bool
	lastDay     time.Time
	lastRefresh time.Time
	pausedUntil time.Time
	prevStates  map[string]regime.State
}

// New builds a loop. Missing optional dependencies are replaced with
// no-op implementations.
func New(d Deps) *Loop {
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Repo == nil {
		d.Repo = persistence.NopRepo{}
	}
	if d.Metrics != nil && d.Engine != nil {
		d.Engine.OnRejection(func(reason string) {
			d.Metrics.Rejections.WithLabelValues(reason).Inc()
		})
	}
	return &Loop{
		cfg:        d.Config,
		client:     d.Client,
		engine:     d.Engine,
		risk:       d.Risk,
		tracker:    d.Tracker,
		scanner:    d.Scanner,
		notifier:   d.Notifier,
		repo:       d.Repo,
		metrics:    d.Metrics,
		log:        d.Log,
		now:        time.Now,
		prevStates: make(map[string]regime.State),
	}
}

// SetClock replaces the time source, for tests.
func (l *Loop) SetClock(now func() time.Time) {
	l.now = now
}

// Universe returns the current tradable set.
func (l *Loop) Universe() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.universe))
	copy(out, l.universe)
	return out
}

// Run executes cycles at the configured interval until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	start := l.now()
	l.mu.Lock()
	l.running = true
	l.lastDay = start.UTC().Truncate(24 * time.Hour)
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		l.running = false
		l.mu.Unlock()
	}()

	if err := l.refreshUniverse(ctx, start); err != nil {
		return fmt.Errorf("initial universe: %w", err)
	}
	l.reconcile(ctx)

	ticker := time.NewTicker(l.cfg.CycleInterval())
	defer ticker.Stop()

	l.log.Info().Strs("universe", l.Universe()).
		Dur("interval", l.cfg.CycleInterval()).Msg("live loop started")

	for {
		select {
		case <-ctx.Done():
			l.log.Info().Msg("live loop stopping")
			return ctx.Err()
		case <-ticker.C:
			l.RunCycle(ctx)
		}
	}
}

// RunCycle executes one full trading cycle. Exported so tests can drive
// the loop without the ticker.
func (l *Loop) RunCycle(ctx context.Context) {
	now := l.now()
	l.mu.Lock()
	l.cycle++
	cycle := l.cycle
	paused := now.Before(l.pausedUntil)
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.Cycles.Inc()
	}

	l.maybeDailyReset(now)

	if paused {
		l.log.Debug().Int64("cycle", cycle).Msg("cycle skipped: breaker pause")
		return
	}

	if l.risk.Breaker() == risk.BreakerHalted {
		l.mu.Lock()
		l.pausedUntil = now.Add(breakerPause)
		l.mu.Unlock()
		l.notifyEvent(notify.Event{
			Kind:    notify.KindRiskAlert,
			Message: fmt.Sprintf("daily loss limit hit (%.0f); trading paused %s", l.risk.DailyPnL(), breakerPause),
			At:      now,
		})
		l.log.Warn().Float64("daily_pnl", l.risk.DailyPnL()).Msg("breaker halted, pausing")
		return
	}

	l.mu.RLock()
	refreshDue := now.Sub(l.lastRefresh) >= universeRefreshEvery
	l.mu.RUnlock()
	if refreshDue {
		if err := l.refreshUniverse(ctx, now); err != nil {
			l.log.Error().Err(err).Msg("universe refresh failed")
		}
	}

	l.reconcile(ctx)

	for _, inst := range l.Universe() {
		if ctx.Err() != nil {
			return
		}
		if err := l.stepInstrument(ctx, inst, now); err != nil {
			if l.metrics != nil {
				l.metrics.CycleErrors.Inc()
			}
			l.log.Error().Err(err).Str("instrument", inst).Msg("cycle step failed")
		}
	}

	l.publishMetrics(ctx)
}

// maybeDailyReset re-arms the breaker and clears daily counters at the
// first cycle of each UTC day.
func (l *Loop) maybeDailyReset(now time.Time) {
	day := now.UTC().Truncate(24 * time.Hour)
	l.mu.Lock()
	if !day.After(l.lastDay) {
		l.mu.Unlock()
		return
	}
	l.lastDay = day
	l.pausedUntil = time.Time{}
	l.mu.Unlock()

	equity := l.tracker.Equity(nil)
	l.risk.ResetDaily(equity)
	l.log.Info().Float64("capital", equity).Msg("daily reset")
	l.notifyEvent(notify.Event{
		Kind:    notify.KindMarketUpdate,
		Message: fmt.Sprintf("daily reset, capital %.0f", equity),
		At:      now,
	})
}

func (l *Loop) stepInstrument(ctx context.Context, inst string, now time.Time) error {
	interval := fmt.Sprintf("minute%d", l.cfg.CandleMinutes)
	candles, err := l.client.Candles(ctx, inst, interval, candleHistory)
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}

	decisions, err := l.engine.Step(inst, candles)
	if err != nil {
		return fmt.Errorf("decision step: %w", err)
	}

	for _, d := range decisions {
		l.execute(ctx, d, now)
	}

	if state, ok := l.engine.LastState(inst); ok {
		l.maybeMarketUpdate(inst, state, now)
	}
	return nil
}

// execute mirrors a decision to the exchange and emits notifications and
// persistence writes. The tracker was already updated by the engine;
// exchange drift is caught by reconcile.
func (l *Loop) execute(ctx context.Context, d engine.Decision, now time.Time) {
	switch d.Action {
	case engine.ActionOpen:
		amount := d.Quantity * d.Price * (1 + l.cfg.FeeRate)
		if _, err := l.client.MarketBuy(ctx, d.Instrument, amount); err != nil {
			l.log.Error().Err(err).Str("instrument", d.Instrument).Msg("buy order failed")
			// The engine already debited the entry; give it back.
			if rerr := l.tracker.Revert(d.Instrument); rerr != nil {
				l.log.Error().Err(rerr).Str("instrument", d.Instrument).Msg("revert failed")
			}
			return
		}
		if l.metrics != nil {
			l.metrics.Orders.WithLabelValues(string(exchange.SideBuy)).Inc()
		}
		l.notifyEvent(notify.Event{
			Kind:       notify.KindBuy,
			Instrument: d.Instrument,
			Message:    fmt.Sprintf("%s @ %.2f qty %.6f (%s)", d.Reason, d.Price, d.Quantity, d.State),
			At:         now,
		})

	case engine.ActionClose, engine.ActionReduce:
		if _, err := l.client.MarketSell(ctx, d.Instrument, d.Quantity); err != nil {
			l.log.Error().Err(err).Str("instrument", d.Instrument).Msg("sell order failed")
		}
		if l.metrics != nil {
			l.metrics.Orders.WithLabelValues(string(exchange.SideSell)).Inc()
		}
		if d.Trade != nil {
			if err := l.repo.Insert(ctx, persistence.FromTrade(*d.Trade)); err != nil {
				l.log.Error().Err(err).Str("trade", d.Trade.ID).Msg("trade persist failed")
			}
			l.notifyEvent(notify.Event{
				Kind:       notify.KindExit,
				Instrument: d.Instrument,
				Message:    fmt.Sprintf("%s @ %.2f pnl %.0f (%.2f%%)", d.Reason, d.Price, d.Trade.PnL, d.Trade.PnLPct),
				At:         now,
			})
		}
	}
}

// maybeMarketUpdate notifies on transitions into the extreme states only.
func (l *Loop) maybeMarketUpdate(inst string, state regime.State, now time.Time) {
	l.mu.Lock()
	prev, seen := l.prevStates[inst]
	l.prevStates[inst] = state
	l.mu.Unlock()

	if seen && prev == state {
		return
	}
	if state > regime.StateDownPersist && state < regime.StateWeakUp {
		return
	}
	l.notifyEvent(notify.Event{
		Kind:       notify.KindMarketUpdate,
		Instrument: inst,
		Message:    fmt.Sprintf("state %d (%s)", int(state), state),
		At:         now,
	})
}

// refreshUniverse re-scans the market and swaps in the new tradable set.
// Instruments with open positions always survive the swap.
func (l *Loop) refreshUniverse(ctx context.Context, now time.Time) error {
	var selected []string

	if len(l.cfg.Instruments) > 0 {
		selected = append(selected, l.cfg.Instruments...)
	} else if l.scanner != nil {
		// Scan wider than needed so the correlation filter has choices.
		analyses, err := l.scanner.Scan(ctx, l.cfg.UniverseSize*3)
		if err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		candidates := make([]string, 0, len(analyses))
		for _, a := range analyses {
			candidates = append(candidates, a.Instrument)
		}
		matrix, err := l.buildCorrelations(ctx, candidates)
		if err != nil {
			l.log.Warn().Err(err).Msg("correlation matrix unavailable")
			selected = candidates
			if len(selected) > l.cfg.UniverseSize {
				selected = selected[:l.cfg.UniverseSize]
			}
		} else {
			l.risk.SetCorrelations(matrix)
			selected = matrix.DiversifiedSelect(candidates, l.cfg.UniverseSize)
		}
	} else {
		return fmt.Errorf("no instruments configured and no scanner available")
	}

	// Never drop an instrument we still hold.
	held := l.tracker.OpenInstruments()
	for _, inst := range held {
		if !containsString(selected, inst) {
			selected = append(selected, inst)
		}
	}
	sort.Strings(selected)

	l.mu.Lock()
	l.universe = selected
	l.lastRefresh = now
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.UniverseSize.Set(float64(len(selected)))
	}
	l.log.Info().Strs("universe", selected).Msg("universe refreshed")
	return nil
}

// buildCorrelations computes the 30-day daily-return correlation matrix
// for the candidate set.
func (l *Loop) buildCorrelations(ctx context.Context, instruments []string) (*risk.Matrix, error) {
	returns := make(map[string][]float64, len(instruments))
	for _, inst := range instruments {
		days, err := l.client.Candles(ctx, inst, "day", 31)
		if err != nil {
			return nil, fmt.Errorf("daily candles %s: %w", inst, err)
		}
		returns[inst] = risk.DailyReturns(days.Closes())
	}
	return risk.ComputeMatrix(returns), nil
}

// reconcile compares tracker state with exchange holdings. The exchange is
// authoritative: phantom positions are dropped, unknown holdings adopted.
func (l *Loop) reconcile(ctx context.Context) {
	holdings, err := l.client.Holdings(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("reconcile skipped: holdings unavailable")
		return
	}

	byInst := make(map[string]exchange.Holding, len(holdings))
	for _, h := range holdings {
		byInst[h.Instrument] = h
	}

	for _, inst := range l.tracker.OpenInstruments() {
		if _, ok := byInst[inst]; ok {
			continue
		}
		l.tracker.Drop(inst)
		l.log.Warn().Str("instrument", inst).Msg("position missing on exchange, dropped")
		l.notifyEvent(notify.Event{
			Kind:       notify.KindRiskAlert,
			Instrument: inst,
			Message:    "position not found on exchange; internal state dropped",
			At:         l.now(),
		})
	}

	minOrder := l.risk.Limits().MinOrderAmount
	for _, h := range byInst {
		if _, open := l.tracker.Position(h.Instrument); open {
			continue
		}
		if h.Quantity*h.AvgPrice < minOrder {
			continue // dust
		}
		l.tracker.Adopt(h.Instrument, h.Quantity, h.AvgPrice, 0, 0, l.now())
		l.log.Warn().Str("instrument", h.Instrument).Float64("qty", h.Quantity).
			Msg("unknown exchange holding adopted")
		l.notifyEvent(notify.Event{
			Kind:       notify.KindRiskAlert,
			Instrument: h.Instrument,
			Message:    fmt.Sprintf("unmanaged holding adopted: qty %.6f @ %.2f", h.Quantity, h.AvgPrice),
			At:         l.now(),
		})
	}
}

func (l *Loop) publishMetrics(ctx context.Context) {
	if l.metrics == nil {
		return
	}
	prices := make(map[string]float64)
	for _, inst := range l.tracker.OpenInstruments() {
		if price, err := l.client.CurrentPrice(ctx, inst); err == nil {
			prices[inst] = price
		}
	}
	l.metrics.OpenPositions.Set(float64(l.tracker.OpenCount()))
	l.metrics.Equity.Set(l.tracker.Equity(prices))
	l.metrics.DailyPnL.Set(l.risk.DailyPnL())
	if l.risk.Breaker() == risk.BreakerHalted {
		l.metrics.BreakerHalted.Set(1)
	} else {
		l.metrics.BreakerHalted.Set(0)
	}
}

func (l *Loop) notifyEvent(ev notify.Event) {
	if l.metrics != nil {
		l.metrics.Notifications.Inc()
	}
	_ = l.notifier.Notify(context.Background(), ev)
}

// Status implements the HTTP status provider.
func (l *Loop) Status() httpapi.Status {
	l.mu.RLock()
	cycle := l.cycle
	running := l.running
	universe := make([]string, len(l.universe))
	copy(universe, l.universe)
	states := make(map[string]string, len(l.prevStates))
	for inst, s := range l.prevStates {
		states[inst] = s.String()
	}
	l.mu.RUnlock()

	positions := make([]httpapi.PositionStatus, 0, l.tracker.OpenCount())
	for _, inst := range l.tracker.OpenInstruments() {
		if pos, ok := l.tracker.Position(inst); ok {
			positions = append(positions, httpapi.PositionStatus{
				Instrument: pos.Instrument,
				Strategy:   pos.Strategy,
				EntryPrice: pos.EntryPrice,
				Quantity:   pos.Quantity,
				TP:         pos.TP,
				SL:         pos.SL,
				EntryTime:  pos.EntryTime,
			})
		}
	}

	return httpapi.Status{
		Running:       running,
		Cycle:         cycle,
		Universe:      universe,
		OpenPositions: positions,
		Balance:       l.tracker.Balance(),
		Equity:        l.tracker.Equity(nil),
		DailyPnL:      l.risk.DailyPnL(),
		TradesToday:   l.risk.TradesToday(),
		Breaker:       l.risk.Breaker().String(),
		States:        states,
		UpdatedAt:     l.now(),
	}
}

func containsString(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
