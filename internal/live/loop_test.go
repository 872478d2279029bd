package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1uv0cean/coin-trader/internal/config"
	"github.com/1uv0cean/coin-trader/internal/data"
	"github.com/1uv0cean/coin-trader/internal/domain/portfolio"
	"github.com/1uv0cean/coin-trader/internal/domain/regime"
	"github.com/1uv0cean/coin-trader/internal/domain/risk"
	"github.com/1uv0cean/coin-trader/internal/domain/strategy"
	"github.com/1uv0cean/coin-trader/internal/engine"
	"github.com/1uv0cean/coin-trader/internal/exchange"
	"github.com/1uv0cean/coin-trader/internal/notify"
)

// capturingNotifier records events for assertions.
type capturingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *capturingNotifier) Notify(_ context.Context, ev notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *capturingNotifier) byKind(kind notify.Kind) []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.Event
	for _, ev := range n.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func liveConfig() config.Config {
	cfg := config.Default()
	cfg.Instruments = []string{"KRW-BTC"}
	return cfg
}

func flatLiveSeries(instrument string, n int) data.Series {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make(data.Series, n)
	for i := range out {
		out[i] = data.Candle{
			Instrument: instrument,
			Timestamp:  start.Add(time.Duration(i) * time.Hour),
			Open:       100, High: 100, Low: 100, Close: 100,
			Volume:     10,
		}
	}
	return out
}

type fixture struct {
	loop     *Loop
	client   *exchange.PaperClient
	tracker  *portfolio.Tracker
	risk     *risk.Manager
	notifier *capturingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := liveConfig()

	catalog, err := strategy.NewCatalog(cfg.FeeRate)
	require.NoError(t, err)

	rm := risk.NewManager(risk.Limits{
		MaxPositionPct:         cfg.Risk.MaxPositionPct,
		MaxTradeRiskPct:        cfg.Risk.MaxTradeRiskPct,
		DailyLossLimitPct:      cfg.Risk.DailyLossLimitPct,
		MaxConcurrentPositions: cfg.Risk.MaxConcurrentPositions,
		MinOrderAmount:         cfg.Risk.MinOrderAmount,
		MaxCorrelation:         cfg.Risk.MaxCorrelation,
		MaxTradesPerDay:        cfg.Risk.MaxTradesPerDay,
	})
	rm.ResetDaily(1_000_000)

	tracker := portfolio.NewTracker(1_000_000, cfg.FeeRate)
	client := exchange.NewPaperClient("KRW", 1_000_000, cfg.FeeRate)
	client.SetCandles("KRW-BTC", flatLiveSeries("KRW-BTC", 150))

	notifier := &capturingNotifier{}
	loop := New(Deps{
		Config:   cfg,
		Client:   client,
		Engine:   engine.New(catalog, rm, tracker, zerolog.Nop()),
		Risk:     rm,
		Tracker:  tracker,
		Notifier: notifier,
		Log:      zerolog.Nop(),
	})
	loop.SetClock(func() time.Time {
		return time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	})
	return &fixture{loop: loop, client: client, tracker: tracker, risk: rm, notifier: notifier}
}

func TestRunCycle_StaticUniverse(t *testing.T) {
	f := newFixture(t)
	f.loop.RunCycle(context.Background())

	assert.Equal(t, []string{"KRW-BTC"}, f.loop.Universe())
	assert.Equal(t, 0, f.tracker.OpenCount())
	assert.Empty(t, f.notifier.byKind(notify.KindBuy))
}

func TestRunCycle_MarketUpdateOnStateTransition(t *testing.T) {
	f := newFixture(t)
	f.loop.RunCycle(context.Background())

	// The flat series classifies into a lower-band state, which is
	// extreme enough to announce once.
	updates := f.notifier.byKind(notify.KindMarketUpdate)
	var stateUpdates int
	for _, ev := range updates {
		if ev.Instrument == "KRW-BTC" {
			stateUpdates++
		}
	}
	assert.Equal(t, 1, stateUpdates)

	// Same state next cycle: no repeat.
	f.loop.RunCycle(context.Background())
	updates = f.notifier.byKind(notify.KindMarketUpdate)
	stateUpdates = 0
	for _, ev := range updates {
		if ev.Instrument == "KRW-BTC" {
			stateUpdates++
		}
	}
	assert.Equal(t, 1, stateUpdates)
}

func TestReconcile_AdoptsUnknownHolding(t *testing.T) {
	f := newFixture(t)

	// A holding the tracker knows nothing about, above the dust threshold.
	f.client.SetPrice("KRW-ETH", 100)
	_, err := f.client.MarketBuy(context.Background(), "KRW-ETH", 10_000)
	require.NoError(t, err)

	f.loop.RunCycle(context.Background())

	pos, ok := f.tracker.Position("KRW-ETH")
	require.True(t, ok)
	assert.Equal(t, "external", pos.Strategy)
	assert.NotEmpty(t, f.notifier.byKind(notify.KindRiskAlert))
}

func TestReconcile_DropsPhantomPosition(t *testing.T) {
	f := newFixture(t)

	// Tracker believes it holds BTC; the exchange reports nothing.
	_, err := f.tracker.Open("KRW-BTC", "trend_follow", regime.StateStrongUp,
		100, 100, 110, 95, time.Now())
	require.NoError(t, err)

	f.loop.RunCycle(context.Background())

	_, ok := f.tracker.Position("KRW-BTC")
	assert.False(t, ok)
	assert.NotEmpty(t, f.notifier.byKind(notify.KindRiskAlert))
	// Dropped, not sold: no trade record was booked.
	assert.Empty(t, f.tracker.History())
}

func TestRunCycle_BreakerPausesTrading(t *testing.T) {
	f := newFixture(t)
	// First cycle performs the initial daily reset.
	f.loop.RunCycle(context.Background())

	f.risk.RecordTrade(-60_000)
	require.Equal(t, risk.BreakerHalted, f.risk.Breaker())

	f.loop.RunCycle(context.Background())
	alerts := f.notifier.byKind(notify.KindRiskAlert)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Message, "daily loss limit")

	// Still inside the pause window: the cycle is skipped, no second alert.
	f.loop.RunCycle(context.Background())
	assert.Len(t, f.notifier.byKind(notify.KindRiskAlert), 1)
}

func TestRunCycle_DailyResetReArmsBreaker(t *testing.T) {
	f := newFixture(t)
	day := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	f.loop.SetClock(func() time.Time { return day })
	f.loop.RunCycle(context.Background())

	f.risk.RecordTrade(-60_000)
	f.loop.RunCycle(context.Background())
	require.Equal(t, risk.BreakerHalted, f.risk.Breaker())

	// Next UTC day: counters clear and trading resumes.
	f.loop.SetClock(func() time.Time { return day.AddDate(0, 0, 1) })
	f.loop.RunCycle(context.Background())
	assert.Equal(t, risk.BreakerActive, f.risk.Breaker())
	assert.Equal(t, 0.0, f.risk.DailyPnL())
}

func TestExecute_FailedBuyRefundsTracker(t *testing.T) {
	f := newFixture(t)
	// A venue with no cash rejects every buy.
	f.loop.client = exchange.NewPaperClient("KRW", 0, 0.0005)

	_, err := f.tracker.Open("KRW-BTC", "trend_follow", regime.StateStrongUp, 100, 1000, 0, 0, time.Now())
	require.NoError(t, err)
	assert.InDelta(t, 899_950.0, f.tracker.Balance(), 1e-9)

	f.loop.execute(context.Background(), engine.Decision{
		Instrument: "KRW-BTC",
		Action:     engine.ActionOpen,
		Reason:     "entry",
		State:      regime.StateStrongUp,
		Price:      100,
		Quantity:   1000,
	}, time.Now())

	// The failed order unwinds the entry in full.
	assert.InDelta(t, 1_000_000.0, f.tracker.Balance(), 1e-9)
	assert.Equal(t, 0, f.tracker.OpenCount())
	assert.Empty(t, f.notifier.byKind(notify.KindBuy))
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.loop.RunCycle(context.Background())

	st := f.loop.Status()
	assert.False(t, st.Running) // Run was never started
	assert.Equal(t, int64(1), st.Cycle)
	assert.Equal(t, []string{"KRW-BTC"}, st.Universe)
	assert.Equal(t, "active", st.Breaker)
	assert.Equal(t, 1_000_000.0, st.Balance)
	assert.Empty(t, st.OpenPositions)
	assert.Contains(t, st.States, "KRW-BTC")
}
