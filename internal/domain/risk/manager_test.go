package risk

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimits() Limits {
	return Limits{
		MaxPositionPct:         0.20,
		MaxTradeRiskPct:        0.02,
		DailyLossLimitPct:      0.05,
		MaxConcurrentPositions: 3,
		MinOrderAmount:         5000,
		MaxCorrelation:         0.7,
		MaxTradesPerDay:        20,
	}
}

func newTestManager() *Manager {
	m := NewManager(testLimits())
	m.ResetDaily(1_000_000)
	return m
}

func TestSizePosition_BaseSizing(t *testing.T) {
	m := newTestManager()

	qty, err := m.SizePosition(
		Signal{Instrument: "KRW-BTC", Price: 100, StopLoss: 95, BasePct: 0.10},
		PortfolioView{Capital: 1_000_000},
	)
	require.NoError(t, err)
	// Base notional 100k at price 100; loss at stop 5*1000=5000, inside
	// the default Kelly budget of 2% (20k).
	assert.InDelta(t, 1000.0, qty, 1e-9)
}

func TestSizePosition_NotionalCap(t *testing.T) {
	m := newTestManager()

	qty, err := m.SizePosition(
		Signal{Instrument: "KRW-BTC", Price: 100, StopLoss: 95, BasePct: 0.50},
		PortfolioView{Capital: 1_000_000},
	)
	require.NoError(t, err)
	// Capped at MaxPositionPct (20%) of capital.
	assert.InDelta(t, 2000.0, qty, 1e-9)
}

func TestSizePosition_RiskBudgetShrinksWideStops(t *testing.T) {
	m := newTestManager()

	qty, err := m.SizePosition(
		Signal{Instrument: "KRW-BTC", Price: 100, StopLoss: 80, BasePct: 0.50},
		PortfolioView{Capital: 1_000_000},
	)
	require.NoError(t, err)
	// 20-point stop with a 20k risk budget allows only 1000 units.
	assert.InDelta(t, 1000.0, qty, 1e-9)
}

func TestSizePosition_RejectsBelowMinOrder(t *testing.T) {
	m := newTestManager()

	_, err := m.SizePosition(
		Signal{Instrument: "KRW-XRP", Price: 100, StopLoss: 95, BasePct: 0.01},
		PortfolioView{Capital: 100_000},
	)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonEconomicallyInfeasible, rej.Reason)
}

func TestSizePosition_InvalidSignal(t *testing.T) {
	m := newTestManager()

	_, err := m.SizePosition(Signal{Price: 0, BasePct: 0.1}, PortfolioView{Capital: 1_000_000})
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonInvalidSignal, rej.Reason)
}

func TestSizePosition_MaxPositions(t *testing.T) {
	m := newTestManager()

	_, err := m.SizePosition(
		Signal{Instrument: "KRW-ADA", Price: 100, StopLoss: 95, BasePct: 0.1},
		PortfolioView{Capital: 1_000_000, OpenInstruments: []string{"KRW-BTC", "KRW-ETH", "KRW-SOL"}},
	)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonMaxPositions, rej.Reason)
}

func TestBreaker_TripsOneWayAndResets(t *testing.T) {
	m := newTestManager()
	require.Equal(t, BreakerActive, m.Breaker())

	// 6% loss on the 1M day capital trips the 5% breaker.
	m.RecordTrade(-60_000)
	assert.Equal(t, BreakerHalted, m.Breaker())

	// A profitable trade does not re-arm it.
	m.RecordTrade(+100_000)
	assert.Equal(t, BreakerHalted, m.Breaker())

	_, err := m.SizePosition(
		Signal{Instrument: "KRW-BTC", Price: 100, StopLoss: 95, BasePct: 0.1},
		PortfolioView{Capital: 1_000_000},
	)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonDailyHalt, rej.Reason)

	// Only the daily reset restores trading.
	m.ResetDaily(940_000)
	assert.Equal(t, BreakerActive, m.Breaker())
	assert.Equal(t, 0.0, m.DailyPnL())
	assert.Equal(t, 0, m.TradesToday())
}

func TestTradeCap(t *testing.T) {
	limits := testLimits()
	limits.MaxTradesPerDay = 2
	m := NewManager(limits)
	m.ResetDaily(1_000_000)

	m.RecordTrade(100)
	m.RecordTrade(100)

	_, err := m.SizePosition(
		Signal{Instrument: "KRW-BTC", Price: 100, StopLoss: 95, BasePct: 0.1},
		PortfolioView{Capital: 1_000_000},
	)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonTradeCap, rej.Reason)
}

func TestCorrelationGuard(t *testing.T) {
	m := newTestManager()

	// Two instruments with identical (perfectly correlated) returns.
	returns := make([]float64, 30)
	for i := range returns {
		if i%2 == 0 {
			returns[i] = 0.01
		} else {
			returns[i] = -0.008
		}
	}
	m.SetCorrelations(ComputeMatrix(map[string][]float64{
		"KRW-BTC": returns,
		"KRW-ETH": returns,
	}))

	_, err := m.SizePosition(
		Signal{Instrument: "KRW-ETH", Price: 100, StopLoss: 95, BasePct: 0.1},
		PortfolioView{Capital: 1_000_000, OpenInstruments: []string{"KRW-BTC"}},
	)
	var rej *Rejection
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, ReasonCorrelated, rej.Reason)

	// Without overlap the same signal passes.
	qty, err := m.SizePosition(
		Signal{Instrument: "KRW-ETH", Price: 100, StopLoss: 95, BasePct: 0.1},
		PortfolioView{Capital: 1_000_000},
	)
	require.NoError(t, err)
	assert.Greater(t, qty, 0.0)
}

func TestKellyStats_DefaultsUnderMinHistory(t *testing.T) {
	m := newTestManager()
	winRate, avgWin, avgLoss := m.KellyStats()
	assert.Equal(t, 0.5, winRate)
	assert.Equal(t, 0.02, avgWin)
	assert.Equal(t, 0.015, avgLoss)
}

func TestKellyStats_FromHistory(t *testing.T) {
	m := newTestManager()
	// 8 wins of 2% and 4 losses of 1% on 1M day capital.
	for i := 0; i < 8; i++ {
		m.RecordTrade(20_000)
	}
	for i := 0; i < 4; i++ {
		m.RecordTrade(-10_000)
	}

	winRate, avgWin, avgLoss := m.KellyStats()
	assert.InDelta(t, 8.0/12.0, winRate, 1e-9)
	assert.InDelta(t, 0.02, avgWin, 1e-9)
	assert.InDelta(t, 0.01, avgLoss, 1e-9)
}

func TestRejection_ErrorMessage(t *testing.T) {
	rej := &Rejection{Reason: ReasonEconomicallyInfeasible, Detail: "too small"}
	assert.Contains(t, rej.Error(), string(ReasonEconomicallyInfeasible))
	assert.Contains(t, rej.Error(), "too small")
}

func TestSizePosition_ConcurrentWithRecording(t *testing.T) {
	m := newTestManager()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, _ = m.SizePosition(Signal{
					Instrument: "KRW-BTC", Price: 100, StopLoss: 95, BasePct: 0.1,
				}, PortfolioView{Capital: 1_000_000})
				m.RecordTrade(10)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, BreakerActive, m.Breaker())
	assert.Equal(t, 1600, m.TradesToday())
}
