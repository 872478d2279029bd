package risk

import (
	"fmt"
	"math"
	"sync"
)

// RejectReason classifies why an entry was refused. Rejections are normal
// control flow, not faults.
type RejectReason string

const (
	ReasonEconomicallyInfeasible RejectReason = "ECONOMICALLY_INFEASIBLE"
	ReasonMaxPositions           RejectReason = "MAX_POSITIONS"
	ReasonDailyHalt              RejectReason = "DAILY_HALT"
	ReasonCorrelated             RejectReason = "CORRELATED"
	ReasonTradeCap               RejectReason = "TRADE_CAP"
	ReasonInvalidSignal          RejectReason = "INVALID_SIGNAL"
)

// Rejection is a typed sizing refusal.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("entry rejected (%s): %s", r.Reason, r.Detail)
}

// Limits is the process-wide risk configuration, read-only after startup.
type Limits struct {
	MaxPositionPct         float64
	MaxTradeRiskPct        float64
	DailyLossLimitPct      float64
	MaxConcurrentPositions int
	MinOrderAmount         float64
	FeeRate                float64
	MaxCorrelation         float64
	MaxTradesPerDay        int
}

// BreakerState is the daily loss circuit breaker state.
type BreakerState int

const (
	BreakerActive BreakerState = iota
	BreakerHalted
)

func (s BreakerState) String() string {
	if s == BreakerHalted {
		return "halted"
	}
	return "active"
}

// Outcome is one realized trade result, kept for Kelly statistics.
type Outcome struct {
	Win    bool
	PnLPct float64 // realized return as a fraction (0.02 = +2%)
}

// Defaults used until enough trade history accumulates.
const (
	kellyMinHistory   = 10
	kellyHistoryCap   = 50
	defaultWinRate    = 0.5
	defaultAvgWinPct  = 0.02
	defaultAvgLossPct = 0.015
)

// Signal is a sized-entry request from the decision engine.
type Signal struct {
	Instrument string
	Price      float64
	StopLoss   float64
	BasePct    float64 // strategy's base capital fraction
}

// PortfolioView is the slice of portfolio state sizing needs.
type PortfolioView struct {
	Capital         float64 // total capital (balance + open position value)
	OpenInstruments []string
}

// Manager converts raw signals into concrete position sizes and enforces the
// portfolio-level limits, including the one-way daily loss breaker.
type Manager struct {
	limits Limits

	mu sync.RWMutex

	history     []Outcome
	dailyPnL    float64
	tradesToday int
	breaker     BreakerState
	dayCapital  float64 // capital at the last daily reset

	corr *Matrix
}

// NewManager creates a risk manager in the ACTIVE breaker state.
func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits, breaker: BreakerActive}
}

// Limits returns the configured limits.
func (m *Manager) Limits() Limits {
	return m.limits
}

// Breaker returns the current daily-loss breaker state.
func (m *Manager) Breaker() BreakerState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breaker
}

// DailyPnL returns the cumulative realized P&L since the last daily reset.
func (m *Manager) DailyPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dailyPnL
}

// TradesToday returns the number of realized trades since the last reset.
func (m *Manager) TradesToday() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tradesToday
}

// SetCorrelations installs the current return-correlation matrix used by
// the diversification guard. A nil matrix disables the guard.
func (m *Manager) SetCorrelations(corr *Matrix) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corr = corr
}

// ResetDaily clears daily accumulators and re-arms the breaker. The capital
// snapshot anchors the day's loss limit. This is the only scheduled
// transition back to ACTIVE.
func (m *Manager) ResetDaily(capital float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = 0
	m.tradesToday = 0
	m.breaker = BreakerActive
	m.dayCapital = capital
}

// RecordTrade books a realized result into the daily accumulators and the
// Kelly history. Crossing the daily loss limit trips the breaker; the
// transition is one-way until the next ResetDaily.
func (m *Manager) RecordTrade(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL += pnl
	m.tradesToday++

	pnlPct := 0.0
	if m.dayCapital > 0 {
		pnlPct = pnl / m.dayCapital
	}
	m.history = append(m.history, Outcome{Win: pnl > 0, PnLPct: pnlPct})
	if len(m.history) > kellyHistoryCap {
		m.history = m.history[1:]
	}

	if m.dayCapital > 0 && m.dailyPnL <= -m.dayCapital*m.limits.DailyLossLimitPct {
		m.breaker = BreakerHalted
	}
}

// KellyStats returns win rate, average win and average loss (as fractions)
// from trailing history, or conservative defaults below the minimum sample.
func (m *Manager) KellyStats() (winRate, avgWin, avgLoss float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) < kellyMinHistory {
		return defaultWinRate, defaultAvgWinPct, defaultAvgLossPct
	}

	wins, losses := 0, 0
	winSum, lossSum := 0.0, 0.0
	for _, o := range m.history {
		if o.Win {
			wins++
			winSum += o.PnLPct
		} else {
			losses++
			lossSum += math.Abs(o.PnLPct)
		}
	}

	winRate = float64(wins) / float64(len(m.history))
	avgWin = defaultAvgWinPct
	if wins > 0 {
		avgWin = winSum / float64(wins)
	}
	avgLoss = defaultAvgLossPct
	if losses > 0 {
		avgLoss = lossSum / float64(losses)
	}
	return winRate, avgWin, avgLoss
}

// riskFraction is the quarter-Kelly fraction of capital allowed to be lost
// on one trade, clipped to [0, MaxTradeRiskPct].
func (m *Manager) riskFraction() float64 {
	winRate, avgWin, avgLoss := m.KellyStats()
	if avgLoss <= 0 || avgWin <= 0 {
		return m.limits.MaxTradeRiskPct
	}
	payoff := avgWin / avgLoss
	raw := winRate - (1-winRate)/payoff
	fraction := raw * 0.25
	if fraction < 0 {
		return 0
	}
	if fraction > m.limits.MaxTradeRiskPct {
		return m.limits.MaxTradeRiskPct
	}
	return fraction
}

// SizePosition converts a signal into an order quantity, or returns a
// *Rejection explaining the refusal. The returned notional never exceeds
// MaxPositionPct of capital, and the implied loss at the stop never exceeds
// the capped Kelly risk fraction of capital. Orders below MinOrderAmount are
// rejected, never rounded up.
func (m *Manager) SizePosition(sig Signal, pf PortfolioView) (float64, error) {
	if sig.Price <= 0 || sig.BasePct <= 0 {
		return 0, &Rejection{Reason: ReasonInvalidSignal,
			Detail: fmt.Sprintf("price=%.4f base_pct=%.4f", sig.Price, sig.BasePct)}
	}

	// Snapshot the mutable fields once; KellyStats re-locks further down.
	m.mu.RLock()
	breaker := m.breaker
	dailyPnL := m.dailyPnL
	tradesToday := m.tradesToday
	matrix := m.corr
	m.mu.RUnlock()

	if breaker == BreakerHalted {
		return 0, &Rejection{Reason: ReasonDailyHalt,
			Detail: fmt.Sprintf("daily loss %.0f breached limit", dailyPnL)}
	}

	if m.limits.MaxTradesPerDay > 0 && tradesToday >= m.limits.MaxTradesPerDay {
		return 0, &Rejection{Reason: ReasonTradeCap,
			Detail: fmt.Sprintf("%d trades today", tradesToday)}
	}

	if len(pf.OpenInstruments) >= m.limits.MaxConcurrentPositions {
		return 0, &Rejection{Reason: ReasonMaxPositions,
			Detail: fmt.Sprintf("%d open positions", len(pf.OpenInstruments))}
	}

	if matrix != nil && m.limits.MaxCorrelation > 0 {
		if other, corr := matrix.MaxAbsWith(sig.Instrument, pf.OpenInstruments); math.Abs(corr) > m.limits.MaxCorrelation {
			return 0, &Rejection{Reason: ReasonCorrelated,
				Detail: fmt.Sprintf("correlation %.2f with %s", corr, other)}
		}
	}

	notional := sig.BasePct * pf.Capital
	if cap := m.limits.MaxPositionPct * pf.Capital; notional > cap {
		notional = cap
	}

	qty := notional / sig.Price

	// Risk cap: implied loss at the stop must stay within the capped Kelly
	// fraction of capital.
	if sig.StopLoss > 0 && sig.StopLoss < sig.Price {
		stopDist := sig.Price - sig.StopLoss
		riskBudget := m.riskFraction() * pf.Capital
		if qty*stopDist > riskBudget {
			qty = riskBudget / stopDist
			notional = qty * sig.Price
		}
	}

	if notional < m.limits.MinOrderAmount {
		return 0, &Rejection{Reason: ReasonEconomicallyInfeasible,
			Detail: fmt.Sprintf("notional %.0f below minimum order %.0f", notional, m.limits.MinOrderAmount)}
	}

	return qty, nil
}
