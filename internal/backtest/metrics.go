package backtest

import (
	"math"
	"time"

	"github.com/1uv0cean/coin-trader/internal/domain/portfolio"
)

// tradingDaysPerYear annualizes the Sharpe ratio; crypto markets trade
// every day.
const tradingDaysPerYear = 365

// StrategyStats is the per-strategy performance breakdown.
type StrategyStats struct {
	Trades  int     `json:"trades"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
	PnL     float64 `json:"pnl"`
	Fees    float64 `json:"fees"`
}

// Result is the aggregated outcome of one backtest run.
type Result struct {
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	InitialBalance float64   `json:"initial_balance"`
	FinalBalance   float64   `json:"final_balance"`
	TotalReturnPct float64   `json:"total_return_pct"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	WinRate        float64   `json:"win_rate"`
	ProfitFactor   float64   `json:"profit_factor"`
	TotalTrades    int       `json:"total_trades"`
	TotalFees      float64   `json:"total_fees"`

	StateDistribution map[string]int           `json:"state_distribution"`
	StrategyStats     map[string]StrategyStats `json:"strategy_stats"`
	Trades            []portfolio.Trade        `json:"trades"`
}

func buildResult(initial float64, tracker *portfolio.Tracker, equityCurve []float64, start, end time.Time) *Result {
	trades := tracker.History()
	final := tracker.Balance()

	r := &Result{
		Start:             start,
		End:               end,
		InitialBalance:    initial,
		FinalBalance:      final,
		TotalReturnPct:    (final - initial) / initial * 100,
		SharpeRatio:       sharpe(dailyReturns(initial, equityCurve)),
		MaxDrawdownPct:    maxDrawdown(initial, equityCurve),
		StateDistribution: make(map[string]int),
		StrategyStats:     make(map[string]StrategyStats),
		Trades:            trades,
	}

	var wins int
	var grossProfit, grossLoss float64
	for _, t := range trades {
		r.TotalTrades++
		r.TotalFees += t.Fees
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			grossLoss += -t.PnL
		}

		r.StateDistribution[t.State.String()]++
		s := r.StrategyStats[t.Strategy]
		s.Trades++
		if t.PnL > 0 {
			s.Wins++
		}
		s.PnL += t.PnL
		s.Fees += t.Fees
		if s.Trades > 0 {
			s.WinRate = float64(s.Wins) / float64(s.Trades)
		}
		r.StrategyStats[t.Strategy] = s
	}

	if r.TotalTrades > 0 {
		r.WinRate = float64(wins) / float64(r.TotalTrades)
	}
	if grossLoss > 0 {
		r.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		// No losing trades; keep the value JSON-encodable.
		r.ProfitFactor = math.MaxFloat64
	}
	return r
}

// dailyReturns converts the equity curve into day-over-day fractional
// returns, anchored at the initial balance.
func dailyReturns(initial float64, curve []float64) []float64 {
	returns := make([]float64, 0, len(curve))
	prev := initial
	for _, equity := range curve {
		if prev > 0 {
			returns = append(returns, (equity-prev)/prev)
		}
		prev = equity
	}
	return returns
}

// sharpe is the annualized Sharpe ratio of the daily return series, with a
// zero risk-free rate.
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := 0.0
	for _, r := range returns {
		m += r
	}
	m /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - m) * (r - m)
	}
	variance /= float64(len(returns) - 1)
	stdev := math.Sqrt(variance)
	if stdev == 0 {
		return 0
	}
	return m / stdev * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the largest peak-to-trough equity decline, in percent.
func maxDrawdown(initial float64, curve []float64) float64 {
	peak := initial
	maxDD := 0.0
	for _, equity := range curve {
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			dd := (peak - equity) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
