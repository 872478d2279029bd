package backtest

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/1uv0cean/coin-trader/internal/data"
	"github.com/1uv0cean/coin-trader/internal/domain/portfolio"
	"github.com/1uv0cean/coin-trader/internal/domain/risk"
	"github.com/1uv0cean/coin-trader/internal/domain/strategy"
	"github.com/1uv0cean/coin-trader/internal/engine"
)

// warmupCandles is the history consumed before the first decision step, so
// every indicator in the snapshot is past its settling period.
const warmupCandles = 100

// Config parameterizes a single backtest run.
type Config struct {
	InitialBalance float64
	FeeRate        float64
	Limits         risk.Limits
	EnableAll      bool // activate the defensive strategies too
}

// Engine replays historical candles through the decision pipeline over an
// isolated portfolio. Runs are bit-for-bit deterministic: instruments are
// processed in sorted order and no wall-clock time is consulted.
type Engine struct {
	cfg Config
	log zerolog.Logger
}

// New builds a backtest engine.
func New(cfg Config, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// Run replays the candle sets and returns the aggregated result. Each call
// builds fresh catalog, risk and portfolio state; runs never share state.
func (e *Engine) Run(candles map[string]data.Series) (*Result, error) {
	if e.cfg.InitialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be positive, got %.2f", e.cfg.InitialBalance)
	}

	instruments := make([]string, 0, len(candles))
	maxSteps := 0
	for inst, series := range candles {
		if err := series.Validate(); err != nil {
			return nil, fmt.Errorf("candles for %s: %w", inst, err)
		}
		instruments = append(instruments, inst)
		if len(series) > maxSteps {
			maxSteps = len(series)
		}
	}
	sort.Strings(instruments)

	if maxSteps <= warmupCandles {
		return nil, fmt.Errorf("need more than %d candles, got %d", warmupCandles, maxSteps)
	}

	var opts []strategy.Option
	if e.cfg.EnableAll {
		opts = append(opts, strategy.EnableAll())
	}
	catalog, err := strategy.NewCatalog(e.cfg.FeeRate, opts...)
	if err != nil {
		return nil, fmt.Errorf("build catalog: %w", err)
	}

	rm := risk.NewManager(e.cfg.Limits)
	rm.ResetDaily(e.cfg.InitialBalance)
	tracker := portfolio.NewTracker(e.cfg.InitialBalance, e.cfg.FeeRate)
	tracker.SequentialIDs()
	dec := engine.New(catalog, rm, tracker, e.log)

	// Correlations from full-history daily returns; the live loop refreshes
	// these but a replay uses one matrix.
	returns := make(map[string][]float64, len(candles))
	for inst, series := range candles {
		returns[inst] = risk.DailyReturns(series.Closes())
	}
	rm.SetCorrelations(risk.ComputeMatrix(returns))

	var (
		equityCurve []float64
		curDay      time.Time
		start, end  time.Time
	)

	for step := warmupCandles; step < maxSteps; step++ {
		prices := make(map[string]float64, len(instruments))
		var stepTime time.Time

		for _, inst := range instruments {
			series := candles[inst]
			if step >= len(series) {
				continue
			}
			window := series[:step+1]
			last, _ := window.Last()
			prices[inst] = last.Close
			if last.Timestamp.After(stepTime) {
				stepTime = last.Timestamp
			}

			if _, err := dec.Step(inst, window); err != nil {
				return nil, fmt.Errorf("step %d %s: %w", step, inst, err)
			}
		}

		if stepTime.IsZero() {
			continue
		}
		if start.IsZero() {
			start = stepTime
		}
		end = stepTime

		day := stepTime.UTC().Truncate(24 * time.Hour)
		if curDay.IsZero() {
			curDay = day
		} else if day.After(curDay) {
			equity := tracker.Equity(prices)
			equityCurve = append(equityCurve, equity)
			rm.ResetDaily(equity)
			curDay = day
		}
	}

	// Liquidate whatever is still open at the final close so the result
	// reflects realized performance only.
	finalPrices := make(map[string]float64, len(instruments))
	for _, inst := range instruments {
		if last, ok := candles[inst].Last(); ok {
			finalPrices[inst] = last.Close
		}
	}
	for _, inst := range tracker.OpenInstruments() {
		if price, ok := finalPrices[inst]; ok {
			if _, err := tracker.Close(inst, price, end, "backtest_end"); err != nil {
				return nil, fmt.Errorf("final liquidation %s: %w", inst, err)
			}
		}
	}
	equityCurve = append(equityCurve, tracker.Balance())

	return buildResult(e.cfg.InitialBalance, tracker, equityCurve, start, end), nil
}
