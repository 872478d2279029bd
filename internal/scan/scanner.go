package scan

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/1uv0cean/coin-trader/internal/exchange"
)

// Scoring weights over percentile ranks. They sum to 1.
const (
	weightVolume     = 0.30
	weightLiquidity  = 0.20
	weightActivity   = 0.15
	weightVolatility = 0.15
	weightSpread     = 0.10
	weightTrend      = 0.10
)

// optimalVolatilityPct is the daily range considered ideal for the
// strategies; instruments score down as they move away from it.
const optimalVolatilityPct = 5.0

// dayCandleCount is the daily history fetched per instrument.
const dayCandleCount = 8

// stablecoins never make the tradable universe.
var stablecoins = map[string]struct{}{
	"USDT": {}, "USDC": {}, "DAI": {}, "TUSD": {}, "BUSD": {}, "PAX": {}, "UST": {},
}

// Analysis is the scored profile of one candidate instrument.
type Analysis struct {
	Instrument    string  `json:"instrument"`
	Price         float64 `json:"price"`
	Volume24h     float64 `json:"volume_24h"`
	AvgVolume7d   float64 `json:"avg_volume_7d"`
	ActivityRatio float64 `json:"activity_ratio"`
	VolatilityPct float64 `json:"volatility_pct"`
	RangePct      float64 `json:"range_pct"`
	Trend7dPct    float64 `json:"trend_7d_pct"`
	Score         float64 `json:"score"`
}

// Scanner ranks the exchange's instruments for the trading universe.
// Per-instrument analyses are cached so repeated scans inside the TTL skip
// the candle fetches.
type Scanner struct {
	client exchange.Client
	cache  Cache
	log    zerolog.Logger
}

// NewScanner builds a scanner over the given exchange client.
func NewScanner(client exchange.Client, cache Cache, log zerolog.Logger) *Scanner {
	if cache == nil {
		cache = NewLocalCache()
	}
	return &Scanner{client: client, cache: cache, log: log}
}

// Scan analyzes all tradable instruments and returns the topN by weighted
// percentile score, best first.
func (s *Scanner) Scan(ctx context.Context, topN int) ([]Analysis, error) {
	markets, err := s.client.Markets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}

	candidates := make([]string, 0, len(markets))
	for _, m := range markets {
		if isStablecoin(m) {
			continue
		}
		candidates = append(candidates, m)
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no tradable instruments")
	}

	tickers, err := s.client.Tickers(ctx, candidates)
	if err != nil {
		return nil, fmt.Errorf("fetch tickers: %w", err)
	}

	analyses := make([]Analysis, 0, len(tickers))
	for _, t := range tickers {
		a, err := s.analyze(ctx, t)
		if err != nil {
			s.log.Debug().Err(err).Str("instrument", t.Instrument).Msg("analysis skipped")
			continue
		}
		analyses = append(analyses, a)
	}
	if len(analyses) == 0 {
		return nil, fmt.Errorf("no instruments analyzed")
	}

	score(analyses)
	sort.Slice(analyses, func(i, j int) bool {
		if analyses[i].Score != analyses[j].Score {
			return analyses[i].Score > analyses[j].Score
		}
		return analyses[i].Instrument < analyses[j].Instrument
	})

	if topN > 0 && len(analyses) > topN {
		analyses = analyses[:topN]
	}
	return analyses, nil
}

// analyze profiles one instrument, consulting the cache first.
func (s *Scanner) analyze(ctx context.Context, t exchange.Ticker) (Analysis, error) {
	if cached, ok := s.cache.Get(ctx, t.Instrument); ok {
		return cached, nil
	}

	days, err := s.client.Candles(ctx, t.Instrument, "day", dayCandleCount)
	if err != nil {
		return Analysis{}, fmt.Errorf("daily candles: %w", err)
	}
	if len(days) < 2 {
		return Analysis{}, fmt.Errorf("only %d daily candles", len(days))
	}

	// Exclude today's partial candle from the 7-day aggregates.
	hist := days[:len(days)-1]

	var avgVolume, avgRange float64
	for _, c := range hist {
		avgVolume += c.Volume * c.Close
		if c.Close > 0 {
			avgRange += (c.High - c.Low) / c.Close * 100
		}
	}
	avgVolume /= float64(len(hist))
	avgRange /= float64(len(hist))

	trend := 0.0
	if first := hist[0].Close; first > 0 {
		trend = (t.Price - first) / first * 100
	}

	activity := 0.0
	if avgVolume > 0 {
		activity = t.Volume24h / avgVolume
	}

	rangePct := 0.0
	if t.Price > 0 {
		rangePct = (t.High24h - t.Low24h) / t.Price * 100
	}

	a := Analysis{
		Instrument:    t.Instrument,
		Price:         t.Price,
		Volume24h:     t.Volume24h,
		AvgVolume7d:   avgVolume,
		ActivityRatio: activity,
		VolatilityPct: avgRange,
		RangePct:      rangePct,
		Trend7dPct:    trend,
	}
	s.cache.Set(ctx, t.Instrument, a)
	return a, nil
}

// score assigns weighted percentile-rank scores in place.
func score(analyses []Analysis) {
	n := len(analyses)
	volumes := make([]float64, n)
	liquidity := make([]float64, n)
	activity := make([]float64, n)
	volFit := make([]float64, n)
	invSpread := make([]float64, n)
	trend := make([]float64, n)

	for i, a := range analyses {
		volumes[i] = a.Volume24h
		liquidity[i] = a.AvgVolume7d
		activity[i] = a.ActivityRatio
		volFit[i] = volatilityFit(a.VolatilityPct)
		invSpread[i] = -a.RangePct
		trend[i] = a.Trend7dPct
	}

	for i := range analyses {
		analyses[i].Score = weightVolume*percentileRank(volumes, volumes[i]) +
			weightLiquidity*percentileRank(liquidity, liquidity[i]) +
			weightActivity*percentileRank(activity, activity[i]) +
			weightVolatility*percentileRank(volFit, volFit[i]) +
			weightSpread*percentileRank(invSpread, invSpread[i]) +
			weightTrend*percentileRank(trend, trend[i])
	}
}

// volatilityFit maps a daily range percent onto [0,1], peaking at the
// optimal volatility and decaying linearly.
func volatilityFit(volPct float64) float64 {
	fit := 1 - math.Abs(volPct-optimalVolatilityPct)/10
	if fit < 0 {
		return 0
	}
	return fit
}

// percentileRank is the fraction of values at or below v.
func percentileRank(values []float64, v float64) float64 {
	if len(values) == 0 {
		return 0
	}
	count := 0
	for _, x := range values {
		if x <= v {
			count++
		}
	}
	return float64(count) / float64(len(values))
}

func isStablecoin(instrument string) bool {
	parts := strings.SplitN(instrument, "-", 2)
	base := parts[len(parts)-1]
	_, ok := stablecoins[base]
	return ok
}
