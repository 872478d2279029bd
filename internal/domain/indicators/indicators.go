package indicators

import (
	"math"

	"github.com/1uv0cean/coin-trader/internal/data"
)

// Standard periods used across the trading pipeline.
const (
	RSIPeriod        = 14
	ATRPeriod        = 14
	BollingerPeriod  = 20
	BollingerStdDevs = 2.0
	StochKPeriod     = 14
	StochSmoothK     = 3
	StochDPeriod     = 3
	RelVolumeWindow  = 5
)

// EMA computes an exponential moving average series with alpha = 2/(span+1),
// seeded with the first value.
func EMA(values []float64, span int) []float64 {
	if len(values) == 0 || span <= 0 {
		return nil
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out := make([]float64, len(values))
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = out[i-1]*(1-alpha) + values[i]*alpha
	}
	return out
}

// MACD computes the MACD line, signal line and histogram for the standard
// 12/26/9 configuration.
func MACD(values []float64) (line, signal, hist []float64) {
	if len(values) == 0 {
		return nil, nil, nil
	}
	fast := EMA(values, 12)
	slow := EMA(values, 26)
	line = make([]float64, len(values))
	for i := range values {
		line[i] = fast[i] - slow[i]
	}
	signal = EMA(line, 9)
	hist = make([]float64, len(values))
	for i := range values {
		hist[i] = line[i] - signal[i]
	}
	return line, signal, hist
}

// RSIResult carries an RSI value plus validity information.
type RSIResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateRSI computes the Relative Strength Index with Wilder smoothing.
// Returns a neutral 50 when there is not enough history.
func CalculateRSI(prices []float64, period int) RSIResult {
	if len(prices) < period+1 {
		return RSIResult{Value: 50.0, Period: period, IsValid: false, DataCount: len(prices)}
	}

	avgGain, avgLoss := 0.0, 0.0
	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
	}

	if avgLoss == 0 {
		return RSIResult{Value: 100.0, Period: period, IsValid: true, DataCount: len(prices)}
	}
	rs := avgGain / avgLoss
	return RSIResult{
		Value:     100.0 - 100.0/(1.0+rs),
		Period:    period,
		IsValid:   true,
		DataCount: len(prices),
	}
}

// ATRResult carries an ATR value plus validity information.
type ATRResult struct {
	Value     float64 `json:"value"`
	Period    int     `json:"period"`
	IsValid   bool    `json:"is_valid"`
	DataCount int     `json:"data_count"`
}

// CalculateATR computes the Average True Range as the simple mean of the
// last `period` true ranges.
func CalculateATR(candles data.Series, period int) ATRResult {
	if len(candles) < period+1 {
		return ATRResult{Period: period, IsValid: false, DataCount: len(candles)}
	}

	sum := 0.0
	for i := len(candles) - period; i < len(candles); i++ {
		cur := candles[i]
		prevClose := candles[i-1].Close
		hl := cur.High - cur.Low
		hc := math.Abs(cur.High - prevClose)
		lc := math.Abs(cur.Low - prevClose)
		sum += math.Max(hl, math.Max(hc, lc))
	}

	return ATRResult{
		Value:     sum / float64(period),
		Period:    period,
		IsValid:   true,
		DataCount: len(candles),
	}
}

// BollingerResult carries the band levels and relative width for the most
// recent candle.
type BollingerResult struct {
	Upper   float64 `json:"upper"`
	Mid     float64 `json:"mid"`
	Lower   float64 `json:"lower"`
	Width   float64 `json:"width"` // (upper-lower)/mid
	IsValid bool    `json:"is_valid"`
}

// CalculateBollinger computes Bollinger bands over the trailing window using
// the population standard deviation.
func CalculateBollinger(prices []float64, period int, nstd float64) BollingerResult {
	if len(prices) < period {
		return BollingerResult{IsValid: false}
	}

	window := prices[len(prices)-period:]
	mean := 0.0
	for _, p := range window {
		mean += p
	}
	mean /= float64(period)

	variance := 0.0
	for _, p := range window {
		variance += (p - mean) * (p - mean)
	}
	variance /= float64(period)
	std := math.Sqrt(variance)

	upper := mean + nstd*std
	lower := mean - nstd*std
	width := 0.0
	if mean != 0 {
		width = (upper - lower) / mean
	}
	return BollingerResult{Upper: upper, Mid: mean, Lower: lower, Width: width, IsValid: true}
}

// StochasticResult carries the slow %K and %D oscillator values.
type StochasticResult struct {
	K       float64 `json:"k"`
	D       float64 `json:"d"`
	IsValid bool    `json:"is_valid"`
}

// CalculateStochastic computes the slow stochastic oscillator
// (fast %K smoothed over smoothK, %D over dPeriod).
func CalculateStochastic(candles data.Series, kPeriod, smoothK, dPeriod int) StochasticResult {
	need := kPeriod + smoothK + dPeriod - 2
	if len(candles) < need {
		return StochasticResult{K: 50.0, D: 50.0, IsValid: false}
	}

	fastK := make([]float64, 0, smoothK+dPeriod-1)
	for i := len(candles) - (smoothK + dPeriod - 1); i < len(candles); i++ {
		lo, hi := math.Inf(1), math.Inf(-1)
		for j := i - kPeriod + 1; j <= i; j++ {
			lo = math.Min(lo, candles[j].Low)
			hi = math.Max(hi, candles[j].High)
		}
		if hi == lo {
			fastK = append(fastK, 50.0)
			continue
		}
		fastK = append(fastK, 100.0*(candles[i].Close-lo)/(hi-lo))
	}

	slowK := make([]float64, 0, dPeriod)
	for i := smoothK - 1; i < len(fastK); i++ {
		sum := 0.0
		for j := i - smoothK + 1; j <= i; j++ {
			sum += fastK[j]
		}
		slowK = append(slowK, sum/float64(smoothK))
	}

	sum := 0.0
	for _, v := range slowK {
		sum += v
	}
	return StochasticResult{
		K:       slowK[len(slowK)-1],
		D:       sum / float64(len(slowK)),
		IsValid: true,
	}
}

// RelativeVolume returns the latest volume divided by the mean of the
// trailing window, or 1.0 when there is not enough history.
func RelativeVolume(volumes []float64, window int) float64 {
	if len(volumes) < window+1 {
		return 1.0
	}
	sum := 0.0
	for i := len(volumes) - window - 1; i < len(volumes)-1; i++ {
		sum += volumes[i]
	}
	mean := sum / float64(window)
	if mean <= 0 {
		return 1.0
	}
	return volumes[len(volumes)-1] / mean
}

// PctChange returns the percentage change between the latest value and the
// value n steps back, in percent.
func PctChange(values []float64, n int) float64 {
	if len(values) <= n || n <= 0 {
		return 0.0
	}
	base := values[len(values)-n-1]
	if base == 0 {
		return 0.0
	}
	return (values[len(values)-1]/base - 1.0) * 100.0
}

// AnnualizedVolatility computes the standard deviation of the trailing
// `window` returns scaled by sqrt(periodsPerYear).
func AnnualizedVolatility(prices []float64, window int, periodsPerYear float64) float64 {
	if len(prices) < window+1 {
		return 0.0
	}
	returns := make([]float64, 0, window)
	for i := len(prices) - window; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns = append(returns, prices[i]/prices[i-1]-1.0)
		}
	}
	if len(returns) < 2 {
		return 0.0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)
	return math.Sqrt(variance) * math.Sqrt(periodsPerYear)
}
