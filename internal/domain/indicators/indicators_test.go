package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1uv0cean/coin-trader/internal/data"
)

func flatCandles(n int, price, volume float64) data.Series {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make(data.Series, n)
	for i := range series {
		series[i] = data.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      price, High: price, Low: price, Close: price,
			Volume:    volume,
		}
	}
	return series
}

func TestEMA_ConstantSeries(t *testing.T) {
	values := []float64{100, 100, 100, 100, 100}
	out := EMA(values, 3)
	require.Len(t, out, 5)
	for _, v := range out {
		assert.InDelta(t, 100.0, v, 1e-9)
	}
}

func TestEMA_ConvergesTowardLatest(t *testing.T) {
	values := make([]float64, 50)
	for i := range values {
		values[i] = 100
	}
	values[49] = 110
	out := EMA(values, 10)
	assert.Greater(t, out[49], 100.0)
	assert.Less(t, out[49], 110.0)
}

func TestEMA_Empty(t *testing.T) {
	assert.Nil(t, EMA(nil, 10))
	assert.Nil(t, EMA([]float64{1, 2}, 0))
}

func TestMACD_FlatSeriesIsZero(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 50
	}
	line, signal, hist := MACD(values)
	assert.InDelta(t, 0.0, line[59], 1e-9)
	assert.InDelta(t, 0.0, signal[59], 1e-9)
	assert.InDelta(t, 0.0, hist[59], 1e-9)
}

func TestMACD_UptrendPositive(t *testing.T) {
	values := make([]float64, 60)
	for i := range values {
		values[i] = 100 + float64(i)
	}
	line, signal, _ := MACD(values)
	assert.Greater(t, line[59], 0.0)
	assert.Greater(t, signal[59], 0.0)
}

func TestCalculateRSI_InsufficientData(t *testing.T) {
	res := CalculateRSI([]float64{1, 2, 3}, RSIPeriod)
	assert.False(t, res.IsValid)
	assert.Equal(t, 50.0, res.Value)
}

func TestCalculateRSI_AllGains(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100 + float64(i)
	}
	res := CalculateRSI(prices, RSIPeriod)
	require.True(t, res.IsValid)
	assert.Equal(t, 100.0, res.Value)
}

func TestCalculateRSI_AllLosses(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 200 - float64(i)
	}
	res := CalculateRSI(prices, RSIPeriod)
	require.True(t, res.IsValid)
	assert.InDelta(t, 0.0, res.Value, 1e-9)
}

func TestCalculateATR_FlatMarketIsZero(t *testing.T) {
	res := CalculateATR(flatCandles(30, 100, 10), ATRPeriod)
	require.True(t, res.IsValid)
	assert.InDelta(t, 0.0, res.Value, 1e-9)
}

func TestCalculateATR_KnownRange(t *testing.T) {
	series := flatCandles(30, 100, 10)
	for i := range series {
		series[i].High = 102
		series[i].Low = 98
	}
	res := CalculateATR(series, ATRPeriod)
	require.True(t, res.IsValid)
	assert.InDelta(t, 4.0, res.Value, 1e-9)
}

func TestCalculateATR_InsufficientData(t *testing.T) {
	res := CalculateATR(flatCandles(5, 100, 10), ATRPeriod)
	assert.False(t, res.IsValid)
}

func TestCalculateBollinger_FlatSeries(t *testing.T) {
	prices := make([]float64, 25)
	for i := range prices {
		prices[i] = 100
	}
	res := CalculateBollinger(prices, BollingerPeriod, BollingerStdDevs)
	require.True(t, res.IsValid)
	assert.InDelta(t, 100.0, res.Mid, 1e-9)
	assert.InDelta(t, 100.0, res.Upper, 1e-9)
	assert.InDelta(t, 100.0, res.Lower, 1e-9)
	assert.InDelta(t, 0.0, res.Width, 1e-9)
}

func TestCalculateBollinger_WidthGrowsWithDispersion(t *testing.T) {
	prices := make([]float64, 25)
	for i := range prices {
		if i%2 == 0 {
			prices[i] = 98
		} else {
			prices[i] = 102
		}
	}
	res := CalculateBollinger(prices, BollingerPeriod, BollingerStdDevs)
	require.True(t, res.IsValid)
	assert.Greater(t, res.Width, 0.05)
	assert.Greater(t, res.Upper, res.Mid)
	assert.Less(t, res.Lower, res.Mid)
}

func TestCalculateStochastic_TopOfRange(t *testing.T) {
	series := flatCandles(30, 100, 10)
	for i := range series {
		series[i].Low = 90
		series[i].High = 100
		series[i].Close = 100
	}
	res := CalculateStochastic(series, StochKPeriod, StochSmoothK, StochDPeriod)
	require.True(t, res.IsValid)
	assert.InDelta(t, 100.0, res.K, 1e-9)
	assert.InDelta(t, 100.0, res.D, 1e-9)
}

func TestCalculateStochastic_InsufficientData(t *testing.T) {
	res := CalculateStochastic(flatCandles(5, 100, 10), StochKPeriod, StochSmoothK, StochDPeriod)
	assert.False(t, res.IsValid)
	assert.Equal(t, 50.0, res.K)
}

func TestRelativeVolume(t *testing.T) {
	volumes := []float64{10, 10, 10, 10, 10, 30}
	assert.InDelta(t, 3.0, RelativeVolume(volumes, RelVolumeWindow), 1e-9)

	// Not enough history falls back to neutral.
	assert.Equal(t, 1.0, RelativeVolume([]float64{10, 20}, RelVolumeWindow))
}

func TestPctChange(t *testing.T) {
	values := []float64{100, 110, 121}
	assert.InDelta(t, 10.0, PctChange(values, 1), 1e-9)
	assert.InDelta(t, 21.0, PctChange(values, 2), 1e-9)
	assert.Equal(t, 0.0, PctChange(values, 5))
}

func TestAnnualizedVolatility_FlatIsZero(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = 100
	}
	assert.Equal(t, 0.0, AnnualizedVolatility(prices, 30, 365))
}
