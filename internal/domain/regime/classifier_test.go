package regime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1uv0cean/coin-trader/internal/data"
)

func candleSeries(n int, price func(i int) float64, volume float64) data.Series {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	series := make(data.Series, n)
	for i := range series {
		p := price(i)
		series[i] = data.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      p, High: p, Low: p, Close: p,
			Volume:    volume,
		}
	}
	return series
}

func TestNewSnapshot_InsufficientHistory(t *testing.T) {
	series := candleSeries(MinHistory-1, func(int) float64 { return 100 }, 10)
	_, err := NewSnapshot(series)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientHistory))
}

func TestNewSnapshot_FlatMarket(t *testing.T) {
	series := candleSeries(150, func(int) float64 { return 100 }, 10)
	snap, err := NewSnapshot(series)
	require.NoError(t, err)

	assert.Equal(t, 100.0, snap.Price)
	assert.InDelta(t, 0.0, snap.Change1, 1e-9)
	assert.InDelta(t, 0.0, snap.Change7, 1e-9)
	assert.InDelta(t, 0.0, snap.MACD, 1e-9)
	assert.InDelta(t, 0.0, snap.EMA20vs50, 1e-6)
	assert.InDelta(t, 0.0, snap.BBWidth, 1e-9)
	assert.InDelta(t, 0.0, snap.ATR, 1e-9)
	assert.InDelta(t, 1.0, snap.VolumeRel5, 1e-9)
}

func TestClassify_Deterministic(t *testing.T) {
	snap := Snapshot{
		Price: 100, Change1: 1.2, Change3: 2.5, Change7: 4.0,
		RSI: 62, MACD: 0.5, MACDSignal: 0.3,
		EMA20vs50: 1.1, EMA50vs100: 0.8,
		BBWidth: 0.04, VolumeRel5: 1.4, StochK: 70, StochD: 65,
	}
	c := NewClassifier()
	first := c.Classify(snap)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Classify(snap))
	}
}

func TestClassify_StrongRally(t *testing.T) {
	snap := Snapshot{
		Price: 100, Change1: 6, Change3: 12, Change7: 20,
		RSI: 72, MACD: 2.0, MACDSignal: 1.0,
		EMA20vs50: 3, EMA50vs100: 2,
		BBWidth: 0.06, VolumeRel5: 2.5, StochK: 85, StochD: 82,
	}
	state, scores := NewClassifier().ClassifyDetailed(snap)
	assert.GreaterOrEqual(t, int(state), 7)
	assert.GreaterOrEqual(t, scores.Momentum, 8.0)
	assert.Equal(t, 9.0, scores.Trend)
}

func TestClassify_Panic(t *testing.T) {
	snap := Snapshot{
		Price: 100, Change1: -18, Change3: -18, Change7: -18,
		RSI: 15, MACD: -2.0, MACDSignal: -1.0,
		EMA20vs50: -3, EMA50vs100: -2,
		BBWidth: 0.09, VolumeRel5: 3.0, StochK: 8, StochD: 10,
	}
	state, scores := NewClassifier().ClassifyDetailed(snap)
	assert.LessOrEqual(t, int(state), 2)
	assert.Equal(t, 0.0, scores.Momentum)
	assert.Equal(t, 0.0, scores.Trend)
}

// A composite landing exactly on .5 must round down, never up.
func TestClassify_HalfPointRoundsDown(t *testing.T) {
	snap := Snapshot{
		Price:      100,
		Change1:    0, Change3: 0, Change7: 0, // momentum bucket 5
		EMA20vs50:  1, EMA50vs100: -1, // 1.5 pts
		MACD:       -0.5, MACDSignal: -1, // +2.0 pts, MACD<0: trend floor(3.5*1.5)=5
		BBWidth:    0.015, // volatility 3
		VolumeRel5: 1.0, RSI: 50, StochK: 50, StochD: 50,
	}
	state, scores := NewClassifier().ClassifyDetailed(snap)
	require.InDelta(t, 4.5, scores.Composite, 1e-9)
	assert.Equal(t, StateBearishTurn, state)
}

func TestClassify_VolumeAndOscillatorModifiers(t *testing.T) {
	base := Snapshot{
		Price: 100, BBWidth: 0.03, VolumeRel5: 1.0,
		RSI: 50, StochK: 50, StochD: 50,
	}
	c := NewClassifier()
	_, neutral := c.ClassifyDetailed(base)
	assert.Equal(t, 0.0, neutral.Volume)
	assert.Equal(t, 0.0, neutral.Oscillator)

	spiked := base
	spiked.VolumeRel5 = 2.5
	_, s := c.ClassifyDetailed(spiked)
	assert.Equal(t, 2.0, s.Volume)

	oversold := base
	oversold.RSI = 15
	oversold.StochK = 10
	oversold.StochD = 12
	_, o := c.ClassifyDetailed(oversold)
	assert.Equal(t, -2.0, o.Oscillator)
}

func TestClassify_ClampsToValidRange(t *testing.T) {
	// Even absurd inputs must land inside [0,9].
	extreme := Snapshot{
		Price: 100, Change1: 500, Change3: 500, Change7: 500,
		RSI: 95, MACD: 50, MACDSignal: 1,
		EMA20vs50: 50, EMA50vs100: 50,
		BBWidth: 0.5, VolumeRel5: 100, StochK: 99, StochD: 99,
	}
	state := NewClassifier().Classify(extreme)
	assert.GreaterOrEqual(t, int(state), 0)
	assert.LessOrEqual(t, int(state), 9)
	assert.Equal(t, StateExtremeGreed, state)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "extreme_panic", StateExtremePanic.String())
	assert.Equal(t, "neutral_box", StateNeutralBox.String())
	assert.Equal(t, "extreme_greed", StateExtremeGreed.String())
	assert.Equal(t, "unknown", State(42).String())
}
