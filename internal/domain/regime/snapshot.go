package regime

import (
	"errors"
	"fmt"

	"github.com/1uv0cean/coin-trader/internal/data"
	"github.com/1uv0cean/coin-trader/internal/domain/indicators"
)

// MinHistory is the number of trailing candles required before the slowest
// indicator (EMA100) is considered stable. Classification with fewer candles
// is a data error; callers hold the prior state.
const MinHistory = 100

// ErrInsufficientHistory signals that the candle window is too short for a
// stable snapshot.
var ErrInsufficientHistory = errors.New("insufficient candle history")

// Snapshot is the indicator set derived from one candle window. Immutable
// after computation.
type Snapshot struct {
	Price      float64 `json:"price"`
	Change1    float64 `json:"change_1"` // % change over 1 period
	Change3    float64 `json:"change_3"`
	Change7    float64 `json:"change_7"`
	RSI        float64 `json:"rsi"`
	MACD       float64 `json:"macd"`
	MACDSignal float64 `json:"macd_signal"`
	EMA20vs50  float64 `json:"ema20_vs_50"`
	EMA50vs100 float64 `json:"ema50_vs_100"`
	BBWidth    float64 `json:"bb_width"`
	BBUpper    float64 `json:"bb_upper"`
	BBMid      float64 `json:"bb_mid"`
	BBLower    float64 `json:"bb_lower"`
	ATR        float64 `json:"atr"`
	VolumeRel5 float64 `json:"volume_rel_5"`
	StochK     float64 `json:"stoch_k"`
	StochD     float64 `json:"stoch_d"`
}

// NewSnapshot computes the full indicator set for the most recent candle.
// Pure function of the candle window: identical input yields an identical
// snapshot.
func NewSnapshot(candles data.Series) (Snapshot, error) {
	if len(candles) < MinHistory {
		return Snapshot{}, fmt.Errorf("%w: have %d candles, need %d",
			ErrInsufficientHistory, len(candles), MinHistory)
	}

	closes := candles.Closes()
	volumes := candles.Volumes()

	ema20 := indicators.EMA(closes, 20)
	ema50 := indicators.EMA(closes, 50)
	ema100 := indicators.EMA(closes, 100)
	macdLine, signalLine, _ := indicators.MACD(closes)
	boll := indicators.CalculateBollinger(closes, indicators.BollingerPeriod, indicators.BollingerStdDevs)
	atr := indicators.CalculateATR(candles, indicators.ATRPeriod)
	rsi := indicators.CalculateRSI(closes, indicators.RSIPeriod)
	stoch := indicators.CalculateStochastic(candles,
		indicators.StochKPeriod, indicators.StochSmoothK, indicators.StochDPeriod)

	last := len(closes) - 1
	return Snapshot{
		Price:      closes[last],
		Change1:    indicators.PctChange(closes, 1),
		Change3:    indicators.PctChange(closes, 3),
		Change7:    indicators.PctChange(closes, 7),
		RSI:        rsi.Value,
		MACD:       macdLine[last],
		MACDSignal: signalLine[last],
		EMA20vs50:  ema20[last] - ema50[last],
		EMA50vs100: ema50[last] - ema100[last],
		BBWidth:    boll.Width,
		BBUpper:    boll.Upper,
		BBMid:      boll.Mid,
		BBLower:    boll.Lower,
		ATR:        atr.Value,
		VolumeRel5: indicators.RelativeVolume(volumes, indicators.RelVolumeWindow),
		StochK:     stoch.K,
		StochD:     stoch.D,
	}, nil
}
