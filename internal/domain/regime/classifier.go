package regime

import "math"

// Category weights for the composite market-state score. Momentum dominates;
// volume and oscillators act as secondary modifiers, not independent terms.
const (
	WeightMomentum   = 0.40
	WeightTrend      = 0.35
	WeightVolatility = 0.25

	volumeModifierScale     = 0.3
	oscillatorModifierScale = 0.2

	// Momentum inputs are clipped to this band before blending so a single
	// outlier candle cannot saturate the composite.
	momentumClip = 20.0
)

// State is a discrete market regime code in [0,9].
type State int

// Ordered market states, from extreme panic to extreme greed.
const (
	StateExtremePanic State = iota
	StateStrongDown
	StateDownPersist
	StateWeakDown
	StateBearishTurn
	StateNeutralBox
	StateBullishTurn
	StateWeakUp
	StateStrongUp
	StateExtremeGreed
)

var stateNames = [...]string{
	"extreme_panic",
	"strong_down",
	"down_persist",
	"weak_down",
	"bearish_turn",
	"neutral_box",
	"bullish_turn",
	"weak_up",
	"strong_up",
	"extreme_greed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Scores holds the per-category sub-scores behind a classification, kept for
// attribution and alerting.
type Scores struct {
	Momentum   float64 `json:"momentum"`   // 0-9 sub-score
	Trend      float64 `json:"trend"`      // 0-9 sub-score
	Volatility float64 `json:"volatility"` // 0-9 sub-score
	Volume     float64 `json:"volume"`     // modifier, applied scaled
	Oscillator float64 `json:"oscillator"` // modifier, applied scaled
	Composite  float64 `json:"composite"`
}

// Classifier maps an indicator snapshot to a market state. Stateless and
// deterministic: the same snapshot always yields the same state.
type Classifier struct{}

// NewClassifier constructs a classifier with the fixed category weights.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Classify returns the market state for a snapshot.
func (c *Classifier) Classify(snap Snapshot) State {
	state, _ := c.ClassifyDetailed(snap)
	return state
}

// ClassifyDetailed returns the state along with the component sub-scores.
func (c *Classifier) ClassifyDetailed(snap Snapshot) (State, Scores) {
	scores := Scores{
		Momentum:   momentumScore(snap),
		Trend:      trendScore(snap),
		Volatility: volatilityScore(snap),
		Volume:     volumeModifier(snap),
		Oscillator: oscillatorModifier(snap),
	}

	scores.Composite = scores.Momentum*WeightMomentum +
		scores.Trend*WeightTrend +
		scores.Volatility*WeightVolatility +
		scores.Volume*volumeModifierScale +
		scores.Oscillator*oscillatorModifierScale

	idx := roundHalfDown(scores.Composite)
	if idx < 0 {
		idx = 0
	} else if idx > 9 {
		idx = 9
	}
	return State(idx), scores
}

// momentumScore blends the 1/3/7-period changes into a 0-9 bucket. The
// 1-period weight rises to 0.5 when the move exceeds 5%.
func momentumScore(snap Snapshot) float64 {
	w1 := 0.3
	if math.Abs(snap.Change1) > 5 {
		w1 = 0.5
	}
	mom := clip(snap.Change1, -momentumClip, momentumClip)*w1 +
		clip(snap.Change3, -momentumClip, momentumClip)*0.3 +
		clip(snap.Change7, -momentumClip, momentumClip)*0.2

	thresholds := []float64{-15, -10, -5, -2, 0, 2, 5, 10, 15}
	for i, t := range thresholds {
		if mom < t {
			return float64(i)
		}
	}
	return 9
}

// trendScore awards points for EMA alignment and MACD posture, scaled to 0-9.
func trendScore(snap Snapshot) float64 {
	pts := 0.0
	if snap.EMA20vs50 > 0 {
		pts += 1.5
	}
	if snap.EMA50vs100 > 0 {
		pts += 1.5
	}
	if snap.MACD > snap.MACDSignal {
		pts += 2.0
	}
	if snap.MACD > 0 {
		pts += 1.0
	}
	return math.Min(9, math.Floor(pts*1.5))
}

// volatilityScore centers on 5; both band-width tails push away from the
// neutral middle so extreme volatility biases the composite toward the
// momentum extremes rather than cancelling.
func volatilityScore(snap Snapshot) float64 {
	switch {
	case snap.BBWidth > 0.08:
		return 7
	case snap.BBWidth > 0.05:
		return 6
	case snap.BBWidth < 0.01:
		return 2
	case snap.BBWidth < 0.02:
		return 3
	default:
		return 5
	}
}

func volumeModifier(snap Snapshot) float64 {
	switch {
	case snap.VolumeRel5 > 2.0:
		return 2
	case snap.VolumeRel5 > 1.5:
		return 1
	case snap.VolumeRel5 < 0.5:
		return -1
	default:
		return 0
	}
}

func oscillatorModifier(snap Snapshot) float64 {
	adj := 0.0
	switch {
	case snap.RSI > 80:
		adj = 1
	case snap.RSI < 20:
		adj = -1
	}
	if snap.StochK > 80 && snap.StochD > 80 {
		adj++
	} else if snap.StochK < 20 && snap.StochD < 20 {
		adj--
	}
	return adj
}

// roundHalfDown rounds to the nearest integer with exact .5 ties going to
// the lower (more conservative) bucket.
func roundHalfDown(x float64) int {
	return int(math.Ceil(x - 0.5))
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
