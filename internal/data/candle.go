package data

import (
	"fmt"
	"time"
)

// Candle represents a single OHLCV bar. Candles are immutable once
// ingested. Instrument is optional; series keyed by instrument may leave
// it empty.
type Candle struct {
	Instrument string    `json:"instrument,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
}

// Series is a time-ordered candle sequence with strictly increasing timestamps.
type Series []Candle

// Validate checks ordering and basic sanity of the sequence.
func (s Series) Validate() error {
	for i, c := range s {
		if c.High < c.Low {
			return fmt.Errorf("candle %d: high %.8f below low %.8f", i, c.High, c.Low)
		}
		if c.Close <= 0 || c.Open <= 0 {
			return fmt.Errorf("candle %d: non-positive price", i)
		}
		if i > 0 && !c.Timestamp.After(s[i-1].Timestamp) {
			return fmt.Errorf("candle %d: timestamp %s not after %s",
				i, c.Timestamp.Format(time.RFC3339), s[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// Closes returns the close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Volumes returns the volumes in order.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Volume
	}
	return out
}

// Last returns the most recent candle, or false for an empty series.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}
