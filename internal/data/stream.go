package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StreamConfig configures a websocket candle feed.
type StreamConfig struct {
	URL            string        `yaml:"url"`
	Instruments    []string      `yaml:"instruments"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// StreamCandle is the wire format of a streamed candle record.
type StreamCandle struct {
	Instrument string  `json:"instrument"`
	Timestamp  int64   `json:"timestamp"` // unix milliseconds
	Open       float64 `json:"open"`
	High       float64 `json:"high"`
	Low        float64 `json:"low"`
	Close      float64 `json:"close"`
	Volume     float64 `json:"volume"`
}

// StreamEvent carries one candle from the feed to the consumer.
type StreamEvent struct {
	Instrument string
	Candle     Candle
}

// CandleStream maintains a websocket subscription for live candles and
// forwards them on a channel. Reconnects with a fixed delay on failure.
type CandleStream struct {
	cfg    StreamConfig
	events chan StreamEvent
}

// NewCandleStream creates a stream for the configured instruments.
func NewCandleStream(cfg StreamConfig) *CandleStream {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	return &CandleStream{
		cfg:    cfg,
		events: make(chan StreamEvent, 256),
	}
}

// Events returns the candle event channel. Closed when Run returns.
func (cs *CandleStream) Events() <-chan StreamEvent {
	return cs.events
}

// Run connects and pumps candles until the context is cancelled.
func (cs *CandleStream) Run(ctx context.Context) error {
	defer close(cs.events)

	for {
		if err := cs.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("url", cs.cfg.URL).
				Dur("retry_in", cs.cfg.ReconnectDelay).Msg("candle stream disconnected")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cs.cfg.ReconnectDelay):
		}
	}
}

func (cs *CandleStream) runOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cs.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"op":          "subscribe",
		"channel":     "candles",
		"instruments": cs.cfg.Instruments,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}
	log.Info().Strs("instruments", cs.cfg.Instruments).Msg("candle stream connected")

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(cs.cfg.ReadTimeout)); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream read failed: %w", err)
		}

		var raw StreamCandle
		if err := json.Unmarshal(payload, &raw); err != nil {
			log.Debug().Err(err).Msg("skipping unparseable stream message")
			continue
		}
		if raw.Instrument == "" || raw.Close <= 0 {
			continue
		}

		event := StreamEvent{
			Instrument: raw.Instrument,
			Candle: Candle{
				Instrument: raw.Instrument,
				Timestamp:  time.UnixMilli(raw.Timestamp).UTC(),
				Open:       raw.Open,
				High:       raw.High,
				Low:        raw.Low,
				Close:      raw.Close,
				Volume:     raw.Volume,
			},
		}

		select {
		case cs.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			log.Warn().Str("instrument", raw.Instrument).Msg("stream consumer slow, dropping candle")
		}
	}
}
