package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies a notification event.
type Kind string

const (
	KindBuy          Kind = "BUY"
	KindExit         Kind = "EXIT"
	KindMarketUpdate Kind = "MARKET_UPDATE"
	KindRiskAlert    Kind = "RISK_ALERT"
)

// Event is one notification to deliver.
type Event struct {
	Kind       Kind
	Instrument string
	Message    string
	At         time.Time
}

// Notifier delivers events to an external channel.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Nop swallows events. Used when no notifier is configured.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Async wraps a notifier so delivery never blocks the trading cycle.
// Failures are logged, never propagated.
type Async struct {
	inner   Notifier
	log     zerolog.Logger
	timeout time.Duration
}

// NewAsync builds a fire-and-forget wrapper around inner.
func NewAsync(inner Notifier, log zerolog.Logger) *Async {
	return &Async{inner: inner, log: log, timeout: 10 * time.Second}
}

// Notify dispatches the event in a goroutine and returns immediately.
func (a *Async) Notify(_ context.Context, ev Event) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := a.inner.Notify(ctx, ev); err != nil {
			a.log.Warn().Err(err).Str("kind", string(ev.Kind)).
				Str("instrument", ev.Instrument).Msg("notification failed")
		}
	}()
	return nil
}

// Format renders the conventional one-line message for an event.
func Format(ev Event) string {
	if ev.Instrument == "" {
		return fmt.Sprintf("[%s] %s", ev.Kind, ev.Message)
	}
	return fmt.Sprintf("[%s] %s %s", ev.Kind, ev.Instrument, ev.Message)
}
