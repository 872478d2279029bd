package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1uv0cean/coin-trader/internal/data"
)

// Side is an order direction.
type Side string

const (
	SideBuy  Side = "bid"
	SideSell Side = "ask"
)

// Order is a placed order as acknowledged by the exchange.
type Order struct {
	ID         string    `json:"id"`
	Instrument string    `json:"instrument"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	CreatedAt  time.Time `json:"created_at"`
}

// Balance is one currency balance on the account.
type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Locked    float64 `json:"locked"`
	AvgPrice  float64 `json:"avg_price"`
}

// Holding is an open spot position as the exchange reports it.
type Holding struct {
	Instrument string  `json:"instrument"`
	Quantity   float64 `json:"quantity"`
	AvgPrice   float64 `json:"avg_price"`
}

// Ticker is a point-in-time market quote.
type Ticker struct {
	Instrument   string  `json:"instrument"`
	Price        float64 `json:"price"`
	Volume24h    float64 `json:"volume_24h"` // quote-currency volume
	Change24hPct float64 `json:"change_24h_pct"`
	High24h      float64 `json:"high_24h"`
	Low24h       float64 `json:"low_24h"`
}

// Error wraps an exchange failure with enough context to decide whether a
// retry is worthwhile.
type Error struct {
	Op        string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("exchange %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("exchange %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether the error is worth retrying: rate limits,
// server errors, network faults. Client errors and rejections are not.
func IsTransient(err error) bool {
	var ee *Error
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return false
}

// Client is the read/trade surface the live loop and scanner need. All
// methods honor context cancellation.
type Client interface {
	// Markets lists tradable instrument codes for the quote currency.
	Markets(ctx context.Context) ([]string, error)
	// Candles returns up to count most recent candles at the interval
	// (e.g. "minute60", "day"), oldest first.
	Candles(ctx context.Context, instrument, interval string, count int) (data.Series, error)
	// CurrentPrice returns the last trade price.
	CurrentPrice(ctx context.Context, instrument string) (float64, error)
	// Tickers returns quotes for the given instruments.
	Tickers(ctx context.Context, instruments []string) ([]Ticker, error)
	// Balances returns all account balances.
	Balances(ctx context.Context) ([]Balance, error)
	// Holdings returns the non-quote holdings as instrument positions.
	Holdings(ctx context.Context) ([]Holding, error)
	// MarketBuy spends amount of quote currency at market.
	MarketBuy(ctx context.Context, instrument string, amount float64) (Order, error)
	// MarketSell sells qty of the base asset at market.
	MarketSell(ctx context.Context, instrument string, qty float64) (Order, error)
}
