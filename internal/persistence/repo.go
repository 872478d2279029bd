package persistence

import (
	"context"
	"time"

	"github.com/1uv0cean/coin-trader/internal/domain/portfolio"
)

// TradeRecord is the persisted form of a realized trade.
type TradeRecord struct {
	ID         string    `db:"id" json:"id"`
	PositionID string    `db:"position_id" json:"position_id"`
	Instrument string    `db:"instrument" json:"instrument"`
	Strategy   string    `db:"strategy" json:"strategy"`
	State      int       `db:"state" json:"state"`
	EntryPrice float64   `db:"entry_price" json:"entry_price"`
	ExitPrice  float64   `db:"exit_price" json:"exit_price"`
	Quantity   float64   `db:"quantity" json:"quantity"`
	PnL        float64   `db:"pnl" json:"pnl"`
	PnLPct     float64   `db:"pnl_pct" json:"pnl_pct"`
	Fees       float64   `db:"fees" json:"fees"`
	EntryTime  time.Time `db:"entry_time" json:"entry_time"`
	ExitTime   time.Time `db:"exit_time" json:"exit_time"`
	Reason     string    `db:"reason" json:"reason"`
	Partial    bool      `db:"partial" json:"partial"`
}

// FromTrade converts a portfolio trade into its persisted form.
func FromTrade(t portfolio.Trade) TradeRecord {
	return TradeRecord{
		ID:         t.ID,
		PositionID: t.PositionID,
		Instrument: t.Instrument,
		Strategy:   t.Strategy,
		State:      int(t.State),
		EntryPrice: t.EntryPrice,
		ExitPrice:  t.ExitPrice,
		Quantity:   t.Quantity,
		PnL:        t.PnL,
		PnLPct:     t.PnLPct,
		Fees:       t.Fees,
		EntryTime:  t.EntryTime,
		ExitTime:   t.ExitTime,
		Reason:     t.Reason,
		Partial:    t.Partial,
	}
}

// TradeRepo is the append-only trade ledger.
type TradeRepo interface {
	Insert(ctx context.Context, rec TradeRecord) error
	ListRecent(ctx context.Context, limit int) ([]TradeRecord, error)
	DailyPnL(ctx context.Context, day time.Time) (float64, error)
}

// NopRepo discards writes and returns empty reads, for runs without a
// database.
type NopRepo struct{}

var _ TradeRepo = NopRepo{}

func (NopRepo) Insert(context.Context, TradeRecord) error { return nil }

func (NopRepo) ListRecent(context.Context, int) ([]TradeRecord, error) { return nil, nil }

func (NopRepo) DailyPnL(context.Context, time.Time) (float64, error) { return 0, nil }
