package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const tradesSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id          TEXT PRIMARY KEY,
	position_id TEXT NOT NULL,
	instrument  TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	state       INT NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price  DOUBLE PRECISION NOT NULL,
	quantity    DOUBLE PRECISION NOT NULL,
	pnl         DOUBLE PRECISION NOT NULL,
	pnl_pct     DOUBLE PRECISION NOT NULL,
	fees        DOUBLE PRECISION NOT NULL,
	entry_time  TIMESTAMPTZ NOT NULL,
	exit_time   TIMESTAMPTZ NOT NULL,
	reason      TEXT NOT NULL,
	partial     BOOLEAN NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_exit_time_idx ON trades (exit_time);
`

// PostgresRepo stores trades in a Postgres table. Inserts are idempotent on
// trade ID so a retried cycle never double-books.
type PostgresRepo struct {
	db *sqlx.DB
}

var _ TradeRepo = (*PostgresRepo)(nil)

// NewPostgresRepo connects, verifies the connection and ensures the schema.
func NewPostgresRepo(ctx context.Context, dsn string) (*PostgresRepo, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, tradesSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure trades schema: %w", err)
	}
	return &PostgresRepo{db: db}, nil
}

// Close releases the connection pool.
func (r *PostgresRepo) Close() error {
	return r.db.Close()
}

// Insert appends one trade record.
func (r *PostgresRepo) Insert(ctx context.Context, rec TradeRecord) error {
	const q = `
		INSERT INTO trades (
			id, position_id, instrument, strategy, state,
			entry_price, exit_price, quantity, pnl, pnl_pct, fees,
			entry_time, exit_time, reason, partial
		) VALUES (
			:id, :position_id, :instrument, :strategy, :state,
			:entry_price, :exit_price, :quantity, :pnl, :pnl_pct, :fees,
			:entry_time, :exit_time, :reason, :partial
		) ON CONFLICT (id) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("insert trade %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the most recent trades, newest first.
func (r *PostgresRepo) ListRecent(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []TradeRecord
	const q = `SELECT * FROM trades ORDER BY exit_time DESC LIMIT $1`
	if err := r.db.SelectContext(ctx, &out, q, limit); err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return out, nil
}

// DailyPnL sums realized P&L for the UTC day containing t.
func (r *PostgresRepo) DailyPnL(ctx context.Context, day time.Time) (float64, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var pnl float64
	const q = `SELECT COALESCE(SUM(pnl), 0) FROM trades WHERE exit_time >= $1 AND exit_time < $2`
	if err := r.db.GetContext(ctx, &pnl, q, start, end); err != nil {
		return 0, fmt.Errorf("daily pnl: %w", err)
	}
	return pnl, nil
}
