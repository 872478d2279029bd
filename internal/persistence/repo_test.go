package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1uv0cean/coin-trader/internal/domain/portfolio"
	"github.com/1uv0cean/coin-trader/internal/domain/regime"
)

func TestFromTrade(t *testing.T) {
	entry := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	exit := entry.Add(6 * time.Hour)
	trade := portfolio.Trade{
		ID:         "t-1",
		PositionID: "p-1",
		Instrument: "KRW-BTC",
		Strategy:   "trend_follow",
		State:      regime.StateStrongUp,
		EntryPrice: 100,
		ExitPrice:  110,
		Quantity:   2.5,
		PnL:        24.5,
		PnLPct:     9.8,
		Fees:       0.5,
		EntryTime:  entry,
		ExitTime:   exit,
		Reason:     "take_profit",
		Partial:    true,
	}

	rec := FromTrade(trade)
	assert.Equal(t, "t-1", rec.ID)
	assert.Equal(t, "p-1", rec.PositionID)
	assert.Equal(t, int(regime.StateStrongUp), rec.State)
	assert.Equal(t, 110.0, rec.ExitPrice)
	assert.Equal(t, 24.5, rec.PnL)
	assert.Equal(t, "take_profit", rec.Reason)
	assert.True(t, rec.Partial)
	assert.Equal(t, exit, rec.ExitTime)
}

func TestNopRepo(t *testing.T) {
	ctx := context.Background()
	repo := NopRepo{}

	require.NoError(t, repo.Insert(ctx, TradeRecord{ID: "x"}))

	recent, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	assert.Nil(t, recent)

	pnl, err := repo.DailyPnL(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0.0, pnl)
}
