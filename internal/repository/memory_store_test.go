package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"RSIndex/internal/domain/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(n int) time.Time { return time.Date(2024, 3, n, 0, 0, 0, 0, time.UTC) }

func price(id string, d time.Time, close float64) models.PricePoint {
	return models.PricePoint{InstrumentID: id, Date: d, Close: decimal.NewNullDecimal(decimal.NewFromFloat(close))}
}

func fp(v float64) *float64 { return &v }

func TestMemoryStorePricesOrderedByDateThenID(t *testing.T) {
	s := NewMemoryStore()
	s.PutPrices(price("B", day(2), 1), price("A", day(2), 1), price("A", day(1), 1), price("C", day(3), 1))

	rows, err := s.GetPrices(context.Background(), models.PriceQuery{To: day(2)})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "A", rows[0].InstrumentID)
	assert.Equal(t, []string{"A", "B"}, []string{rows[1].InstrumentID, rows[2].InstrumentID})

	rows, err = s.GetPrices(context.Background(), models.PriceQuery{InstrumentIDs: []string{"C"}})
	require.NoError(t, err)
	require.Len(t, rows, 1)

	dates, err := s.TradingDates(context.Background(), day(2), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(2), day(3)}, dates)
}

func TestMemoryStoreRankingsUpsertAndFilter(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.LatestRankingDate(ctx)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, s.UpsertMomentumScores(ctx, []models.MomentumScore{
		{InstrumentID: "A", Date: day(1), Score: fp(0.1), Rank: 33},
		{InstrumentID: "B", Date: day(1), Score: fp(0.3), Rank: 99},
		{InstrumentID: "A", Date: day(2), Score: fp(0.2), Rank: 50},
	}))
	// same key overwrites
	require.NoError(t, s.UpsertMomentumScores(ctx, []models.MomentumScore{
		{InstrumentID: "A", Date: day(1), Score: fp(0.5), Rank: 66},
	}))

	rows, err := s.ListMomentumScores(ctx, models.RankingQuery{Date: day(1)})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "B", rows[0].InstrumentID)
	assert.Equal(t, 66, rows[1].Rank)

	rows, err = s.ListMomentumScores(ctx, models.RankingQuery{InstrumentID: "A"})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.True(t, rows[0].Date.Before(rows[1].Date))

	rows, err = s.ListMomentumScores(ctx, models.RankingQuery{Date: day(1), MinRank: 70})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	latest, err := s.LatestRankingDate(ctx)
	require.NoError(t, err)
	assert.Equal(t, day(2), latest)
}

func TestMemoryStoreReplaceConstituents(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := models.IndexKey{IndexType: "custom", IndexCode: "EW"}

	rows := []models.Constituent{
		{IndexType: "custom", IndexCode: "EW", RebalanceDate: day(1), InstrumentID: "B", LiquidityRank: 2},
		{IndexType: "custom", IndexCode: "EW", RebalanceDate: day(1), InstrumentID: "A", LiquidityRank: 1},
	}
	require.NoError(t, s.ReplaceConstituents(ctx, key, day(1), rows))
	require.NoError(t, s.ReplaceConstituents(ctx, key, day(1), rows[:1]))

	got, err := s.ListConstituents(ctx, key)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].InstrumentID)

	codes, err := s.ListIndexCodes(ctx, "custom")
	require.NoError(t, err)
	assert.Equal(t, []string{"EW"}, codes)

	require.NoError(t, s.ReplaceConstituents(ctx, key, day(1), nil))
	codes, err = s.ListIndexCodes(ctx, "custom")
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestMemoryStoreIndexPoints(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	key := models.IndexKey{IndexType: "custom", IndexCode: "EW"}

	require.NoError(t, s.UpsertIndexPoints(ctx, []models.IndexPoint{
		{IndexType: "custom", IndexCode: "EW", Date: day(2), IndexValue: 101},
		{IndexType: "custom", IndexCode: "EW", Date: day(1), IndexValue: 100},
		{IndexType: "theme", IndexCode: "EW", Date: day(1), IndexValue: 100},
	}))
	pts, err := s.ListIndexPoints(ctx, key, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 100.0, pts[0].IndexValue)

	pts, err = s.ListIndexPoints(ctx, key, day(2), day(2))
	require.NoError(t, err)
	require.Len(t, pts, 1)
}
