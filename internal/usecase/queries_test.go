package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/repository"
	"RSIndex/internal/services/universe"
	"RSIndex/pkg/cache"
	"RSIndex/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func score(v float64) *float64 { return &v }

func TestQueriesCacheUntilInvalidated(t *testing.T) {
	s := repository.NewMemoryStore()
	c := cache.NewMemoryCache()
	defer c.Close()
	q := NewQueries(s, c, time.Minute, logger.Nop())
	ctx := context.Background()
	d := date(2024, 3, 4)

	_, err := q.Rankings(ctx, time.Time{}, 0, 10)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, s.UpsertMomentumScores(ctx, []models.MomentumScore{{InstrumentID: "A", Date: d, Score: score(0.1), Rank: 99}}))
	rows, err := q.Rankings(ctx, time.Time{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	require.NoError(t, s.UpsertMomentumScores(ctx, []models.MomentumScore{{InstrumentID: "B", Date: d, Score: score(0.05), Rank: 1}}))
	rows, err = q.Rankings(ctx, d, 0, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "served from cache")

	pub := q.Wrap(nil)
	require.NoError(t, pub.Publish(ctx, models.ComputationEvent{Type: models.EventMomentumRanked}))
	rows, err = q.Rankings(ctx, d, 0, 10)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestQueriesConstituentsLatestRebalance(t *testing.T) {
	s := repository.NewMemoryStore()
	q := NewQueries(s, nil, 0, logger.Nop())
	ctx := context.Background()
	key := models.IndexKey{IndexType: "custom", IndexCode: "EW"}

	_, err := q.Constituents(ctx, key, time.Time{})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, s.ReplaceConstituents(ctx, key, date(2024, 2, 1), members(key, date(2024, 2, 1), "A", "B")))
	require.NoError(t, s.ReplaceConstituents(ctx, key, date(2024, 3, 1), members(key, date(2024, 3, 1), "C")))

	rows, err := q.Constituents(ctx, key, time.Time{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "C", rows[0].InstrumentID)

	rows, err = q.Constituents(ctx, key, date(2024, 2, 1))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	_, err = q.Constituents(ctx, key, date(2024, 2, 2))
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestQueriesIndexSeries(t *testing.T) {
	s := repository.NewMemoryStore()
	q := NewQueries(s, nil, 0, logger.Nop())
	ctx := context.Background()

	_, err := q.IndexSeries(ctx, customX, time.Time{}, time.Time{})
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, s.UpsertIndexPoints(ctx, []models.IndexPoint{
		{IndexType: "custom", IndexCode: "X", Date: date(2024, 3, 4), IndexValue: 100},
		{IndexType: "custom", IndexCode: "X", Date: date(2024, 3, 5), IndexValue: 101},
	}))
	pts, err := q.IndexSeries(ctx, customX, date(2024, 3, 5), time.Time{})
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.Equal(t, 101.0, pts[0].IndexValue)
}

func TestLiquidityRanker(t *testing.T) {
	s, dates := liquidMarket(map[string]float64{"A": 300, "B": 200, "C": 100})
	sel, err := universe.NewSelector(3, 1)
	require.NoError(t, err)
	uc := NewLiquidityRanker(s, sel)

	rows, err := uc.Rank(context.Background(), time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "A", rows[0].InstrumentID)
	assert.Equal(t, 99, rows[0].Rank)
	assert.Equal(t, 66, rows[1].Rank)
	assert.Equal(t, 33, rows[2].Rank)
	assert.Equal(t, "300.00", rows[0].AvgTradingValue)
	assert.Equal(t, dates[len(dates)-1], rows[0].Date)

	rows, err = uc.Rank(context.Background(), date(2024, 1, 25), 0)
	assert.True(t, errors.Is(err, models.ErrNotFound))
	assert.Nil(t, rows)

	rows, err = uc.Rank(context.Background(), date(2024, 2, 1), 2)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, date(2024, 2, 1), rows[0].Date)
}
