package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	"RSIndex/internal/repository"
	"RSIndex/internal/services/indexing"
	"RSIndex/internal/services/universe"
	"RSIndex/pkg/cache"
	"RSIndex/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customX = models.IndexKey{IndexType: models.IndexTypeCustom, IndexCode: "X"}

func newIndexBuilder(t *testing.T, s *repository.MemoryStore, base time.Time, locker *cache.MemoryCache) *IndexBuilder {
	t.Helper()
	settings := IndexSettings{
		Parent:      customX,
		ParentName:  "Test Index",
		BaseDate:    base,
		Frequency:   universe.Monthly,
		GroupKinds:  []string{models.IndexTypeIndustry},
		Parallelism: 2,
		LockTTL:     time.Minute,
	}
	var l drepo.Locker
	if locker != nil {
		l = locker
	}
	return NewIndexBuilder(s, s, s, indexing.NewCompounder(100), l, settings, nil, nil, logger.Nop())
}

func members(key models.IndexKey, d time.Time, ids ...string) []models.Constituent {
	out := make([]models.Constituent, len(ids))
	for i, id := range ids {
		out[i] = models.Constituent{IndexType: key.IndexType, IndexCode: key.IndexCode, RebalanceDate: d, InstrumentID: id, LiquidityRank: i + 1}
	}
	return out
}

func values(pts []models.IndexPoint) []float64 {
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.IndexValue
	}
	return out
}

func TestIndexBuilderSingleConstituentTracksPrice(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 3, 4), 4)
	seed(s, dates, map[string][]float64{"A": {100, 105, 103, 110}})
	ctx := context.Background()
	require.NoError(t, s.ReplaceConstituents(ctx, customX, dates[0], members(customX, dates[0], "A")))

	locker := cache.NewMemoryCache()
	defer locker.Close()
	res, err := newIndexBuilder(t, s, dates[0], locker).Build(ctx, customX)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Points)

	pts, err := s.ListIndexPoints(ctx, customX, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, pts, 4)
	assert.InDeltaSlice(t, []float64{100, 105, 103, 110}, values(pts), 1e-9)
	assert.Nil(t, pts[0].DailyReturn)
	require.NotNil(t, pts[1].DailyReturn)
	assert.InDelta(t, 0.05, *pts[1].DailyReturn, 1e-12)
	assert.Equal(t, "Test Index", pts[0].IndexName)
	assert.Equal(t, dates[0], pts[3].BaseDate)
	assert.Equal(t, 1, pts[2].ConstituentCount)
}

func TestIndexBuilderChainsAcrossRebalances(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 3, 4), 4)
	s.PutPrices(
		bar("A", dates[0], 10, 1), bar("A", dates[1], 11, 1),
		bar("B", dates[1], 20, 1), bar("B", dates[2], 22, 1), bar("B", dates[3], 11, 1),
	)
	ctx := context.Background()
	require.NoError(t, s.ReplaceConstituents(ctx, customX, dates[0], members(customX, dates[0], "A")))
	require.NoError(t, s.ReplaceConstituents(ctx, customX, dates[2], members(customX, dates[2], "B")))

	b := newIndexBuilder(t, s, dates[0], nil)
	_, err := b.Build(ctx, customX)
	require.NoError(t, err)

	pts, err := s.ListIndexPoints(ctx, customX, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{100, 110, 121, 60.5}, values(pts), 1e-9)

	// replay from the base date gives the same series
	_, err = b.Build(ctx, customX)
	require.NoError(t, err)
	again, err := s.ListIndexPoints(ctx, customX, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, pts, again)
}

func TestIndexBuilderBusyAndMissing(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 3, 4), 2)
	seed(s, dates, map[string][]float64{"A": {1, 2}})
	ctx := context.Background()

	locker := cache.NewMemoryCache()
	defer locker.Close()
	b := newIndexBuilder(t, s, dates[0], locker)

	_, err := b.Build(ctx, customX)
	assert.True(t, errors.Is(err, models.ErrNotFound))

	require.NoError(t, s.ReplaceConstituents(ctx, customX, dates[0], members(customX, dates[0], "A")))
	ok, err := locker.TryLock(ctx, "lock:index:custom:X", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = b.Build(ctx, customX)
	assert.True(t, errors.Is(err, models.ErrIndexBusy))

	results, err := b.BuildAll(ctx, models.IndexTypeCustom)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
	assert.Equal(t, "busy", results[0].SkipReason)

	require.NoError(t, locker.Unlock(ctx, "lock:index:custom:X"))
	_, err = b.Build(ctx, customX)
	assert.NoError(t, err)
}

func TestIndexBuilderBuildAllNamesGroups(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 3, 4), 3)
	seed(s, dates, map[string][]float64{"A": {10, 11, 12}, "B": {10, 9, 8}})
	s.SetGroupMembership(models.IndexTypeIndustry, []models.GroupMembership{
		{GroupKind: "industry", GroupCode: "G1", GroupName: "Group One", InstrumentID: "A"},
		{GroupKind: "industry", GroupCode: "G2", GroupName: "Group Two", InstrumentID: "B"},
	})
	ctx := context.Background()
	g1 := models.IndexKey{IndexType: "industry", IndexCode: "G1"}
	g2 := models.IndexKey{IndexType: "industry", IndexCode: "G2"}
	require.NoError(t, s.ReplaceConstituents(ctx, g1, dates[0], members(g1, dates[0], "A")))
	require.NoError(t, s.ReplaceConstituents(ctx, g2, dates[0], members(g2, dates[0], "B")))

	results, err := newIndexBuilder(t, s, dates[0], nil).BuildAll(ctx, "industry")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, g1, results[0].Key)
	assert.InDelta(t, 120, results[0].LastValue, 1e-9)
	assert.InDelta(t, 80, results[1].LastValue, 1e-9)

	pts, err := s.ListIndexPoints(ctx, g2, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, pts)
	assert.Equal(t, "Group Two", pts[0].IndexName)
}

func TestIndexBuilderWaitsForBaseDate(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 3, 4), 4)
	seed(s, dates, map[string][]float64{"A": {10, 20, 30, 33}})
	ctx := context.Background()
	require.NoError(t, s.ReplaceConstituents(ctx, customX, dates[0], members(customX, dates[0], "A")))

	_, err := newIndexBuilder(t, s, dates[2], nil).Build(ctx, customX)
	require.NoError(t, err)

	pts, err := s.ListIndexPoints(ctx, customX, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, dates[2], pts[0].Date)
	assert.InDeltaSlice(t, []float64{100, 110}, values(pts), 1e-9)
}

func TestIndexBuilderHoldsValueThroughEmptyRebalance(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 2, 1), 30)
	require.Equal(t, date(2024, 3, 13), dates[len(dates)-1])
	for i, d := range dates {
		s.PutPrices(bar("D", d, float64(10+i), 1000))
	}
	g2 := models.IndexKey{IndexType: models.IndexTypeIndustry, IndexCode: "G2"}
	ctx := context.Background()
	require.NoError(t, s.ReplaceConstituents(ctx, g2, date(2024, 2, 1), members(g2, date(2024, 2, 1), "D")))
	require.NoError(t, s.ReplaceConstituents(ctx, g2, date(2024, 3, 1), nil))

	res, err := newIndexBuilder(t, s, date(2024, 2, 1), nil).Build(ctx, g2)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", res.LastDate)
	assert.InDelta(t, 300, res.LastValue, 1e-9)

	pts, err := s.ListIndexPoints(ctx, g2, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, pts, 21)
	last := pts[len(pts)-1]
	assert.Equal(t, date(2024, 2, 29), last.Date)
	assert.InDelta(t, 300, last.IndexValue, 1e-9)

	march, err := s.ListIndexPoints(ctx, g2, date(2024, 3, 1), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, march)
}

func TestIndexBuilderAfterGroupEmptiesOnRecompute(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 1, 24), 30)
	for i, d := range dates {
		dv := 1000.0
		if !d.Before(date(2024, 2, 28)) {
			dv = 1
		}
		s.PutPrices(
			bar("A", d, 10, 500),
			bar("B", d, 10, 400),
			bar("C", d, 10, 300),
			bar("D", d, float64(10+i), dv),
		)
	}
	s.SetGroupMembership(models.IndexTypeIndustry, []models.GroupMembership{
		{GroupKind: "industry", GroupCode: "G1", GroupName: "Group One", InstrumentID: "A"},
		{GroupKind: "industry", GroupCode: "G1", GroupName: "Group One", InstrumentID: "C"},
		{GroupKind: "industry", GroupCode: "G2", GroupName: "Group Two", InstrumentID: "D"},
		{GroupKind: "industry", GroupCode: "G3", GroupName: "Group Three", InstrumentID: "B"},
	})
	ctx := context.Background()

	_, err := newBuilder(t, s, date(2024, 2, 1), nil).Run(ctx)
	require.NoError(t, err)

	g2 := models.IndexKey{IndexType: models.IndexTypeIndustry, IndexCode: "G2"}
	rows, err := s.ListConstituents(ctx, g2)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, date(2024, 2, 1), rows[0].RebalanceDate)

	results, err := newIndexBuilder(t, s, date(2024, 2, 1), nil).BuildAll(ctx, models.IndexTypeIndustry)
	require.NoError(t, err)
	var got *IndexResult
	for i := range results {
		if results[i].Key == g2 {
			got = &results[i]
		}
	}
	require.NotNil(t, got)
	assert.Equal(t, "2024-02-29", got.LastDate)
	// D closes 16 on Feb 1 and 36 on Feb 29
	assert.InDelta(t, 225, got.LastValue, 1e-9)

	march, err := s.ListIndexPoints(ctx, g2, date(2024, 3, 1), time.Time{})
	require.NoError(t, err)
	assert.Empty(t, march)
}

type countingPrices struct {
	*repository.MemoryStore
	calendarReads atomic.Int32
}

func (c *countingPrices) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	c.calendarReads.Add(1)
	return c.MemoryStore.TradingDates(ctx, from, to)
}

func TestIndexBuilderReadsCalendarOncePerRebuild(t *testing.T) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 3, 4), 3)
	seed(s, dates, map[string][]float64{"A": {10, 11, 12}, "B": {10, 9, 8}})
	ctx := context.Background()
	g1 := models.IndexKey{IndexType: "industry", IndexCode: "G1"}
	g2 := models.IndexKey{IndexType: "industry", IndexCode: "G2"}
	require.NoError(t, s.ReplaceConstituents(ctx, customX, dates[0], members(customX, dates[0], "A", "B")))
	require.NoError(t, s.ReplaceConstituents(ctx, g1, dates[0], members(g1, dates[0], "A")))
	require.NoError(t, s.ReplaceConstituents(ctx, g2, dates[0], members(g2, dates[0], "B")))

	prices := &countingPrices{MemoryStore: s}
	settings := IndexSettings{
		Parent:      customX,
		BaseDate:    dates[0],
		Frequency:   universe.Monthly,
		GroupKinds:  []string{models.IndexTypeIndustry},
		Parallelism: 2,
	}
	b := NewIndexBuilder(prices, s, s, indexing.NewCompounder(100), nil, settings, nil, nil, logger.Nop())

	results, err := b.BuildConfigured(ctx)
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Equal(t, int32(1), prices.calendarReads.Load())
}
