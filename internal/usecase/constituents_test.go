package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/repository"
	"RSIndex/internal/services/universe"
	"RSIndex/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var parentKey = models.IndexKey{IndexType: models.IndexTypeCustom, IndexCode: "EW"}

// liquidMarket stores Jan 24 .. Mar 5 2024 with constant trading values per instrument.
func liquidMarket(values map[string]float64) (*repository.MemoryStore, []time.Time) {
	s := repository.NewMemoryStore()
	dates := weekdays(date(2024, 1, 24), 30)
	for id, v := range values {
		for _, d := range dates {
			s.PutPrices(bar(id, d, 10, v))
		}
	}
	s.SetGroupMembership(models.IndexTypeIndustry, []models.GroupMembership{
		{GroupKind: "industry", GroupCode: "G1", GroupName: "Group One", InstrumentID: "A"},
		{GroupKind: "industry", GroupCode: "G1", GroupName: "Group One", InstrumentID: "C"},
		{GroupKind: "industry", GroupCode: "G2", GroupName: "Group Two", InstrumentID: "D"},
		{GroupKind: "industry", GroupCode: "G3", GroupName: "Group Three", InstrumentID: "B"},
	})
	return s, dates
}

func newBuilder(t *testing.T, s *repository.MemoryStore, base time.Time, ev *recordedEvents) *ConstituentBuilder {
	t.Helper()
	sel, err := universe.NewSelector(3, 0.5)
	require.NoError(t, err)
	settings := ConstituentSettings{
		Key:        parentKey,
		BaseDate:   base,
		Frequency:  universe.Monthly,
		GroupKinds: []string{models.IndexTypeIndustry},
	}
	if ev == nil {
		return NewConstituentBuilder(s, s, sel, settings, nil, nil, logger.Nop())
	}
	return NewConstituentBuilder(s, s, sel, settings, ev, nil, logger.Nop())
}

func TestConstituentBuilderSelectsAndProjects(t *testing.T) {
	s, dates := liquidMarket(map[string]float64{"A": 400, "B": 300, "C": 200, "D": 100})
	require.Equal(t, date(2024, 3, 5), dates[len(dates)-1])
	ev := &recordedEvents{}
	uc := newBuilder(t, s, date(2024, 2, 1), ev)
	ctx := context.Background()

	report, err := uc.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.RebalanceDates)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, 8, report.Rows)
	assert.Equal(t, 4, report.Groups)
	assert.Len(t, report.EmptyGroups, 2)

	rows, err := s.ListConstituents(ctx, parentKey)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, date(2024, 2, 1), rows[0].RebalanceDate)
	assert.Equal(t, "A", rows[0].InstrumentID)
	assert.Equal(t, 1, rows[0].LiquidityRank)
	assert.Equal(t, 4, rows[0].UniverseSize)
	assert.True(t, rows[0].AvgTradingValue.Equal(decimal.NewFromInt(400)))
	assert.Equal(t, "B", rows[1].InstrumentID)
	assert.Equal(t, date(2024, 3, 1), rows[2].RebalanceDate)

	g1, err := s.ListConstituents(ctx, models.IndexKey{IndexType: "industry", IndexCode: "G1"})
	require.NoError(t, err)
	require.Len(t, g1, 2)
	assert.Equal(t, "A", g1[0].InstrumentID)
	assert.Equal(t, 1, g1[0].UniverseSize)

	codes, err := s.ListIndexCodes(ctx, "industry")
	require.NoError(t, err)
	assert.Equal(t, []string{"G1", "G3"}, codes)

	assert.Equal(t, []string{models.EventConstituentsBuilt}, ev.types())
}

func TestConstituentBuilderSkipsShortHistory(t *testing.T) {
	s, _ := liquidMarket(map[string]float64{"A": 400, "B": 300})
	uc := newBuilder(t, s, date(2024, 1, 1), nil)

	report, err := uc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.RebalanceDates)
	assert.Equal(t, 1, report.Skipped)

	rows, err := s.ListConstituents(context.Background(), parentKey)
	require.NoError(t, err)
	for _, r := range rows {
		assert.False(t, r.RebalanceDate.Equal(date(2024, 1, 24)))
	}
}

func TestConstituentBuilderExcludesIncompleteWindow(t *testing.T) {
	s, _ := liquidMarket(map[string]float64{"A": 400, "B": 300, "C": 200, "D": 100})
	// A has no trading value on Jan 31, inside the window ending Feb 1
	s.PutPrices(models.PricePoint{
		InstrumentID: "A",
		Date:         date(2024, 1, 31),
		Close:        decimal.NewNullDecimal(decimal.NewFromInt(10)),
	})
	uc := newBuilder(t, s, date(2024, 2, 1), nil)

	_, err := uc.Run(context.Background())
	require.NoError(t, err)

	rows, err := s.ListConstituents(context.Background(), parentKey)
	require.NoError(t, err)
	var feb []models.Constituent
	for _, r := range rows {
		if r.RebalanceDate.Equal(date(2024, 2, 1)) {
			feb = append(feb, r)
		}
	}
	require.Len(t, feb, 2)
	assert.Equal(t, "B", feb[0].InstrumentID)
	assert.Equal(t, "C", feb[1].InstrumentID)
	assert.Equal(t, 3, feb[0].UniverseSize)
}

func TestConstituentBuilderNoPrices(t *testing.T) {
	uc := newBuilder(t, repository.NewMemoryStore(), date(2024, 2, 1), nil)
	_, err := uc.Run(context.Background())
	assert.True(t, errors.Is(err, models.ErrNoTradingDates))
}

func TestConstituentBuilderClearsStaleGroupRows(t *testing.T) {
	s, _ := liquidMarket(map[string]float64{"A": 400, "B": 300, "C": 200, "D": 100})
	g2 := models.IndexKey{IndexType: models.IndexTypeIndustry, IndexCode: "G2"}
	ctx := context.Background()
	require.NoError(t, s.ReplaceConstituents(ctx, g2, date(2024, 2, 1), []models.Constituent{
		{IndexType: g2.IndexType, IndexCode: g2.IndexCode, RebalanceDate: date(2024, 2, 1), InstrumentID: "D", LiquidityRank: 1, UniverseSize: 1},
	}))

	_, err := newBuilder(t, s, date(2024, 2, 1), nil).Run(ctx)
	require.NoError(t, err)

	rows, err := s.ListConstituents(ctx, g2)
	require.NoError(t, err)
	assert.Empty(t, rows)
}
