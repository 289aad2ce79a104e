package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/pkg/config"
	"RSIndex/pkg/logger"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyStore struct {
	*MemoryStore
	err   error
	calls int
}

func (f *flakyStore) GetPrices(ctx context.Context, q models.PriceQuery) ([]models.PricePoint, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.MemoryStore.GetPrices(ctx, q)
}

func TestBreakerStoreOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), err: errors.New("connection refused")}
	cfg := config.BreakerConfig{Enabled: true, ConsecutiveFailures: 2, Interval: time.Minute, Timeout: time.Minute}
	s := NewBreakerStore(inner, cfg, logger.Nop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := s.GetPrices(ctx, models.PriceQuery{})
		require.Error(t, err)
	}
	_, err := s.GetPrices(ctx, models.PriceQuery{})
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, 2, inner.calls)

	read, write := s.State()
	assert.Equal(t, gobreaker.StateOpen, read)
	assert.Equal(t, gobreaker.StateClosed, write)

	// writes are unaffected by the read breaker
	require.NoError(t, s.UpsertIndexPoints(ctx, nil))
}

func TestBreakerStoreIgnoresNotFound(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), err: models.ErrNotFound}
	cfg := config.BreakerConfig{ConsecutiveFailures: 1, Interval: time.Minute, Timeout: time.Minute}
	s := NewBreakerStore(inner, cfg, logger.Nop())

	for i := 0; i < 3; i++ {
		_, err := s.GetPrices(context.Background(), models.PriceQuery{})
		assert.True(t, errors.Is(err, models.ErrNotFound))
	}
	assert.Equal(t, 3, inner.calls)
}

func TestBreakerStorePassesResultsThrough(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore()}
	inner.PutPrices(price("A", day(1), 10))
	s := NewBreakerStore(inner, config.BreakerConfig{ConsecutiveFailures: 3}, logger.Nop())

	rows, err := s.GetPrices(context.Background(), models.PriceQuery{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	dates, err := s.TradingDates(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day(1)}, dates)
}
