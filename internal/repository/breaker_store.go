package repository

import (
	"context"
	"errors"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/domain/repository"
	"RSIndex/pkg/config"
	httpx "RSIndex/pkg/http"
	"RSIndex/pkg/logger"

	"github.com/sony/gobreaker"
)

// BreakerStore trips after consecutive backend failures and fails fast until the
// open timeout passes. Reads and writes have separate breakers.
type BreakerStore struct {
	repository.Store
	read  *gobreaker.CircuitBreaker
	write *gobreaker.CircuitBreaker
}

func NewBreakerStore(next repository.Store, cfg config.BreakerConfig, log *logger.Logger) *BreakerStore {
	if log == nil {
		log = logger.Nop()
	}
	settings := func(name string) gobreaker.Settings {
		return gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
			},
			IsSuccessful: isBackendHealthy,
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("store breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			},
		}
	}
	return &BreakerStore{
		Store: next,
		read:  gobreaker.NewCircuitBreaker(settings("store-read")),
		write: gobreaker.NewCircuitBreaker(settings("store-write")),
	}
}

// isBackendHealthy keeps caller mistakes and empty results from tripping the breaker.
func isBackendHealthy(err error) bool {
	if err == nil || errors.Is(err, models.ErrNotFound) || errors.Is(err, context.Canceled) {
		return true
	}
	var se *httpx.StatusError
	if errors.As(err, &se) {
		return !se.Temporary()
	}
	return false
}

func run[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	v, err := cb.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func exec(cb *gobreaker.CircuitBreaker, fn func() error) error {
	_, err := cb.Execute(func() (interface{}, error) { return nil, fn() })
	return err
}

func (s *BreakerStore) GetPrices(ctx context.Context, q models.PriceQuery) ([]models.PricePoint, error) {
	return run(s.read, func() ([]models.PricePoint, error) { return s.Store.GetPrices(ctx, q) })
}

func (s *BreakerStore) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	return run(s.read, func() ([]time.Time, error) { return s.Store.TradingDates(ctx, from, to) })
}

func (s *BreakerStore) GroupMembership(ctx context.Context, kind string) ([]models.GroupMembership, error) {
	return run(s.read, func() ([]models.GroupMembership, error) { return s.Store.GroupMembership(ctx, kind) })
}

func (s *BreakerStore) ListMomentumScores(ctx context.Context, q models.RankingQuery) ([]models.MomentumScore, error) {
	return run(s.read, func() ([]models.MomentumScore, error) { return s.Store.ListMomentumScores(ctx, q) })
}

func (s *BreakerStore) LatestRankingDate(ctx context.Context) (time.Time, error) {
	return run(s.read, func() (time.Time, error) { return s.Store.LatestRankingDate(ctx) })
}

func (s *BreakerStore) ListConstituents(ctx context.Context, key models.IndexKey) ([]models.Constituent, error) {
	return run(s.read, func() ([]models.Constituent, error) { return s.Store.ListConstituents(ctx, key) })
}

func (s *BreakerStore) ListIndexCodes(ctx context.Context, indexType string) ([]string, error) {
	return run(s.read, func() ([]string, error) { return s.Store.ListIndexCodes(ctx, indexType) })
}

func (s *BreakerStore) ListIndexPoints(ctx context.Context, key models.IndexKey, from, to time.Time) ([]models.IndexPoint, error) {
	return run(s.read, func() ([]models.IndexPoint, error) { return s.Store.ListIndexPoints(ctx, key, from, to) })
}

func (s *BreakerStore) UpsertMomentumScores(ctx context.Context, rows []models.MomentumScore) error {
	return exec(s.write, func() error { return s.Store.UpsertMomentumScores(ctx, rows) })
}

func (s *BreakerStore) ReplaceConstituents(ctx context.Context, key models.IndexKey, rebalance time.Time, rows []models.Constituent) error {
	return exec(s.write, func() error { return s.Store.ReplaceConstituents(ctx, key, rebalance, rows) })
}

func (s *BreakerStore) UpsertIndexPoints(ctx context.Context, rows []models.IndexPoint) error {
	return exec(s.write, func() error { return s.Store.UpsertIndexPoints(ctx, rows) })
}

// State reports the read and write breaker states for health output.
func (s *BreakerStore) State() (read, write gobreaker.State) {
	return s.read.State(), s.write.State()
}
