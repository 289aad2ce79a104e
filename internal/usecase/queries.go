package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	"RSIndex/pkg/cache"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/util"
)

// Queries serves the read API from the store through a short-lived cache.
type Queries struct {
	store drepo.Store
	cache cache.Service
	ttl   time.Duration
	log   *logger.Logger
}

func NewQueries(store drepo.Store, c cache.Service, ttl time.Duration, log *logger.Logger) *Queries {
	return &Queries{store: store, cache: c, ttl: ttl, log: log.With(logger.String("component", "queries"))}
}

// Rankings returns one date's rankings, best first. A zero date means the latest ranked date.
func (q *Queries) Rankings(ctx context.Context, date time.Time, minRank, limit int) ([]models.MomentumScore, error) {
	if date.IsZero() {
		latest, err := q.store.LatestRankingDate(ctx)
		if err != nil {
			return nil, err
		}
		date = latest
	}
	key := cache.Key("rankings", util.FormatDate(date), strconv.Itoa(minRank), strconv.Itoa(limit))
	return cached(ctx, q, key, func() ([]models.MomentumScore, error) {
		return q.store.ListMomentumScores(ctx, models.RankingQuery{Date: date, MinRank: minRank, Limit: limit})
	})
}

// InstrumentRankings returns one instrument's ranking history, oldest first.
func (q *Queries) InstrumentRankings(ctx context.Context, id string, from, to time.Time) ([]models.MomentumScore, error) {
	key := cache.Key("rankings", "instrument", id, formatOpen(from), formatOpen(to))
	return cached(ctx, q, key, func() ([]models.MomentumScore, error) {
		return q.store.ListMomentumScores(ctx, models.RankingQuery{InstrumentID: id, From: from, To: to})
	})
}

// Constituents returns an index's constituents on a rebalance date. A zero date picks
// the latest rebalance.
func (q *Queries) Constituents(ctx context.Context, key models.IndexKey, rebalance time.Time) ([]models.Constituent, error) {
	ck := cache.Key("constituents", key.IndexType, key.IndexCode)
	all, err := cached(ctx, q, ck, func() ([]models.Constituent, error) {
		return q.store.ListConstituents(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("constituents %s: %w", key, models.ErrNotFound)
	}
	if rebalance.IsZero() {
		for _, c := range all {
			if c.RebalanceDate.After(rebalance) {
				rebalance = c.RebalanceDate
			}
		}
	}
	rebalance = util.DateOf(rebalance)
	var out []models.Constituent
	for _, c := range all {
		if util.DateOf(c.RebalanceDate).Equal(rebalance) {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("constituents %s on %s: %w", key, util.FormatDate(rebalance), models.ErrNotFound)
	}
	return out, nil
}

// IndexSeries returns the stored points of an index, oldest first.
func (q *Queries) IndexSeries(ctx context.Context, key models.IndexKey, from, to time.Time) ([]models.IndexPoint, error) {
	ck := cache.Key("indices", key.IndexType, key.IndexCode, formatOpen(from), formatOpen(to))
	pts, err := cached(ctx, q, ck, func() ([]models.IndexPoint, error) {
		return q.store.ListIndexPoints(ctx, key, from, to)
	})
	if err != nil {
		return nil, err
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("index %s: %w", key, models.ErrNotFound)
	}
	return pts, nil
}

// Invalidate drops cached reads affected by ev.
func (q *Queries) Invalidate(ctx context.Context, ev models.ComputationEvent) {
	if q.cache == nil {
		return
	}
	var pattern string
	switch ev.Type {
	case models.EventMomentumRanked:
		pattern = "rankings:*"
	case models.EventConstituentsBuilt:
		pattern = "constituents:*"
	case models.EventIndexBuilt:
		pattern = cache.Key("indices", ev.IndexType, ev.IndexCode, "*")
	default:
		return
	}
	if err := q.cache.DeleteByPattern(ctx, pattern); err != nil {
		q.log.Warn("cache invalidation failed", logger.String("pattern", pattern), logger.Error(err))
	}
}

// Wrap returns a publisher that drops stale cache entries before forwarding to next.
func (q *Queries) Wrap(next drepo.EventPublisher) drepo.EventPublisher {
	return invalidatingPublisher{q: q, next: next}
}

type invalidatingPublisher struct {
	q    *Queries
	next drepo.EventPublisher
}

func (p invalidatingPublisher) Publish(ctx context.Context, ev models.ComputationEvent) error {
	p.q.Invalidate(ctx, ev)
	if p.next == nil {
		return nil
	}
	return p.next.Publish(ctx, ev)
}

func cached[T any](ctx context.Context, q *Queries, key string, load func() ([]T, error)) ([]T, error) {
	if q.cache != nil {
		var hit []T
		err := q.cache.Get(ctx, key, &hit)
		if err == nil {
			return hit, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			q.log.Warn("cache read failed", logger.String("key", key), logger.Error(err))
		}
	}
	rows, err := load()
	if err != nil {
		return nil, err
	}
	if q.cache != nil && q.ttl > 0 {
		if err := q.cache.Set(ctx, key, rows, q.ttl); err != nil {
			q.log.Warn("cache write failed", logger.String("key", key), logger.Error(err))
		}
	}
	return rows, nil
}

func formatOpen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return util.FormatDate(t)
}
