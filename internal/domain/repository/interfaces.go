package repository

import (
	"context"
	"time"

	"RSIndex/internal/domain/models"
)

// PriceStore is the read side: daily prices and static group membership.
type PriceStore interface {
	// GetPrices returns every matching row ordered by date then instrument id.
	GetPrices(ctx context.Context, q models.PriceQuery) ([]models.PricePoint, error)
	// TradingDates returns the distinct dates that carry at least one price row, ascending.
	TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error)
	GroupMembership(ctx context.Context, kind string) ([]models.GroupMembership, error)
}

type RankingStore interface {
	UpsertMomentumScores(ctx context.Context, rows []models.MomentumScore) error
	ListMomentumScores(ctx context.Context, q models.RankingQuery) ([]models.MomentumScore, error)
	LatestRankingDate(ctx context.Context) (time.Time, error)
}

type ConstituentStore interface {
	// ReplaceConstituents swaps the whole set stored for (index, rebalance date).
	ReplaceConstituents(ctx context.Context, key models.IndexKey, rebalance time.Time, rows []models.Constituent) error
	ListConstituents(ctx context.Context, key models.IndexKey) ([]models.Constituent, error)
	ListIndexCodes(ctx context.Context, indexType string) ([]string, error)
}

type IndexStore interface {
	UpsertIndexPoints(ctx context.Context, rows []models.IndexPoint) error
	ListIndexPoints(ctx context.Context, key models.IndexKey, from, to time.Time) ([]models.IndexPoint, error)
}

// Store bundles every table the engine touches behind one backend.
type Store interface {
	PriceStore
	RankingStore
	ConstituentStore
	IndexStore
	Health(ctx context.Context) error
	Close() error
}

// EventPublisher announces finished computations.
type EventPublisher interface {
	Publish(ctx context.Context, ev models.ComputationEvent) error
}

// JobQueue defers recomputation to background workers and returns the job id.
type JobQueue interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) (string, error)
}

// Locker guards an index against concurrent rebuilds.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

type Metrics interface {
	RecordJob(job, status string)
	RecordRowsWritten(table string, n int)
	RecordSkipped(component, reason string)
	RecordError(kind string)
	RecordLatency(op string, seconds float64)
	RecordIndexValue(key models.IndexKey, value float64)
}
