package service

import (
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/services/indexing"
	"RSIndex/internal/services/momentum"
	"RSIndex/internal/services/series"
	"RSIndex/internal/services/universe"
)

// MomentumScorer scores one instrument's own close series.
type MomentumScorer interface {
	Score(closes []float64) []momentum.Point
	MaxWindow() int
}

// UniverseSelector picks an index's constituents by trailing liquidity.
type UniverseSelector interface {
	Select(f *series.Frame, key models.IndexKey, rebalance time.Time) ([]models.Constituent, bool)
	Averages(f *series.Frame, asOf time.Time) ([]universe.Average, bool)
	Window() int
}

// IndexCompounder chains periods into one index series.
type IndexCompounder interface {
	Fold(f *series.Frame, p indexing.Period, state indexing.ChainState) ([]indexing.Point, indexing.ChainState)
	Run(f *series.Frame, periods []indexing.Period) ([]indexing.Point, indexing.ChainState)
}

var (
	_ MomentumScorer   = (*momentum.Scorer)(nil)
	_ UniverseSelector = (*universe.Selector)(nil)
	_ IndexCompounder  = (*indexing.Compounder)(nil)
)
