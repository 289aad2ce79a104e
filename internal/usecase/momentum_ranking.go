package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	"RSIndex/internal/domain/service"
	"RSIndex/internal/services/momentum"
	"RSIndex/internal/services/series"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/util"
)

// MomentumRanking scores and ranks every instrument on each trading date of a range.
type MomentumRanking struct {
	prices   drepo.PriceStore
	rankings drepo.RankingStore
	scorer   service.MomentumScorer
	events   drepo.EventPublisher
	metrics  drepo.Metrics
	log      *logger.Logger
	batch    int
}

func NewMomentumRanking(
	prices drepo.PriceStore,
	rankings drepo.RankingStore,
	scorer service.MomentumScorer,
	events drepo.EventPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
	batch int,
) *MomentumRanking {
	if batch <= 0 {
		batch = 2000
	}
	return &MomentumRanking{
		prices:   prices,
		rankings: rankings,
		scorer:   scorer,
		events:   events,
		metrics:  orNop(metrics),
		log:      log.With(logger.String("component", "momentum")),
		batch:    batch,
	}
}

// LookbackDays is the calendar span loaded before from so that the longest window is
// covered: one trading year per 400 calendar days.
func (uc *MomentumRanking) LookbackDays() int {
	return int(math.Ceil(float64(uc.scorer.MaxWindow()) * 400 / 252))
}

// Run ranks every trading date in [from, to] and returns the number of rows written.
// A zero to means the latest trading date.
func (uc *MomentumRanking) Run(ctx context.Context, from, to time.Time) (int, error) {
	start := time.Now()
	from = util.DateOf(from)
	if !to.IsZero() {
		to = util.DateOf(to)
	}

	dates, err := uc.prices.TradingDates(ctx, from, to)
	if err != nil {
		uc.fail("trading_dates")
		return 0, fmt.Errorf("momentum: %w", err)
	}
	if len(dates) == 0 {
		return 0, fmt.Errorf("momentum %s..%s: %w", util.FormatDate(from), util.FormatDate(to), models.ErrNoTradingDates)
	}
	to = dates[len(dates)-1]

	loadFrom := from.AddDate(0, 0, -uc.LookbackDays())
	rows, err := uc.prices.GetPrices(ctx, models.PriceQuery{From: loadFrom, To: to})
	if err != nil {
		uc.fail("load_prices")
		return 0, fmt.Errorf("momentum: load prices: %w", err)
	}
	// Suspended instruments can need more calendar span than the lookback covers.
	if short := uc.shortHistory(rows, dates[0]); len(short) > 0 {
		older, err := uc.prices.GetPrices(ctx, models.PriceQuery{InstrumentIDs: short, To: loadFrom.AddDate(0, 0, -1)})
		if err != nil {
			uc.fail("load_prices")
			return 0, fmt.Errorf("momentum: load older prices: %w", err)
		}
		uc.log.Debug("extended lookback", logger.Int("instruments", len(short)), logger.Int("rows", len(older)))
		rows = append(older, rows...)
	}
	frame, err := series.NewFrame(rows, nil)
	if err != nil {
		uc.fail("upstream_data")
		return 0, fmt.Errorf("momentum: %w", err)
	}

	byDate := uc.score(frame)

	written := 0
	pending := make([]models.MomentumScore, 0, uc.batch)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := uc.rankings.UpsertMomentumScores(ctx, pending); err != nil {
			return err
		}
		uc.metrics.RecordRowsWritten("rankings", len(pending))
		written += len(pending)
		pending = pending[:0]
		return nil
	}

	for _, d := range dates {
		t, ok := frame.DateIndex(d)
		if !ok {
			continue
		}
		cross := byDate[t]
		if momentum.RankCrossSection(cross) == 0 {
			uc.log.Warn("no defined scores, date skipped", logger.Date("date", d), logger.Int("instruments", len(cross)))
			uc.metrics.RecordSkipped("momentum", "empty_cross_section")
			continue
		}
		for _, r := range cross {
			pending = append(pending, r)
			if len(pending) == uc.batch {
				if err := flush(); err != nil {
					uc.fail("upsert")
					return written, fmt.Errorf("momentum: upsert: %w", err)
				}
			}
		}
	}
	if err := flush(); err != nil {
		uc.fail("upsert")
		return written, fmt.Errorf("momentum: upsert: %w", err)
	}

	uc.metrics.RecordJob("momentum", "success")
	uc.metrics.RecordLatency("momentum_run", time.Since(start).Seconds())
	uc.log.Info("rankings written",
		logger.Date("from", from),
		logger.Date("to", to),
		logger.Int("rows", written),
		logger.Duration("elapsed", time.Since(start)),
	)

	ev := newEvent(models.EventMomentumRanked, written)
	ev.From, ev.To = util.FormatDate(from), util.FormatDate(to)
	announce(ctx, uc.events, uc.log, ev)
	return written, nil
}

// score runs the scorer over every instrument's own series and groups the rows by
// market calendar position.
func (uc *MomentumRanking) score(f *series.Frame) map[int][]models.MomentumScore {
	dates := f.Dates()
	byDate := make(map[int][]models.MomentumScore, len(dates))
	for _, id := range f.Instruments() {
		obs := f.CloseSeries(id)
		closes := make([]float64, len(obs))
		for i, o := range obs {
			closes[i] = o.Close
		}
		for i, p := range uc.scorer.Score(closes) {
			t := obs[i].DateIndex
			byDate[t] = append(byDate[t], models.MomentumScore{
				InstrumentID: id,
				Date:         dates[t],
				Score:        p.Score,
				Return3M:     p.Return3M,
				Return6M:     p.Return6M,
				Return12M:    p.Return12M,
			})
		}
	}
	return byDate
}

// shortHistory lists instruments priced on or after first that have fewer than the
// longest window of points before it.
func (uc *MomentumRanking) shortHistory(rows []models.PricePoint, first time.Time) []string {
	prior := make(map[string]int)
	priced := make(map[string]struct{})
	for _, r := range rows {
		if r.Date.Before(first) {
			prior[r.InstrumentID]++
		} else {
			priced[r.InstrumentID] = struct{}{}
		}
	}
	var ids []string
	for id := range priced {
		if prior[id] < uc.scorer.MaxWindow() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (uc *MomentumRanking) fail(kind string) {
	uc.metrics.RecordJob("momentum", "error")
	uc.metrics.RecordError("momentum_" + kind)
}
