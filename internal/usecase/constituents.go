package usecase

import (
	"context"
	"fmt"
	"time"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	"RSIndex/internal/domain/service"
	"RSIndex/internal/services/series"
	"RSIndex/internal/services/universe"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/util"
)

// ConstituentSettings names the parent index and how it is rebalanced.
type ConstituentSettings struct {
	Key        models.IndexKey
	BaseDate   time.Time
	Frequency  string
	GroupKinds []string
}

// ConstituentReport summarises one build.
type ConstituentReport struct {
	RebalanceDates int      `json:"rebalance_dates"`
	Skipped        int      `json:"skipped"`
	Rows           int      `json:"rows"`
	Groups         int      `json:"groups"`
	EmptyGroups    []string `json:"empty_groups,omitempty"`
}

// ConstituentBuilder selects the liquid universe on every rebalance date and projects it
// onto the configured group kinds.
type ConstituentBuilder struct {
	prices   drepo.PriceStore
	store    drepo.ConstituentStore
	selector service.UniverseSelector
	settings ConstituentSettings
	events   drepo.EventPublisher
	metrics  drepo.Metrics
	log      *logger.Logger
}

func NewConstituentBuilder(
	prices drepo.PriceStore,
	store drepo.ConstituentStore,
	selector service.UniverseSelector,
	settings ConstituentSettings,
	events drepo.EventPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
) *ConstituentBuilder {
	return &ConstituentBuilder{
		prices:   prices,
		store:    store,
		selector: selector,
		settings: settings,
		events:   events,
		metrics:  orNop(metrics),
		log:      log.With(logger.String("component", "constituents")),
	}
}

// Run rebuilds the constituents of the parent index and of every group index for each
// rebalance date from the base date through the latest trading date.
func (uc *ConstituentBuilder) Run(ctx context.Context) (*ConstituentReport, error) {
	start := time.Now()
	base := util.DateOf(uc.settings.BaseDate)

	dates, err := uc.prices.TradingDates(ctx, time.Time{}, time.Time{})
	if err != nil {
		uc.fail("trading_dates")
		return nil, fmt.Errorf("constituents: %w", err)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("constituents: %w", models.ErrNoTradingDates)
	}
	rebalances, err := universe.RebalanceDates(dates, base, uc.settings.Frequency)
	if err != nil {
		return nil, fmt.Errorf("constituents: %w", err)
	}
	report := &ConstituentReport{RebalanceDates: len(rebalances)}
	if len(rebalances) == 0 {
		uc.log.Warn("no rebalance dates after base date", logger.Date("base_date", base))
		return report, nil
	}

	// The first window ends on the first rebalance date, so load that many market dates before it.
	first := 0
	for i, d := range dates {
		if !d.Before(rebalances[0]) {
			first = i
			break
		}
	}
	from := dates[max(0, first-uc.selector.Window()+1)]
	rows, err := uc.prices.GetPrices(ctx, models.PriceQuery{From: from, To: rebalances[len(rebalances)-1]})
	if err != nil {
		uc.fail("load_prices")
		return nil, fmt.Errorf("constituents: load prices: %w", err)
	}
	frame, err := series.NewFrame(rows, dates)
	if err != nil {
		uc.fail("upstream_data")
		return nil, fmt.Errorf("constituents: %w", err)
	}

	memberships := make(map[string][]models.GroupMembership, len(uc.settings.GroupKinds))
	for _, kind := range uc.settings.GroupKinds {
		m, err := uc.prices.GroupMembership(ctx, kind)
		if err != nil {
			uc.fail("group_membership")
			return nil, fmt.Errorf("constituents: %s membership: %w", kind, err)
		}
		memberships[kind] = m
	}

	for _, d := range rebalances {
		parent, ok := uc.selector.Select(frame, uc.settings.Key, d)
		if !ok {
			uc.log.Warn("not enough history, rebalance date skipped",
				logger.Date("rebalance_date", d), logger.Int("window", uc.selector.Window()))
			uc.metrics.RecordSkipped("constituents", "short_history")
			report.Skipped++
			continue
		}
		if len(parent) == 0 {
			uc.log.Warn("empty universe", logger.Date("rebalance_date", d))
			uc.metrics.RecordSkipped("constituents", "empty_universe")
		}
		if err := uc.replace(ctx, uc.settings.Key, d, parent); err != nil {
			return report, err
		}
		report.Rows += len(parent)

		for _, kind := range uc.settings.GroupKinds {
			sets, empty := universe.Project(parent, kind, memberships[kind])
			for _, code := range empty {
				uc.log.Debug("group has no constituents",
					logger.String("kind", kind), logger.String("group", code), logger.Date("rebalance_date", d))
				report.EmptyGroups = append(report.EmptyGroups, kind+"/"+code+"@"+util.FormatDate(d))
				// clears rows left by an earlier run
				if err := uc.replace(ctx, models.IndexKey{IndexType: kind, IndexCode: code}, d, nil); err != nil {
					return report, err
				}
			}
			if len(empty) > 0 {
				uc.log.Warn("empty group intersections skipped",
					logger.String("kind", kind), logger.Int("groups", len(empty)), logger.Date("rebalance_date", d))
				uc.metrics.RecordSkipped("constituents", "empty_group")
			}
			for _, set := range sets {
				if err := uc.replace(ctx, set.Key, d, set.Rows); err != nil {
					return report, err
				}
				report.Rows += len(set.Rows)
				report.Groups++
			}
		}
	}

	uc.metrics.RecordJob("constituents", "success")
	uc.metrics.RecordLatency("constituents_run", time.Since(start).Seconds())
	uc.log.Info("constituents written",
		logger.Int("rebalance_dates", report.RebalanceDates),
		logger.Int("skipped", report.Skipped),
		logger.Int("rows", report.Rows),
		logger.Duration("elapsed", time.Since(start)),
	)

	ev := newEvent(models.EventConstituentsBuilt, report.Rows)
	ev.IndexType, ev.IndexCode = uc.settings.Key.IndexType, uc.settings.Key.IndexCode
	ev.From, ev.To = util.FormatDate(rebalances[0]), util.FormatDate(rebalances[len(rebalances)-1])
	announce(ctx, uc.events, uc.log, ev)
	return report, nil
}

func (uc *ConstituentBuilder) replace(ctx context.Context, key models.IndexKey, d time.Time, rows []models.Constituent) error {
	if err := uc.store.ReplaceConstituents(ctx, key, d, rows); err != nil {
		uc.fail("replace")
		return fmt.Errorf("constituents %s %s: %w", key, util.FormatDate(d), err)
	}
	uc.metrics.RecordRowsWritten("constituents", len(rows))
	return nil
}

func (uc *ConstituentBuilder) fail(kind string) {
	uc.metrics.RecordJob("constituents", "error")
	uc.metrics.RecordError("constituents_" + kind)
}
