package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	"RSIndex/internal/domain/service"
	"RSIndex/internal/services/indexing"
	"RSIndex/internal/services/series"
	"RSIndex/internal/services/universe"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/util"

	"golang.org/x/sync/errgroup"
)

// IndexSettings configures index replay.
type IndexSettings struct {
	Parent      models.IndexKey
	ParentName  string
	BaseDate    time.Time
	Frequency   string
	GroupKinds  []string
	Parallelism int
	LockTTL     time.Duration
}

// IndexResult describes one rebuilt index.
type IndexResult struct {
	Key        models.IndexKey `json:"key"`
	Points     int             `json:"points"`
	LastValue  float64         `json:"last_value"`
	BaseDate   string          `json:"base_date,omitempty"`
	LastDate   string          `json:"last_date,omitempty"`
	Skipped    bool            `json:"skipped,omitempty"`
	SkipReason string          `json:"skip_reason,omitempty"`
}

// IndexBuilder replays equal-weight indices from the base date over their stored
// constituent history.
type IndexBuilder struct {
	prices     drepo.PriceStore
	store      drepo.ConstituentStore
	indices    drepo.IndexStore
	compounder service.IndexCompounder
	locker     drepo.Locker
	settings   IndexSettings
	events     drepo.EventPublisher
	metrics    drepo.Metrics
	log        *logger.Logger
}

func NewIndexBuilder(
	prices drepo.PriceStore,
	store drepo.ConstituentStore,
	indices drepo.IndexStore,
	compounder service.IndexCompounder,
	locker drepo.Locker,
	settings IndexSettings,
	events drepo.EventPublisher,
	metrics drepo.Metrics,
	log *logger.Logger,
) *IndexBuilder {
	if settings.Parallelism <= 0 {
		settings.Parallelism = 1
	}
	if settings.LockTTL <= 0 {
		settings.LockTTL = 10 * time.Minute
	}
	return &IndexBuilder{
		prices:     prices,
		store:      store,
		indices:    indices,
		compounder: compounder,
		locker:     locker,
		settings:   settings,
		events:     events,
		metrics:    orNop(metrics),
		log:        log.With(logger.String("component", "index")),
	}
}

// marketCalendar holds the trading dates and the rebalance dates derived from them.
type marketCalendar struct {
	dates      []time.Time
	rebalances []time.Time
}

// calendarLoader reads the market calendar at most once per rebuild, however many
// indices share it.
type calendarLoader struct {
	b    *IndexBuilder
	once sync.Once
	cal  *marketCalendar
	err  error
}

func (l *calendarLoader) load(ctx context.Context) (*marketCalendar, error) {
	l.once.Do(func() { l.cal, l.err = l.b.loadCalendar(ctx) })
	return l.cal, l.err
}

func (b *IndexBuilder) loadCalendar(ctx context.Context) (*marketCalendar, error) {
	dates, err := b.prices.TradingDates(ctx, time.Time{}, time.Time{})
	if err != nil {
		b.fail("trading_dates")
		return nil, err
	}
	if len(dates) == 0 {
		return nil, models.ErrNoTradingDates
	}
	cal := &marketCalendar{dates: dates}
	if b.settings.Frequency != "" {
		cal.rebalances, err = universe.RebalanceDates(dates, b.settings.BaseDate, b.settings.Frequency)
		if err != nil {
			return nil, err
		}
	}
	return cal, nil
}

// Build replays one index from the base date and upserts every point.
func (b *IndexBuilder) Build(ctx context.Context, key models.IndexKey) (*IndexResult, error) {
	return b.build(ctx, key, nil, &calendarLoader{b: b})
}

func (b *IndexBuilder) build(ctx context.Context, key models.IndexKey, names map[string]string, calendar *calendarLoader) (*IndexResult, error) {
	start := time.Now()
	if b.locker != nil {
		lockKey := "lock:index:" + key.IndexType + ":" + key.IndexCode
		ok, err := b.locker.TryLock(ctx, lockKey, b.settings.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("index %s: lock: %w", key, err)
		}
		if !ok {
			return nil, fmt.Errorf("index %s: %w", key, models.ErrIndexBusy)
		}
		defer func() {
			if err := b.locker.Unlock(context.WithoutCancel(ctx), lockKey); err != nil {
				b.log.Warn("unlock failed", logger.String("index", key.String()), logger.Error(err))
			}
		}()
	}

	constituents, err := b.store.ListConstituents(ctx, key)
	if err != nil {
		b.fail("load_constituents")
		return nil, fmt.Errorf("index %s: %w", key, err)
	}
	if len(constituents) == 0 {
		return nil, fmt.Errorf("index %s: no constituents: %w", key, models.ErrNotFound)
	}

	cal, err := calendar.load(ctx)
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", key, err)
	}
	dates := cal.dates
	latest := dates[len(dates)-1]

	members, ids := groupByRebalance(constituents)
	rebalances := rebalanceSchedule(members, cal.rebalances)

	base := util.DateOf(b.settings.BaseDate)
	var periods []indexing.Period
	for _, p := range universe.Periods(key, rebalances, latest) {
		periods = append(periods, indexing.Period{
			Start:        universe.PeriodStart(p, base),
			End:          p.NextRebalanceDate,
			Constituents: members[p.RebalanceDate],
		})
	}
	if len(periods) == 0 {
		return &IndexResult{Key: key, Skipped: true, SkipReason: "no periods"}, nil
	}

	// One market date before the first period so its first return has a reference close.
	from := periods[0].Start
	if i := sort.Search(len(dates), func(i int) bool { return !dates[i].Before(from) }); i > 0 {
		from = dates[i-1]
	}
	rows, err := b.prices.GetPrices(ctx, models.PriceQuery{InstrumentIDs: ids, From: from, To: latest})
	if err != nil {
		b.fail("load_prices")
		return nil, fmt.Errorf("index %s: load prices: %w", key, err)
	}
	frame, err := series.NewFrame(rows, dates)
	if err != nil {
		b.fail("upstream_data")
		return nil, fmt.Errorf("index %s: %w", key, err)
	}

	var (
		state  indexing.ChainState
		points []indexing.Point
	)
	for _, p := range periods {
		var pts []indexing.Point
		pts, state = b.compounder.Fold(frame, p, state)
		if len(pts) == 0 {
			b.log.Warn("empty period skipped",
				logger.String("index", key.String()), logger.Date("period_start", p.Start))
			b.metrics.RecordSkipped("index", "empty_period")
		}
		points = append(points, pts...)
	}
	if !state.Started {
		b.log.Warn("no priced constituents, index not started", logger.String("index", key.String()))
		return &IndexResult{Key: key, Skipped: true, SkipReason: "no prices"}, nil
	}

	name := b.indexName(ctx, key, names)
	out := make([]models.IndexPoint, len(points))
	for i, p := range points {
		out[i] = models.IndexPoint{
			IndexType:        key.IndexType,
			IndexCode:        key.IndexCode,
			IndexName:        name,
			Date:             p.Date,
			IndexValue:       p.Value,
			DailyReturn:      p.DailyReturn,
			ConstituentCount: p.Count,
			BaseDate:         state.BaseDate,
		}
	}
	if err := b.indices.UpsertIndexPoints(ctx, out); err != nil {
		b.fail("upsert")
		return nil, fmt.Errorf("index %s: upsert: %w", key, err)
	}

	b.metrics.RecordRowsWritten("indices", len(out))
	b.metrics.RecordIndexValue(key, state.Value)
	b.metrics.RecordJob("index", "success")
	b.metrics.RecordLatency("index_build", time.Since(start).Seconds())
	b.log.Info("index rebuilt",
		logger.String("index", key.String()),
		logger.Int("periods", len(periods)),
		logger.Int("points", len(out)),
		logger.Float64("value", state.Value),
		logger.Duration("elapsed", time.Since(start)),
	)

	ev := newEvent(models.EventIndexBuilt, len(out))
	ev.IndexType, ev.IndexCode = key.IndexType, key.IndexCode
	ev.From, ev.To = util.FormatDate(state.BaseDate), util.FormatDate(state.LastDate)
	announce(ctx, b.events, b.log, ev)

	return &IndexResult{
		Key:       key,
		Points:    len(out),
		LastValue: state.Value,
		BaseDate:  util.FormatDate(state.BaseDate),
		LastDate:  util.FormatDate(state.LastDate),
	}, nil
}

// BuildAll rebuilds every index of indexType that has constituents, in parallel. An index
// whose lock is held elsewhere is reported as skipped.
func (b *IndexBuilder) BuildAll(ctx context.Context, indexType string) ([]IndexResult, error) {
	return b.buildAll(ctx, indexType, &calendarLoader{b: b})
}

func (b *IndexBuilder) buildAll(ctx context.Context, indexType string, calendar *calendarLoader) ([]IndexResult, error) {
	codes, err := b.store.ListIndexCodes(ctx, indexType)
	if err != nil {
		return nil, fmt.Errorf("index %s: list codes: %w", indexType, err)
	}
	names := b.groupNames(ctx, indexType)

	results := make([]IndexResult, len(codes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.settings.Parallelism)
	for i, code := range codes {
		key := models.IndexKey{IndexType: indexType, IndexCode: code}
		g.Go(func() error {
			res, err := b.build(gctx, key, names, calendar)
			switch {
			case errors.Is(err, models.ErrIndexBusy):
				b.log.Warn("index busy, skipped", logger.String("index", key.String()))
				results[i] = IndexResult{Key: key, Skipped: true, SkipReason: "busy"}
				return nil
			case err != nil:
				return err
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// BuildConfigured rebuilds the parent index type and then every group kind.
func (b *IndexBuilder) BuildConfigured(ctx context.Context) ([]IndexResult, error) {
	types := append([]string{b.settings.Parent.IndexType}, b.settings.GroupKinds...)
	calendar := &calendarLoader{b: b}
	var out []IndexResult
	for _, t := range types {
		res, err := b.buildAll(ctx, t, calendar)
		if err != nil {
			return out, err
		}
		out = append(out, res...)
	}
	return out, nil
}

func (b *IndexBuilder) indexName(ctx context.Context, key models.IndexKey, names map[string]string) string {
	if key == b.settings.Parent && b.settings.ParentName != "" {
		return b.settings.ParentName
	}
	if names == nil {
		names = b.groupNames(ctx, key.IndexType)
	}
	if n, ok := names[key.IndexCode]; ok && n != "" {
		return n
	}
	return key.IndexCode
}

// groupNames maps group codes of kind to display names. Unknown kinds yield an empty map.
func (b *IndexBuilder) groupNames(ctx context.Context, kind string) map[string]string {
	names := make(map[string]string)
	known := false
	for _, k := range b.settings.GroupKinds {
		known = known || k == kind
	}
	if !known {
		return names
	}
	members, err := b.prices.GroupMembership(ctx, kind)
	if err != nil {
		b.log.Warn("group names unavailable", logger.String("kind", kind), logger.Error(err))
		return names
	}
	for _, m := range members {
		names[m.GroupCode] = m.GroupName
	}
	return names
}

// rebalanceSchedule merges an index's stored rebalance dates with the market rebalance
// calendar from its first stored date on. Calendar dates without stored rows become
// empty periods.
func rebalanceSchedule(members map[time.Time][]string, calendar []time.Time) []time.Time {
	out := make([]time.Time, 0, len(members)+len(calendar))
	for d := range members {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	if len(out) == 0 {
		return out
	}
	first := out[0]
	for _, d := range calendar {
		d = util.DateOf(d)
		if _, ok := members[d]; !ok && d.After(first) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// groupByRebalance returns each rebalance date's instrument ids and the union of ids.
func groupByRebalance(rows []models.Constituent) (map[time.Time][]string, []string) {
	members := make(map[time.Time][]string)
	seen := make(map[string]struct{})
	var ids []string
	for _, c := range rows {
		d := util.DateOf(c.RebalanceDate)
		members[d] = append(members[d], c.InstrumentID)
		if _, ok := seen[c.InstrumentID]; !ok {
			seen[c.InstrumentID] = struct{}{}
			ids = append(ids, c.InstrumentID)
		}
	}
	sort.Strings(ids)
	return members, ids
}

func (b *IndexBuilder) fail(kind string) {
	b.metrics.RecordJob("index", "error")
	b.metrics.RecordError("index_" + kind)
}
