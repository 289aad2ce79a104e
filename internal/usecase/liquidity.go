package usecase

import (
	"context"
	"fmt"
	"time"

	"RSIndex/internal/domain/models"
	drepo "RSIndex/internal/domain/repository"
	"RSIndex/internal/domain/service"
	"RSIndex/internal/services/momentum"
	"RSIndex/internal/services/series"
	"RSIndex/pkg/util"
)

// LiquidityRanker ranks instruments 1..99 by their trailing mean trading value. Results
// are computed on request and never stored.
type LiquidityRanker struct {
	prices   drepo.PriceStore
	selector service.UniverseSelector
}

func NewLiquidityRanker(prices drepo.PriceStore, selector service.UniverseSelector) *LiquidityRanker {
	return &LiquidityRanker{prices: prices, selector: selector}
}

// Rank returns the ranking on date, most liquid first. A zero date means the latest
// trading date; limit <= 0 returns everything.
func (uc *LiquidityRanker) Rank(ctx context.Context, date time.Time, limit int) ([]models.LiquidityRank, error) {
	var to time.Time
	if !date.IsZero() {
		to = util.DateOf(date)
	}
	dates, err := uc.prices.TradingDates(ctx, time.Time{}, to)
	if err != nil {
		return nil, fmt.Errorf("liquidity: %w", err)
	}
	window := uc.selector.Window()
	if len(dates) < window {
		return nil, fmt.Errorf("liquidity: %d trading dates, need %d: %w", len(dates), window, models.ErrNotFound)
	}
	asOf := dates[len(dates)-1]

	rows, err := uc.prices.GetPrices(ctx, models.PriceQuery{From: dates[len(dates)-window], To: asOf})
	if err != nil {
		return nil, fmt.Errorf("liquidity: load prices: %w", err)
	}
	frame, err := series.NewFrame(rows, dates)
	if err != nil {
		return nil, fmt.Errorf("liquidity: %w", err)
	}

	avgs, ok := uc.selector.Averages(frame, asOf)
	if !ok || len(avgs) == 0 {
		return []models.LiquidityRank{}, nil
	}
	values := make([]*float64, len(avgs))
	for i, a := range avgs {
		v := a.Value.InexactFloat64()
		values[i] = &v
	}
	ranks := momentum.PercentileRank(values)

	n := len(avgs)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]models.LiquidityRank, n)
	for i := 0; i < n; i++ {
		out[i] = models.LiquidityRank{
			InstrumentID:    avgs[i].InstrumentID,
			Date:            asOf,
			AvgTradingValue: avgs[i].Value.StringFixed(2),
			Rank:            ranks[i],
		}
	}
	return out, nil
}
