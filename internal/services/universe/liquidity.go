package universe

import (
	"fmt"
	"sort"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/services/series"

	"github.com/shopspring/decimal"
)

// Average is an instrument's mean trading value over a complete trailing window.
type Average struct {
	InstrumentID string
	Value        decimal.Decimal
}

// Selector picks the most liquid share of the market on a rebalance date.
type Selector struct {
	window int
	topPct float64
}

func NewSelector(window int, topPct float64) (*Selector, error) {
	if window <= 0 {
		return nil, fmt.Errorf("universe: liquidity window must be positive, got %d", window)
	}
	if topPct <= 0 || topPct > 1 {
		return nil, fmt.Errorf("universe: top_pct must be in (0, 1], got %v", topPct)
	}
	return &Selector{window: window, topPct: topPct}, nil
}

func (s *Selector) Window() int { return s.window }

// Averages returns the trailing mean for every instrument with a trading value on each of
// the last window market dates at or before asOf, most liquid first, ties by id.
// ok is false when the market calendar has fewer than window dates up to asOf.
func (s *Selector) Averages(f *series.Frame, asOf time.Time) (avgs []Average, ok bool) {
	end := f.IndexAtOrBefore(asOf)
	if end+1 < s.window {
		return nil, false
	}
	start := end - s.window + 1
	n := decimal.NewFromInt(int64(s.window))

	for _, id := range f.Instruments() {
		sum := decimal.Zero
		complete := true
		for t := start; t <= end; t++ {
			v, defined := f.TradingValue(id, t)
			if !defined {
				complete = false
				break
			}
			sum = sum.Add(v)
		}
		if complete {
			avgs = append(avgs, Average{InstrumentID: id, Value: sum.Div(n)})
		}
	}

	sort.Slice(avgs, func(i, j int) bool {
		if c := avgs[i].Value.Cmp(avgs[j].Value); c != 0 {
			return c > 0
		}
		return avgs[i].InstrumentID < avgs[j].InstrumentID
	})
	return avgs, true
}

// Select returns the constituents of key for the rebalance date. ok is false when the date
// has to be skipped for lack of history. A non-nil empty slice means nobody was eligible.
func (s *Selector) Select(f *series.Frame, key models.IndexKey, rebalance time.Time) (rows []models.Constituent, ok bool) {
	avgs, ok := s.Averages(f, rebalance)
	if !ok {
		return nil, false
	}
	universe := len(avgs)
	take := int(decimal.NewFromInt(int64(universe)).Mul(decimal.NewFromFloat(s.topPct)).Ceil().IntPart())
	if take > universe {
		take = universe
	}

	rows = make([]models.Constituent, 0, take)
	for i := 0; i < take; i++ {
		rows = append(rows, models.Constituent{
			IndexType:       key.IndexType,
			IndexCode:       key.IndexCode,
			RebalanceDate:   rebalance,
			InstrumentID:    avgs[i].InstrumentID,
			LiquidityRank:   i + 1,
			UniverseSize:    universe,
			AvgTradingValue: avgs[i].Value,
		})
	}
	return rows, true
}
