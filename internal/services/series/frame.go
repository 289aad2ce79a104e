package series

import (
	"math"
	"sort"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/pkg/util"

	"github.com/shopspring/decimal"
)

// Frame is an instrument x date grid built from one bulk load of price rows.
// Its date axis is the market calendar: every date on which any instrument traded.
// Missing cells stay undefined; nothing is filled with zero.
type Frame struct {
	dates  []time.Time
	dateAt map[time.Time]int
	ids    []string
	idAt   map[string]int
	closes [][]float64 // NaN where undefined
	values [][]decimal.NullDecimal
}

// NewFrame validates rows and lays them out. Calendar may be nil, in which case the
// union of row dates is used; rows dated outside a given calendar extend it.
func NewFrame(rows []models.PricePoint, calendar []time.Time) (*Frame, error) {
	dateSet := make(map[time.Time]struct{}, len(calendar))
	for _, d := range calendar {
		dateSet[util.DateOf(d)] = struct{}{}
	}
	idSet := make(map[string]struct{})
	for _, r := range rows {
		if err := r.Check(); err != nil {
			return nil, err
		}
		dateSet[util.DateOf(r.Date)] = struct{}{}
		idSet[r.InstrumentID] = struct{}{}
	}

	f := &Frame{
		dates:  make([]time.Time, 0, len(dateSet)),
		dateAt: make(map[time.Time]int, len(dateSet)),
		ids:    make([]string, 0, len(idSet)),
		idAt:   make(map[string]int, len(idSet)),
	}
	for d := range dateSet {
		f.dates = append(f.dates, d)
	}
	sort.Slice(f.dates, func(i, j int) bool { return f.dates[i].Before(f.dates[j]) })
	for i, d := range f.dates {
		f.dateAt[d] = i
	}
	for id := range idSet {
		f.ids = append(f.ids, id)
	}
	sort.Strings(f.ids)
	for i, id := range f.ids {
		f.idAt[id] = i
	}

	f.closes = make([][]float64, len(f.ids))
	f.values = make([][]decimal.NullDecimal, len(f.ids))
	for i := range f.ids {
		col := make([]float64, len(f.dates))
		for t := range col {
			col[t] = math.NaN()
		}
		f.closes[i] = col
		f.values[i] = make([]decimal.NullDecimal, len(f.dates))
	}

	for _, r := range rows {
		i := f.idAt[r.InstrumentID]
		t := f.dateAt[util.DateOf(r.Date)]
		if r.Close.Valid {
			f.closes[i][t] = r.Close.Decimal.InexactFloat64()
		}
		if r.TradingValue.Valid {
			f.values[i][t] = r.TradingValue
		}
	}
	return f, nil
}

// Dates returns the market calendar, ascending.
func (f *Frame) Dates() []time.Time { return f.dates }

// Instruments returns instrument ids, ascending.
func (f *Frame) Instruments() []string { return f.ids }

func (f *Frame) Len() int { return len(f.dates) }

// DateIndex returns the calendar position of d.
func (f *Frame) DateIndex(d time.Time) (int, bool) {
	t, ok := f.dateAt[util.DateOf(d)]
	return t, ok
}

// IndexAtOrBefore returns the last calendar position not after d, or -1.
func (f *Frame) IndexAtOrBefore(d time.Time) int {
	d = util.DateOf(d)
	return sort.Search(len(f.dates), func(i int) bool { return f.dates[i].After(d) }) - 1
}

// IndexAtOrAfter returns the first calendar position not before d, or Len().
func (f *Frame) IndexAtOrAfter(d time.Time) int {
	d = util.DateOf(d)
	return sort.Search(len(f.dates), func(i int) bool { return !f.dates[i].Before(d) })
}

// Close returns the close of id at calendar position t.
func (f *Frame) Close(id string, t int) (float64, bool) {
	i, ok := f.idAt[id]
	if !ok || t < 0 || t >= len(f.dates) {
		return 0, false
	}
	v := f.closes[i][t]
	return v, !math.IsNaN(v)
}

// TradingValue returns the trading value of id at calendar position t.
func (f *Frame) TradingValue(id string, t int) (decimal.Decimal, bool) {
	i, ok := f.idAt[id]
	if !ok || t < 0 || t >= len(f.dates) {
		return decimal.Zero, false
	}
	v := f.values[i][t]
	return v.Decimal, v.Valid
}

// Observation is one defined close in an instrument's own series.
type Observation struct {
	DateIndex int
	Close     float64
}

// CloseSeries returns id's defined closes in date order. Positions in the returned
// slice are the instrument's own trading positions, independent of the market calendar.
func (f *Frame) CloseSeries(id string) []Observation {
	i, ok := f.idAt[id]
	if !ok {
		return nil
	}
	col := f.closes[i]
	out := make([]Observation, 0, len(col))
	for t, v := range col {
		if !math.IsNaN(v) {
			out = append(out, Observation{DateIndex: t, Close: v})
		}
	}
	return out
}
