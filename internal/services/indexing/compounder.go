package indexing

import (
	"sort"
	"time"

	"RSIndex/internal/services/series"
)

// Period is one holding interval [Start, End) with a fixed constituent set.
type Period struct {
	Start        time.Time
	End          time.Time
	Constituents []string
}

// ChainState is everything one period hands to the next. The zero value is an unstarted chain.
type ChainState struct {
	Started  bool
	Value    float64
	BaseDate time.Time
	LastDate time.Time
}

// Point is one day of the chained series.
type Point struct {
	Date        time.Time
	Value       float64
	DailyReturn *float64 // nil on the baseline and on carried-forward days
	Count       int
}

// Compounder chains equal-weight daily returns into one index series.
type Compounder struct {
	base float64
}

func NewCompounder(base float64) *Compounder {
	if base <= 0 {
		base = 100
	}
	return &Compounder{base: base}
}

// Fold compounds one period on top of state and returns its points and the state to pass
// to the next period. Returns are measured against the previous market date, so f must
// also hold the day before p.Start.
func (c *Compounder) Fold(f *series.Frame, p Period, state ChainState) ([]Point, ChainState) {
	if len(p.Constituents) == 0 {
		return nil, state
	}
	ids := append([]string(nil), p.Constituents...)
	sort.Strings(ids)

	dates := f.Dates()
	var out []Point
	for t := f.IndexAtOrAfter(p.Start); t < len(dates) && dates[t].Before(p.End); t++ {
		d := dates[t]

		if !state.Started {
			priced := 0
			for _, id := range ids {
				if _, ok := f.Close(id, t); ok {
					priced++
				}
			}
			if priced == 0 {
				continue
			}
			state = ChainState{Started: true, Value: c.base, BaseDate: d, LastDate: d}
			out = append(out, Point{Date: d, Value: c.base, Count: priced})
			continue
		}

		sum, n := 0.0, 0
		for _, id := range ids {
			cur, ok := f.Close(id, t)
			if !ok {
				continue
			}
			prev, ok := f.Close(id, t-1)
			if !ok || prev <= 0 {
				continue
			}
			sum += cur/prev - 1
			n++
		}

		pt := Point{Date: d, Value: state.Value, Count: n}
		if n > 0 {
			r := sum / float64(n)
			state.Value *= 1 + r
			pt.Value = state.Value
			pt.DailyReturn = &r
		}
		state.LastDate = d
		out = append(out, pt)
	}
	return out, state
}

// Run replays periods in rebalance order from an unstarted chain.
func (c *Compounder) Run(f *series.Frame, periods []Period) ([]Point, ChainState) {
	ordered := append([]Period(nil), periods...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start.Before(ordered[j].Start) })

	var (
		out   []Point
		state ChainState
	)
	for _, p := range ordered {
		var pts []Point
		pts, state = c.Fold(f, p, state)
		out = append(out, pts...)
	}
	return out, state
}
