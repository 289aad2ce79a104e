package universe

import (
	"fmt"
	"sort"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/pkg/util"
)

const (
	Monthly   = "monthly"
	Quarterly = "quarterly"
)

// RebalanceDates picks the first trading date of every month (or calendar quarter) from the
// month containing base onwards. tradingDates must be ascending.
func RebalanceDates(tradingDates []time.Time, base time.Time, frequency string) ([]time.Time, error) {
	if frequency != Monthly && frequency != Quarterly {
		return nil, fmt.Errorf("universe: unknown rebalance frequency %q", frequency)
	}
	base = util.DateOf(base)
	start := time.Date(base.Year(), base.Month(), 1, 0, 0, 0, 0, time.UTC)

	var out []time.Time
	lastYear, lastMonth := -1, time.Month(0)
	for _, d := range tradingDates {
		d = util.DateOf(d)
		if d.Before(start) {
			continue
		}
		if d.Year() == lastYear && d.Month() == lastMonth {
			continue
		}
		lastYear, lastMonth = d.Year(), d.Month()
		if frequency == Quarterly && (d.Month()-1)%3 != 0 {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// Periods turns ascending rebalance dates into consecutive half-open holding periods.
// The last period ends one day after latest.
func Periods(key models.IndexKey, rebalanceDates []time.Time, latest time.Time) []models.RebalancePeriod {
	dates := append([]time.Time(nil), rebalanceDates...)
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	out := make([]models.RebalancePeriod, 0, len(dates))
	for i, d := range dates {
		next := util.DateOf(latest).AddDate(0, 0, 1)
		if i+1 < len(dates) {
			next = dates[i+1]
		}
		if !d.Before(next) {
			continue
		}
		out = append(out, models.RebalancePeriod{IndexKey: key, RebalanceDate: d, NextRebalanceDate: next})
	}
	return out
}

// PeriodStart clamps a period's first day to the base date.
func PeriodStart(p models.RebalancePeriod, base time.Time) time.Time {
	if p.RebalanceDate.Before(base) {
		return util.DateOf(base)
	}
	return p.RebalanceDate
}
