package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint is one instrument's end-of-day observation.
// A null Close or TradingValue means the value is unknown, never zero.
type PricePoint struct {
	InstrumentID string              `json:"code" db:"code"`
	Date         time.Time           `json:"date" db:"date"`
	Close        decimal.NullDecimal `json:"close" db:"close"`
	TradingValue decimal.NullDecimal `json:"trading_value" db:"trading_value"`
}

// Check reports malformed rows: a missing key or a negative close or trading value.
func (p PricePoint) Check() error {
	if p.InstrumentID == "" {
		return fmt.Errorf("%w: price row without instrument id on %s", ErrUpstreamData, p.Date.Format("2006-01-02"))
	}
	if p.Date.IsZero() {
		return fmt.Errorf("%w: price row for %s without date", ErrUpstreamData, p.InstrumentID)
	}
	if p.Close.Valid && p.Close.Decimal.IsNegative() {
		return fmt.Errorf("%w: negative close %s for %s on %s", ErrUpstreamData, p.Close.Decimal, p.InstrumentID, p.Date.Format("2006-01-02"))
	}
	if p.TradingValue.Valid && p.TradingValue.Decimal.IsNegative() {
		return fmt.Errorf("%w: negative trading value %s for %s on %s", ErrUpstreamData, p.TradingValue.Decimal, p.InstrumentID, p.Date.Format("2006-01-02"))
	}
	return nil
}

// PriceQuery selects price rows. Empty InstrumentIDs means every instrument; zero dates leave that side open.
type PriceQuery struct {
	InstrumentIDs []string
	From          time.Time
	To            time.Time
}

// Contains reports whether d falls inside the query's date range.
func (q PriceQuery) Contains(d time.Time) bool {
	if !q.From.IsZero() && d.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && d.After(q.To) {
		return false
	}
	return true
}

// GroupMembership places an instrument in an industry or theme group.
type GroupMembership struct {
	GroupKind    string `json:"group_kind" db:"group_kind"`
	GroupCode    string `json:"group_code" db:"group_code"`
	GroupName    string `json:"group_name" db:"group_name"`
	InstrumentID string `json:"code" db:"code"`
}
