package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Well-known index types. Group indices use the group kind as their type.
const (
	IndexTypeCustom   = "custom"
	IndexTypeIndustry = "industry"
	IndexTypeTheme    = "theme"
)

// IndexKey identifies one index series.
type IndexKey struct {
	IndexType string `json:"index_type"`
	IndexCode string `json:"index_code"`
}

func (k IndexKey) String() string { return k.IndexType + "/" + k.IndexCode }

// RebalancePeriod is the half-open interval [RebalanceDate, NextRebalanceDate) over which one
// constituent set is held.
type RebalancePeriod struct {
	IndexKey
	RebalanceDate     time.Time `json:"rebalance_date"`
	NextRebalanceDate time.Time `json:"next_rebalance_date"`
}

// Constituent is one member of an index for a rebalance date.
type Constituent struct {
	IndexType       string          `json:"index_type" db:"index_type"`
	IndexCode       string          `json:"index_code" db:"index_code"`
	RebalanceDate   time.Time       `json:"rebalance_date" db:"rebalance_date"`
	InstrumentID    string          `json:"code" db:"code"`
	LiquidityRank   int             `json:"rank_in_universe" db:"rank_in_universe"`
	UniverseSize    int             `json:"universe_count" db:"universe_count"`
	AvgTradingValue decimal.Decimal `json:"avg_trading_value_60" db:"avg_trading_value_60"`
}

func (c Constituent) Key() IndexKey { return IndexKey{IndexType: c.IndexType, IndexCode: c.IndexCode} }

// IndexPoint is one day's value of an equal-weight index.
type IndexPoint struct {
	IndexType        string    `json:"index_type" db:"index_type"`
	IndexCode        string    `json:"index_code" db:"index_code"`
	IndexName        string    `json:"index_name" db:"index_name"`
	Date             time.Time `json:"date" db:"date"`
	IndexValue       float64   `json:"index_value" db:"index_value"`
	DailyReturn      *float64  `json:"daily_return" db:"daily_return"`
	ConstituentCount int       `json:"constituent_count" db:"constituent_count"`
	BaseDate         time.Time `json:"base_date" db:"base_date"`
}
