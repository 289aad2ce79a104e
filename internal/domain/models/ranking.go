package models

import "time"

// MomentumScore is one instrument's Relative Strength row for a date.
// Nil scores are undefined (short history or a zero denominator); their ranks are 0.
type MomentumScore struct {
	InstrumentID string    `json:"code" db:"code"`
	Date         time.Time `json:"date" db:"date"`
	Score        *float64  `json:"score_weighted" db:"score_weighted"`
	Rank         int       `json:"rank_weighted" db:"rank_weighted"`
	Return3M     *float64  `json:"score_3m" db:"score_3m"`
	Rank3M       int       `json:"rank_3m" db:"rank_3m"`
	Return6M     *float64  `json:"score_6m" db:"score_6m"`
	Rank6M       int       `json:"rank_6m" db:"rank_6m"`
	Return12M    *float64  `json:"score_12m" db:"score_12m"`
	Rank12M      int       `json:"rank_12m" db:"rank_12m"`
}

// RankingQuery filters stored rankings. Either Date or InstrumentID is normally set.
type RankingQuery struct {
	Date         time.Time
	InstrumentID string
	From         time.Time
	To           time.Time
	MinRank      int
	Limit        int
}

// LiquidityRank is a date's percentile of an instrument's average trading value.
type LiquidityRank struct {
	InstrumentID    string    `json:"code"`
	Date            time.Time `json:"date"`
	AvgTradingValue string    `json:"avg_trading_value"`
	Rank            int       `json:"rank"`
}
