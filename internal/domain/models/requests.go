package models

// HTTP request payloads, bound with echo and checked with validator.

type RankingsRequest struct {
	Date    string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
	MinRank int    `query:"min_rank" json:"min_rank" validate:"gte=0,lte=99"`
	Limit   int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type InstrumentRankingsRequest struct {
	Instrument string `param:"instrument" validate:"required"`
	From       string `query:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To         string `query:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
}

type ConstituentsRequest struct {
	IndexType     string `param:"type" validate:"required"`
	IndexCode     string `param:"code" validate:"required"`
	RebalanceDate string `query:"rebalance_date" json:"rebalance_date" validate:"omitempty,datetime=2006-01-02"`
}

type IndexSeriesRequest struct {
	IndexType string `param:"type" validate:"required"`
	IndexCode string `param:"code" validate:"required"`
	From      string `query:"from" json:"from" validate:"omitempty,datetime=2006-01-02"`
	To        string `query:"to" json:"to" validate:"omitempty,datetime=2006-01-02"`
}

type LiquidityRequest struct {
	Date  string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
	Limit int    `query:"limit" json:"limit" default:"100" validate:"gte=1,lte=5000"`
}

type MomentumJobRequest struct {
	From string `json:"from" validate:"required,datetime=2006-01-02"`
	To   string `json:"to" validate:"omitempty,datetime=2006-01-02"`
}

type IndexJobRequest struct {
	IndexType string `json:"index_type"`
	IndexCode string `json:"index_code"`
}

// JobAccepted is returned by job trigger endpoints.
type JobAccepted struct {
	JobID  string `json:"job_id"`
	Type   string `json:"type"`
	Queued bool   `json:"queued"`
	Rows   int    `json:"rows,omitempty"`
}
