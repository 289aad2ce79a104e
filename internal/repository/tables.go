package repository

import (
	"RSIndex/internal/domain/models"
	"RSIndex/pkg/config"
)

// Tables names every table a SQL or REST backend reads and writes.
type Tables struct {
	Prices       string
	Rankings     string
	Constituents string
	Indices      string
	Groups       map[string]config.GroupTable
}

func TablesFromConfig(cfg config.TablesConfig) Tables {
	return Tables{
		Prices:       cfg.Prices,
		Rankings:     cfg.Rankings,
		Constituents: cfg.Constituents,
		Indices:      cfg.Indices,
		Groups:       cfg.Groups,
	}
}

var (
	rankingColumns     = []string{"date", "code", "score_weighted", "rank_weighted", "score_3m", "rank_3m", "score_6m", "rank_6m", "score_12m", "rank_12m"}
	constituentColumns = []string{"index_type", "index_code", "rebalance_date", "code", "rank_in_universe", "universe_count", "avg_trading_value_60"}
	indexColumns       = []string{"index_type", "index_code", "index_name", "date", "index_value", "daily_return", "constituent_count", "base_date"}
)

func rankingArgs(r models.MomentumScore) []any {
	return []any{r.Date, r.InstrumentID, r.Score, r.Rank, r.Return3M, r.Rank3M, r.Return6M, r.Rank6M, r.Return12M, r.Rank12M}
}

func constituentArgs(c models.Constituent) []any {
	return []any{c.IndexType, c.IndexCode, c.RebalanceDate, c.InstrumentID, c.LiquidityRank, c.UniverseSize, c.AvgTradingValue}
}

func indexArgs(p models.IndexPoint) []any {
	return []any{p.IndexType, p.IndexCode, p.IndexName, p.Date, p.IndexValue, p.DailyReturn, p.ConstituentCount, p.BaseDate}
}
