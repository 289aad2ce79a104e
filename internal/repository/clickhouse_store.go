package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/domain/repository"
	"RSIndex/pkg/clickhouse"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/util"
)

// ClickHouseStore keeps derived rows in ReplacingMergeTree tables and reads them back
// with FINAL, so re-inserting a key behaves as an upsert.
type ClickHouseStore struct {
	client  *clickhouse.Client
	db      *sql.DB
	tables  Tables
	batch   int
	timeout time.Duration
	log     *logger.Logger
}

func NewClickHouseStore(client *clickhouse.Client, tables Tables, batch int, timeout time.Duration, log *logger.Logger) *ClickHouseStore {
	if batch <= 0 {
		batch = 2000
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &ClickHouseStore{
		client:  client,
		db:      client.DB(),
		tables:  tables,
		batch:   batch,
		timeout: timeout,
		log:     log.With(logger.String("store", "clickhouse")),
	}
}

var _ repository.Store = (*ClickHouseStore)(nil)

// Schema returns the DDL for every table the store reads or writes.
func (s *ClickHouseStore) Schema() []string {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			code String,
			date Date,
			close Nullable(Decimal(18, 4)),
			trading_value Nullable(Decimal(24, 2))
		) ENGINE = ReplacingMergeTree ORDER BY (date, code)`, s.tables.Prices),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			date Date,
			code String,
			score_weighted Nullable(Float64),
			rank_weighted Int32,
			score_3m Nullable(Float64),
			rank_3m Int32,
			score_6m Nullable(Float64),
			rank_6m Int32,
			score_12m Nullable(Float64),
			rank_12m Int32,
			updated_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(updated_at) ORDER BY (date, code)`, s.tables.Rankings),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			index_type String,
			index_code String,
			rebalance_date Date,
			code String,
			rank_in_universe Int32,
			universe_count Int32,
			avg_trading_value_60 Decimal(38, 4)
		) ENGINE = MergeTree ORDER BY (index_type, index_code, rebalance_date, code)`, s.tables.Constituents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			index_type String,
			index_code String,
			index_name String,
			date Date,
			index_value Float64,
			daily_return Nullable(Float64),
			constituent_count Int32,
			base_date Date,
			updated_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(updated_at) ORDER BY (index_type, index_code, date)`, s.tables.Indices),
	}
	for _, gt := range s.tables.Groups {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (id Int64, code String, name String)
				ENGINE = ReplacingMergeTree ORDER BY id`, gt.Catalog),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s Int64, company_code String)
				ENGINE = ReplacingMergeTree ORDER BY (%s, company_code)`, gt.Members, gt.IDColumn, gt.IDColumn),
		)
	}
	return stmts
}

func (s *ClickHouseStore) Migrate(ctx context.Context) error {
	return s.client.InitSchema(ctx, s.Schema())
}

func (s *ClickHouseStore) GetPrices(ctx context.Context, q models.PriceQuery) ([]models.PricePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := chWhere{}
	w.dateRange("date", q.From, q.To)
	if len(q.InstrumentIDs) > 0 {
		w.add("has(?, code)", q.InstrumentIDs)
	}
	// Decimals travel as strings so NULL and scale survive database/sql scanning.
	query := fmt.Sprintf(`SELECT code, date, toString(close), toString(trading_value) FROM %s FINAL%s ORDER BY date, code`,
		s.tables.Prices, w.sql())

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	defer rows.Close()

	var out []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.InstrumentID, &p.Date, &p.Close, &p.TradingValue); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		p.Date = util.DateOf(p.Date)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := chWhere{}
	w.dateRange("date", from, to)
	query := fmt.Sprintf(`SELECT DISTINCT date FROM %s%s ORDER BY date`, s.tables.Prices, w.sql())

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("trading dates: %w", err)
	}
	defer rows.Close()

	var dates []time.Time
	for rows.Next() {
		var d time.Time
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("scan date: %w", err)
		}
		dates = append(dates, util.DateOf(d))
	}
	return dates, rows.Err()
}

func (s *ClickHouseStore) GroupMembership(ctx context.Context, kind string) ([]models.GroupMembership, error) {
	gt, ok := s.tables.Groups[kind]
	if !ok {
		return nil, fmt.Errorf("group kind %q: %w", kind, models.ErrNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT g.code, g.name, m.company_code
		FROM %s AS m FINAL INNER JOIN %s AS g FINAL ON g.id = m.%s
		ORDER BY g.code, m.company_code`, gt.Members, gt.Catalog, gt.IDColumn)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("group membership %s: %w", kind, err)
	}
	defer rows.Close()

	var out []models.GroupMembership
	for rows.Next() {
		m := models.GroupMembership{GroupKind: kind}
		if err := rows.Scan(&m.GroupCode, &m.GroupName, &m.InstrumentID); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) UpsertMomentumScores(ctx context.Context, rows []models.MomentumScore) error {
	query := insertQuery(s.tables.Rankings, rankingColumns)
	for _, chunk := range util.Chunk(rows, s.batch) {
		batch := make([][]any, len(chunk))
		for i, r := range chunk {
			batch[i] = rankingArgs(r)
		}
		if err := s.insert(ctx, query, batch); err != nil {
			return fmt.Errorf("upsert rankings: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) ListMomentumScores(ctx context.Context, q models.RankingQuery) ([]models.MomentumScore, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := chWhere{}
	if !q.Date.IsZero() {
		w.add("date = ?", util.DateOf(q.Date))
	}
	if q.InstrumentID != "" {
		w.add("code = ?", q.InstrumentID)
	}
	w.dateRange("date", q.From, q.To)
	if q.MinRank > 0 {
		w.add("rank_weighted >= ?", q.MinRank)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s FINAL%s ORDER BY date, rank_weighted DESC, code`,
		strings.Join(rankingColumns, ", "), s.tables.Rankings, w.sql())
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	defer rows.Close()

	var out []models.MomentumScore
	for rows.Next() {
		var r models.MomentumScore
		if err := rows.Scan(&r.Date, &r.InstrumentID, &r.Score, &r.Rank, &r.Return3M, &r.Rank3M,
			&r.Return6M, &r.Rank6M, &r.Return12M, &r.Rank12M); err != nil {
			return nil, fmt.Errorf("scan ranking: %w", err)
		}
		r.Date = util.DateOf(r.Date)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) LatestRankingDate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var n uint64
	var d time.Time
	query := fmt.Sprintf(`SELECT count(), max(date) FROM %s`, s.tables.Rankings)
	if err := s.db.QueryRowContext(ctx, query).Scan(&n, &d); err != nil {
		return time.Time{}, fmt.Errorf("latest ranking date: %w", err)
	}
	if n == 0 {
		return time.Time{}, models.ErrNotFound
	}
	return util.DateOf(d), nil
}

// ReplaceConstituents drops the stored set with a lightweight delete, then inserts the new one.
func (s *ClickHouseStore) ReplaceConstituents(ctx context.Context, key models.IndexKey, rebalance time.Time, rows []models.Constituent) error {
	dctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	del := fmt.Sprintf(`DELETE FROM %s WHERE index_type = ? AND index_code = ? AND rebalance_date = ?`, s.tables.Constituents)
	if _, err := s.db.ExecContext(dctx, del, key.IndexType, key.IndexCode, util.DateOf(rebalance)); err != nil {
		return fmt.Errorf("delete constituents %s: %w", key, err)
	}

	query := insertQuery(s.tables.Constituents, constituentColumns)
	for _, chunk := range util.Chunk(rows, s.batch) {
		batch := make([][]any, len(chunk))
		for i, c := range chunk {
			batch[i] = constituentArgs(c)
		}
		if err := s.insert(ctx, query, batch); err != nil {
			return fmt.Errorf("insert constituents %s: %w", key, err)
		}
	}
	return nil
}

func (s *ClickHouseStore) ListConstituents(ctx context.Context, key models.IndexKey) ([]models.Constituent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT index_type, index_code, rebalance_date, code, rank_in_universe, universe_count,
		toString(avg_trading_value_60) FROM %s WHERE index_type = ? AND index_code = ?
		ORDER BY rebalance_date, rank_in_universe, code`, s.tables.Constituents)

	rows, err := s.db.QueryContext(ctx, query, key.IndexType, key.IndexCode)
	if err != nil {
		return nil, fmt.Errorf("list constituents %s: %w", key, err)
	}
	defer rows.Close()

	var out []models.Constituent
	for rows.Next() {
		var c models.Constituent
		if err := rows.Scan(&c.IndexType, &c.IndexCode, &c.RebalanceDate, &c.InstrumentID,
			&c.LiquidityRank, &c.UniverseSize, &c.AvgTradingValue); err != nil {
			return nil, fmt.Errorf("scan constituent: %w", err)
		}
		c.RebalanceDate = util.DateOf(c.RebalanceDate)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) ListIndexCodes(ctx context.Context, indexType string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT DISTINCT index_code FROM %s WHERE index_type = ? ORDER BY index_code`, s.tables.Constituents)
	rows, err := s.db.QueryContext(ctx, query, indexType)
	if err != nil {
		return nil, fmt.Errorf("list index codes %s: %w", indexType, err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func (s *ClickHouseStore) UpsertIndexPoints(ctx context.Context, rows []models.IndexPoint) error {
	query := insertQuery(s.tables.Indices, indexColumns)
	for _, chunk := range util.Chunk(rows, s.batch) {
		batch := make([][]any, len(chunk))
		for i, p := range chunk {
			batch[i] = indexArgs(p)
		}
		if err := s.insert(ctx, query, batch); err != nil {
			return fmt.Errorf("upsert index points: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseStore) ListIndexPoints(ctx context.Context, key models.IndexKey, from, to time.Time) ([]models.IndexPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := chWhere{}
	w.add("index_type = ?", key.IndexType)
	w.add("index_code = ?", key.IndexCode)
	w.dateRange("date", from, to)
	query := fmt.Sprintf(`SELECT %s FROM %s FINAL%s ORDER BY date`, strings.Join(indexColumns, ", "), s.tables.Indices, w.sql())

	rows, err := s.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list index points %s: %w", key, err)
	}
	defer rows.Close()

	var out []models.IndexPoint
	for rows.Next() {
		var p models.IndexPoint
		if err := rows.Scan(&p.IndexType, &p.IndexCode, &p.IndexName, &p.Date, &p.IndexValue,
			&p.DailyReturn, &p.ConstituentCount, &p.BaseDate); err != nil {
			return nil, fmt.Errorf("scan index point: %w", err)
		}
		p.Date = util.DateOf(p.Date)
		p.BaseDate = util.DateOf(p.BaseDate)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) Health(ctx context.Context) error { return s.client.Health(ctx) }

func (s *ClickHouseStore) Close() error { return s.client.Close() }

func (s *ClickHouseStore) insert(ctx context.Context, query string, rows [][]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.InsertBatch(ctx, query, rows)
}

func insertQuery(table string, cols []string) string {
	return fmt.Sprintf("INSERT INTO %s (%s)", table, strings.Join(cols, ", "))
}

type chWhere struct {
	clauses []string
	args    []any
}

func (w *chWhere) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *chWhere) dateRange(col string, from, to time.Time) {
	if !from.IsZero() {
		w.add(col+" >= ?", util.DateOf(from))
	}
	if !to.IsZero() {
		w.add(col+" <= ?", util.DateOf(to))
	}
}

func (w *chWhere) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
