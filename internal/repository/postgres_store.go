package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/domain/repository"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/postgres"
	"RSIndex/pkg/util"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore reads prices and writes derived rows with sqlx over lib/pq.
type PostgresStore struct {
	client  *postgres.Client
	db      *sqlx.DB
	tables  Tables
	batch   int
	timeout time.Duration
	log     *logger.Logger
}

func NewPostgresStore(client *postgres.Client, tables Tables, batch int, log *logger.Logger) *PostgresStore {
	if batch <= 0 {
		batch = 500
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PostgresStore{
		client:  client,
		db:      client.DB(),
		tables:  tables,
		batch:   batch,
		timeout: client.Timeout(),
		log:     log.With(logger.String("store", "postgres")),
	}
}

var _ repository.Store = (*PostgresStore)(nil)

func (s *PostgresStore) GetPrices(ctx context.Context, q models.PriceQuery) ([]models.PricePoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := newPgWhere()
	w.dateRange("date", q.From, q.To)
	if len(q.InstrumentIDs) > 0 {
		w.add("code = ANY(%s)", pq.Array(q.InstrumentIDs))
	}
	query := fmt.Sprintf(`SELECT code, date, close, trading_value FROM %s%s ORDER BY date, code`,
		pq.QuoteIdentifier(s.tables.Prices), w.sql())

	var rows []models.PricePoint
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	for i := range rows {
		rows[i].Date = util.DateOf(rows[i].Date)
	}
	return rows, nil
}

func (s *PostgresStore) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := newPgWhere()
	w.dateRange("date", from, to)
	query := fmt.Sprintf(`SELECT DISTINCT date FROM %s%s ORDER BY date`, pq.QuoteIdentifier(s.tables.Prices), w.sql())

	var dates []time.Time
	if err := s.db.SelectContext(ctx, &dates, query, w.args...); err != nil {
		return nil, fmt.Errorf("trading dates: %w", err)
	}
	for i := range dates {
		dates[i] = util.DateOf(dates[i])
	}
	return dates, nil
}

func (s *PostgresStore) GroupMembership(ctx context.Context, kind string) ([]models.GroupMembership, error) {
	gt, ok := s.tables.Groups[kind]
	if !ok {
		return nil, fmt.Errorf("group kind %q: %w", kind, models.ErrNotFound)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT g.code AS group_code, g.name AS group_name, m.company_code AS code
		FROM %s m JOIN %s g ON g.id = m.%s
		ORDER BY g.code, m.company_code`,
		pq.QuoteIdentifier(gt.Members), pq.QuoteIdentifier(gt.Catalog), pq.QuoteIdentifier(gt.IDColumn))

	var rows []models.GroupMembership
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("group membership %s: %w", kind, err)
	}
	for i := range rows {
		rows[i].GroupKind = kind
	}
	return rows, nil
}

func (s *PostgresStore) UpsertMomentumScores(ctx context.Context, rows []models.MomentumScore) error {
	return s.upsert(ctx, s.tables.Rankings, rankingColumns, []string{"date", "code"}, len(rows), func(i int) []any {
		return rankingArgs(rows[i])
	})
}

func (s *PostgresStore) ListMomentumScores(ctx context.Context, q models.RankingQuery) ([]models.MomentumScore, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := newPgWhere()
	if !q.Date.IsZero() {
		w.add("date = %s", util.DateOf(q.Date))
	}
	if q.InstrumentID != "" {
		w.add("code = %s", q.InstrumentID)
	}
	w.dateRange("date", q.From, q.To)
	if q.MinRank > 0 {
		w.add("rank_weighted >= %s", q.MinRank)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY date, rank_weighted DESC, code`,
		strings.Join(rankingColumns, ", "), pq.QuoteIdentifier(s.tables.Rankings), w.sql())
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	var rows []models.MomentumScore
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	return rows, nil
}

func (s *PostgresStore) LatestRankingDate(ctx context.Context) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var d sql.NullTime
	query := fmt.Sprintf(`SELECT MAX(date) FROM %s`, pq.QuoteIdentifier(s.tables.Rankings))
	if err := s.db.GetContext(ctx, &d, query); err != nil {
		return time.Time{}, fmt.Errorf("latest ranking date: %w", err)
	}
	if !d.Valid {
		return time.Time{}, models.ErrNotFound
	}
	return util.DateOf(d.Time), nil
}

// ReplaceConstituents deletes and reinserts the set in one transaction.
func (s *PostgresStore) ReplaceConstituents(ctx context.Context, key models.IndexKey, rebalance time.Time, rows []models.Constituent) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	table := pq.QuoteIdentifier(s.tables.Constituents)
	return s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		del := fmt.Sprintf(`DELETE FROM %s WHERE index_type = $1 AND index_code = $2 AND rebalance_date = $3`, table)
		if _, err := tx.ExecContext(ctx, del, key.IndexType, key.IndexCode, util.DateOf(rebalance)); err != nil {
			return fmt.Errorf("delete constituents %s: %w", key, err)
		}
		for start := 0; start < len(rows); start += s.batch {
			end := min(start+s.batch, len(rows))
			query, args := insertValues(table, constituentColumns, end-start, func(i int) []any {
				return constituentArgs(rows[start+i])
			})
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("insert constituents %s: %w", key, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) ListConstituents(ctx context.Context, key models.IndexKey) ([]models.Constituent, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE index_type = $1 AND index_code = $2
		ORDER BY rebalance_date, rank_in_universe, code`,
		strings.Join(constituentColumns, ", "), pq.QuoteIdentifier(s.tables.Constituents))

	var rows []models.Constituent
	if err := s.db.SelectContext(ctx, &rows, query, key.IndexType, key.IndexCode); err != nil {
		return nil, fmt.Errorf("list constituents %s: %w", key, err)
	}
	for i := range rows {
		rows[i].RebalanceDate = util.DateOf(rows[i].RebalanceDate)
	}
	return rows, nil
}

func (s *PostgresStore) ListIndexCodes(ctx context.Context, indexType string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT DISTINCT index_code FROM %s WHERE index_type = $1 ORDER BY index_code`,
		pq.QuoteIdentifier(s.tables.Constituents))
	var codes []string
	if err := s.db.SelectContext(ctx, &codes, query, indexType); err != nil {
		return nil, fmt.Errorf("list index codes %s: %w", indexType, err)
	}
	return codes, nil
}

func (s *PostgresStore) UpsertIndexPoints(ctx context.Context, rows []models.IndexPoint) error {
	return s.upsert(ctx, s.tables.Indices, indexColumns, []string{"index_type", "index_code", "date"}, len(rows), func(i int) []any {
		return indexArgs(rows[i])
	})
}

func (s *PostgresStore) ListIndexPoints(ctx context.Context, key models.IndexKey, from, to time.Time) ([]models.IndexPoint, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := newPgWhere()
	w.add("index_type = %s", key.IndexType)
	w.add("index_code = %s", key.IndexCode)
	w.dateRange("date", from, to)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY date`,
		strings.Join(indexColumns, ", "), pq.QuoteIdentifier(s.tables.Indices), w.sql())

	var rows []models.IndexPoint
	if err := s.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, fmt.Errorf("list index points %s: %w", key, err)
	}
	return rows, nil
}

func (s *PostgresStore) Health(ctx context.Context) error { return s.client.Health(ctx) }

func (s *PostgresStore) Close() error { return s.client.Close() }

// upsert writes n rows in batches with ON CONFLICT DO UPDATE on the natural key.
func (s *PostgresStore) upsert(ctx context.Context, table string, cols, conflict []string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout*time.Duration(n/s.batch+1))
	defer cancel()

	key := make(map[string]bool, len(conflict))
	for _, c := range conflict {
		key[c] = true
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		if !key[c] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	suffix := fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", strings.Join(conflict, ", "), strings.Join(sets, ", "))
	quoted := pq.QuoteIdentifier(table)

	return s.client.WithTx(ctx, func(tx *sqlx.Tx) error {
		for start := 0; start < n; start += s.batch {
			end := min(start+s.batch, n)
			query, values := insertValues(quoted, cols, end-start, func(i int) []any { return args(start + i) })
			if _, err := tx.ExecContext(ctx, query+suffix, values...); err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					s.log.Warn("upsert timed out", logger.String("table", table), logger.Int("rows", n))
				}
				return fmt.Errorf("upsert %s: %w", table, err)
			}
		}
		return nil
	})
}

// insertValues builds a multi-row INSERT with $n placeholders.
func insertValues(table string, cols []string, n int, args func(i int) []any) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(cols, ", "))
	values := make([]any, 0, n*len(cols))
	p := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteByte(')')
		values = append(values, args(i)...)
	}
	return b.String(), values
}

// pgWhere accumulates AND-ed predicates with positional placeholders.
type pgWhere struct {
	clauses []string
	args    []any
}

func newPgWhere() *pgWhere { return &pgWhere{} }

// add appends a predicate whose single %s is replaced by the next placeholder.
func (w *pgWhere) add(format string, arg any) {
	w.args = append(w.args, arg)
	w.clauses = append(w.clauses, fmt.Sprintf(format, fmt.Sprintf("$%d", len(w.args))))
}

func (w *pgWhere) dateRange(col string, from, to time.Time) {
	if !from.IsZero() {
		w.add(col+" >= %s", util.DateOf(from))
	}
	if !to.IsZero() {
		w.add(col+" <= %s", util.DateOf(to))
	}
}

func (w *pgWhere) sql() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}

// Migrate creates the derived tables. The price and group tables belong to the loader.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			date DATE NOT NULL,
			code TEXT NOT NULL,
			score_weighted DOUBLE PRECISION,
			rank_weighted SMALLINT NOT NULL DEFAULT 0,
			score_3m DOUBLE PRECISION,
			rank_3m SMALLINT NOT NULL DEFAULT 0,
			score_6m DOUBLE PRECISION,
			rank_6m SMALLINT NOT NULL DEFAULT 0,
			score_12m DOUBLE PRECISION,
			rank_12m SMALLINT NOT NULL DEFAULT 0,
			PRIMARY KEY (date, code)
		)`, pq.QuoteIdentifier(s.tables.Rankings)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			index_type TEXT NOT NULL,
			index_code TEXT NOT NULL,
			rebalance_date DATE NOT NULL,
			code TEXT NOT NULL,
			rank_in_universe INTEGER NOT NULL,
			universe_count INTEGER NOT NULL,
			avg_trading_value_60 NUMERIC NOT NULL,
			PRIMARY KEY (index_type, index_code, rebalance_date, code)
		)`, pq.QuoteIdentifier(s.tables.Constituents)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			index_type TEXT NOT NULL,
			index_code TEXT NOT NULL,
			index_name TEXT NOT NULL,
			date DATE NOT NULL,
			index_value DOUBLE PRECISION NOT NULL,
			daily_return DOUBLE PRECISION,
			constituent_count INTEGER NOT NULL,
			base_date DATE NOT NULL,
			PRIMARY KEY (index_type, index_code, date)
		)`, pq.QuoteIdentifier(s.tables.Indices)),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
