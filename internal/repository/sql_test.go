package repository

import (
	"testing"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertValuesNumbersPlaceholders(t *testing.T) {
	query, args := insertValues(`"t"`, []string{"a", "b"}, 2, func(i int) []any { return []any{i, i * 10} })
	assert.Equal(t, `INSERT INTO "t" (a, b) VALUES ($1, $2), ($3, $4)`, query)
	assert.Equal(t, []any{0, 0, 1, 10}, args)
}

func TestPgWhere(t *testing.T) {
	w := newPgWhere()
	assert.Equal(t, "", w.sql())

	w.add("code = %s", "A")
	w.dateRange("date", day(1), time.Time{})
	assert.Equal(t, " WHERE code = $1 AND date >= $2", w.sql())
	assert.Equal(t, []any{"A", day(1)}, w.args)
}

func TestChWhere(t *testing.T) {
	w := chWhere{}
	w.dateRange("date", day(1), day(5))
	w.add("code = ?", "A")
	assert.Equal(t, " WHERE date >= ? AND date <= ? AND code = ?", w.sql())
	assert.Len(t, w.args, 3)
}

func TestRowArgsFollowColumnOrder(t *testing.T) {
	assert.Len(t, rankingArgs(models.MomentumScore{}), len(rankingColumns))
	assert.Len(t, constituentArgs(models.Constituent{}), len(constituentColumns))
	assert.Len(t, indexArgs(models.IndexPoint{}), len(indexColumns))
}

func TestClickHouseSchemaCoversGroups(t *testing.T) {
	cfg := config.Default()
	s := &ClickHouseStore{tables: TablesFromConfig(cfg.Store.Tables)}
	stmts := s.Schema()
	require.Len(t, stmts, 4+2*len(cfg.Store.Tables.Groups))
	assert.Contains(t, stmts[1], "ReplacingMergeTree(updated_at)")
	assert.Contains(t, stmts[1], cfg.Store.Tables.Rankings)
}
