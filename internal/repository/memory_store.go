package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/domain/repository"
	"RSIndex/pkg/util"
)

type priceKey struct {
	id   string
	date time.Time
}

type indexDateKey struct {
	key  models.IndexKey
	date time.Time
}

// MemoryStore keeps every table in process memory. It backs the "memory" store backend
// and the use case tests.
type MemoryStore struct {
	mu           sync.RWMutex
	prices       map[priceKey]models.PricePoint
	groups       map[string][]models.GroupMembership
	rankings     map[priceKey]models.MomentumScore
	constituents map[models.IndexKey]map[time.Time][]models.Constituent
	points       map[indexDateKey]models.IndexPoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prices:       make(map[priceKey]models.PricePoint),
		groups:       make(map[string][]models.GroupMembership),
		rankings:     make(map[priceKey]models.MomentumScore),
		constituents: make(map[models.IndexKey]map[time.Time][]models.Constituent),
		points:       make(map[indexDateKey]models.IndexPoint),
	}
}

var _ repository.Store = (*MemoryStore)(nil)

// PutPrices upserts price rows on (instrument, date).
func (s *MemoryStore) PutPrices(rows ...models.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Date = util.DateOf(r.Date)
		s.prices[priceKey{r.InstrumentID, r.Date}] = r
	}
}

// SetGroupMembership replaces the membership table of kind.
func (s *MemoryStore) SetGroupMembership(kind string, rows []models.GroupMembership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[kind] = append([]models.GroupMembership(nil), rows...)
}

func (s *MemoryStore) GetPrices(_ context.Context, q models.PriceQuery) ([]models.PricePoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[string]struct{}
	if len(q.InstrumentIDs) > 0 {
		ids = make(map[string]struct{}, len(q.InstrumentIDs))
		for _, id := range q.InstrumentIDs {
			ids[id] = struct{}{}
		}
	}
	out := make([]models.PricePoint, 0, len(s.prices))
	for k, p := range s.prices {
		if ids != nil {
			if _, ok := ids[k.id]; !ok {
				continue
			}
		}
		if q.Contains(k.date) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].InstrumentID < out[j].InstrumentID
	})
	return out, nil
}

func (s *MemoryStore) TradingDates(_ context.Context, from, to time.Time) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	q := models.PriceQuery{From: from, To: to}
	seen := make(map[time.Time]struct{})
	for k := range s.prices {
		if q.Contains(k.date) {
			seen[k.date] = struct{}{}
		}
	}
	out := make([]time.Time, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *MemoryStore) GroupMembership(_ context.Context, kind string) ([]models.GroupMembership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.GroupMembership(nil), s.groups[kind]...), nil
}

func (s *MemoryStore) UpsertMomentumScores(_ context.Context, rows []models.MomentumScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Date = util.DateOf(r.Date)
		s.rankings[priceKey{r.InstrumentID, r.Date}] = r
	}
	return nil
}

func (s *MemoryStore) ListMomentumScores(_ context.Context, q models.RankingQuery) ([]models.MomentumScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.MomentumScore
	for k, r := range s.rankings {
		if !q.Date.IsZero() && !k.date.Equal(util.DateOf(q.Date)) {
			continue
		}
		if q.InstrumentID != "" && k.id != q.InstrumentID {
			continue
		}
		if !(models.PriceQuery{From: q.From, To: q.To}).Contains(k.date) {
			continue
		}
		if q.MinRank > 0 && r.Rank < q.MinRank {
			continue
		}
		out = append(out, r)
	}
	SortRankings(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// SortRankings orders a single date by rank descending and a history by date ascending.
func SortRankings(rows []models.MomentumScore) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Rank != b.Rank {
			return a.Rank > b.Rank
		}
		return a.InstrumentID < b.InstrumentID
	})
}

func (s *MemoryStore) LatestRankingDate(context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest time.Time
	for k := range s.rankings {
		if k.date.After(latest) {
			latest = k.date
		}
	}
	if latest.IsZero() {
		return time.Time{}, models.ErrNotFound
	}
	return latest, nil
}

func (s *MemoryStore) ReplaceConstituents(_ context.Context, key models.IndexKey, rebalance time.Time, rows []models.Constituent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rebalance = util.DateOf(rebalance)
	byDate, ok := s.constituents[key]
	if len(rows) == 0 {
		if ok {
			delete(byDate, rebalance)
			if len(byDate) == 0 {
				delete(s.constituents, key)
			}
		}
		return nil
	}
	if !ok {
		byDate = make(map[time.Time][]models.Constituent)
		s.constituents[key] = byDate
	}
	byDate[rebalance] = append([]models.Constituent(nil), rows...)
	return nil
}

func (s *MemoryStore) ListConstituents(_ context.Context, key models.IndexKey) ([]models.Constituent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Constituent
	for _, rows := range s.constituents[key] {
		out = append(out, rows...)
	}
	SortConstituents(out)
	return out, nil
}

// SortConstituents orders by rebalance date, then liquidity rank.
func SortConstituents(rows []models.Constituent) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].RebalanceDate.Equal(rows[j].RebalanceDate) {
			return rows[i].RebalanceDate.Before(rows[j].RebalanceDate)
		}
		if rows[i].LiquidityRank != rows[j].LiquidityRank {
			return rows[i].LiquidityRank < rows[j].LiquidityRank
		}
		return rows[i].InstrumentID < rows[j].InstrumentID
	})
}

func (s *MemoryStore) ListIndexCodes(_ context.Context, indexType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for key, byDate := range s.constituents {
		if key.IndexType == indexType && len(byDate) > 0 {
			out = append(out, key.IndexCode)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) UpsertIndexPoints(_ context.Context, rows []models.IndexPoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		r.Date = util.DateOf(r.Date)
		key := models.IndexKey{IndexType: r.IndexType, IndexCode: r.IndexCode}
		s.points[indexDateKey{key, r.Date}] = r
	}
	return nil
}

func (s *MemoryStore) ListIndexPoints(_ context.Context, key models.IndexKey, from, to time.Time) ([]models.IndexPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := models.PriceQuery{From: from, To: to}
	var out []models.IndexPoint
	for k, p := range s.points {
		if k.key == key && q.Contains(k.date) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *MemoryStore) Health(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
