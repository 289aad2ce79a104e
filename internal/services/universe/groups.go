package universe

import (
	"sort"

	"RSIndex/internal/domain/models"
)

// GroupSet is the projected constituent set of one group on one rebalance date.
type GroupSet struct {
	Key  models.IndexKey
	Name string
	Rows []models.Constituent
}

// Project restricts parent, one rebalance date's constituents, to each group in members and
// re-ranks the survivors by the parent's recorded average trading value. Groups that share
// no instrument with parent are returned in empty, sorted.
func Project(parent []models.Constituent, kind string, members []models.GroupMembership) (sets []GroupSet, empty []string) {
	type group struct {
		name string
		ids  map[string]struct{}
	}
	groups := make(map[string]*group)
	for _, m := range members {
		if m.GroupKind != "" && m.GroupKind != kind {
			continue
		}
		g, ok := groups[m.GroupCode]
		if !ok {
			g = &group{name: m.GroupName, ids: make(map[string]struct{})}
			groups[m.GroupCode] = g
		}
		g.ids[m.InstrumentID] = struct{}{}
	}

	codes := make([]string, 0, len(groups))
	for code := range groups {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		g := groups[code]
		var rows []models.Constituent
		for _, c := range parent {
			if _, in := g.ids[c.InstrumentID]; in {
				rows = append(rows, c)
			}
		}
		if len(rows) == 0 {
			empty = append(empty, code)
			continue
		}

		sort.SliceStable(rows, func(i, j int) bool {
			if c := rows[i].AvgTradingValue.Cmp(rows[j].AvgTradingValue); c != 0 {
				return c > 0
			}
			return rows[i].InstrumentID < rows[j].InstrumentID
		})
		for i := range rows {
			rows[i].IndexType = kind
			rows[i].IndexCode = code
			rows[i].LiquidityRank = i + 1
			rows[i].UniverseSize = len(rows)
		}
		sets = append(sets, GroupSet{
			Key:  models.IndexKey{IndexType: kind, IndexCode: code},
			Name: g.name,
			Rows: rows,
		})
	}
	return sets, empty
}
