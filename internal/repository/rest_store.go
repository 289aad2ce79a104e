package repository

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/domain/repository"
	httpx "RSIndex/pkg/http"
	"RSIndex/pkg/logger"
	"RSIndex/pkg/util"

	"github.com/shopspring/decimal"
)

// RESTStore talks to a PostgREST table API. Reads page with offset/limit until a short
// page; writes POST with merge-duplicates resolution on the table's natural key.
type RESTStore struct {
	client   *httpx.Client
	baseURL  string
	tables   Tables
	pageSize int
	batch    int
	log      *logger.Logger
}

func NewRESTStore(baseURL, apiKey string, timeout time.Duration, tables Tables, pageSize, batch int, log *logger.Logger) *RESTStore {
	if pageSize <= 0 {
		pageSize = 1000
	}
	if batch <= 0 {
		batch = 500
	}
	if log == nil {
		log = logger.Nop()
	}
	client := httpx.NewClient(
		httpx.WithTimeout(timeout),
		httpx.WithHeader("apikey", apiKey),
		httpx.WithHeader("Authorization", "Bearer "+apiKey),
	)
	return &RESTStore{
		client:   client,
		baseURL:  strings.TrimRight(baseURL, "/"),
		tables:   tables,
		pageSize: pageSize,
		batch:    batch,
		log:      log.With(logger.String("store", "rest")),
	}
}

var _ repository.Store = (*RESTStore)(nil)

// idFilterSize caps the ids sent in one in.(...) filter.
const idFilterSize = 50

type restPrice struct {
	Code         string              `json:"code"`
	Date         string              `json:"date"`
	Close        decimal.NullDecimal `json:"close"`
	TradingValue decimal.NullDecimal `json:"trading_value"`
}

type restRanking struct {
	Date      string   `json:"date"`
	Code      string   `json:"code"`
	Score     *float64 `json:"score_weighted"`
	Rank      int      `json:"rank_weighted"`
	Return3M  *float64 `json:"score_3m"`
	Rank3M    int      `json:"rank_3m"`
	Return6M  *float64 `json:"score_6m"`
	Rank6M    int      `json:"rank_6m"`
	Return12M *float64 `json:"score_12m"`
	Rank12M   int      `json:"rank_12m"`
}

type restConstituent struct {
	IndexType       string          `json:"index_type"`
	IndexCode       string          `json:"index_code"`
	RebalanceDate   string          `json:"rebalance_date"`
	Code            string          `json:"code"`
	RankInUniverse  int             `json:"rank_in_universe"`
	UniverseCount   int             `json:"universe_count"`
	AvgTradingValue decimal.Decimal `json:"avg_trading_value_60"`
}

type restIndexPoint struct {
	IndexType        string   `json:"index_type"`
	IndexCode        string   `json:"index_code"`
	IndexName        string   `json:"index_name"`
	Date             string   `json:"date"`
	IndexValue       float64  `json:"index_value"`
	DailyReturn      *float64 `json:"daily_return"`
	ConstituentCount int      `json:"constituent_count"`
	BaseDate         string   `json:"base_date"`
}

// GetPrices splits the instrument filter into groups of idFilterSize so that the
// query string stays within proxy URL limits.
func (s *RESTStore) GetPrices(ctx context.Context, q models.PriceQuery) ([]models.PricePoint, error) {
	if len(q.InstrumentIDs) == 0 {
		return s.getPrices(ctx, q, nil)
	}
	var out []models.PricePoint
	for _, ids := range util.Chunk(q.InstrumentIDs, idFilterSize) {
		page, err := s.getPrices(ctx, q, ids)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	return out, nil
}

func (s *RESTStore) getPrices(ctx context.Context, q models.PriceQuery, ids []string) ([]models.PricePoint, error) {
	params := url.Values{}
	params.Set("select", "code,date,close,trading_value")
	params.Set("order", "date.asc,code.asc")
	addDateRange(params, "date", q.From, q.To)
	if len(ids) > 0 {
		params.Set("code", "in.("+strings.Join(ids, ",")+")")
	}

	var out []models.PricePoint
	err := s.paginate(ctx, s.tables.Prices, params, func(ctx context.Context, p url.Values) (int, error) {
		var page []restPrice
		if err := s.get(ctx, s.tables.Prices, p, &page); err != nil {
			return 0, err
		}
		for _, r := range page {
			d, err := util.ParseDate(r.Date)
			if err != nil {
				return 0, fmt.Errorf("%w: price row %s: %v", models.ErrUpstreamData, r.Code, err)
			}
			out = append(out, models.PricePoint{InstrumentID: r.Code, Date: d, Close: r.Close, TradingValue: r.TradingValue})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("get prices: %w", err)
	}
	return out, nil
}

// TradingDates pages over the date column only and collapses duplicates.
func (s *RESTStore) TradingDates(ctx context.Context, from, to time.Time) ([]time.Time, error) {
	params := url.Values{}
	params.Set("select", "date")
	params.Set("order", "date.asc")
	addDateRange(params, "date", from, to)

	var dates []time.Time
	err := s.paginate(ctx, s.tables.Prices, params, func(ctx context.Context, p url.Values) (int, error) {
		var page []struct {
			Date string `json:"date"`
		}
		if err := s.get(ctx, s.tables.Prices, p, &page); err != nil {
			return 0, err
		}
		for _, r := range page {
			d, err := util.ParseDate(r.Date)
			if err != nil {
				return 0, fmt.Errorf("%w: %v", models.ErrUpstreamData, err)
			}
			if n := len(dates); n == 0 || !dates[n-1].Equal(d) {
				dates = append(dates, d)
			}
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("trading dates: %w", err)
	}
	return dates, nil
}

// GroupMembership reads the catalogue and the membership table and joins them by id.
func (s *RESTStore) GroupMembership(ctx context.Context, kind string) ([]models.GroupMembership, error) {
	gt, ok := s.tables.Groups[kind]
	if !ok {
		return nil, fmt.Errorf("group kind %q: %w", kind, models.ErrNotFound)
	}

	type catalogRow struct {
		ID   int64  `json:"id"`
		Code string `json:"code"`
		Name string `json:"name"`
	}
	catalog := make(map[int64]catalogRow)
	params := url.Values{"select": {"id,code,name"}, "order": {"id.asc"}}
	err := s.paginate(ctx, gt.Catalog, params, func(ctx context.Context, p url.Values) (int, error) {
		var page []catalogRow
		if err := s.get(ctx, gt.Catalog, p, &page); err != nil {
			return 0, err
		}
		for _, r := range page {
			catalog[r.ID] = r
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("group catalog %s: %w", kind, err)
	}

	var out []models.GroupMembership
	params = url.Values{"select": {gt.IDColumn + ",company_code"}, "order": {gt.IDColumn + ".asc,company_code.asc"}}
	err = s.paginate(ctx, gt.Members, params, func(ctx context.Context, p url.Values) (int, error) {
		var page []map[string]any
		if err := s.get(ctx, gt.Members, p, &page); err != nil {
			return 0, err
		}
		for _, r := range page {
			id, ok := asInt64(r[gt.IDColumn])
			if !ok {
				return 0, fmt.Errorf("%w: %s row with %s %v", models.ErrUpstreamData, gt.Members, gt.IDColumn, r[gt.IDColumn])
			}
			g, ok := catalog[id]
			if !ok {
				return 0, fmt.Errorf("%w: %s id %d not in %s", models.ErrUpstreamData, gt.Members, id, gt.Catalog)
			}
			code, ok := r["company_code"].(string)
			if !ok || code == "" {
				return 0, fmt.Errorf("%w: %s row for id %d has no company_code", models.ErrUpstreamData, gt.Members, id)
			}
			out = append(out, models.GroupMembership{GroupKind: kind, GroupCode: g.Code, GroupName: g.Name, InstrumentID: code})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("group members %s: %w", kind, err)
	}
	return out, nil
}

func (s *RESTStore) UpsertMomentumScores(ctx context.Context, rows []models.MomentumScore) error {
	wire := make([]restRanking, len(rows))
	for i, r := range rows {
		wire[i] = restRanking{
			Date: util.FormatDate(r.Date), Code: r.InstrumentID,
			Score: r.Score, Rank: r.Rank,
			Return3M: r.Return3M, Rank3M: r.Rank3M,
			Return6M: r.Return6M, Rank6M: r.Rank6M,
			Return12M: r.Return12M, Rank12M: r.Rank12M,
		}
	}
	for _, chunk := range util.Chunk(wire, s.batch) {
		if err := s.upsert(ctx, s.tables.Rankings, "date,code", chunk); err != nil {
			return fmt.Errorf("upsert rankings: %w", err)
		}
	}
	return nil
}

func (s *RESTStore) ListMomentumScores(ctx context.Context, q models.RankingQuery) ([]models.MomentumScore, error) {
	params := url.Values{}
	params.Set("select", strings.Join(rankingColumns, ","))
	params.Set("order", "date.asc,rank_weighted.desc,code.asc")
	if !q.Date.IsZero() {
		params.Add("date", "eq."+util.FormatDate(q.Date))
	}
	if q.InstrumentID != "" {
		params.Set("code", "eq."+q.InstrumentID)
	}
	addDateRange(params, "date", q.From, q.To)
	if q.MinRank > 0 {
		params.Set("rank_weighted", "gte."+strconv.Itoa(q.MinRank))
	}

	var out []models.MomentumScore
	err := s.paginate(ctx, s.tables.Rankings, params, func(ctx context.Context, p url.Values) (int, error) {
		var page []restRanking
		if err := s.get(ctx, s.tables.Rankings, p, &page); err != nil {
			return 0, err
		}
		for _, r := range page {
			d, err := util.ParseDate(r.Date)
			if err != nil {
				return 0, err
			}
			out = append(out, models.MomentumScore{
				InstrumentID: r.Code, Date: d,
				Score: r.Score, Rank: r.Rank,
				Return3M: r.Return3M, Rank3M: r.Rank3M,
				Return6M: r.Return6M, Rank6M: r.Rank6M,
				Return12M: r.Return12M, Rank12M: r.Rank12M,
			})
		}
		if q.Limit > 0 && len(out) >= q.Limit {
			return 0, nil
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rankings: %w", err)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *RESTStore) LatestRankingDate(ctx context.Context) (time.Time, error) {
	params := url.Values{"select": {"date"}, "order": {"date.desc"}, "limit": {"1"}}
	var page []struct {
		Date string `json:"date"`
	}
	if err := s.get(ctx, s.tables.Rankings, params, &page); err != nil {
		return time.Time{}, fmt.Errorf("latest ranking date: %w", err)
	}
	if len(page) == 0 {
		return time.Time{}, models.ErrNotFound
	}
	return util.ParseDate(page[0].Date)
}

// ReplaceConstituents deletes the stored set and posts the new one. PostgREST offers no
// multi-statement transaction, so a failure between the two leaves the set empty until
// the next rebuild.
func (s *RESTStore) ReplaceConstituents(ctx context.Context, key models.IndexKey, rebalance time.Time, rows []models.Constituent) error {
	params := url.Values{}
	params.Set("index_type", "eq."+key.IndexType)
	params.Set("index_code", "eq."+key.IndexCode)
	params.Set("rebalance_date", "eq."+util.FormatDate(rebalance))
	err := s.client.SendAndParse(ctx, &httpx.RequestOptions{
		Method:      httpx.MethodDelete,
		URL:         s.tableURL(s.tables.Constituents),
		QueryParams: params,
	}, nil)
	if err != nil {
		return fmt.Errorf("delete constituents %s: %w", key, err)
	}

	wire := make([]restConstituent, len(rows))
	for i, c := range rows {
		wire[i] = restConstituent{
			IndexType: c.IndexType, IndexCode: c.IndexCode,
			RebalanceDate: util.FormatDate(c.RebalanceDate), Code: c.InstrumentID,
			RankInUniverse: c.LiquidityRank, UniverseCount: c.UniverseSize,
			AvgTradingValue: c.AvgTradingValue,
		}
	}
	for _, chunk := range util.Chunk(wire, s.batch) {
		if err := s.upsert(ctx, s.tables.Constituents, "index_type,index_code,rebalance_date,code", chunk); err != nil {
			return fmt.Errorf("insert constituents %s: %w", key, err)
		}
	}
	return nil
}

func (s *RESTStore) ListConstituents(ctx context.Context, key models.IndexKey) ([]models.Constituent, error) {
	params := url.Values{}
	params.Set("select", strings.Join(constituentColumns, ","))
	params.Set("order", "rebalance_date.asc,rank_in_universe.asc,code.asc")
	params.Set("index_type", "eq."+key.IndexType)
	params.Set("index_code", "eq."+key.IndexCode)

	var out []models.Constituent
	err := s.paginate(ctx, s.tables.Constituents, params, func(ctx context.Context, p url.Values) (int, error) {
		var page []restConstituent
		if err := s.get(ctx, s.tables.Constituents, p, &page); err != nil {
			return 0, err
		}
		for _, r := range page {
			d, err := util.ParseDate(r.RebalanceDate)
			if err != nil {
				return 0, err
			}
			out = append(out, models.Constituent{
				IndexType: r.IndexType, IndexCode: r.IndexCode, RebalanceDate: d,
				InstrumentID: r.Code, LiquidityRank: r.RankInUniverse, UniverseSize: r.UniverseCount,
				AvgTradingValue: r.AvgTradingValue,
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list constituents %s: %w", key, err)
	}
	return out, nil
}

func (s *RESTStore) ListIndexCodes(ctx context.Context, indexType string) ([]string, error) {
	params := url.Values{}
	params.Set("select", "index_code")
	params.Set("order", "index_code.asc")
	params.Set("index_type", "eq."+indexType)

	var codes []string
	err := s.paginate(ctx, s.tables.Constituents, params, func(ctx context.Context, p url.Values) (int, error) {
		var page []struct {
			IndexCode string `json:"index_code"`
		}
		if err := s.get(ctx, s.tables.Constituents, p, &page); err != nil {
			return 0, err
		}
		for _, r := range page {
			if n := len(codes); n == 0 || codes[n-1] != r.IndexCode {
				codes = append(codes, r.IndexCode)
			}
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list index codes %s: %w", indexType, err)
	}
	return codes, nil
}

func (s *RESTStore) UpsertIndexPoints(ctx context.Context, rows []models.IndexPoint) error {
	wire := make([]restIndexPoint, len(rows))
	for i, p := range rows {
		wire[i] = restIndexPoint{
			IndexType: p.IndexType, IndexCode: p.IndexCode, IndexName: p.IndexName,
			Date: util.FormatDate(p.Date), IndexValue: p.IndexValue, DailyReturn: p.DailyReturn,
			ConstituentCount: p.ConstituentCount, BaseDate: util.FormatDate(p.BaseDate),
		}
	}
	for _, chunk := range util.Chunk(wire, s.batch) {
		if err := s.upsert(ctx, s.tables.Indices, "index_type,index_code,date", chunk); err != nil {
			return fmt.Errorf("upsert index points: %w", err)
		}
	}
	return nil
}

func (s *RESTStore) ListIndexPoints(ctx context.Context, key models.IndexKey, from, to time.Time) ([]models.IndexPoint, error) {
	params := url.Values{}
	params.Set("select", strings.Join(indexColumns, ","))
	params.Set("order", "date.asc")
	params.Set("index_type", "eq."+key.IndexType)
	params.Set("index_code", "eq."+key.IndexCode)
	addDateRange(params, "date", from, to)

	var out []models.IndexPoint
	err := s.paginate(ctx, s.tables.Indices, params, func(ctx context.Context, p url.Values) (int, error) {
		var page []restIndexPoint
		if err := s.get(ctx, s.tables.Indices, p, &page); err != nil {
			return 0, err
		}
		for _, r := range page {
			d, err := util.ParseDate(r.Date)
			if err != nil {
				return 0, err
			}
			base, _ := util.ParseDate(r.BaseDate)
			out = append(out, models.IndexPoint{
				IndexType: r.IndexType, IndexCode: r.IndexCode, IndexName: r.IndexName,
				Date: d, IndexValue: r.IndexValue, DailyReturn: r.DailyReturn,
				ConstituentCount: r.ConstituentCount, BaseDate: base,
			})
		}
		return len(page), nil
	})
	if err != nil {
		return nil, fmt.Errorf("list index points %s: %w", key, err)
	}
	return out, nil
}

func (s *RESTStore) Health(ctx context.Context) error {
	params := url.Values{"select": {"date"}, "limit": {"1"}}
	var page []map[string]any
	return s.get(ctx, s.tables.Prices, params, &page)
}

func (s *RESTStore) Close() error { return nil }

// paginate calls fetch with offset/limit set until it reports a short page.
func (s *RESTStore) paginate(ctx context.Context, table string, params url.Values, fetch func(context.Context, url.Values) (int, error)) error {
	for offset := 0; ; offset += s.pageSize {
		p := cloneValues(params)
		p.Set("offset", strconv.Itoa(offset))
		p.Set("limit", strconv.Itoa(s.pageSize))
		n, err := fetch(ctx, p)
		if err != nil {
			return err
		}
		if n < s.pageSize {
			return nil
		}
		s.log.Debug("rest page", logger.String("table", table), logger.Int("offset", offset))
	}
}

func (s *RESTStore) get(ctx context.Context, table string, params url.Values, dest any) error {
	return s.client.SendAndParse(ctx, &httpx.RequestOptions{
		Method:      httpx.MethodGet,
		URL:         s.tableURL(table),
		QueryParams: params,
	}, dest)
}

func (s *RESTStore) upsert(ctx context.Context, table, onConflict string, body any) error {
	return s.client.SendAndParse(ctx, &httpx.RequestOptions{
		Method:      httpx.MethodPost,
		URL:         s.tableURL(table),
		QueryParams: url.Values{"on_conflict": {onConflict}},
		Headers:     map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"},
		Body:        body,
	}, nil)
}

func (s *RESTStore) tableURL(table string) string {
	return s.baseURL + "/rest/v1/" + url.PathEscape(table)
}

func addDateRange(params url.Values, col string, from, to time.Time) {
	if !from.IsZero() {
		params.Add(col, "gte."+util.FormatDate(from))
	}
	if !to.IsZero() {
		params.Add(col, "lte."+util.FormatDate(to))
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}
