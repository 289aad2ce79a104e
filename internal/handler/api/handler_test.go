package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/internal/repository"
	"RSIndex/internal/service/ratelimit"
	"RSIndex/internal/services/indexing"
	"RSIndex/internal/services/momentum"
	"RSIndex/internal/services/universe"
	"RSIndex/internal/usecase"
	"RSIndex/pkg/logger"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type busyLocker struct{}

func (busyLocker) TryLock(context.Context, string, time.Duration) (bool, error) { return false, nil }
func (busyLocker) Unlock(context.Context, string) error { return nil }

var parent = models.IndexKey{IndexType: models.IndexTypeCustom, IndexCode: "EW"}

func day(n int) time.Time { return time.Date(2024, 3, n, 0, 0, 0, 0, time.UTC) }

func bar(id string, d time.Time, close float64) models.PricePoint {
	return models.PricePoint{
		InstrumentID: id,
		Date:         d,
		Close:        decimal.NewNullDecimal(decimal.NewFromFloat(close)),
		TradingValue: decimal.NewNullDecimal(decimal.NewFromInt(1000)),
	}
}

func newServer(t *testing.T, s *repository.MemoryStore, limiter *ratelimit.Limiter, busy bool) *echo.Echo {
	t.Helper()
	scorer, err := momentum.NewScorer([]int{1, 2}, []float64{0.5, 0.5}, momentum.Horizons{ThreeMonth: 1, SixMonth: 1, TwelveMonth: 2})
	require.NoError(t, err)
	sel, err := universe.NewSelector(2, 1)
	require.NoError(t, err)

	m := usecase.NewMomentumRanking(s, s, scorer, nil, nil, logger.Nop(), 100)
	c := usecase.NewConstituentBuilder(s, s, sel, usecase.ConstituentSettings{Key: parent, BaseDate: day(1), Frequency: universe.Monthly}, nil, nil, logger.Nop())
	settings := usecase.IndexSettings{Parent: parent, Parallelism: 1, LockTTL: time.Minute}
	var i *usecase.IndexBuilder
	if busy {
		i = usecase.NewIndexBuilder(s, s, s, indexing.NewCompounder(100), busyLocker{}, settings, nil, nil, logger.Nop())
	} else {
		i = usecase.NewIndexBuilder(s, s, s, indexing.NewCompounder(100), nil, settings, nil, nil, logger.Nop())
	}
	jobs := usecase.NewJobs(nil, m, c, i, logger.Nop())
	q := usecase.NewQueries(s, nil, 0, logger.Nop())

	e := echo.New()
	NewHandler(logger.Nop(), q, usecase.NewLiquidityRanker(s, sel), jobs, limiter).RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type listBody struct {
	Status int `json:"status"`
	Data   struct {
		Rows  json.RawMessage `json:"rows"`
		Total int             `json:"total"`
	} `json:"data"`
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) listBody {
	t.Helper()
	var out listBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRankingsEndpoint(t *testing.T) {
	s := repository.NewMemoryStore()
	e := newServer(t, s, nil, false)

	rec := do(e, http.MethodGet, "/api/rankings", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	hi, lo := 0.2, -0.1
	require.NoError(t, s.UpsertMomentumScores(context.Background(), []models.MomentumScore{
		{InstrumentID: "A", Date: day(4), Score: &hi, Rank: 99},
		{InstrumentID: "B", Date: day(4), Score: &lo, Rank: 50},
	}))

	rec = do(e, http.MethodGet, "/api/rankings?min_rank=60", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeList(t, rec)
	assert.Equal(t, 1, body.Data.Total)
	assert.Contains(t, string(body.Data.Rows), `"code":"A"`)
	assert.Equal(t, "public, max-age=60", rec.Header().Get(echo.HeaderCacheControl))

	rec = do(e, http.MethodGet, "/api/rankings/B", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeList(t, rec).Data.Total)
}

func TestRankingsRejectsBadQuery(t *testing.T) {
	e := newServer(t, repository.NewMemoryStore(), nil, false)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/rankings?date=03-04-2024", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/rankings?min_rank=120", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/indices/custom/EW?from=yesterday", "").Code)
}

func TestIndexSeriesAndConstituents(t *testing.T) {
	s := repository.NewMemoryStore()
	e := newServer(t, s, nil, false)
	ctx := context.Background()

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/indices/custom/EW", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/constituents/custom/EW", "").Code)

	require.NoError(t, s.UpsertIndexPoints(ctx, []models.IndexPoint{
		{IndexType: "custom", IndexCode: "EW", Date: day(4), IndexValue: 100},
		{IndexType: "custom", IndexCode: "EW", Date: day(5), IndexValue: 102},
	}))
	require.NoError(t, s.ReplaceConstituents(ctx, parent, day(1), []models.Constituent{
		{IndexType: "custom", IndexCode: "EW", RebalanceDate: day(1), InstrumentID: "A", LiquidityRank: 1, UniverseSize: 1},
	}))

	rec := do(e, http.MethodGet, "/api/indices/custom/EW?from=2024-03-05", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeList(t, rec).Data.Total)

	rec = do(e, http.MethodGet, "/api/constituents/custom/EW", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decodeList(t, rec).Data.Rows), `"code":"A"`)
}

func TestMomentumJobRunsInline(t *testing.T) {
	s := repository.NewMemoryStore()
	for i, c := range []float64{10, 11, 12, 13} {
		s.PutPrices(bar("A", day(4+i), c), bar("B", day(4+i), 20-float64(i)))
	}
	e := newServer(t, s, nil, false)

	rec := do(e, http.MethodPost, "/api/jobs/momentum", `{"to":"2024-03-07"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "from is required")

	rec = do(e, http.MethodPost, "/api/jobs/momentum", `{"from":"2024-03-07","to":"2024-03-04"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, http.MethodPost, "/api/jobs/momentum", `{"from":"2024-03-04"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Data models.JobAccepted `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Data.Queued)
	assert.Equal(t, usecase.JobMomentumRank, body.Data.Type)
	assert.Equal(t, 4, body.Data.Rows)
}

func TestIndexJobBusyIsConflict(t *testing.T) {
	s := repository.NewMemoryStore()
	require.NoError(t, s.ReplaceConstituents(context.Background(), parent, day(1), []models.Constituent{
		{IndexType: "custom", IndexCode: "EW", RebalanceDate: day(1), InstrumentID: "A"},
	}))
	e := newServer(t, s, nil, true)

	rec := do(e, http.MethodPost, "/api/jobs/indices", `{"index_type":"custom","index_code":"EW"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(e, http.MethodPost, "/api/jobs/indices", `{"index_code":"EW"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobEndpointsAreThrottled(t *testing.T) {
	e := newServer(t, repository.NewMemoryStore(), ratelimit.New(1, 0), false)

	first := do(e, http.MethodPost, "/api/jobs/momentum", `{"from":"2024-03-04"}`)
	assert.NotEqual(t, http.StatusTooManyRequests, first.Code)

	second := do(e, http.MethodPost, "/api/jobs/momentum", `{"from":"2024-03-04"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)

	assert.NotEqual(t, http.StatusTooManyRequests, do(e, http.MethodGet, "/api/rankings", "").Code)
}
