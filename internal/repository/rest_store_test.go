package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"RSIndex/internal/domain/models"
	"RSIndex/pkg/config"
	"RSIndex/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRESTStore(t *testing.T, h http.HandlerFunc) *RESTStore {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	tables := TablesFromConfig(config.Default().Store.Tables)
	return NewRESTStore(srv.URL, "secret", 5*time.Second, tables, 2, 500, logger.Nop())
}

func TestRESTStorePaginatesPrices(t *testing.T) {
	all := []map[string]any{
		{"code": "A", "date": "2024-03-01", "close": 10.5, "trading_value": 1000},
		{"code": "B", "date": "2024-03-01", "close": nil, "trading_value": 2000},
		{"code": "A", "date": "2024-03-04", "close": 11, "trading_value": nil},
	}
	var mu sync.Mutex
	var offsets []string
	s := newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/daily_prices", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "date.asc,code.asc", r.URL.Query().Get("order"))
		assert.Equal(t, []string{"gte.2024-03-01"}, r.URL.Query()["date"])

		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		mu.Lock()
		offsets = append(offsets, r.URL.Query().Get("offset"))
		mu.Unlock()
		end := min(offset+limit, len(all))
		_ = json.NewEncoder(w).Encode(all[min(offset, len(all)):end])
	})

	rows, err := s.GetPrices(context.Background(), models.PriceQuery{From: day(1)})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"0", "2"}, offsets)

	assert.True(t, rows[0].Close.Valid)
	assert.Equal(t, "10.5", rows[0].Close.Decimal.String())
	assert.False(t, rows[1].Close.Valid)
	assert.False(t, rows[2].TradingValue.Valid)
	assert.Equal(t, day(4), rows[2].Date)
}

func TestRESTStoreUpsertUsesMergeDuplicates(t *testing.T) {
	var got []restRanking
	s := newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "date,code", r.URL.Query().Get("on_conflict"))
		assert.Contains(t, r.Header.Get("Prefer"), "resolution=merge-duplicates")
		var batch []restRanking
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		got = append(got, batch...)
		w.WriteHeader(http.StatusCreated)
	})

	err := s.UpsertMomentumScores(context.Background(), []models.MomentumScore{
		{InstrumentID: "A", Date: day(1), Score: fp(0.25), Rank: 99},
		{InstrumentID: "B", Date: day(1), Rank: 0},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "2024-03-01", got[0].Date)
	assert.Nil(t, got[1].Score)
}

func TestRESTStoreLatestRankingDateEmpty(t *testing.T) {
	s := newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("[]"))
	})
	_, err := s.LatestRankingDate(context.Background())
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

// membershipServer serves one page of catalogue and membership rows.
func membershipServer(t *testing.T, members string) *RESTStore {
	t.Helper()
	return newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("offset") != "0" {
			_, _ = w.Write([]byte("[]"))
			return
		}
		switch r.URL.Path {
		case "/rest/v1/industries":
			_, _ = w.Write([]byte(`[{"id":1,"code":"SEMI","name":"Semiconductors"}]`))
		case "/rest/v1/company_industries":
			_, _ = w.Write([]byte(members))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestRESTStoreGroupMembershipJoinsCatalog(t *testing.T) {
	s := membershipServer(t, `[{"industry_id":1,"company_code":"A"}]`)
	rows, err := s.GroupMembership(context.Background(), "industry")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.GroupMembership{GroupKind: "industry", GroupCode: "SEMI", GroupName: "Semiconductors", InstrumentID: "A"}, rows[0])

	_, err = s.GroupMembership(context.Background(), "sector")
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestRESTStoreGroupMembershipRejectsMalformedRows(t *testing.T) {
	for name, members := range map[string]string{
		"unknown id":   `[{"industry_id":9,"company_code":"B"}]`,
		"missing id":   `[{"industry_id":null,"company_code":"B"}]`,
		"missing code": `[{"industry_id":1}]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := membershipServer(t, members).GroupMembership(context.Background(), "industry")
			assert.True(t, errors.Is(err, models.ErrUpstreamData), "got %v", err)
		})
	}
}

func TestRESTStoreChunksInstrumentFilter(t *testing.T) {
	var mu sync.Mutex
	var filters []int
	s := newRESTStore(t, func(w http.ResponseWriter, r *http.Request) {
		f := r.URL.Query().Get("code")
		if !assert.True(t, strings.HasPrefix(f, "in.(") && strings.HasSuffix(f, ")"), f) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ids := strings.Split(strings.TrimSuffix(strings.TrimPrefix(f, "in.("), ")"), ",")
		mu.Lock()
		if r.URL.Query().Get("offset") == "0" {
			filters = append(filters, len(ids))
		}
		mu.Unlock()
		if r.URL.Query().Get("offset") != "0" {
			_, _ = w.Write([]byte("[]"))
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"code": ids[0], "date": "2024-03-01", "close": 1, "trading_value": 1}})
	})

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("I%03d", i)
	}
	rows, err := s.GetPrices(context.Background(), models.PriceQuery{InstrumentIDs: ids})
	require.NoError(t, err)
	assert.Equal(t, []int{50, 50, 20}, filters)
	require.Len(t, rows, 3)
	assert.Equal(t, "I050", rows[1].InstrumentID)
}
