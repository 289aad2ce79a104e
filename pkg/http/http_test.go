package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsDefaultHeadersAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "eq.005930", r.URL.Query().Get("code"))
		_, _ = w.Write([]byte(`[{"code":"005930"}]`))
	}))
	defer srv.Close()

	c := NewClient(WithHeader("apikey", "secret"))
	var rows []map[string]string
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method:      MethodGet,
		URL:         srv.URL,
		QueryParams: url.Values{"code": {"eq.005930"}},
	}, &rows)
	require.NoError(t, err)
	assert.Equal(t, "005930", rows[0]["code"])
}

func TestClientReturnsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	err := NewClient().SendAndParse(context.Background(), &RequestOptions{Method: MethodGet, URL: srv.URL}, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.True(t, se.Temporary())
	assert.False(t, (&StatusError{StatusCode: 404}).Temporary())
}

type jobRequest struct {
	From  string `json:"from" validate:"required,datetime=2006-01-02"`
	Limit int    `json:"limit" default:"100" validate:"gte=1,lte=5000"`
}

func TestReadAndValidateRequest(t *testing.T) {
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Body = http.NoBody
	c := e.NewContext(req, httptest.NewRecorder())
	var r jobRequest
	errs := ReadAndValidateRequest(c, &r)
	require.Len(t, errs, 1)
	assert.Equal(t, "ERR_REQUIRED", errs[0].Code)
	assert.Equal(t, 100, r.Limit)
}

func TestAppErrorResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	require.NoError(t, AppErrorResponse(c, ConflictErrorf("index %s is being rebuilt", "custom/EW")))
	assert.Equal(t, http.StatusConflict, rec.Code)

	var body APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusConflict, body.Status)
}

func TestHealthz(t *testing.T) {
	s := NewServer(nil, nil, WithMetricsPath(""), WithHealth(func(context.Context) error { return errors.New("store down") }))
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
