package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"libraryhub/internal/clock"
	"libraryhub/internal/config"
	"libraryhub/internal/database"
	"libraryhub/internal/events"
	"libraryhub/pkg/apperr"
	"libraryhub/pkg/web"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		ServiceName:     "libraryhub-test",
		JWTSecret:       "test-secret",
		LoanPeriodDays:  14,
		MaxActiveLoans:  5,
		AdminLoanPolicy: config.PolicyReconcile,
	}
}

type testServer struct {
	*httptest.Server
	clock *clock.Fixed
	pub   *events.MemoryPublisher
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWith(t, &events.MemoryPublisher{})
}

func newTestServerWith(t *testing.T, publisher events.Publisher) *testServer {
	t.Helper()
	db := database.NewTestDB(t)
	clk := clock.NewFixed(testNow)
	pub, _ := publisher.(*events.MemoryPublisher)

	srv := New(Deps{
		DB:        db,
		Config:    testConfig(),
		Clock:     clk,
		Publisher: publisher,
		Registry:  prometheus.NewRegistry(),
		Log:       zap.NewNop(),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, clock: clk, pub: pub}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func (ts *testServer) create(t *testing.T, path string, body any) uuid.UUID {
	t.Helper()
	status, data := ts.do(t, http.MethodPost, path, "", body)
	require.Equal(t, http.StatusCreated, status, string(data))
	var out struct {
		ID uuid.UUID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(data, &out))
	return out.ID
}

func TestLoanLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	authorID := ts.create(t, "/authors", map[string]any{"firstName": "Octavia", "lastName": "Butler"})
	bookID := ts.create(t, "/books", map[string]any{
		"isbn":            "978-0446675505",
		"title":           "Parable of the Sower",
		"publicationDate": "1993-10-01",
		"totalCopies":     1,
		"authorId":        authorID,
	})
	memberID := ts.create(t, "/members", map[string]any{
		"firstName": "Lauren",
		"lastName":  "Olamina",
		"email":     "lauren@example.com",
		"password":  "earthseed-1",
	})
	otherID := ts.create(t, "/members", map[string]any{
		"firstName": "Taylor",
		"lastName":  "Bankole",
		"email":     "bankole@example.com",
	})

	status, data := ts.do(t, http.MethodPost, "/auth/login", "", map[string]string{
		"email":    "lauren@example.com",
		"password": "earthseed-1",
	})
	require.Equal(t, http.StatusOK, status, string(data))
	var token struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.Unmarshal(data, &token))

	loanID := ts.create(t, "/loans", map[string]any{"bookId": bookID, "memberId": memberID})

	status, data = ts.do(t, http.MethodPost, "/loans", "", map[string]any{"bookId": bookID, "memberId": otherID})
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(data), "BOOK_UNAVAILABLE")

	status, data = ts.do(t, http.MethodGet, "/members/me/loans", token.AccessToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), loanID.String())
	assert.Contains(t, string(data), `"totalElements":1`)

	status, _ = ts.do(t, http.MethodGet, "/members/me/loans", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, data = ts.do(t, http.MethodPatch, "/loans/"+loanID.String()+"/return", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), `"status":"RETURNED"`)

	status, data = ts.do(t, http.MethodPatch, "/loans/"+loanID.String()+"/return", "", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Contains(t, string(data), "LOAN_ALREADY_RETURNED")

	status, data = ts.do(t, http.MethodGet, "/books/"+bookID.String(), "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), `"availableCopies":1`)

	second := ts.create(t, "/loans", map[string]any{"bookId": bookID, "memberId": otherID})
	ts.clock.AddDays(15)

	status, data = ts.do(t, http.MethodPatch, "/loans/update-overdue", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), `"transitioned":1`)

	status, data = ts.do(t, http.MethodGet, "/loans/overdue", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), second.String())

	status, data = ts.do(t, http.MethodGet, "/loans/"+loanID.String()+"/history", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), "LoanReturned")

	status, _ = ts.do(t, http.MethodDelete, "/members/"+otherID.String(), "", nil)
	assert.Equal(t, http.StatusConflict, status, "members with loans cannot be deleted")

	assert.Len(t, ts.pub.Published(events.EventTypeLoanCreated), 2)
	assert.Len(t, ts.pub.Published(events.EventTypeLoanOverdue), 1)

	status, data = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(data), "libraryhub_loans_created_total 2")
	assert.Contains(t, string(data), `libraryhub_loans_rejected_total{code="BOOK_UNAVAILABLE"} 1`)
	assert.Contains(t, string(data), `route="/loans/{id}/return"`)

	status, _ = ts.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := newHTTPMetrics(reg)

	r := chi.NewRouter()
	r.Use(m.middleware)
	r.Get("/loans/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans/"+uuid.NewString(), nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	assert.Equal(t, 1, testutil.CollectAndCount(m.duration))
}

func TestRequestLoggerPassesThrough(t *testing.T) {
	h := requestLogger(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestRequestLoggerRecordsCauseOfInternalError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(zap.New(core)))
	r.Use(newHTTPMetrics(prometheus.NewRegistry()).middleware)
	r.Post("/loans", func(w http.ResponseWriter, r *http.Request) {
		web.Error(w, fmt.Errorf("failed to insert loan: %w", errors.New("pq: deadlock detected")))
	})
	r.Get("/loans/{id}", func(w http.ResponseWriter, r *http.Request) {
		web.Error(w, apperr.NotFound("LOAN_NOT_FOUND", "loan not found"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/loans", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "deadlock")

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	assert.Contains(t, fields["error"], "deadlock detected")
	assert.NotEmpty(t, fields["request_id"])

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/loans/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	entries = logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 2)
	assert.NotContains(t, entries[1].ContextMap(), "error")
}

type brokerState struct {
	events.NoopPublisher
	healthy atomic.Bool
}

func (b *brokerState) IsHealthy() bool { return b.healthy.Load() }

func TestHealthReportsBrokerLoss(t *testing.T) {
	broker := &brokerState{}
	broker.healthy.Store(true)
	ts := newTestServerWith(t, broker)

	status, body := ts.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	broker.healthy.Store(false)
	status, body = ts.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"degraded","database":"up","broker":"down"}`, string(body))
}
