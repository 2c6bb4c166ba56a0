package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/judgment-crawler/internal/crawler"
	"github.com/JakeFAU/judgment-crawler/internal/metrics"
)

type staticStatus struct {
	summary crawler.Summary
}

func (s staticStatus) Snapshot() crawler.Summary { return s.summary.Clone() }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil), "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)

	failing := func(context.Context) error { return errors.New("database unreachable") }
	rec = serve(t, NewServer(nil, failing, nil), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "database unreachable")
}

func TestServer_Run(t *testing.T) {
	t.Parallel()

	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	status := staticStatus{summary: crawler.Summary{
		RunID:          "run-1",
		StartedAt:      started,
		ItemsProcessed: 4,
		PagesVisited:   []crawler.PageID{1, 2},
	}}

	rec := serve(t, NewServer(status, nil, nil), "/v1/run")
	require.Equal(t, http.StatusOK, rec.Code)

	var body RunStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, StateRunning, body.State)
	require.Equal(t, "run-1", body.RunID)
	require.Equal(t, 4, body.ItemsProcessed)
	require.Equal(t, []crawler.PageID{1, 2}, body.PagesVisited)
}

func TestServer_RunWithoutSource(t *testing.T) {
	t.Parallel()

	rec := serve(t, NewServer(nil, nil, nil), "/v1/run")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_FailuresFilteredByKind(t *testing.T) {
	t.Parallel()

	status := staticStatus{summary: crawler.Summary{Failures: []crawler.ItemFailure{
		{Key: crawler.ItemKey{CaseNumber: "SCJ 1/2021", Page: 1}, Kind: crawler.FailureUnprocessable},
		{Key: crawler.ItemKey{Page: 4}, Kind: crawler.FailureNavigation, Cause: "timeout"},
	}}}
	s := NewServer(status, nil, nil)

	var all struct {
		Failures []crawler.ItemFailure `json:"failures"`
	}
	rec := serve(t, s, "/v1/run/failures")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all.Failures, 2)

	var nav struct {
		Failures []crawler.ItemFailure `json:"failures"`
	}
	rec = serve(t, s, "/v1/run/failures?kind=navigation")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nav))
	require.Len(t, nav.Failures, 1)
	require.Equal(t, crawler.PageID(4), nav.Failures[0].Key.Page)

	rec = serve(t, s, "/v1/run/failures?kind=failed")
	require.JSONEq(t, `{"failures":[]}`, rec.Body.String())
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	metrics.Init()
	metrics.ObserveItem("processed")

	rec := serve(t, NewServer(nil, nil, nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "judgments_items_total")
}

func TestStateOf(t *testing.T) {
	t.Parallel()

	now := time.Now()
	require.Equal(t, StateIdle, stateOf(crawler.Summary{}))
	require.Equal(t, StateRunning, stateOf(crawler.Summary{StartedAt: now}))
	require.Equal(t, StateFinished, stateOf(crawler.Summary{StartedAt: now, FinishedAt: now}))
}

func TestServer_RecoversFromPanics(t *testing.T) {
	t.Parallel()

	s := NewServer(panicStatus{}, nil, nil)
	rec := serve(t, s, "/v1/run")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type panicStatus struct{}

func (panicStatus) Snapshot() crawler.Summary { panic("boom") }

func TestServer_ListenAndServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(nil, nil, nil).ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz") //nolint:noctx
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
