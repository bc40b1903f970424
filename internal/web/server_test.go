package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sitewatch/internal/monitor"
	logx "sitewatch/pkg/logx"
)

type countFunc func(ctx context.Context) (int, error)

func (f countFunc) Count(ctx context.Context) (int, error) { return f(ctx) }

func newTestServer(urls []string, subs SubscriberCounter) (*Server, *monitor.Tracker) {
	tracker := monitor.NewTracker()
	mon := monitor.New(monitor.Config{URLs: urls, Delay: time.Minute}, nil, tracker, nil, logx.Nop())
	srv := NewServer(Config{Addr: "127.0.0.1:0"}, mon, subs, urls, logx.Nop())
	return srv, tracker
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(nil, countFunc(func(context.Context) (int, error) { return 0, nil }))
	rec := get(t, srv.Handler(), "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestStatusEndpoint(t *testing.T) {
	t.Parallel()
	urls := []string{"https://one.example", "https://two.example", "https://three.example"}
	srv, tracker := newTestServer(urls, countFunc(func(context.Context) (int, error) { return 0, nil }))

	tracker.Record("https://one.example", true)
	tracker.Record("https://two.example", false)

	rec := get(t, srv.Handler(), "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp struct {
		Cycles      uint64     `json:"cycles"`
		LastCycleAt *time.Time `json:"last_cycle_at"`
		Sites       []struct {
			URL     string `json:"url"`
			Status  string `json:"status"`
			Checked bool   `json:"checked"`
		} `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.EqualValues(t, 0, resp.Cycles)
	require.Nil(t, resp.LastCycleAt)
	require.Len(t, resp.Sites, 3)

	// Config order is preserved.
	require.Equal(t, "https://one.example", resp.Sites[0].URL)
	require.Equal(t, "up", resp.Sites[0].Status)
	require.True(t, resp.Sites[0].Checked)

	require.Equal(t, "down", resp.Sites[1].Status)
	require.True(t, resp.Sites[1].Checked)

	require.Equal(t, "unknown", resp.Sites[2].Status)
	require.False(t, resp.Sites[2].Checked)
}

func TestSubscribersEndpoint(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(nil, countFunc(func(context.Context) (int, error) { return 3, nil }))

	rec := get(t, srv.Handler(), "/api/subscribers")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"count": 3}`, rec.Body.String())
}

func TestSubscribersEndpointStorageError(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(nil, countFunc(func(context.Context) (int, error) {
		return 0, errors.New("database is locked")
	}))

	rec := get(t, srv.Handler(), "/api/subscribers")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "storage unavailable")
}

func TestUnknownRouteIs404(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(nil, countFunc(func(context.Context) (int, error) { return 0, nil }))
	rec := get(t, srv.Handler(), "/api/unknown")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPprofNotMountedByDefault(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(nil, countFunc(func(context.Context) (int, error) { return 0, nil }))
	rec := get(t, srv.Handler(), "/debug/pprof/")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPprofMountedOnLoopback(t *testing.T) {
	t.Parallel()
	mon := monitor.New(monitor.Config{Delay: time.Minute}, nil, monitor.NewTracker(), nil, logx.Nop())
	srv := NewServer(Config{Addr: "127.0.0.1:0", Pprof: true}, mon, nil, nil, logx.Nop())

	rec := get(t, srv.Handler(), "/debug/pprof/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "goroutine")

	rec = get(t, srv.Handler(), "/debug/pprof/heap")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPprofRefusedOffLoopback(t *testing.T) {
	t.Parallel()
	mon := monitor.New(monitor.Config{Delay: time.Minute}, nil, monitor.NewTracker(), nil, logx.Nop())
	srv := NewServer(Config{Addr: "0.0.0.0:8080", Pprof: true}, mon, nil, nil, logx.Nop())

	rec := get(t, srv.Handler(), "/debug/pprof/")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	cases := map[string]bool{
		"127.0.0.1:8080": true,
		"localhost:8080": true,
		"[::1]:8080":     true,
		"0.0.0.0:8080":   false,
		"10.1.2.3:8080":  false,
		":8080":          false,
		"no-port":        false,
	}
	for addr, want := range cases {
		require.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(nil, countFunc(func(context.Context) (int, error) { return 0, nil }))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}
