// Package web serves the read-only status API. Subscription identity is
// the chat, so there are no mutation endpoints here.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sitewatch/internal/monitor"
	logx "sitewatch/pkg/logx"
)

const (
	defaultShutdownTimeout = 5 * time.Second
	requestTimeout         = 30 * time.Second
)

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	// Pprof mounts net/http/pprof under /debug/pprof. Honored only when
	// Addr is a loopback address; profiles are not served off-box.
	Pprof bool
}

// Monitor is the live monitoring state the API reads.
type Monitor interface {
	Stats() monitor.Stats
	Tracker() *monitor.Tracker
}

// SubscriberCounter reports the size of the subscriber registry.
type SubscriberCounter interface {
	Count(ctx context.Context) (int, error)
}

type Server struct {
	cfg Config
	srv *http.Server
	log logx.Logger
}

func NewServer(cfg Config, mon Monitor, subs SubscriberCounter, urls []string, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	h := &handlers{mon: mon, subs: subs, urls: urls, log: log}
	return &Server{
		cfg: cfg,
		srv: &http.Server{Addr: cfg.Addr, Handler: newRouter(cfg, h, log)},
		log: log,
	}
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until ctx is cancelled, then shuts down within the configured
// grace window.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()
	s.log.Info("http server started", logx.String("addr", s.cfg.Addr))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

func newRouter(cfg Config, h *handlers, log logx.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		// The timeout stays off the pprof routes; a CPU profile runs
		// longer than any API call is allowed to.
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/status", h.status)
		r.Get("/subscribers", h.subscribers)
	})

	if cfg.Pprof {
		if isLoopbackAddr(cfg.Addr) {
			mountPprof(r)
		} else {
			log.Warn("pprof not mounted: web.addr is not loopback", logx.String("addr", cfg.Addr))
		}
	}

	return r
}

func mountPprof(r chi.Router) {
	r.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/", hpprof.Index)
		r.Get("/cmdline", hpprof.Cmdline)
		r.Get("/profile", hpprof.Profile)
		r.Get("/symbol", hpprof.Symbol)
		r.Get("/trace", hpprof.Trace)
		// Named profiles (heap, goroutine, ...) all go through Index.
		r.Get("/{name}", hpprof.Index)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Int("bytes", ww.BytesWritten()),
				logx.Duration("dur", time.Since(start)),
				logx.String("req_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type handlers struct {
	mon  Monitor
	subs SubscriberCounter
	urls []string
	log  logx.Logger
}

type siteStatus struct {
	URL    string `json:"url"`
	Status string `json:"status"`
	// Checked is false until the first probe cycle reaches the URL.
	Checked bool `json:"checked"`
}

type statusResponse struct {
	Cycles      uint64       `json:"cycles"`
	LastCycleAt *time.Time   `json:"last_cycle_at,omitempty"`
	Sites       []siteStatus `json:"sites"`
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	stats := h.mon.Stats()
	statuses := h.mon.Tracker().Snapshot()

	sites := make([]siteStatus, 0, len(h.urls))
	for _, u := range h.urls {
		st := statuses[u]
		sites = append(sites, siteStatus{
			URL:     u,
			Status:  st.String(),
			Checked: st != monitor.StatusUnknown,
		})
	}

	resp := statusResponse{Cycles: stats.Cycles, Sites: sites}
	if !stats.LastCycleAt.IsZero() {
		t := stats.LastCycleAt
		resp.LastCycleAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) subscribers(w http.ResponseWriter, r *http.Request) {
	count, err := h.subs.Count(r.Context())
	if err != nil {
		h.log.Error("subscriber count failed", logx.Err(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "storage unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
