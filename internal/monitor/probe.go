package monitor

import (
	"context"
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"

	logx "sitewatch/pkg/logx"
)

const defaultUserAgent = "sitewatch-probe/1.0"

// connection pooling limits so probing many hosts does not pile up sockets
const (
	probeMaxIdleConns        = 64
	probeMaxIdleConnsPerHost = 2
	probeIdleConnTimeout     = 60 * time.Second
)

// Result is the outcome of a single probe. A reachable host answering with
// any status code is a completed probe; only transport-level failures set
// Err, and even those classify the URL as down rather than failing the
// caller.
type Result struct {
	URL        string
	Up         bool
	StatusCode int // 0 when the request never completed
	Latency    time.Duration
	Err        error
}

// Prober checks one URL per call.
type Prober interface {
	Check(ctx context.Context, url string) Result
}

// HTTPProber probes with a HEAD request and classifies 2xx as up.
// Redirects are reported as-is, not followed.
type HTTPProber struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
	log       logx.Logger
}

func NewHTTPProber(timeout time.Duration, userAgent string, log logx.Logger) *HTTPProber {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPProber{
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        probeMaxIdleConns,
				MaxIdleConnsPerHost: probeMaxIdleConnsPerHost,
				IdleConnTimeout:     probeIdleConnTimeout,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:   timeout,
		userAgent: userAgent,
		log:       log,
	}
}

func (p *HTTPProber) Check(ctx context.Context, target string) Result {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	var code int
	err := requests.
		URL(target).
		Head().
		Client(p.client).
		UserAgent(p.userAgent).
		AddValidator(nil).
		Handle(func(res *http.Response) error {
			code = res.StatusCode
			return nil
		}).
		Fetch(ctx)
	took := time.Since(start)

	if err != nil {
		return Result{URL: target, Latency: took, Err: err}
	}
	return Result{URL: target, Up: code/100 == 2, StatusCode: code, Latency: took}
}

// Close releases idle connections.
func (p *HTTPProber) Close() {
	if p == nil || p.client == nil {
		return
	}
	if tr, ok := p.client.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}
