// Package netcheck runs an operator-triggered connectivity self-test.
// When every monitored site reads down, the result tells apart "the sites
// are down" from "this host's own uplink is down".
package netcheck

import (
	"context"
	"fmt"
	"sort"
	"time"

	st "github.com/showwin/speedtest-go/speedtest"

	logx "sitewatch/pkg/logx"
)

const (
	defaultTimeout     = 2 * time.Minute
	defaultCandidates  = 5
	defaultConnections = 4
)

type Config struct {
	// Timeout bounds the whole run, server discovery included.
	Timeout time.Duration
	// Candidates is how many nearest servers to ping before picking one.
	Candidates int
	// SavingMode trades accuracy for memory on small hosts.
	SavingMode bool
}

// Report is the outcome of one self-test against the picked server.
type Report struct {
	Latency      time.Duration
	DownloadMbps float64
	UploadMbps   float64
	ServerName   string
	Country      string
	ISP          string
	Took         time.Duration
}

type Checker struct {
	cfg Config
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Candidates <= 0 {
		cfg.Candidates = defaultCandidates
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Checker{cfg: cfg, log: log}
}

// Run discovers servers, pings the nearest candidates, and runs one full
// download/upload test against the lowest-latency one.
func (c *Checker) Run(ctx context.Context) (*Report, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	start := time.Now()
	c.log.Info("netcheck started", logx.Duration("timeout", c.cfg.Timeout))

	stc := st.New(st.WithUserConfig(&st.UserConfig{
		SavingMode:     c.cfg.SavingMode,
		MaxConnections: defaultConnections,
	}))
	stc.SetNThread(defaultConnections)
	defer func() {
		stc.Snapshots().Clean()
		stc.Reset()
	}()

	isp := ""
	if user, err := stc.FetchUserInfoContext(ctx); err == nil {
		isp = user.Isp
	}

	servers, err := stc.FetchServerListContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server list: %w", err)
	}
	if a := servers.Available(); a != nil {
		servers = *a
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("no servers available")
	}

	candidates := nearest(servers, c.cfg.Candidates)
	best := c.pingBest(ctx, candidates)
	if best == nil {
		return nil, fmt.Errorf("all latency tests failed")
	}

	if err := best.DownloadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("download test: %w", err)
	}
	if err := best.UploadTestContext(ctx); err != nil {
		return nil, fmt.Errorf("upload test: %w", err)
	}

	rep := &Report{
		Latency:      best.Latency,
		DownloadMbps: best.DLSpeed.Mbps(),
		UploadMbps:   best.ULSpeed.Mbps(),
		ServerName:   best.Sponsor,
		Country:      best.Country,
		ISP:          isp,
		Took:         time.Since(start),
	}
	c.log.Info("netcheck finished",
		logx.Duration("latency", rep.Latency),
		logx.Float64("down_mbps", rep.DownloadMbps),
		logx.Float64("up_mbps", rep.UploadMbps),
		logx.Duration("took", rep.Took),
	)
	return rep, nil
}

// nearest returns up to n servers sorted by distance. The input slice is
// not modified.
func nearest(servers st.Servers, n int) []*st.Server {
	out := make([]*st.Server, len(servers))
	copy(out, servers)
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if n < len(out) {
		out = out[:n]
	}
	return out
}

// pingBest pings candidates in order and returns the lowest-latency server.
// Servers that fail the ping are skipped.
func (c *Checker) pingBest(ctx context.Context, candidates []*st.Server) *st.Server {
	var best *st.Server
	for _, s := range candidates {
		if ctx.Err() != nil {
			break
		}
		if err := s.PingTestContext(ctx, nil); err != nil {
			c.log.Debug("ping failed", logx.String("server", s.Sponsor), logx.Err(err))
			continue
		}
		if s.Latency <= 0 {
			continue
		}
		if best == nil || s.Latency < best.Latency {
			best = s
		}
	}
	return best
}
