// Package monitor probes the configured URLs on a fixed-delay schedule,
// tracks their availability and emits events for the notification pipeline.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	logx "sitewatch/pkg/logx"
)

// Event describes one URL observed available. Events are plain values;
// sinks receive their own copy and cannot mutate shared state.
type Event struct {
	URL        string    `json:"url"`
	ObservedAt time.Time `json:"observed_at"`
	CycleID    string    `json:"cycle_id"`
	// Recovered is true when the previous recorded status was down.
	Recovered bool `json:"recovered"`
}

// Policy selects which up observations emit an event.
type Policy string

const (
	// PolicyEveryCheck emits an event for every cycle a URL is observed up.
	PolicyEveryCheck Policy = "every_check"
	// PolicyRecovery emits only on a down->up transition. A URL that was
	// never probed before does not "recover" by being up.
	PolicyRecovery Policy = "recovery"
)

// Dispatcher fans an event out to subscribers.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// EventPublisher mirrors dispatched events to an external sink.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Config holds the immutable monitor parameters. The URL set and delay are
// fixed for the process lifetime.
type Config struct {
	URLs   []string
	Delay  time.Duration
	Policy Policy
}

// Stats is a point-in-time view of loop progress for operator surfaces.
type Stats struct {
	Cycles        uint64
	LastCycleAt   time.Time
	LastCycleTook time.Duration
}

type Monitor struct {
	cfg      Config
	prober   Prober
	tracker  *Tracker
	dispatch Dispatcher
	pub      EventPublisher
	log      logx.Logger

	mu       sync.Mutex
	cycles   uint64
	lastAt   time.Time
	lastTook time.Duration
}

func New(cfg Config, prober Prober, tracker *Tracker, dispatcher Dispatcher, log logx.Logger) *Monitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyEveryCheck
	}
	return &Monitor{
		cfg:      cfg,
		prober:   prober,
		tracker:  tracker,
		dispatch: dispatcher,
		log:      log,
	}
}

// SetPublisher installs an optional external event sink. Must be called
// before Run.
func (m *Monitor) SetPublisher(p EventPublisher) { m.pub = p }

// Tracker exposes the owned tracker for read-only surfaces.
func (m *Monitor) Tracker() *Tracker { return m.tracker }

func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Cycles: m.cycles, LastCycleAt: m.lastAt, LastCycleTook: m.lastTook}
}

// Run blocks until ctx is cancelled. Scheduling is fixed-delay: a full
// cycle runs, then the loop sleeps cfg.Delay, so the effective period is
// cycle duration plus delay and slow probes never cause overlapping cycles.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor started",
		logx.Int("urls", len(m.cfg.URLs)),
		logx.Duration("delay", m.cfg.Delay),
		logx.String("policy", string(m.cfg.Policy)),
	)
	defer m.log.Info("monitor stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}
		m.runCycle(ctx)

		timer := time.NewTimer(m.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// runCycle probes every URL first, then fans out the collected events, so a
// subscriber never sees a notification for a cycle that is still probing.
func (m *Monitor) runCycle(ctx context.Context) {
	cycleID := uuid.NewString()
	start := time.Now()
	log := m.log.With(logx.String("cycle", cycleID))

	events := make([]Event, 0, len(m.cfg.URLs))
	for _, target := range m.cfg.URLs {
		if ctx.Err() != nil {
			return
		}

		res := m.prober.Check(ctx, target)
		prev := m.tracker.Record(target, res.Up)

		if res.Up {
			log.Debug("probe up",
				logx.String("url", target),
				logx.Int("status", res.StatusCode),
				logx.Duration("took", res.Latency),
			)
		} else {
			fields := []logx.Field{
				logx.String("url", target),
				logx.Int("status", res.StatusCode),
				logx.Duration("took", res.Latency),
			}
			if res.Err != nil {
				fields = append(fields, logx.Err(res.Err))
			}
			log.Debug("probe down", fields...)
			continue
		}

		recovered := prev == StatusDown
		if m.cfg.Policy == PolicyRecovery && !recovered {
			continue
		}
		events = append(events, Event{
			URL:        target,
			ObservedAt: time.Now().UTC(),
			CycleID:    cycleID,
			Recovered:  recovered,
		})
	}

	for _, ev := range events {
		if err := m.dispatch.Dispatch(ctx, ev); err != nil {
			log.Error("dispatch failed", logx.String("url", ev.URL), logx.Err(err))
		}
		if m.pub != nil {
			if err := m.pub.Publish(ctx, ev); err != nil {
				log.Warn("event publish failed", logx.String("url", ev.URL), logx.Err(err))
			}
		}
	}

	took := time.Since(start)
	m.mu.Lock()
	m.cycles++
	cycles := m.cycles
	m.lastAt = time.Now()
	m.lastTook = took
	m.mu.Unlock()

	log.Debug("cycle complete",
		logx.Uint64("cycles", cycles),
		logx.Int("events", len(events)),
		logx.Duration("took", took),
	)
}
