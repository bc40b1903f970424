package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"sitewatch/internal/config"
	"sitewatch/internal/monitor"
	"sitewatch/internal/notify"
	"sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
	"sitewatch/pkg/tgui"
)

const digestSendTimeout = 30 * time.Second

// subscriberCounter is the one store operation the digest reads.
type subscriberCounter interface {
	Count(ctx context.Context) (int, error)
}

// Digest sends the admin one summary message per day: per-URL status,
// subscriber count and cycle progress. It is the signal that the bot is
// alive for operators who keep per-check notifications muted.
type Digest struct {
	at      string
	spec    string
	loc     *time.Location
	adminID int64
	urls    []string

	store  subscriberCounter
	mon    *monitor.Monitor
	sender notify.Messenger

	c   *cron.Cron
	log logx.Logger
}

func newDigest(cfg config.DigestConfig, adminID int64, urls []string, store subscriberCounter, mon *monitor.Monitor, sender notify.Messenger, log logx.Logger) (*Digest, error) {
	hour, minute, err := config.ParseHHMM(cfg.At)
	if err != nil {
		return nil, fmt.Errorf("digest.at: %w", err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("digest.timezone: %w", err)
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Digest{
		at:      cfg.At,
		spec:    fmt.Sprintf("%d %d * * *", minute, hour),
		loc:     loc,
		adminID: adminID,
		urls:    urls,
		store:   store,
		mon:     mon,
		sender:  sender,
		log:     log,
	}, nil
}

// Start arms the daily schedule. ctx bounds every job run.
func (d *Digest) Start(ctx context.Context) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	d.c = cron.New(cron.WithParser(parser), cron.WithLocation(d.loc))
	_, _ = d.c.AddFunc(d.spec, func() { d.run(ctx) })
	d.c.Start()
	d.log.Info("daily digest scheduled",
		logx.String("at", d.at),
		logx.String("tz", d.loc.String()),
	)
}

// Stop halts triggering and waits for a running job, bounded by ctx.
func (d *Digest) Stop(ctx context.Context) {
	if d.c == nil {
		return
	}
	select {
	case <-d.c.Stop().Done():
	case <-ctx.Done():
	}
}

// run builds and delivers one digest. Failures are logged and the schedule
// stays armed for the next day.
func (d *Digest) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, digestSendTimeout)
	defer cancel()

	count, err := d.store.Count(ctx)
	if err != nil {
		d.log.Warn("digest skipped", logx.Err(err))
		return
	}

	text := renderDigest(time.Now().In(d.loc), d.mon.Stats(), count, d.urls, d.mon.Tracker().Snapshot())
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if _, err := d.sender.SendText(ctx, transport.ChatTarget{ChatID: d.adminID}, text, opt); err != nil {
		d.log.Warn("digest delivery failed", logx.Err(err))
		return
	}
	d.log.Info("daily digest sent", logx.Int("subscribers", count))
}

func renderDigest(now time.Time, st monitor.Stats, subscribers int, urls []string, statuses map[string]monitor.Status) string {
	var b strings.Builder
	b.WriteString(tgui.B("Daily Monitor Digest").String())
	b.WriteString("\n")
	b.WriteString(tgui.Esc(now.Format("Mon, 02 Jan 2006")).String())
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Subscribers: %d users\n", subscribers)
	fmt.Fprintf(&b, "Check cycles: %d\n", st.Cycles)
	for _, u := range urls {
		b.WriteString("\n")
		b.WriteString(digestGlyph(statuses[u]))
		b.WriteString(" ")
		b.WriteString(tgui.Code(u).String())
	}
	return b.String()
}

func digestGlyph(st monitor.Status) string {
	switch st {
	case monitor.StatusUp:
		return "🟢"
	case monitor.StatusDown:
		return "🔴"
	default:
		return "⚪"
	}
}
