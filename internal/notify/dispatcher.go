// Package notify fans availability events out to subscribed chats.
package notify

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"sitewatch/internal/monitor"
	"sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
	"sitewatch/pkg/tgui"
)

type Config struct {
	RatePerSec int
	Burst      int
}

// Dispatcher delivers one message per subscriber per event, throttled to
// stay under the platform's flood limits.
type Dispatcher struct {
	subs    SubscriberSource
	sender  Messenger
	limiter *rate.Limiter
	log     logx.Logger
}

func NewDispatcher(cfg Config, subs SubscriberSource, sender Messenger, log logx.Logger) *Dispatcher {
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 25
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		subs:    subs,
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:     log,
	}
}

// Dispatch sends ev to every currently subscribed chat. The list is read
// fresh per event so recent subscribes are picked up. A failed delivery is
// logged with its chat ID and skipped, never retried, and never aborts the
// rest of the batch; only a failure to read the subscriber list is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, ev monitor.Event) error {
	ids, err := d.subs.ListSubscribed(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	text := RenderAvailable(ev)
	opt := &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}

	failed := 0
	for _, chatID := range ids {
		if err := d.limiter.Wait(ctx); err != nil {
			// Shutdown mid-batch; remaining subscribers miss this event.
			d.log.Debug("dispatch interrupted",
				logx.String("url", ev.URL),
				logx.Err(err),
			)
			return nil
		}
		if _, err := d.sender.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, opt); err != nil {
			failed++
			d.log.Warn("notification delivery failed",
				logx.Int64("chat_id", chatID),
				logx.String("url", ev.URL),
				logx.Err(err),
			)
		}
	}

	if failed > 0 {
		d.log.Info("notification fan-out incomplete",
			logx.String("url", ev.URL),
			logx.Int("delivered", len(ids)-failed),
			logx.Int("failed", failed),
		)
	} else {
		d.log.Debug("notification fan-out complete",
			logx.String("url", ev.URL),
			logx.Int("delivered", len(ids)),
		)
	}
	return nil
}

// RenderAvailable formats the per-subscriber notification message.
func RenderAvailable(ev monitor.Event) string {
	return tgui.B("🟢 Website Available!").String() + "\n\n" +
		fmt.Sprintf("The website at %s is now accessible.", tgui.Esc(ev.URL))
}
