// Package app wires configuration, storage, the monitor loop, the
// notification pipeline and the Telegram transport together and owns their
// lifecycle: ordered startup, hot reload of the logging section, and a
// bounded-grace shutdown.
package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"time"

	"sitewatch/internal/bot"
	"sitewatch/internal/config"
	"sitewatch/internal/monitor"
	"sitewatch/internal/netcheck"
	"sitewatch/internal/notify"
	"sitewatch/internal/publisher"
	"sitewatch/internal/storage"
	"sitewatch/internal/transport"
	"sitewatch/internal/transport/telegram"
	"sitewatch/internal/web"
	logx "sitewatch/pkg/logx"
)

const storageBusyTimeout = time.Second

type App struct {
	cfgm    *config.Manager
	lastCfg *config.Config

	log  logx.Logger
	logs *logx.Service

	store   storage.Store
	adapter *telegram.Adapter
	prober  *monitor.HTTPProber
	mon     *monitor.Monitor
	pub     *publisher.RabbitMQ
	router  *bot.Router
	web     *web.Server
	digest  *Digest

	updates chan transport.Update

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	errMu  sync.Mutex
	runErr error
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	// The adapter exists before the logging service because the service's
	// Telegram sink sends through it.
	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: cfg.BotToken}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies its config immediately. Bootstrap with the Telegram
	// sink off, point it at the admin chat, then apply the real flag so the
	// first Apply never warns about a missing target.
	baseLogCfg := mapLogConfig(cfg.Logging)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	logSvc.SetAdminChat(cfg.AdminID)
	if cfg.Logging.Telegram.Enabled {
		logSvc.Apply(mapLogConfig(cfg.Logging))
	}
	log = log.With(logx.String("comp", "app"))

	store, err := storage.Open(storage.Config{
		Path:           cfg.DatabasePath,
		MaxSubscribers: cfg.MaxSubscribers,
		BusyTimeout:    storageBusyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	prober := monitor.NewHTTPProber(
		cfg.Probe.Timeout.Duration(),
		cfg.Probe.UserAgent,
		log.With(logx.String("comp", "probe")),
	)

	dispatcher := notify.NewDispatcher(notify.Config{
		RatePerSec: cfg.Notify.RatePerSec,
		Burst:      cfg.Notify.Burst,
	}, store, ad, log.With(logx.String("comp", "notify")))

	mon := monitor.New(monitor.Config{
		URLs:   cfg.URLsToCheck,
		Delay:  cfg.URLCheckDelay.Duration(),
		Policy: monitor.Policy(cfg.NotifyOn),
	}, prober, monitor.NewTracker(), dispatcher, log.With(logx.String("comp", "monitor")))

	var pub *publisher.RabbitMQ
	if cfg.AMQP.Enabled {
		pub, err = publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.AMQP.URL,
			Exchange:   cfg.AMQP.Exchange,
			RoutingKey: cfg.AMQP.RoutingKey,
			Queue:      cfg.AMQP.Queue,
		}, log.With(logx.String("comp", "amqp")))
		if err != nil {
			return nil, err
		}
		mon.SetPublisher(pub)
	}

	checker := netcheck.New(netcheck.Config{
		Timeout: cfg.Netcheck.Timeout.Duration(),
	}, log.With(logx.String("comp", "netcheck")))

	svc := bot.NewService(bot.ServiceConfig{
		URLs:            cfg.URLsToCheck,
		NetcheckTimeout: cfg.Netcheck.Timeout.Duration(),
	}, store, mon, checker, log.With(logx.String("comp", "bot")))

	router := bot.NewRouter(cfg.AdminID, ad, log.With(logx.String("comp", "bot")))
	router.Register(svc.Commands(), svc.Callbacks())

	var webSrv *web.Server
	if cfg.Web.Enabled {
		webSrv = web.NewServer(web.Config{Addr: cfg.Web.Addr, Pprof: cfg.Web.Pprof},
			mon, store, cfg.URLsToCheck, log.With(logx.String("comp", "web")))
	}

	var dg *Digest
	if cfg.Digest.Enabled {
		dg, err = newDigest(cfg.Digest, cfg.AdminID, cfg.URLsToCheck,
			store, mon, ad, log.With(logx.String("comp", "digest")))
		if err != nil {
			return nil, err
		}
	}

	return &App{
		cfgm:    cfgm,
		lastCfg: cfg,
		log:     log,
		logs:    logSvc,
		store:   store,
		adapter: ad,
		prober:  prober,
		mon:     mon,
		pub:     pub,
		router:  router,
		web:     webSrv,
		digest:  dg,
		updates: make(chan transport.Update, 256),
	}, nil
}

// Done is closed when the app run context is cancelled (fatal component
// error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.runCtx == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.runCtx.Done()
}

// Err returns the first fatal component error observed, if any.
func (a *App) Err() error {
	a.errMu.Lock()
	defer a.errMu.Unlock()
	return a.runErr
}

func (a *App) Start(ctx context.Context) error {
	a.runCtx, a.cancel = context.WithCancel(ctx)

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.OnChange(a.onConfigChange)

	if err := a.adapter.Start(a.runCtx, a.updates); err != nil {
		a.cancel()
		return err
	}

	a.goRun("monitor", a.mon.Run)
	a.goRun("router", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})
	if a.web != nil {
		a.goRun("web", a.web.Run)
	}
	if a.digest != nil {
		a.digest.Start(a.runCtx)
	}
	a.goRun("config.watch", a.cfgm.Watch)

	a.log.Info("app started")
	return nil
}

// goRun runs fn until it returns. A non-nil error cancels the whole app so
// the serve loop exits instead of limping along with a dead component.
func (a *App) goRun(name string, fn func(context.Context) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.log.Error("component panicked",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
				a.fail(fmt.Errorf("%s: panic: %v", name, r))
			}
		}()
		if err := fn(a.runCtx); err != nil {
			a.log.Error("component failed", logx.String("name", name), logx.Err(err))
			a.fail(fmt.Errorf("%s: %w", name, err))
		}
	}()
}

func (a *App) fail(err error) {
	a.errMu.Lock()
	first := a.runErr == nil
	if first {
		a.runErr = err
	}
	a.errMu.Unlock()
	if first && a.cancel != nil {
		a.cancel()
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.cancel == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding
	// while the ordered steps below run.
	a.cancel()

	// step bounds each shutdown phase so one stuck component cannot stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			stepCtx, cancel = context.WithTimeout(ctx, max)
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			} else {
				a.log.Debug("stop step done",
					logx.String("name", name),
					logx.Duration("took", time.Since(start)),
				)
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
		if cancel != nil {
			cancel()
		}
	}

	if a.digest != nil {
		step("digest", time.Second, func(c context.Context) error {
			a.digest.Stop(c)
			return nil
		})
	}
	step("adapter", 2*time.Second, func(c context.Context) error {
		return a.adapter.Stop(c)
	})
	// The router drains its worker pool on cancel; give the combined
	// goroutines a little longer than that internal drain bound.
	step("workers", 5*time.Second, func(c context.Context) error {
		return a.waitWorkers(c)
	})
	if a.pub != nil {
		step("publisher", time.Second, func(context.Context) error {
			return a.pub.Close()
		})
	}
	a.prober.Close()
	step("storage", time.Second, func(context.Context) error {
		return a.store.Close()
	})

	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

func (a *App) waitWorkers(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("components still running: %w", ctx.Err())
	}
}

// onConfigChange runs on the watcher goroutine after a changed file passed
// validation. Only the logging section is live; everything else is fixed
// for the process lifetime, so changes there are called out instead of
// silently ignored.
func (a *App) onConfigChange(cfg *config.Config) {
	if fixed := changedFixedSections(a.lastCfg, cfg); len(fixed) > 0 {
		a.log.Warn("config changes need a restart to take effect",
			logx.String("sections", strings.Join(fixed, ",")))
	}
	if cfg.Logging != a.lastCfg.Logging {
		a.logs.Apply(mapLogConfig(cfg.Logging))
		a.log.Info("logging config applied", logx.String("level", cfg.Logging.Level))
	}
	a.lastCfg = cfg
}

func mapLogConfig(lc config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

// changedFixedSections reports which restart-only config sections differ
// between the running config and a reloaded one.
func changedFixedSections(prev, next *config.Config) []string {
	var out []string
	if prev.BotToken != next.BotToken {
		out = append(out, "bot_token")
	}
	if prev.AdminID != next.AdminID {
		out = append(out, "admin_id")
	}
	if prev.DatabasePath != next.DatabasePath {
		out = append(out, "database_path")
	}
	if prev.URLCheckDelay != next.URLCheckDelay {
		out = append(out, "url_check_delay")
	}
	if !slices.Equal(prev.URLsToCheck, next.URLsToCheck) {
		out = append(out, "urls_to_check")
	}
	if prev.MaxSubscribers != next.MaxSubscribers {
		out = append(out, "max_subscribers")
	}
	if prev.NotifyOn != next.NotifyOn {
		out = append(out, "notify_on")
	}
	if prev.Probe != next.Probe {
		out = append(out, "probe")
	}
	if prev.Notify != next.Notify {
		out = append(out, "notify")
	}
	if prev.Web != next.Web {
		out = append(out, "web")
	}
	if prev.AMQP != next.AMQP {
		out = append(out, "amqp")
	}
	if prev.Digest != next.Digest {
		out = append(out, "digest")
	}
	if prev.Netcheck != next.Netcheck {
		out = append(out, "netcheck")
	}
	return out
}
