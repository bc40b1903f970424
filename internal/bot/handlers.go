package bot

import (
	"context"
	"errors"
	"time"

	"sitewatch/internal/monitor"
	"sitewatch/internal/netcheck"
	"sitewatch/internal/storage"
	"sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
)

// NetChecker runs the connectivity self-test behind /netcheck.
type NetChecker interface {
	Run(ctx context.Context) (*netcheck.Report, error)
}

type ServiceConfig struct {
	URLs            []string
	NetcheckTimeout time.Duration
}

// Service implements the bot's commands and inline-button callbacks over
// the subscriber store and the monitor's live state.
type Service struct {
	cfg       ServiceConfig
	store     storage.Store
	mon       *monitor.Monitor
	tracker   *monitor.Tracker
	checker   NetChecker // nil disables /netcheck
	startedAt time.Time
	log       logx.Logger
}

func NewService(cfg ServiceConfig, store storage.Store, mon *monitor.Monitor, checker NetChecker, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		mon:       mon,
		tracker:   mon.Tracker(),
		checker:   checker,
		startedAt: time.Now(),
		log:       log,
	}
}

func (s *Service) Commands() []Command {
	netcheckTimeout := s.cfg.NetcheckTimeout
	if netcheckTimeout <= 0 {
		netcheckTimeout = 2 * time.Minute
	}
	return []Command{
		{
			Name:        "start",
			Description: "Open the Website Monitor dashboard",
			Access:      AccessEveryone,
			Handle:      s.handleDashboard,
		},
		{
			Name:        "dashboard",
			Aliases:     []string{"monitor"},
			Description: "Open the Website Monitor dashboard",
			Access:      AccessEveryone,
			Handle:      s.handleDashboard,
		},
		{
			Name:        "status",
			Description: "View current website status",
			Access:      AccessEveryone,
			Handle:      s.handleStatus,
		},
		{
			Name:        "subscribe",
			Description: "Subscribe to availability notifications",
			Access:      AccessEveryone,
			Handle:      s.handleSubscribe,
		},
		{
			Name:        "unsubscribe",
			Description: "Unsubscribe from availability notifications",
			Access:      AccessEveryone,
			Handle:      s.handleUnsubscribe,
		},
		{
			Name:        "stats",
			Description: "Runtime statistics",
			Access:      AccessAdminOnly,
			Handle:      s.handleStats,
		},
		{
			Name:        "netcheck",
			Description: "Run a connectivity self-test",
			Access:      AccessAdminOnly,
			// The checker bounds itself; leave headroom above it.
			Timeout: netcheckTimeout + 30*time.Second,
			Handle:  s.handleNetcheck,
		},
	}
}

func (s *Service) Callbacks() []CallbackRoute {
	return []CallbackRoute{
		{Section: sectionWatch, Action: actionSubscribe, Access: AccessEveryone, Handle: s.cbSubscribe},
		{Section: sectionWatch, Action: actionUnsubscribe, Access: AccessEveryone, Handle: s.cbUnsubscribe},
		{Section: sectionWatch, Action: actionStatus, Access: AccessEveryone, Handle: s.cbStatus},
	}
}

func (s *Service) handleDashboard(ctx context.Context, req *Request) error {
	subscribed, err := s.store.IsSubscribed(ctx, req.Chat.ChatID)
	if err != nil {
		return s.replyErr(ctx, req, err)
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return s.replyErr(ctx, req, err)
	}
	opt := &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyMarkup:    dashboardMarkup(subscribed),
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, renderDashboard(len(s.cfg.URLs), count, false), opt)
	return err
}

func (s *Service) handleStatus(ctx context.Context, req *Request) error {
	return s.sendStatus(ctx, req)
}

func (s *Service) handleSubscribe(ctx context.Context, req *Request) error {
	reply, err := s.subscribe(ctx, req.Chat.ChatID)
	if err != nil {
		return s.replyErr(ctx, req, err)
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, reply, nil)
	return err
}

func (s *Service) handleUnsubscribe(ctx context.Context, req *Request) error {
	reply, err := s.unsubscribe(ctx, req.Chat.ChatID)
	if err != nil {
		return s.replyErr(ctx, req, err)
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, reply, nil)
	return err
}

func (s *Service) handleStats(ctx context.Context, req *Request) error {
	count, err := s.store.Count(ctx)
	if err != nil {
		return s.replyErr(ctx, req, err)
	}
	text := renderStats(time.Since(s.startedAt), s.mon.Stats(), count, s.cfg.URLs, s.tracker.Snapshot())
	_, err = req.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (s *Service) handleNetcheck(ctx context.Context, req *Request) error {
	if s.checker == nil {
		_, err := req.Adapter.SendText(ctx, req.Chat, "Connectivity check is not available.", nil)
		return err
	}
	_, _ = req.Adapter.SendText(ctx, req.Chat, "Running connectivity check, this can take a minute...", nil)
	rep, err := s.checker.Run(ctx)
	if err != nil {
		_, _ = req.Adapter.SendText(ctx, req.Chat, "Connectivity check failed: "+err.Error(), nil)
		return err
	}
	_, err = req.Adapter.SendText(ctx, req.Chat, renderNetcheck(rep), &transport.SendOptions{ParseMode: "HTML"})
	return err
}

func (s *Service) cbSubscribe(ctx context.Context, req *Request) error {
	reply, err := s.subscribe(ctx, req.Chat.ChatID)
	if err != nil {
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Something went wrong.")
		return err
	}
	_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, reply)
	return s.refreshDashboard(ctx, req)
}

func (s *Service) cbUnsubscribe(ctx context.Context, req *Request) error {
	reply, err := s.unsubscribe(ctx, req.Chat.ChatID)
	if err != nil {
		_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "Something went wrong.")
		return err
	}
	_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, reply)
	return s.refreshDashboard(ctx, req)
}

func (s *Service) cbStatus(ctx context.Context, req *Request) error {
	_ = req.Adapter.AnswerCallback(ctx, req.Update.Callback.ID, "")
	return s.sendStatus(ctx, req)
}

// subscribe applies the state change and returns the user-facing reply.
// Capacity exhaustion is a reply, not an error.
func (s *Service) subscribe(ctx context.Context, chatID int64) (string, error) {
	already, err := s.store.IsSubscribed(ctx, chatID)
	if err != nil {
		return "", err
	}
	if already {
		return msgAlreadySubscribed, nil
	}
	if err := s.store.Subscribe(ctx, chatID); err != nil {
		if errors.Is(err, storage.ErrCapacityExceeded) {
			return msgCapacity, nil
		}
		return "", err
	}
	s.log.Info("chat subscribed", logx.Int64("chat_id", chatID))
	return msgSubscribed, nil
}

func (s *Service) unsubscribe(ctx context.Context, chatID int64) (string, error) {
	subscribed, err := s.store.IsSubscribed(ctx, chatID)
	if err != nil {
		return "", err
	}
	if !subscribed {
		return msgNotSubscribed, nil
	}
	if err := s.store.Unsubscribe(ctx, chatID); err != nil {
		return "", err
	}
	s.log.Info("chat unsubscribed", logx.Int64("chat_id", chatID))
	return msgUnsubscribed, nil
}

func (s *Service) sendStatus(ctx context.Context, req *Request) error {
	text := renderStatus(s.cfg.URLs, s.tracker.Snapshot())
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// refreshDashboard redraws the dashboard message the pressed button lives
// under, so the keyboard reflects the new subscription state.
func (s *Service) refreshDashboard(ctx context.Context, req *Request) error {
	cb := req.Update.Callback
	if cb == nil {
		return nil
	}
	subscribed, err := s.store.IsSubscribed(ctx, req.Chat.ChatID)
	if err != nil {
		return err
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return err
	}
	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	opt := &transport.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
		ReplyMarkup:    dashboardMarkup(subscribed),
	}
	return req.Adapter.EditText(ctx, ref, renderDashboard(len(s.cfg.URLs), count, true), opt)
}

func (s *Service) replyErr(ctx context.Context, req *Request, err error) error {
	_, _ = req.Adapter.SendText(ctx, req.Chat, "Something went wrong. Try again later.", nil)
	return err
}
