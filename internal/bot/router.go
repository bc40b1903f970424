// Package bot routes chat updates to command and callback handlers.
// It consumes the adapter's update channel and dispatches every request
// through a middleware chain onto a bounded worker pool, so one slow
// handler never blocks the intake loop.
package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
	"sitewatch/pkg/tgui"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

// Command is one slash command. Name is the bare command word without the
// leading slash; aliases route to the same handler but stay out of the menu.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

// CallbackRoute answers one "section:action" inline-button press.
type CallbackRoute struct {
	Section string
	Action  string
	Access  Access
	Timeout time.Duration
	Handle  HandlerFunc
}

// Request carries one update through the middleware chain.
type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter transport.Adapter
	Logger  logx.Logger
}

const (
	defaultRequestTimeout = 30 * time.Second
	jobQueueSize          = 256
	workerDrainGrace      = 3 * time.Second
)

type Router struct {
	mu   sync.RWMutex
	cmds map[string]*Command // name and aliases, lowercased
	menu []Command           // registration order, drives /help and the command menu
	cbs  map[string]map[string]*CallbackRoute

	adminID int64
	adapter transport.Adapter
	log     logx.Logger

	jobs chan func()
}

func NewRouter(adminID int64, adapter transport.Adapter, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		cmds:    map[string]*Command{},
		cbs:     map[string]map[string]*CallbackRoute{},
		adminID: adminID,
		adapter: adapter,
		log:     log,
		jobs:    make(chan func(), jobQueueSize),
	}
}

// Register installs the command and callback tables. A /help command is
// always appended. When the adapter can publish a command menu, the menu
// is pushed in the background.
func (r *Router) Register(cmds []Command, cbs []CallbackRoute) {
	cmds = append(append([]Command(nil), cmds...), r.helpCommand())

	cmdMap := make(map[string]*Command, len(cmds))
	menu := make([]Command, 0, len(cmds))
	for i := range cmds {
		c := cmds[i]
		if strings.TrimSpace(c.Name) == "" || c.Handle == nil {
			continue
		}
		cc := c
		cmdMap[strings.ToLower(cc.Name)] = &cc
		for _, a := range cc.Aliases {
			a = strings.ToLower(strings.TrimSpace(a))
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			if _, exists := cmdMap[a]; !exists {
				cmdMap[a] = &cc
			}
		}
		menu = append(menu, cc)
	}

	cbMap := map[string]map[string]*CallbackRoute{}
	for i := range cbs {
		rt := cbs[i]
		section := strings.TrimSpace(rt.Section)
		action := strings.TrimSpace(rt.Action)
		if section == "" || action == "" || rt.Handle == nil {
			continue
		}
		rr := rt
		if cbMap[section] == nil {
			cbMap[section] = map[string]*CallbackRoute{}
		}
		cbMap[section][action] = &rr
	}

	r.mu.Lock()
	r.cmds = cmdMap
	r.menu = menu
	r.cbs = cbMap
	r.mu.Unlock()

	if up, ok := r.adapter.(transport.CommandMenuUpdater); ok {
		items := menuCommands(menu)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(ctx, items); err != nil {
				r.log.Warn("menu command update failed", logx.Err(err))
			}
		}()
	}
}

func menuCommands(cmds []Command) []transport.BotCommand {
	out := make([]transport.BotCommand, 0, len(cmds))
	for _, c := range cmds {
		desc := strings.TrimSpace(c.Description)
		if desc == "" {
			desc = c.Name
		}
		if c.Access == AccessAdminOnly {
			desc = "🔒 " + desc
		}
		out = append(out, transport.BotCommand{Command: c.Name, Description: desc})
	}
	return out
}

// Run consumes updates until ctx is cancelled or the channel closes.
func (r *Router) Run(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}
	r.log.Info("command router started", logx.Int("workers", workers), logx.Int("queue_cap", cap(r.jobs)))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		idx := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.worker(ctx, idx)
		}()
	}

	var closeOnce sync.Once
	closeJobs := func() { closeOnce.Do(func() { close(r.jobs) }) }

	defer func() {
		closeJobs()
		done := make(chan struct{})
		go func() { wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(workerDrainGrace):
			r.log.Warn("router workers did not drain in time")
		}
		r.log.Info("command router stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				r.log.Info("command router stopped (updates channel closed)")
				return nil
			}
			r.route(ctx, up)
		}
	}
}

func (r *Router) worker(ctx context.Context, idx int) {
	r.log.Debug("router worker started", logx.Int("worker", idx))
	defer r.log.Debug("router worker stopped", logx.Int("worker", idx))
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-r.jobs:
			if !ok {
				return
			}
			if job == nil {
				continue
			}
			// The middleware chain recovers handler panics; this catches
			// anything thrown outside it so the worker stays alive.
			func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("panic in command job",
							logx.Int("worker", idx),
							logx.Any("panic", rec),
							logx.Stack(string(debug.Stack())),
						)
					}
				}()
				job()
			}()
		}
	}
}

// tryEnqueue is a panic-safe enqueue helper (the jobs channel may already
// be closed during shutdown).
func (r *Router) tryEnqueue(fn func()) (ok bool) {
	if fn == nil {
		return false
	}
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
		}
	}()
	select {
	case r.jobs <- fn:
		return true
	default:
		return false
	}
}

func (r *Router) route(ctx context.Context, up transport.Update) {
	switch up.Kind {
	case transport.UpdateMessage:
		r.routeMessage(ctx, up)
	case transport.UpdateCallback:
		r.routeCallback(ctx, up)
	}
}

func (r *Router) routeMessage(ctx context.Context, up transport.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	// Group clients append @botname to commands.
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	word = strings.ToLower(word)

	r.mu.RLock()
	cmd := r.cmds[word]
	r.mu.RUnlock()

	chat := transport.ChatTarget{ChatID: msg.ChatID}
	if cmd == nil {
		// Groups see slash commands meant for other bots; stay quiet there.
		if !msg.IsGroup {
			_, _ = r.adapter.SendText(ctx, chat, "Unknown command. Try /help.", nil)
		}
		return
	}

	if cmd.Access == AccessAdminOnly && msg.FromID != r.adminID {
		_, _ = r.adapter.SendText(ctx, chat, "This command is admin only.", nil)
		return
	}

	req := r.newRequest(up, chat, msg.FromID, cmd.Name, parts[1:])
	r.enqueue(ctx, req, cmd.Handle, cmd.Timeout)
}

func (r *Router) routeCallback(ctx context.Context, up transport.Update) {
	if up.Callback == nil {
		return
	}
	cb := up.Callback
	section, action, ok := tgui.ParseData(cb.Data)
	if !ok {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	r.mu.RLock()
	var route *CallbackRoute
	if actions := r.cbs[section]; actions != nil {
		route = actions[action]
	}
	r.mu.RUnlock()
	if route == nil {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "")
		return
	}

	if route.Access == AccessAdminOnly && cb.FromID != r.adminID {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return
	}

	handle := route.Handle
	wrapped := func(c context.Context, rq *Request) error {
		err := handle(c, rq)
		// Stop the client's loading spinner if the handler did not answer.
		_ = rq.Adapter.AnswerCallback(c, cb.ID, "")
		return err
	}

	req := r.newRequest(up, transport.ChatTarget{ChatID: cb.ChatID}, cb.FromID, "cb:"+section+":"+action, nil)
	r.enqueue(ctx, req, wrapped, route.Timeout)
}

func (r *Router) newRequest(up transport.Update, chat transport.ChatTarget, from int64, command string, args []string) *Request {
	rid := uuid.NewString()
	reqLog := r.log.With(
		logx.String("rid", rid),
		logx.Int64("chat_id", chat.ChatID),
		logx.Int64("from_id", from),
		logx.String("cmd", command),
	)
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: command,
		Args:    args,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger:  reqLog,
	}
}

func (r *Router) enqueue(ctx context.Context, req *Request, h HandlerFunc, timeout time.Duration) {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	final := Chain(h,
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
		MWTimeout(timeout),
	)
	if !r.tryEnqueue(func() { _ = final(ctx, req) }) {
		_, _ = r.adapter.SendText(ctx, req.Chat, "Busy, try again in a moment.", nil)
	}
}

func (r *Router) helpCommand() Command {
	return Command{
		Name:        "help",
		Description: "List available commands",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, r.helpText(), &transport.SendOptions{
				ParseMode:      "HTML",
				DisablePreview: true,
			})
			return err
		},
	}
}

func (r *Router) helpText() string {
	r.mu.RLock()
	cmds := r.menu
	r.mu.RUnlock()

	lines := make([]string, 0, len(cmds)+2)
	lines = append(lines, tgui.B("Commands").String(), "")
	for _, c := range cmds {
		prefix := "• "
		if c.Access == AccessAdminOnly {
			prefix = "• 🔒 "
		}
		line := prefix + tgui.Code("/"+c.Name).String()
		if d := strings.TrimSpace(c.Description); d != "" {
			line += " — " + tgui.Esc(d).String()
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
