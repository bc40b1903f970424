package bot

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"sitewatch/internal/monitor"
	"sitewatch/internal/netcheck"
	"sitewatch/internal/storage"
	"sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
)

// memStore mirrors the flag-flip semantics of the sqlite store.
type memStore struct {
	mu   sync.Mutex
	rows map[int64]bool // chat -> subscribed flag
	max  int
	err  error // forced failure for every call when set
}

func newMemStore(max int) *memStore {
	return &memStore{rows: map[int64]bool{}, max: max}
}

func (m *memStore) Count(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	return len(m.rows), nil
}

func (m *memStore) ListSubscribed(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	out := make([]int64, 0, len(m.rows))
	for id, on := range m.rows {
		if on {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) Subscribe(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if _, known := m.rows[chatID]; !known && len(m.rows) >= m.max {
		return storage.ErrCapacityExceeded
	}
	m.rows[chatID] = true
	return nil
}

func (m *memStore) Unsubscribe(ctx context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.rows[chatID] {
		m.rows[chatID] = false
	}
	return nil
}

func (m *memStore) IsSubscribed(ctx context.Context, chatID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	return m.rows[chatID], nil
}

func (m *memStore) Close() error { return nil }

func (m *memStore) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

type fakeChecker struct {
	rep *netcheck.Report
	err error
}

func (f *fakeChecker) Run(ctx context.Context) (*netcheck.Report, error) { return f.rep, f.err }

func newTestService(store storage.Store, checker NetChecker) *Service {
	urls := []string{"https://one.example", "https://two.example"}
	mon := monitor.New(monitor.Config{URLs: urls, Delay: time.Minute}, nil, monitor.NewTracker(), nil, logx.Nop())
	return NewService(ServiceConfig{URLs: urls}, store, mon, checker, logx.Nop())
}

func commandReq(fa *fakeAdapter, chatID int64) *Request {
	return &Request{
		Update:  msgUpdate(chatID, chatID, "/x", false),
		Chat:    transport.ChatTarget{ChatID: chatID},
		FromID:  chatID,
		Adapter: fa,
		Logger:  logx.Nop(),
	}
}

func callbackReq(fa *fakeAdapter, chatID int64, messageID int, data string) *Request {
	up := cbUpdate(chatID, chatID, messageID, data)
	return &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: chatID},
		FromID:  chatID,
		Adapter: fa,
		Logger:  logx.Nop(),
	}
}

func TestSubscribeCommandFlow(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	svc := newTestService(newMemStore(10), nil)
	ctx := context.Background()

	require.NoError(t, svc.handleSubscribe(ctx, commandReq(fa, 42)))
	last, _ := fa.lastSent()
	require.Equal(t, msgSubscribed, last.Text)

	require.NoError(t, svc.handleSubscribe(ctx, commandReq(fa, 42)))
	last, _ = fa.lastSent()
	require.Equal(t, msgAlreadySubscribed, last.Text)
}

func TestUnsubscribeCommandFlow(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	store := newMemStore(10)
	svc := newTestService(store, nil)
	ctx := context.Background()

	require.NoError(t, svc.handleUnsubscribe(ctx, commandReq(fa, 42)))
	last, _ := fa.lastSent()
	require.Equal(t, msgNotSubscribed, last.Text)

	require.NoError(t, store.Subscribe(ctx, 42))
	require.NoError(t, svc.handleUnsubscribe(ctx, commandReq(fa, 42)))
	last, _ = fa.lastSent()
	require.Equal(t, msgUnsubscribed, last.Text)

	on, err := store.IsSubscribed(ctx, 42)
	require.NoError(t, err)
	require.False(t, on)
}

func TestSubscribeCapacityReply(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	store := newMemStore(1)
	svc := newTestService(store, nil)
	ctx := context.Background()

	require.NoError(t, store.Subscribe(ctx, 1))
	// A full registry answers with a reply, not a handler error.
	require.NoError(t, svc.handleSubscribe(ctx, commandReq(fa, 2)))
	last, _ := fa.lastSent()
	require.Equal(t, msgCapacity, last.Text)
}

func TestSubscribeStoreErrorIsSurfaced(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	store := newMemStore(10)
	svc := newTestService(store, nil)
	store.fail(errors.New("database is locked"))

	err := svc.handleSubscribe(context.Background(), commandReq(fa, 42))
	require.Error(t, err)
	last, _ := fa.lastSent()
	require.Contains(t, last.Text, "Something went wrong")
}

func TestDashboardCommand(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	store := newMemStore(10)
	svc := newTestService(store, nil)
	ctx := context.Background()

	require.NoError(t, store.Subscribe(ctx, 7))
	require.NoError(t, svc.handleDashboard(ctx, commandReq(fa, 42)))

	last, _ := fa.lastSent()
	require.Contains(t, last.Text, "Website Monitor Dashboard")
	require.Contains(t, last.Text, "2 websites")
	require.Contains(t, last.Text, "1 users")
	require.NotNil(t, last.Opt)
	rm, ok := last.Opt.ReplyMarkup.(*tele.ReplyMarkup)
	require.True(t, ok)
	require.Equal(t, "Subscribe", rm.InlineKeyboard[0][0].Text)
}

func TestDashboardKeyboardForSubscriber(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	store := newMemStore(10)
	svc := newTestService(store, nil)
	ctx := context.Background()

	require.NoError(t, store.Subscribe(ctx, 42))
	require.NoError(t, svc.handleDashboard(ctx, commandReq(fa, 42)))

	last, _ := fa.lastSent()
	rm := last.Opt.ReplyMarkup.(*tele.ReplyMarkup)
	require.Equal(t, "Unsubscribe", rm.InlineKeyboard[0][0].Text)
}

func TestStatusCommandTriState(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	svc := newTestService(newMemStore(10), nil)

	svc.tracker.Record("https://one.example", true)

	require.NoError(t, svc.handleStatus(context.Background(), commandReq(fa, 42)))
	last, _ := fa.lastSent()
	require.Contains(t, last.Text, "Website Status")
	require.Contains(t, last.Text, "🟢 Online")
	require.Contains(t, last.Text, "⚪ Unknown")
}

func TestCallbackSubscribeEditsDashboard(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	store := newMemStore(10)
	svc := newTestService(store, nil)
	ctx := context.Background()

	req := callbackReq(fa, 42, 31, "watch:subscribe")
	require.NoError(t, svc.cbSubscribe(ctx, req))

	// Toast carries the outcome.
	texts := fa.answerTexts()
	require.Equal(t, []string{msgSubscribed}, texts)

	// The dashboard message under the button is redrawn in place.
	edit, ok := fa.lastEdit()
	require.True(t, ok)
	require.Equal(t, transport.MessageRef{ChatID: 42, MessageID: 31}, edit.Ref)
	require.Contains(t, edit.Text, "Website Monitor Dashboard")
	require.Contains(t, edit.Text, "1 users")
	rm := edit.Opt.ReplyMarkup.(*tele.ReplyMarkup)
	require.Equal(t, "Unsubscribe", rm.InlineKeyboard[0][0].Text)

	on, err := store.IsSubscribed(ctx, 42)
	require.NoError(t, err)
	require.True(t, on)
}

func TestCallbackUnsubscribeEditsDashboard(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	store := newMemStore(10)
	svc := newTestService(store, nil)
	ctx := context.Background()

	require.NoError(t, store.Subscribe(ctx, 42))
	req := callbackReq(fa, 42, 31, "watch:unsubscribe")
	require.NoError(t, svc.cbUnsubscribe(ctx, req))

	require.Equal(t, []string{msgUnsubscribed}, fa.answerTexts())
	edit, ok := fa.lastEdit()
	require.True(t, ok)
	rm := edit.Opt.ReplyMarkup.(*tele.ReplyMarkup)
	require.Equal(t, "Subscribe", rm.InlineKeyboard[0][0].Text)
}

func TestCallbackStatusSendsFreshMessage(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	svc := newTestService(newMemStore(10), nil)

	req := callbackReq(fa, 42, 31, "watch:status")
	require.NoError(t, svc.cbStatus(context.Background(), req))

	// Status arrives as a new message, the dashboard stays untouched.
	require.Empty(t, fa.edits)
	last, _ := fa.lastSent()
	require.Contains(t, last.Text, "Website Status")
}

func TestStatsCommand(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	store := newMemStore(10)
	svc := newTestService(store, nil)
	ctx := context.Background()

	require.NoError(t, store.Subscribe(ctx, 7))
	svc.tracker.Record("https://one.example", false)

	require.NoError(t, svc.handleStats(ctx, commandReq(fa, testAdminID)))
	last, _ := fa.lastSent()
	require.Contains(t, last.Text, "Monitor Statistics")
	require.Contains(t, last.Text, "Check cycles: 0")
	require.Contains(t, last.Text, "Subscribers: 1 users")
	require.Contains(t, last.Text, "🔴 <code>https://one.example</code>")
}

func TestNetcheckCommand(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	rep := &netcheck.Report{Latency: 20 * time.Millisecond, DownloadMbps: 100, UploadMbps: 40, Took: 30 * time.Second}
	svc := newTestService(newMemStore(10), &fakeChecker{rep: rep})

	require.NoError(t, svc.handleNetcheck(context.Background(), commandReq(fa, testAdminID)))

	texts := fa.sentTexts()
	require.Len(t, texts, 2)
	require.Contains(t, texts[0], "Running connectivity check")
	require.Contains(t, texts[1], "Connectivity Check")
	require.Contains(t, texts[1], "Download: 100.0 Mbit/s")
}

func TestNetcheckCommandDisabled(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	svc := newTestService(newMemStore(10), nil)

	require.NoError(t, svc.handleNetcheck(context.Background(), commandReq(fa, testAdminID)))
	last, _ := fa.lastSent()
	require.Contains(t, last.Text, "not available")
}

func TestNetcheckCommandFailure(t *testing.T) {
	t.Parallel()
	fa := &fakeAdapter{}
	svc := newTestService(newMemStore(10), &fakeChecker{err: errors.New("no servers available")})

	err := svc.handleNetcheck(context.Background(), commandReq(fa, testAdminID))
	require.Error(t, err)
	last, _ := fa.lastSent()
	require.Contains(t, last.Text, "Connectivity check failed")
}

func TestServiceCommandsCoverBotSurface(t *testing.T) {
	t.Parallel()
	svc := newTestService(newMemStore(10), nil)

	names := map[string]Access{}
	for _, c := range svc.Commands() {
		names[c.Name] = c.Access
	}
	for _, want := range []string{"start", "dashboard", "status", "subscribe", "unsubscribe"} {
		access, ok := names[want]
		require.True(t, ok, "missing command %s", want)
		require.Equal(t, AccessEveryone, access, "%s must be public", want)
	}
	require.Equal(t, AccessAdminOnly, names["stats"])
	require.Equal(t, AccessAdminOnly, names["netcheck"])

	actions := map[string]bool{}
	for _, cb := range svc.Callbacks() {
		require.Equal(t, sectionWatch, cb.Section)
		actions[cb.Action] = true
	}
	require.True(t, actions[actionSubscribe])
	require.True(t, actions[actionUnsubscribe])
	require.True(t, actions[actionStatus])
}
