package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"sitewatch/internal/monitor"
	"sitewatch/internal/notify/mocks"
	"sitewatch/internal/transport"
	logx "sitewatch/pkg/logx"
)

type DispatcherTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	subs   *mocks.MockSubscriberSource
	sender *mocks.MockMessenger

	dispatcher *Dispatcher
}

func (s *DispatcherTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.subs = mocks.NewMockSubscriberSource(s.ctrl)
	s.sender = mocks.NewMockMessenger(s.ctrl)

	s.dispatcher = NewDispatcher(Config{RatePerSec: 1000, Burst: 100}, s.subs, s.sender, logx.Nop())
}

func (s *DispatcherTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestDispatcherTestSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func testEvent() monitor.Event {
	return monitor.Event{
		URL:        "https://example.com",
		ObservedAt: time.Now().UTC(),
		CycleID:    "cycle-1",
	}
}

func (s *DispatcherTestSuite) TestDeliversToAllSubscribers() {
	ctx := context.Background()
	ev := testEvent()
	want := RenderAvailable(ev)

	s.subs.EXPECT().ListSubscribed(ctx).Return([]int64{1, 2, 3}, nil)
	for _, id := range []int64{1, 2, 3} {
		s.sender.EXPECT().
			SendText(ctx, transport.ChatTarget{ChatID: id}, want, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ transport.ChatTarget, _ string, opt *transport.SendOptions) (transport.MessageRef, error) {
				s.Require().NotNil(opt)
				s.Equal("HTML", opt.ParseMode)
				s.True(opt.DisablePreview)
				return transport.MessageRef{}, nil
			})
	}

	s.NoError(s.dispatcher.Dispatch(ctx, ev))
}

func (s *DispatcherTestSuite) TestDeliveryFailureDoesNotAbortBatch() {
	ctx := context.Background()
	ev := testEvent()
	want := RenderAvailable(ev)

	s.subs.EXPECT().ListSubscribed(ctx).Return([]int64{1, 2, 3}, nil)
	gomock.InOrder(
		s.sender.EXPECT().
			SendText(ctx, transport.ChatTarget{ChatID: 1}, want, gomock.Any()).
			Return(transport.MessageRef{}, nil),
		s.sender.EXPECT().
			SendText(ctx, transport.ChatTarget{ChatID: 2}, want, gomock.Any()).
			Return(transport.MessageRef{}, errors.New("forbidden: bot was blocked by the user")),
		s.sender.EXPECT().
			SendText(ctx, transport.ChatTarget{ChatID: 3}, want, gomock.Any()).
			Return(transport.MessageRef{}, nil),
	)

	// Each chat is attempted exactly once; the failure is skipped, not
	// retried, and the batch still reports success.
	s.NoError(s.dispatcher.Dispatch(ctx, ev))
}

func (s *DispatcherTestSuite) TestStoreErrorIsReturned() {
	ctx := context.Background()

	s.subs.EXPECT().ListSubscribed(ctx).Return(nil, errors.New("database is locked"))

	err := s.dispatcher.Dispatch(ctx, testEvent())
	s.Error(err)
	s.Contains(err.Error(), "list subscribers")
}

func (s *DispatcherTestSuite) TestNoSubscribersSendsNothing() {
	ctx := context.Background()

	s.subs.EXPECT().ListSubscribed(ctx).Return(nil, nil)

	s.NoError(s.dispatcher.Dispatch(ctx, testEvent()))
}

func (s *DispatcherTestSuite) TestRenderAvailableEscapes() {
	ev := monitor.Event{URL: "https://example.com/?a=1&b=2"}
	text := RenderAvailable(ev)

	s.Contains(text, "<b>🟢 Website Available!</b>")
	s.Contains(text, "a=1&amp;b=2")
	s.NotContains(text, "a=1&b=2")
}
