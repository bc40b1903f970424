package notify

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"sitewatch/internal/transport"
)

// SubscriberSource lists the chats that receive availability notifications.
// Satisfied by the subscriber store.
type SubscriberSource interface {
	ListSubscribed(ctx context.Context) ([]int64, error)
}

// Messenger delivers one message to one chat. Satisfied by the Telegram
// adapter.
type Messenger interface {
	SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error)
}
