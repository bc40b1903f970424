// Package storage persists the subscriber registry in SQLite.
//
// Unsubscribing flips a flag instead of deleting the row, so Count reports
// every identity ever subscribed while ListSubscribed only returns active
// ones. All mutations run in a transaction; a failed mutation leaves the
// registry unchanged.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrCapacityExceeded is returned by Subscribe when admitting a new chat
// would push the registry past its configured cap. Nothing is written.
var ErrCapacityExceeded = errors.New("subscriber capacity exceeded")

// Config configures the subscriber store.
type Config struct {
	Path           string
	MaxSubscribers int
	BusyTimeout    time.Duration // 0 means driver default
}

// Store is the subscriber registry API used by the bot, the dispatcher and
// the HTTP status surface.
type Store interface {
	// Count reports all rows, active or not.
	Count(ctx context.Context) (int, error)
	// ListSubscribed returns active chat IDs in ascending order.
	ListSubscribed(ctx context.Context) ([]int64, error)
	// Subscribe admits chatID, reactivating a flagged-off row if one
	// exists. Idempotent for active subscribers.
	Subscribe(ctx context.Context, chatID int64) error
	// Unsubscribe deactivates chatID. No-op for unknown chats.
	Unsubscribe(ctx context.Context, chatID int64) error
	// IsSubscribed reports whether chatID has an active row.
	IsSubscribed(ctx context.Context, chatID int64) (bool, error)
	Close() error
}
