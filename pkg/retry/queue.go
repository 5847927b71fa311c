package retry

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrItemNotFound is returned when the requested item doesn't exist.
	ErrItemNotFound = errors.New("outbox item not found")

	// ErrDuplicateItem is returned when an item with the same fingerprint
	// is already pending.
	ErrDuplicateItem = errors.New("duplicate item already in outbox")

	// ErrInvalidItem is returned for items without a path or payload.
	ErrInvalidItem = errors.New("invalid outbox item")

	// ErrOutboxClosed is returned after Close.
	ErrOutboxClosed = errors.New("outbox is closed")
)

// Outbox stores deferred writes. Implementations must be safe for
// concurrent use.
type Outbox interface {
	// Enqueue stores item and returns its id. Returns ErrDuplicateItem
	// when a pending item has the same fingerprint.
	Enqueue(ctx context.Context, item *Item) (string, error)

	// Ready returns up to limit pending items due at or before now,
	// oldest NextRetry first.
	Ready(ctx context.Context, now time.Time, limit int) ([]*Item, error)

	// Get returns one item.
	Get(ctx context.Context, id string) (*Item, error)

	// Reschedule records a failed attempt and the next replay time.
	Reschedule(ctx context.Context, id string, attempts int, lastError string, next time.Time) error

	// MarkFailed parks an item that exhausted its attempts.
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) error

	// Delete removes an item, typically after a successful replay.
	Delete(ctx context.Context, id string) error

	// List returns items with the given status ("" for all).
	List(ctx context.Context, status ItemStatus) ([]*Item, error)

	// Stats summarizes the outbox.
	Stats(ctx context.Context) (*Stats, error)

	// Cleanup removes failed items and items older than ttl.
	Cleanup(ctx context.Context, ttl time.Duration) (int, error)

	Close() error
}

// Sender replays a deferred write. *client.Client implements it.
type Sender interface {
	Post(ctx context.Context, path string, body, out any) error
}
