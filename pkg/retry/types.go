// Package retry provides a persistent outbox for best-effort backend writes.
//
// A write that is allowed to fail (such as the findings_to_risk mapping
// recorded during a promotion) is stored in a SQLite outbox and replayed by
// a Worker with backoff until it succeeds or exhausts its attempts.
//
//	outbox, _ := retry.NewSQLiteOutbox(&retry.SQLiteConfig{Path: "/var/lib/grc/outbox.db"})
//	worker := retry.NewWorker(nil, outbox, httpClient)
//	worker.Start(ctx)
//	defer worker.Stop(ctx)
package retry

import (
	"encoding/json"
	"time"
)

// ItemKind names the kind of deferred write.
type ItemKind string

// ItemKindFindingRiskMapping is a POST to the findings_to_risk resource.
const ItemKindFindingRiskMapping ItemKind = "finding_risk_mapping"

// ItemStatus is the replay state of an item.
type ItemStatus string

const (
	ItemStatusPending ItemStatus = "pending"
	ItemStatusFailed  ItemStatus = "failed"
)

// Item is a deferred write.
type Item struct {
	ID          string          `json:"id"`
	Kind        ItemKind        `json:"kind"`
	Path        string          `json:"path"`
	Payload     json.RawMessage `json:"payload"`
	Fingerprint string          `json:"fingerprint"` // dedup key
	Status      ItemStatus      `json:"status"`

	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	LastError   string    `json:"last_error,omitempty"`
	NextRetry   time.Time `json:"next_retry"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasExhaustedRetries reports whether the item used all of its attempts.
func (item *Item) HasExhaustedRetries() bool {
	return item.MaxAttempts > 0 && item.Attempts >= item.MaxAttempts
}

// Stats summarizes the outbox.
type Stats struct {
	Pending int       `json:"pending"`
	Failed  int       `json:"failed"`
	Oldest  time.Time `json:"oldest,omitempty"`
}

// Result is the outcome of one replay.
type Result struct {
	ItemID   string        `json:"item_id"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
}

const (
	DefaultMaxAttempts   = 10
	DefaultRetryInterval = 30 * time.Second
	DefaultBatchSize     = 20
	DefaultTTL           = 7 * 24 * time.Hour
)
