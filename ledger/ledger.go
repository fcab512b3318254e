// Package ledger records which payments have already bought an action, so a
// replayed proof or transaction hash never triggers the action twice.
package ledger

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle state of a ledger entry.
type State string

const (
	// StateProcessing means a request holds the key and is verifying or acting.
	StateProcessing State = "PROCESSING"

	// StateComplete means the response for the key has been stored.
	StateComplete State = "COMPLETE"
)

// DefaultTTL is how long entries live when no TTL is configured.
const DefaultTTL = 24 * time.Hour

// ErrStoreUnavailable wraps backend failures.
var ErrStoreUnavailable = errors.New("ledger: store unavailable")

// Entry is one idempotency record.
type Entry struct {
	Key        string    `json:"key"`
	State      State     `json:"state"`
	StatusCode int       `json:"statusCode,omitempty"`
	Body       []byte    `json:"body,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Store is an idempotency ledger.
type Store interface {
	// Begin atomically claims key. It returns (nil, nil) when the caller now
	// owns the key, or the existing entry when someone else got there first.
	Begin(ctx context.Context, key string) (*Entry, error)

	// Complete stores the final response for key, claimed or not.
	Complete(ctx context.Context, key string, statusCode int, body []byte) error

	// Release drops a claim so the key can be retried.
	Release(ctx context.Context, key string) error
}
