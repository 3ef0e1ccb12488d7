package source

import (
	"context"
	"errors"
)

// ErrNotFound is returned by ReadEntry when the key no longer exists, typically
// because another consumer already took it.
var ErrNotFound = errors.New("entry not found")

// Entry is one queued request as stored: its key and raw body.
//
// A zero-length Body marks a tombstone.
type Entry struct {
	Key  string
	Body []byte

	// handle is the source-specific token needed to delete the entry when the
	// key alone is not enough (SQS receipt handles).
	handle string
}

// Len is the body length in bytes.
func (e Entry) Len() int { return len(e.Body) }

// Store is a request queue laid out as uniquely keyed objects. Key order is
// processing order.
//
// Store implementations do not retry; callers decide the retry policy.
type Store interface {
	// ListKeys returns every current key in ascending order. An empty queue
	// yields an empty slice and a nil error.
	ListKeys(ctx context.Context) ([]string, error)
	// ReadEntry returns the entry body, or ErrNotFound.
	ReadEntry(ctx context.Context, key string) (Entry, error)
	// DeleteEntry removes the entry. Deleting a missing key is not an error.
	DeleteEntry(ctx context.Context, key string) error
}

// Queue is a request input without key listing: messages arrive in whatever
// order the broker hands them out and are leased while in flight.
type Queue interface {
	// Receive returns the next message, or ok=false when none arrived before
	// the poll wait elapsed.
	Receive(ctx context.Context) (e Entry, ok bool, err error)
	// Delete consumes a received entry.
	Delete(ctx context.Context, e Entry) error
}
