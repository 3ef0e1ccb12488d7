package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/baldanca/widget-consumer/request"
)

// ErrNotFound is returned by Update when the widget has no record yet.
var ErrNotFound = errors.New("widget not found")

// Sinkr applies widget requests to one storage backend. Create and Delete are
// idempotent; Update requires an existing record.
type Sinkr interface {
	Name() string
	Create(ctx context.Context, r *request.Request) error
	Update(ctx context.Context, r *request.Request) error
	Delete(ctx context.Context, r *request.Request) error
}

// Apply calls the Sinkr method matching the request type.
func Apply(ctx context.Context, s Sinkr, r *request.Request) error {
	switch r.Type {
	case request.TypeCreate:
		return s.Create(ctx, r)
	case request.TypeUpdate:
		return s.Update(ctx, r)
	case request.TypeDelete:
		return s.Delete(ctx, r)
	default:
		return fmt.Errorf("unsupported request type %s", r.Type)
	}
}

type WriteRequest struct {
	Key         string
	Data        []byte
	ContentType string
}
