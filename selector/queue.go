package selector

import (
	"context"

	"github.com/baldanca/widget-consumer/source"
)

// QueueSelector applies the same consume-then-classify protocol to a Queue.
// Order is whatever the queue delivers; the queue's lease replaces claims.
type QueueSelector struct {
	queue source.Queue
	opts  options
}

func NewQueue(q source.Queue, opts ...Option) *QueueSelector {
	if q == nil {
		panic("queue is required")
	}
	return &QueueSelector{queue: q, opts: buildOptions(opts)}
}

func (s *QueueSelector) Next(ctx context.Context) (Result, error) {
	e, ok, err := s.queue.Receive(ctx)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{State: StateEmpty}, nil
	}

	res := classify(e)
	if err := s.queue.Delete(ctx, e); err != nil {
		return Result{}, err
	}
	logResult(s.opts.log, res)
	return res, nil
}
