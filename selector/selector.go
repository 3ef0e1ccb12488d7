package selector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/baldanca/widget-consumer/claim"
	"github.com/baldanca/widget-consumer/request"
	"github.com/baldanca/widget-consumer/source"
)

// State is where one polling cycle ended up.
type State int

const (
	// StateEmpty: nothing to process. The caller should idle.
	StateEmpty State = iota
	// StateCandidate is the in-flight state between choosing a key and
	// classifying its body. Next never returns it.
	StateCandidate
	// StateTombstone: a zero-length entry was purged.
	StateTombstone
	// StateInvalid: an entry failed validation and was purged.
	StateInvalid
	// StateReady: an entry was consumed and its Request must be dispatched.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateCandidate:
		return "candidate"
	case StateTombstone:
		return "tombstone"
	case StateInvalid:
		return "invalid"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is the outcome of Next. Request is set only for StateReady and
// Reason only for StateInvalid.
type Result struct {
	State   State
	Key     string
	Size    int
	Request *request.Request
	Reason  string
}

// Ready reports whether the result carries a request to dispatch.
func (r Result) Ready() bool { return r.State == StateReady }

type Option func(*options)

type options struct {
	claimer claim.Claimer
	log     zerolog.Logger
}

// WithClaimer makes the selector claim a key before reading it. Keys claimed
// by another consumer are skipped.
func WithClaimer(c claim.Claimer) Option {
	return func(o *options) {
		if c != nil {
			o.claimer = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func buildOptions(opts []Option) options {
	o := options{claimer: claim.Nop{}, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Selector picks the next request from a Store and consumes it.
//
// Every entry the selector reads is deleted exactly once, whatever its
// content, before Next returns. A crash between that delete and dispatch loses
// the request: delivery is at most once.
type Selector struct {
	store source.Store
	opts  options
}

func New(store source.Store, opts ...Option) *Selector {
	if store == nil {
		panic("store is required")
	}
	return &Selector{store: store, opts: buildOptions(opts)}
}

// Next runs one polling cycle. Store failures are returned as errors; a
// malformed or empty entry is not an error.
func (s *Selector) Next(ctx context.Context) (Result, error) {
	keys, err := s.store.ListKeys(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(keys) == 0 {
		return Result{State: StateEmpty}, nil
	}
	if !sort.StringsAreSorted(keys) {
		sort.Strings(keys)
	}

	for _, key := range keys {
		ok, err := s.opts.claimer.Claim(ctx, key)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			s.opts.log.Debug().Str("key", key).Msg("key claimed by another consumer")
			continue
		}

		res, err := s.consume(ctx, key)
		s.release(ctx, key)
		if errors.Is(err, source.ErrNotFound) {
			s.opts.log.Debug().Str("key", key).Msg("entry vanished before read")
			continue
		}
		return res, err
	}
	return Result{State: StateEmpty}, nil
}

func (s *Selector) consume(ctx context.Context, key string) (Result, error) {
	e, err := s.store.ReadEntry(ctx, key)
	if err != nil {
		return Result{}, err
	}

	res := classify(e)
	if err := s.store.DeleteEntry(ctx, key); err != nil {
		return Result{}, err
	}
	logResult(s.opts.log, res)
	return res, nil
}

func (s *Selector) release(ctx context.Context, key string) {
	// An unreleased claim only delays other consumers until its TTL runs out.
	if err := s.opts.claimer.Release(ctx, key); err != nil {
		s.opts.log.Warn().Err(err).Str("key", key).Msg("release claim failed")
	}
}

// classify decides the terminal state of a read entry.
func classify(e source.Entry) Result {
	res := Result{State: StateCandidate, Key: e.Key, Size: e.Len()}
	if e.Len() == 0 {
		res.State = StateTombstone
		return res
	}

	req, err := request.Decode(e.Body)
	if err != nil {
		res.State = StateInvalid
		res.Reason = err.Error()
		return res
	}
	res.State = StateReady
	res.Request = req
	return res
}

func logResult(log zerolog.Logger, res Result) {
	switch res.State {
	case StateTombstone:
		log.Info().Str("key", res.Key).Msg("purged tombstone entry")
	case StateInvalid:
		log.Warn().Str("key", res.Key).Int("size", res.Size).Str("reason", res.Reason).Msg("rejected invalid request")
	case StateReady:
		log.Debug().
			Str("key", res.Key).
			Str("request_id", res.Request.RequestID).
			Str("widget_id", res.Request.WidgetID).
			Stringer("type", res.Request.Type).
			Msg("consumed request")
	}
}
