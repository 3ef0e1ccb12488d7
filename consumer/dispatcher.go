package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/baldanca/widget-consumer/request"
	"github.com/baldanca/widget-consumer/sink"
	"github.com/baldanca/widget-consumer/transformer"
)

// Dispatcher fans a request out to every active sink. Sinks are independent:
// a failure in one neither stops nor rolls back the others.
type Dispatcher struct {
	sinks []sink.Sinkr
	retry RetryPolicy
	obs   Observer
	log   zerolog.Logger
}

// NewDispatcher returns a dispatcher over sinks, called in the given order.
// Nil sinks are skipped.
func NewDispatcher(log zerolog.Logger, sinks ...sink.Sinkr) *Dispatcher {
	d := &Dispatcher{
		retry: nopRetry{},
		obs:   nopObserver{},
		log:   log,
	}
	for _, s := range sinks {
		if s != nil {
			d.sinks = append(d.sinks, s)
		}
	}
	return d
}

func (d *Dispatcher) SetRetryPolicy(p RetryPolicy) {
	if p == nil {
		d.retry = nopRetry{}
		return
	}
	d.retry = p
}

func (d *Dispatcher) SetObserver(o Observer) {
	if o == nil {
		d.obs = nopObserver{}
		return
	}
	d.obs = o
}

// Sinks lists the active sink names in dispatch order.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Dispatch applies r to every sink and returns the joined per-sink errors.
func (d *Dispatcher) Dispatch(ctx context.Context, r *request.Request) error {
	log := d.log.With().
		Str("request_id", r.RequestID).
		Str("widget_id", r.WidgetID).
		Stringer("type", r.Type).
		Logger()

	if len(d.sinks) == 0 {
		log.Warn().Msg("no active sinks, request consumed without being applied")
		return nil
	}

	var errs []error
	for _, s := range d.sinks {
		start := time.Now()
		err := d.retry.Do(ctx, func(ctx context.Context) error {
			return sink.Apply(ctx, s, r)
		})
		d.obs.ObserveSink(s.Name(), r.Type, time.Since(start), err)

		if err != nil {
			log.Error().Err(err).Str("sink", s.Name()).Msg("sink write failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		log.Debug().Str("sink", s.Name()).Dur("took", time.Since(start)).Msg("sink write ok")
	}
	return errors.Join(errs...)
}

func isTransientSinkError(err error) bool {
	switch {
	case errors.Is(err, sink.ErrNotFound),
		errors.Is(err, transformer.ErrAttributeCollision),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
