// Package consumer drives the polling loop: select one request, dispatch it to
// the sinks, idle when there is nothing to do.
package consumer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/baldanca/widget-consumer/selector"
)

// Selector is satisfied by selector.Selector and selector.QueueSelector.
type Selector interface {
	Next(ctx context.Context) (selector.Result, error)
}

type Config struct {
	// PollInterval is the sleep between cycles that found nothing.
	PollInterval time.Duration
	// DispatchTimeout bounds the sink writes for one request. Dispatch runs
	// detached from the Run context so a shutdown does not abort a request
	// whose source entry is already gone.
	DispatchTimeout time.Duration
}

var DefaultConfig = Config{
	PollInterval:    100 * time.Millisecond,
	DispatchTimeout: 30 * time.Second,
}

func (c Config) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be > 0, got %s", c.PollInterval)
	}
	if c.DispatchTimeout <= 0 {
		return fmt.Errorf("dispatch timeout must be > 0, got %s", c.DispatchTimeout)
	}
	return nil
}

type Consumer struct {
	cfg        Config
	selector   Selector
	dispatcher *Dispatcher
	retry      RetryPolicy // for selector cycles
	obs        Observer
	log        zerolog.Logger
}

func New(cfg Config, sel Selector, d *Dispatcher, log zerolog.Logger) (*Consumer, error) {
	if sel == nil {
		return nil, fmt.Errorf("selector is nil")
	}
	if d == nil {
		return nil, fmt.Errorf("dispatcher is nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Consumer{
		cfg:        cfg,
		selector:   sel,
		dispatcher: d,
		retry:      nopRetry{},
		obs:        nopObserver{},
		log:        log,
	}, nil
}

// SetRetryPolicy sets the policy wrapping each selector cycle.
func (c *Consumer) SetRetryPolicy(p RetryPolicy) {
	if p == nil {
		c.retry = nopRetry{}
		return
	}
	c.retry = p
}

// SetObserver sets the observer on the consumer and its dispatcher.
func (c *Consumer) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	c.obs = o
	c.dispatcher.SetObserver(o)
}

// Run polls until ctx is cancelled, which is a clean stop and returns nil.
// A selector error that survives the retry policy is returned.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Strs("sinks", c.dispatcher.Sinks()).
		Dur("poll_interval", c.cfg.PollInterval).
		Msg("consumer started")

	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			c.log.Info().Msg("consumer stopped")
			return nil
		}

		processed, err := c.Step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info().Msg("consumer stopped")
				return nil
			}
			return err
		}
		if processed {
			continue
		}

		timer.Reset(c.cfg.PollInterval)
		select {
		case <-ctx.Done():
			c.log.Info().Msg("consumer stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Step runs one polling cycle. processed is false only when the store had
// nothing to offer. Sink failures are logged and never returned.
func (c *Consumer) Step(ctx context.Context) (processed bool, err error) {
	var res selector.Result
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		res, err = c.selector.Next(ctx)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("select request: %w", err)
	}
	c.obs.ObserveSelect(res.State)

	switch res.State {
	case selector.StateEmpty:
		return false, nil
	case selector.StateReady:
		c.dispatch(ctx, res)
	}
	return true, nil
}

func (c *Consumer) dispatch(ctx context.Context, res selector.Result) {
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.DispatchTimeout)
	defer cancel()

	start := time.Now()
	err := c.dispatcher.Dispatch(dctx, res.Request)

	ev := c.log.Info()
	if err != nil {
		ev = c.log.Warn().Err(err)
	}
	ev.Str("key", res.Key).
		Str("request_id", res.Request.RequestID).
		Str("widget_id", res.Request.WidgetID).
		Stringer("type", res.Request.Type).
		Dur("took", time.Since(start)).
		Msg("request consumed")
}
