package consumer

import (
	"time"

	"github.com/baldanca/widget-consumer/request"
	"github.com/baldanca/widget-consumer/selector"
)

// Observer receives pipeline events for metrics.
type Observer interface {
	ObserveSelect(state selector.State)
	ObserveSink(sink string, op request.Type, took time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveSelect(selector.State)                          {}
func (nopObserver) ObserveSink(string, request.Type, time.Duration, error) {}
