// Package metrics exposes consumer activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baldanca/widget-consumer/request"
	"github.com/baldanca/widget-consumer/selector"
)

const namespace = "widget_consumer"

// Prom records selector outcomes and sink writes on its own registry.
type Prom struct {
	reg *prometheus.Registry

	requests    *prometheus.CounterVec
	sinkWrites  *prometheus.CounterVec
	sinkLatency *prometheus.HistogramVec
}

func NewProm() *Prom {
	p := &Prom{
		reg: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Polling cycles by outcome (empty, tombstone, invalid, ready).",
		}, []string{"outcome"}),
		sinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Sink writes by sink, operation and result.",
		}, []string{"sink", "op", "result"}),
		sinkLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sink_write_seconds",
			Help:      "Sink write latency including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"sink"}),
	}
	p.reg.MustRegister(
		p.requests,
		p.sinkWrites,
		p.sinkLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prom) ObserveSelect(st selector.State) {
	p.requests.WithLabelValues(st.String()).Inc()
}

func (p *Prom) ObserveSink(sink string, op request.Type, took time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.sinkWrites.WithLabelValues(sink, op.String(), result).Inc()
	p.sinkLatency.WithLabelValues(sink).Observe(took.Seconds())
}

// Registry is exposed for tests and extra collectors.
func (p *Prom) Registry() *prometheus.Registry { return p.reg }

// Handler serves /healthz and /metrics.
func (p *Prom) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}))
	return r
}
