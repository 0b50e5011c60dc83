package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

const (
	namespace = "tweetcurator"
	pushJob   = "tweetcurator"

	statusOK    = "ok"
	statusError = "error"
)

// Metrics owns a private registry so that one-shot runs push only their
// own series.
type Metrics struct {
	registry *prometheus.Registry

	itemsFetched  *prometheus.CounterVec
	itemsNew      *prometheus.CounterVec
	itemsMatched  *prometheus.CounterVec
	resolver      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastSuccess   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		itemsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_fetched_total",
			Help:      "Items returned by the timeline fetch.",
		}, []string{"source"}),
		itemsNew: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_new_total",
			Help:      "Items left after history deduplication.",
		}, []string{"source"}),
		itemsMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "items_matched_total",
			Help:      "Classified items per category.",
		}, []string{"category"}),
		resolver: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolver_requests_total",
			Help:      "Link resolution attempts per outcome.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification deliveries per sink and status.",
		}, []string{"sink", "status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
	}

	m.registry.MustRegister(
		m.itemsFetched,
		m.itemsNew,
		m.itemsMatched,
		m.resolver,
		m.notifications,
		m.runDuration,
		m.lastSuccess,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ItemsFetched(source string, n int) {
	m.itemsFetched.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) ItemsNew(source string, n int) {
	m.itemsNew.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) ItemMatched(category string) {
	m.itemsMatched.WithLabelValues(category).Inc()
}

func (m *Metrics) ResolverOutcome(outcome string) {
	m.resolver.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notification(sink string, err error) {
	status := statusOK
	if err != nil {
		status = statusError
	}

	m.notifications.WithLabelValues(sink, status).Inc()
}

// RunFinished records a run duration and, on success, its completion time.
func (m *Metrics) RunFinished(started time.Time, err error) {
	m.runDuration.Observe(time.Since(started).Seconds())

	if err == nil {
		m.lastSuccess.SetToCurrentTime()
	}
}

// Push sends the registry to a Pushgateway.
func (m *Metrics) Push(ctx context.Context, gatewayURL string) error {
	if err := push.New(gatewayURL, pushJob).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}

	return nil
}

// Router serves /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	return r
}
