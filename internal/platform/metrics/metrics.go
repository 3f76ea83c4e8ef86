package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "schedulr"

// Metrics holds the collectors shared by the schedulr binaries. Each binary
// only moves the series it owns.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Conflict checks
	ConflictChecks      *prometheus.CounterVec
	AlternativesOffered prometheus.Histogram

	// Pipeline
	CommandsPublished *prometheus.CounterVec
	EventsProduced    *prometheus.CounterVec
	EventsApplied     *prometheus.CounterVec

	// Calendar sync
	SyncRuns     *prometheus.CounterVec
	SyncedEvents *prometheus.GaugeVec

	GuestCreditsSpent *prometheus.CounterVec
}

// New registers every collector on a fresh registry, so separate instances
// never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),

		ConflictChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflict_checks_total",
				Help:      "Conflict checks by outcome (clear, conflict, invalid, error)",
			},
			[]string{"outcome"},
		),
		AlternativesOffered: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "alternatives_offered",
				Help:      "Alternative slots returned per conflicting check",
				Buckets:   []float64{0, 1, 2, 3},
			},
		),

		CommandsPublished: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_published_total",
				Help:      "Schedule commands accepted and published",
			},
			[]string{"action"},
		),
		EventsProduced: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_produced_total",
				Help:      "Domain events produced from commands",
			},
			[]string{"event_type"},
		),
		EventsApplied: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_applied_total",
				Help:      "Domain events applied to the event store by result",
			},
			[]string{"event_type", "result"},
		),

		SyncRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calendar_sync_runs_total",
				Help:      "Calendar feed sync runs by feed and status",
			},
			[]string{"feed", "status"},
		),
		SyncedEvents: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "calendar_synced_events",
				Help:      "Occurrences stored by the last successful sync of a feed",
			},
			[]string{"feed"},
		),

		GuestCreditsSpent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guest_credit_charges_total",
				Help:      "Guest conflict-check charges by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics and /healthz on addr until ctx is cancelled. Worker
// binaries without an HTTP API use it.
func (m *Metrics) Serve(ctx context.Context, addr string, ready func() error) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(route, method, statusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordConflictCheck counts a check. Alternatives are observed only for
// checks that found a conflict.
func (m *Metrics) RecordConflictCheck(outcome string, alternatives int) {
	m.ConflictChecks.WithLabelValues(outcome).Inc()
	if outcome == "conflict" {
		m.AlternativesOffered.Observe(float64(alternatives))
	}
}

func (m *Metrics) RecordCommand(action string) {
	m.CommandsPublished.WithLabelValues(action).Inc()
}

func (m *Metrics) RecordEventProduced(eventType string) {
	m.EventsProduced.WithLabelValues(eventType).Inc()
}

func (m *Metrics) RecordEventApplied(eventType, result string) {
	m.EventsApplied.WithLabelValues(eventType, result).Inc()
}

func (m *Metrics) RecordSync(feed string, stored int, err error) {
	if err != nil {
		m.SyncRuns.WithLabelValues(feed, "error").Inc()
		return
	}
	m.SyncRuns.WithLabelValues(feed, "success").Inc()
	m.SyncedEvents.WithLabelValues(feed).Set(float64(stored))
}

func (m *Metrics) RecordGuestCharge(result string) {
	m.GuestCreditsSpent.WithLabelValues(result).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
