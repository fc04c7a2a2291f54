// Package metrics exposes the service's Prometheus collectors. All recording
// methods are safe on a nil *Metrics so components can run without a registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "walletd"

// Metrics holds every collector the service records into
type Metrics struct {
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	webhooks        *prometheus.CounterVec
	postings        *prometheus.CounterVec
	withdrawals     *prometheus.CounterVec
	processorCalls  *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	reconRuns       *prometheus.CounterVec
	driftedWallets  prometheus.Gauge
	staleWithdrawal prometheus.Gauge
	outboxPublished prometheus.Counter
	outboxFailures  prometheus.Counter
	outboxBacklog   prometheus.Gauge
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_notifications_total",
			Help:      "Processor webhook notifications by outcome",
		}, []string{"processor", "kind", "status"}),
		postings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_postings_total",
			Help:      "Ledger entries appended by entry type",
		}, []string{"entry_type"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Withdrawal state changes",
		}, []string{"status"}),
		processorCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "processor_request_duration_seconds",
			Help:      "Outbound processor API latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"processor", "operation", "outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processor_circuit_open",
			Help:      "1 while the processor circuit breaker is open",
		}, []string{"processor"}),
		reconRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_runs_total",
			Help:      "Reconciliation sweeps by result",
		}, []string{"result"}),
		driftedWallets: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciliation_drifted_wallets",
			Help:      "Wallets whose balances disagree with the ledger in the last sweep",
		}),
		staleWithdrawal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconciliation_stale_withdrawals",
			Help:      "Pending withdrawals older than the stale threshold in the last sweep",
		}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_published_total",
			Help:      "Outbox events published to the broker",
		}),
		outboxFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Outbox publish attempts that failed",
		}),
		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_backlog",
			Help:      "Unpublished outbox events seen by the last relay pass",
		}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.webhooks,
		m.postings,
		m.withdrawals,
		m.processorCalls,
		m.breakerState,
		m.reconRuns,
		m.driftedWallets,
		m.staleWithdrawal,
		m.outboxPublished,
		m.outboxFailures,
		m.outboxBacklog,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency by chi route pattern
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) WebhookHandled(processor, kind, status string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(processor, kind, status).Inc()
}

func (m *Metrics) EntryPosted(entryType string) {
	if m == nil {
		return
	}
	m.postings.WithLabelValues(entryType).Inc()
}

func (m *Metrics) WithdrawalChanged(status string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(status).Inc()
}

func (m *Metrics) ProcessorCall(processor, operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.processorCalls.WithLabelValues(processor, operation, outcome).Observe(d.Seconds())
}

func (m *Metrics) CircuitOpen(processor string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.breakerState.WithLabelValues(processor).Set(v)
}

func (m *Metrics) ReconciliationRun(result string, drifted, stale int) {
	if m == nil {
		return
	}
	m.reconRuns.WithLabelValues(result).Inc()
	m.driftedWallets.Set(float64(drifted))
	m.staleWithdrawal.Set(float64(stale))
}

func (m *Metrics) OutboxPass(published, failed, backlog int) {
	if m == nil {
		return
	}
	m.outboxPublished.Add(float64(published))
	m.outboxFailures.Add(float64(failed))
	m.outboxBacklog.Set(float64(backlog))
}
