// Package metrics exposes driver activity as Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so callers never need to check.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "typedb_driver"

type Metrics struct {
	unaryCalls       *prometheus.CounterVec
	unaryDuration    *prometheus.HistogramVec
	requestsQueued   *prometheus.CounterVec
	batchesFlushed   prometheus.Counter
	batchSize        prometheus.Histogram
	openSessions     prometheus.Gauge
	openTransactions prometheus.Gauge
	failovers        *prometheus.CounterVec
	streamParts      prometheus.Counter
	refreshes        *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
// A nil reg uses a fresh private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		unaryCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unary_calls_total",
			Help:      "Unary calls by method and outcome.",
		}, []string{"method", "outcome"}),
		unaryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unary_call_duration_seconds",
			Help:      "Round trip time of unary calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		requestsQueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_requests_total",
			Help:      "Transaction requests queued for dispatch, by kind.",
		}, []string{"kind"}),
		batchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transaction_batches_total",
			Help:      "Batches written to transaction streams.",
		}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_batch_requests",
			Help:      "Requests per flushed batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		openSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_sessions",
			Help:      "Sessions currently open.",
		}),
		openTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "open_transactions",
			Help:      "Transactions currently open.",
		}),
		failovers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replica_failovers_total",
			Help:      "Operations retried on another replica, by database.",
		}, []string{"database"}),
		streamParts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_parts_total",
			Help:      "Streamed response parts received.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topology_refreshes_total",
			Help:      "Replica set refreshes, by database.",
		}, []string{"database"}),
	}

	reg.MustRegister(
		m.unaryCalls,
		m.unaryDuration,
		m.requestsQueued,
		m.batchesFlushed,
		m.batchSize,
		m.openSessions,
		m.openTransactions,
		m.failovers,
		m.streamParts,
		m.refreshes,
	)

	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObserveUnary(method string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.unaryCalls.WithLabelValues(method, outcome(err)).Inc()
	m.unaryDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) RequestQueued(kind string) {
	if m == nil {
		return
	}
	m.requestsQueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) BatchFlushed(requests int) {
	if m == nil {
		return
	}
	m.batchesFlushed.Inc()
	m.batchSize.Observe(float64(requests))
}

func (m *Metrics) StreamPart() {
	if m == nil {
		return
	}
	m.streamParts.Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.openSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.openSessions.Dec()
}

func (m *Metrics) TransactionOpened() {
	if m == nil {
		return
	}
	m.openTransactions.Inc()
}

func (m *Metrics) TransactionClosed() {
	if m == nil {
		return
	}
	m.openTransactions.Dec()
}

func (m *Metrics) Failover(database string) {
	if m == nil {
		return
	}
	m.failovers.WithLabelValues(database).Inc()
}

func (m *Metrics) TopologyRefreshed(database string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(database).Inc()
}
