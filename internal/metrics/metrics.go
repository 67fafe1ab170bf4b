package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds all Prometheus metrics for the desk. Every method is safe on
// a nil receiver so components can run without instrumentation.
type Metrics struct {
	Registry *prometheus.Registry

	DispatchTotal *prometheus.CounterVec   // labels: query, outcome
	DispatchDur   *prometheus.HistogramVec // labels: query

	// Session lifecycle
	SessionState       prometheus.Gauge       // 0=unauthenticated, 1=active, 2=revoked
	SessionTransitions *prometheus.CounterVec // labels: to

	// Instrument cache
	CacheReplaceDur  prometheus.Histogram
	CacheRows        prometheus.Gauge
	CacheWriteErrors prometheus.Counter

	// Redis mirror circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	// Invoke surface
	InvokeTotal *prometheus.CounterVec // labels: op, transport
	WSClients   prometheus.Gauge
}

// NewMetrics builds the metrics on a private registry that also carries the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		DispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockdesk_dispatch_total",
			Help: "Dispatch calls by query and outcome kind",
		}, []string{"query", "outcome"}),
		DispatchDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stockdesk_dispatch_duration_seconds",
			Help:    "Upstream round-trip latency per query",
			Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"query"}),

		SessionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockdesk_session_state",
			Help: "Session state (0=unauthenticated, 1=active, 2=revoked)",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockdesk_session_transitions_total",
			Help: "Session state transitions by target state",
		}, []string{"to"}),

		CacheReplaceDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockdesk_cache_replace_duration_seconds",
			Help:    "Instrument table replace latency",
			Buckets: prometheus.DefBuckets,
		}),
		CacheRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockdesk_cache_rows",
			Help: "Instruments written by the last successful replace",
		}),
		CacheWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockdesk_cache_write_errors_total",
			Help: "Instrument list fetches that could not be cached",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockdesk_redis_circuit_breaker_state",
			Help: "Redis mirror circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stockdesk_redis_circuit_breaker_trips_total",
			Help: "Times the Redis mirror circuit breaker tripped open",
		}),

		InvokeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stockdesk_invoke_total",
			Help: "Invoke calls by operation and transport",
		}, []string{"op", "transport"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stockdesk_ws_clients",
			Help: "Connected WebSocket invoke clients",
		}),
	}

	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.DispatchTotal,
		m.DispatchDur,
		m.SessionState,
		m.SessionTransitions,
		m.CacheReplaceDur,
		m.CacheRows,
		m.CacheWriteErrors,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.InvokeTotal,
		m.WSClients,
	)

	return m
}

// ObserveDispatch records one dispatch. outcome is "ok" or an error kind.
func (m *Metrics) ObserveDispatch(query, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(query, outcome).Inc()
	if took > 0 {
		m.DispatchDur.WithLabelValues(query).Observe(took.Seconds())
	}
}

// ObserveSession records a transition into state (0, 1 or 2) named to.
func (m *Metrics) ObserveSession(state int, to string) {
	if m == nil {
		return
	}
	m.SessionState.Set(float64(state))
	m.SessionTransitions.WithLabelValues(to).Inc()
}

// ObserveReplace records a successful instrument table swap.
func (m *Metrics) ObserveReplace(rows int, took time.Duration) {
	if m == nil {
		return
	}
	m.CacheRows.Set(float64(rows))
	m.CacheReplaceDur.Observe(took.Seconds())
}

// CacheWriteFailed counts a fetch that could not be persisted.
func (m *Metrics) CacheWriteFailed() {
	if m == nil {
		return
	}
	m.CacheWriteErrors.Inc()
}

// BreakerChanged records a Redis mirror breaker transition.
func (m *Metrics) BreakerChanged(state int, tripped bool) {
	if m == nil {
		return
	}
	m.RedisCircuitBreakerState.Set(float64(state))
	if tripped {
		m.RedisCircuitBreakerTrips.Inc()
	}
}

// ObserveInvoke counts one invoke call.
func (m *Metrics) ObserveInvoke(op, transport string) {
	if m == nil {
		return
	}
	m.InvokeTotal.WithLabelValues(op, transport).Inc()
}

// WSClientDelta adjusts the connected WebSocket client gauge.
func (m *Metrics) WSClientDelta(d int) {
	if m == nil {
		return
	}
	m.WSClients.Add(float64(d))
}
