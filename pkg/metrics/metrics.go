// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "searcher"

var (
	// Registry holds every collector registered by this process.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "inflight_requests",
		Help:      "Current number of in-flight HTTP requests.",
	})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by method/path/status.",
	}, []string{"method", "path", "status"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// CycleDuration measures wall-clock time for a full scan/rank/dispatch/
	// collect/stats cycle.
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "cycle_duration_seconds",
		Help:      "Duration of one engine cycle.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})

	// CyclesTotal counts engine cycles, by outcome (ok, scan_failed).
	CyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "cycles_total",
		Help:      "Completed engine cycles by outcome.",
	}, []string{"outcome"})

	// OpportunitiesScanned counts raw opportunities surfaced per cycle.
	OpportunitiesScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "opportunities_scanned_total",
		Help:      "Raw opportunities returned by strategy scans.",
	})

	// DispatchTotal counts dispatch attempts by strategy and result.
	DispatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "dispatch_total",
		Help:      "Opportunity dispatch attempts by strategy and result.",
	}, []string{"strategy", "result"})

	// ProfitTotal accumulates realized profit (the float ActualProfit values) by strategy.
	ProfitTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "profit_total",
		Help:      "Realized profit by strategy, as the sum of positive ActualProfit values.",
	}, []string{"strategy"})

	// GateQueueDepth reports the admission gate's current pending-request count.
	GateQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "queue_depth",
		Help:      "Pending admission requests currently queued.",
	})

	// GateInFlight reports concurrently-admitted requests holding a gate slot.
	GateInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "in_flight",
		Help:      "Admitted requests currently holding a concurrency slot.",
	})

	// GateRejections counts rejected admission requests by reason.
	GateRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "gate",
		Name:      "rejections_total",
		Help:      "Admission requests rejected, by reason.",
	}, []string{"reason"})

	// RPCEndpointHealth reports 1 for healthy, 0 for unhealthy, per endpoint.
	RPCEndpointHealth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rpcpool",
		Name:      "endpoint_healthy",
		Help:      "1 if the endpoint is currently healthy, else 0.",
	}, []string{"endpoint"})

	// RPCEndpointLatency tracks the most recent call latency observed per endpoint.
	RPCEndpointLatency = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "rpcpool",
		Name:      "endpoint_latency_seconds",
		Help:      "Latency of the most recent call against the endpoint.",
	}, []string{"endpoint"})

	// RPCCallTotal counts RPC calls by endpoint and outcome.
	RPCCallTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpcpool",
		Name:      "calls_total",
		Help:      "RPC calls issued, by endpoint and outcome.",
	}, []string{"endpoint", "outcome"})

	// RPCFailovers counts endpoint selections that went to an endpoint other
	// than the configured primary.
	RPCFailovers = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "rpcpool",
		Name:      "failovers_total",
		Help:      "Endpoint selections that went to an endpoint other than the configured primary.",
	})

	// ClockDriftSeconds reports the most recently measured clock drift.
	ClockDriftSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "timeguard",
		Name:      "drift_seconds",
		Help:      "Most recent measured offset from the reference clock.",
	})

	// ClockDriftTier reports the current drift tier as an enum gauge (0-3).
	ClockDriftTier = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "timeguard",
		Name:      "drift_tier",
		Help:      "Current clock drift tier: 0=safe 1=warn 2=degraded 3=unsafe.",
	})

	// DiskGuardFreeBytes reports free bytes on the monitored volume.
	DiskGuardFreeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "diskguard",
		Name:      "free_bytes",
		Help:      "Free bytes on the monitored log volume.",
	})

	// DiskGuardReclaimedBytes counts bytes reclaimed by rotation/cleanup passes.
	DiskGuardReclaimedBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "diskguard",
		Name:      "reclaimed_bytes_total",
		Help:      "Bytes reclaimed by log rotation, compression, or emergency cleanup.",
	}, []string{"action"})

	// MatrixEvaluations counts compatibility matrix lookups by result.
	MatrixEvaluations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "matrix",
		Name:      "evaluations_total",
		Help:      "Compatibility matrix evaluations, by admitted/denied.",
	}, []string{"result"})
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		CycleDuration,
		CyclesTotal,
		OpportunitiesScanned,
		DispatchTotal,
		ProfitTotal,
		GateQueueDepth,
		GateInFlight,
		GateRejections,
		RPCEndpointHealth,
		RPCEndpointLatency,
		RPCCallTotal,
		RPCFailovers,
		ClockDriftSeconds,
		ClockDriftTier,
		DiskGuardFreeBytes,
		DiskGuardReclaimedBytes,
		MatrixEvaluations,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordCycle records the outcome of one engine cycle.
func RecordCycle(outcome string, scanned int, duration time.Duration) {
	CyclesTotal.WithLabelValues(outcome).Inc()
	OpportunitiesScanned.Add(float64(scanned))
	CycleDuration.Observe(duration.Seconds())
}

// RecordDispatch records one opportunity dispatch attempt.
func RecordDispatch(strategy, result string) {
	DispatchTotal.WithLabelValues(strategy, result).Inc()
}

// RecordProfit accumulates realized profit for a strategy.
func RecordProfit(strategy string, amount float64) {
	if amount <= 0 {
		return
	}
	ProfitTotal.WithLabelValues(strategy).Add(amount)
}

// RecordGateRejection records an admission gate rejection by reason.
func RecordGateRejection(reason string) {
	GateRejections.WithLabelValues(reason).Inc()
}

// RecordRPCCall records the outcome of one upstream RPC call.
func RecordRPCCall(endpoint, outcome string, latency time.Duration) {
	RPCCallTotal.WithLabelValues(endpoint, outcome).Inc()
	RPCEndpointLatency.WithLabelValues(endpoint).Set(latency.Seconds())
}

// SetRPCEndpointHealth records the current health of an endpoint.
func SetRPCEndpointHealth(endpoint string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	RPCEndpointHealth.WithLabelValues(endpoint).Set(v)
}

// RecordFailover counts one selection of a non-primary endpoint.
func RecordFailover() {
	RPCFailovers.Inc()
}

// RecordClockDrift records the latest measured drift and its tier.
func RecordClockDrift(drift time.Duration, tier int) {
	ClockDriftSeconds.Set(drift.Seconds())
	ClockDriftTier.Set(float64(tier))
}

// RecordDiskReclaim records bytes reclaimed by a disk guard action
// (rotate, compress, or emergency_cleanup).
func RecordDiskReclaim(action string, bytes int64) {
	if bytes <= 0 {
		return
	}
	DiskGuardReclaimedBytes.WithLabelValues(action).Add(float64(bytes))
}

// SetDiskFreeBytes records the current free space on the monitored volume.
func SetDiskFreeBytes(bytes int64) {
	DiskGuardFreeBytes.Set(float64(bytes))
}

// RecordMatrixEvaluation records a compatibility matrix lookup outcome
// ("admitted" or "denied").
func RecordMatrixEvaluation(result string) {
	MatrixEvaluations.WithLabelValues(result).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func canonicalPath(raw string) string {
	if raw == "" || raw == "/" {
		return "/"
	}
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	return "/" + parts[0]
}
