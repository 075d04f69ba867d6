// Package observability holds the Prometheus collectors for fetches, sinks and the HTTP API.
package observability

import (
	"errors"
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

var modeLabel atomic.Value

func init() {
	modeLabel.Store("cli")
}

// SetMode labels all series with the run mode (cli, serve or consume).
func SetMode(s string) {
	if s == "" {
		s = "cli"
	}
	modeLabel.Store(s)
}

func getMode() string {
	if v := modeLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "cli"
}

var (
	fetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_attempts_total",
			Help: "Overpass request attempts by result.",
		},
		[]string{"result", "mode"},
	)

	fetchOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_outcomes_total",
			Help: "Completed fetch calls by outcome and location type.",
		},
		[]string{"outcome", "location_type", "mode"},
	)

	fetchBackoffSecondsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_backoff_seconds_total",
			Help: "Total time spent sleeping between attempts.",
		},
		[]string{"mode"},
	)

	fetchElements = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fetch_elements",
			Help: "Element count of the last successful fetch per location type.",
		},
		[]string{"location_type", "country_code", "mode"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
		},
		[]string{"upstream", "mode"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "mode"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 18),
		},
		[]string{"method", "route", "status", "mode"},
	)

	sinkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sink_writes_total",
			Help: "Dataset writes per output sink by result.",
		},
		[]string{"sink", "result", "mode"},
	)

	requestsConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_consumed_total",
			Help: "Fetch requests read from Kafka by result.",
		},
		[]string{"result", "mode"},
	)

	sinkWriteDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sink_write_duration_seconds",
			Help:    "Duration of dataset writes per output sink.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"sink", "mode"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		fetchAttemptsTotal,
		fetchOutcomesTotal,
		fetchBackoffSecondsTotal,
		fetchElements,
		upstreamLatencySeconds,
		httpRequestsTotal,
		httpRequestDurationSeconds,
		sinkWritesTotal,
		sinkWriteDurationSeconds,
		requestsConsumedTotal,
	}
}

// Init registers the collectors on reg. Observations are always recorded;
// without Init they are simply not exported.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveAttempt(result string) {
	fetchAttemptsTotal.WithLabelValues(result, getMode()).Inc()
}

func ObserveOutcome(outcome, locationType string) {
	fetchOutcomesTotal.WithLabelValues(outcome, locationType, getMode()).Inc()
}

func ObserveBackoff(seconds float64) {
	fetchBackoffSecondsTotal.WithLabelValues(getMode()).Add(seconds)
}

func SetElements(locationType, countryCode string, n int) {
	fetchElements.WithLabelValues(locationType, countryCode, getMode()).Set(float64(n))
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, getMode()).Observe(durationSeconds)
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	m := getMode()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, m).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, m).Observe(durationSeconds)
}

func ObserveSinkWrite(sink string, err error, durationSeconds float64) {
	m := getMode()
	result := "ok"
	if err != nil {
		result = "error"
	}
	sinkWritesTotal.WithLabelValues(sink, result, m).Inc()
	sinkWriteDurationSeconds.WithLabelValues(sink, m).Observe(durationSeconds)
}

func ObserveRequest(result string) {
	requestsConsumedTotal.WithLabelValues(result, getMode()).Inc()
}
