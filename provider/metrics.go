package provider

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	skipReasonMalformed = "malformed"
	skipReasonFlag      = "skip_flag"
)

var (
	// pageRequests is a Counter vector of API page requests
	pageRequests *prometheus.CounterVec
	// pageLatency is a Histogram vector that keeps track of API page request durations
	pageLatency *prometheus.HistogramVec
	// skippedProjects is a Counter vector of projects which didn't produce a mirror
	skippedProjects *prometheus.CounterVec
	// lastDiscoveryTimestamp is a Gauge that captures the timestamp of the last
	// successful discovery
	lastDiscoveryTimestamp *prometheus.GaugeVec
)

// EnableMetrics will enable metrics collection for mirror discovery.
// Available metrics are...
//   - mirror_discovery_page_requests_total - (tags: provider,status)
//     A Counter for each API page request tagged with the response status, 0 if no response was received.
//   - mirror_discovery_page_latency_seconds - (tags: provider)
//     A Histogram that keeps track of the API page request latency.
//   - mirror_discovery_skipped_projects_total - (tags: provider,reason)
//     A Counter of projects skipped during discovery (reason=malformed|skip_flag)
//   - mirror_discovery_last_success_timestamp - (tags: provider)
//     A Gauge that captures the Timestamp of the last successful discovery.
func EnableMetrics(metricsNamespace string, registerer prometheus.Registerer) {
	pageRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "mirror_discovery_page_requests_total",
		Help:      "Count of API page requests",
	},
		[]string{
			// name of the provider
			"provider",
			// HTTP status code of the response
			"status",
		},
	)

	pageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "mirror_discovery_page_latency_seconds",
		Help:      "Latency for API page requests",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
		[]string{
			"provider",
		},
	)

	skippedProjects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "mirror_discovery_skipped_projects_total",
		Help:      "Count of projects skipped during discovery",
	},
		[]string{
			"provider",
			// either 'malformed' or 'skip_flag'
			"reason",
		},
	)

	lastDiscoveryTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "mirror_discovery_last_success_timestamp",
		Help:      "Timestamp of the last successful mirror discovery",
	},
		[]string{
			"provider",
		},
	)

	registerer.MustRegister(
		pageRequests,
		pageLatency,
		skippedProjects,
		lastDiscoveryTimestamp,
	)
}

// RecordPageRequest records a single API page request, status is 0
// if the request failed before a response was received
func RecordPageRequest(provider string, status int, start time.Time) {
	// if metrics not enabled return
	if pageRequests == nil || pageLatency == nil {
		return
	}
	pageRequests.With(prometheus.Labels{
		"provider": provider,
		"status":   strconv.Itoa(status),
	}).Inc()
	pageLatency.WithLabelValues(provider).Observe(time.Since(start).Seconds())
}

// RecordDiscoverySuccess records the time of a complete successful discovery
func RecordDiscoverySuccess(provider string) {
	if lastDiscoveryTimestamp == nil {
		return
	}
	lastDiscoveryTimestamp.WithLabelValues(provider).Set(float64(time.Now().Unix()))
}

func recordSkippedProject(provider, reason string) {
	if skippedProjects == nil {
		return
	}
	skippedProjects.WithLabelValues(provider, reason).Inc()
}
