package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "remotectl"

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"endpoint", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "method", "path", "status"},
	)
	protocolMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "messages_total",
			Help:      "Protocol messages by endpoint, direction and request.",
		},
		[]string{"endpoint", "direction", "request"},
	)
	protocolErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "protocol",
			Name:      "errors_total",
			Help:      "Protocol errors raised by an endpoint.",
		},
		[]string{"endpoint", "kind"},
	)
	inactiveTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "liveness",
			Name:      "inactive_total",
			Help:      "Sessions flagged inactive by the liveness check.",
		},
		[]string{"endpoint"},
	)
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, protocolMessages, protocolErrors, inactiveTransitions)
	})
}

func RecordHTTPRequest(endpoint, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(endpoint, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(endpoint, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordMessage counts one protocol message. request is empty for reports
// and other records without a request field.
func RecordMessage(endpoint, direction, request string) {
	RegisterMetrics()
	if request == "" {
		request = "none"
	}
	protocolMessages.WithLabelValues(endpoint, direction, request).Inc()
}

func RecordProtocolError(endpoint, kind string) {
	RegisterMetrics()
	protocolErrors.WithLabelValues(endpoint, kind).Inc()
}

func RecordInactive(endpoint string) {
	RegisterMetrics()
	inactiveTransitions.WithLabelValues(endpoint).Inc()
}
