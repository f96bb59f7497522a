// Package metrics registers the Prometheus collectors for the service and
// exposes small helpers so callers never touch label plumbing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// chunksTotal counts bulk provider calls.
	// Labels:
	// - template: provider template name
	// - status:   "success" or "failure"
	chunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bulkmail",
			Subsystem: "dispatch",
			Name:      "chunks_total",
			Help:      "Number of bulk send calls issued to the mail provider",
		},
		[]string{"template", "status"},
	)

	// recipientsTotal counts recipients carried by bulk calls.
	// Labels:
	// - template: provider template name
	// - status:   "sent" or "failed"
	recipientsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bulkmail",
			Subsystem: "dispatch",
			Name:      "recipients_total",
			Help:      "Number of recipients included in bulk send calls",
		},
		[]string{"template", "status"},
	)

	// runsTotal counts finished dispatch runs by outcome.
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bulkmail",
			Subsystem: "dispatch",
			Name:      "runs_total",
			Help:      "Number of dispatch runs by final state",
		},
		[]string{"state"},
	)

	// unsentRecipients counts recipients left unattempted after a failure.
	unsentRecipients = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "bulkmail",
			Subsystem: "dispatch",
			Name:      "unsent_recipients_total",
			Help:      "Number of recipients never attempted because an earlier chunk failed",
		},
	)

	// httpDuration tracks request latency.
	// Labels:
	// - route:  chi route pattern, e.g. "/api/bulk-emails/{runID}"
	// - method: HTTP method
	// - code:   response status code
	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bulkmail",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method", "code"},
	)
)

// DispatchObserver feeds chunk outcomes into the dispatch counters.
type DispatchObserver struct{}

// ChunkDone records one bulk call.
func (DispatchObserver) ChunkDone(template string, size int, err error) {
	if template == "" {
		template = "unknown"
	}
	status, recipients := "success", "sent"
	if err != nil {
		status, recipients = "failure", "failed"
	}
	chunksTotal.WithLabelValues(template, status).Inc()
	recipientsTotal.WithLabelValues(template, recipients).Add(float64(size))
}

// ObserveRun records the final state of a dispatch run.
func ObserveRun(state string, unsent int) {
	if state == "" {
		state = "unknown"
	}
	runsTotal.WithLabelValues(state).Inc()
	if unsent > 0 {
		unsentRecipients.Add(float64(unsent))
	}
}

// ObserveHTTP records one served request.
func ObserveHTTP(route, method string, code int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpDuration.WithLabelValues(route, method, strconv.Itoa(code)).Observe(d.Seconds())
}
