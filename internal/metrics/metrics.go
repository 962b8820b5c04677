// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for vidgate.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgate_resolve_total",
		Help: "Resolution attempts by outcome",
	}, []string{"outcome"}) // outcome=hit|miss|invalid|failure

	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "vidgate_resolve_duration_seconds",
		Help:    "Time spent resolving an uncached source",
		Buckets: []float64{0.5, 1, 2, 3, 5, 8, 13, 20, 30},
	})

	relayBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidgate_relay_bytes_total",
		Help: "Total bytes relayed to clients",
	})

	relayTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgate_relay_total",
		Help: "Relay attempts by result and range usage",
	}, []string{"result", "ranged"}) // result=success|failure

	activeRelays = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vidgate_active_relays",
		Help: "Number of in-flight streaming relays",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidgate_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "code"})
)

// IncResolve records a resolution attempt outcome (hit, miss, invalid, failure).
func IncResolve(outcome string) {
	resolveTotal.WithLabelValues(outcome).Inc()
}

// ObserveResolveDuration records how long an uncached resolution took.
func ObserveResolveDuration(d time.Duration) {
	resolveDuration.Observe(d.Seconds())
}

// AddRelayBytes records bytes streamed to a client.
func AddRelayBytes(n int64) {
	if n > 0 {
		relayBytesTotal.Add(float64(n))
	}
}

// IncRelay records a relay attempt outcome.
func IncRelay(success, ranged bool) {
	result := "failure"
	if success {
		result = "success"
	}
	relayTotal.WithLabelValues(result, strconv.FormatBool(ranged)).Inc()
}

// IncActiveRelays marks a relay as started.
func IncActiveRelays() { activeRelays.Inc() }

// DecActiveRelays marks a relay as finished.
func DecActiveRelays() { activeRelays.Dec() }

// IncHTTPRequest records one handled HTTP request.
func IncHTTPRequest(route string, code int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
