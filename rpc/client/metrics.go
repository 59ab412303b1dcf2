package client

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// observeRequest records one client round trip in the process-wide metrics
// set. Exposed series:
//
//	dmap_client_requests_total{op="...", result="ok|error"}
//	dmap_client_request_duration_seconds{op="..."}
func observeRequest(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}

	metrics.GetOrCreateCounter(
		fmt.Sprintf(`dmap_client_requests_total{op=%q, result=%q}`, op, result),
	).Inc()

	metrics.GetOrCreateHistogram(
		fmt.Sprintf(`dmap_client_request_duration_seconds{op=%q}`, op),
	).UpdateDuration(start)
}

// observeEvent counts change events delivered to listeners
func observeEvent(evType string) {
	metrics.GetOrCreateCounter(
		fmt.Sprintf(`dmap_client_events_total{type=%q}`, evType),
	).Inc()
}
