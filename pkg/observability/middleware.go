package observability

import (
	"cmp"
	"net/http"
	"strconv"
	"strings"

	"github.com/felixge/httpsnoop"
)

// MetricsMiddleware records verlauf_requests_total and
// verlauf_request_duration_seconds for every request, and tracks open SSE
// responses in verlauf_streaming_connections_active.
//
// Requests are labelled with the ServeMux pattern that matched, so next
// must be the mux itself (or a handler that calls it with the same
// *http.Request). Session ids never become label values.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
			StreamingConnections.Inc()
			defer StreamingConnections.Dec()
		}

		// CaptureMetrics keeps Flusher and the other optional interfaces
		// of w visible to the SSE writer.
		m := httpsnoop.CaptureMetrics(next, w, r)

		route := cmp.Or(r.Pattern, "unmatched")
		RequestsTotal.WithLabelValues(r.Method, statusClass(m.Code), route).Inc()
		RequestDuration.WithLabelValues(r.Method, route).Observe(m.Duration.Seconds())
	})
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
