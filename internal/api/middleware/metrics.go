package middleware

import (
	"net/http"
	"time"

	"github.com/ayo6706/value-core/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware records request latency by route pattern. The scrape
// endpoint itself is left out so it does not dominate the histogram.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		done := observability.TrackInFlight()
		defer done()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		observability.ObserveHTTP(r.Method, routePattern(r), rec.status, time.Since(start))
	})
}

// routePattern is only complete after routing, so it must be read once the
// handler has returned. Raw paths would explode label cardinality.
func routePattern(r *http.Request) string {
	rc := chi.RouteContext(r.Context())
	if rc == nil {
		return "unmatched"
	}
	if pattern := rc.RoutePattern(); pattern != "" {
		return pattern
	}
	return "unmatched"
}
