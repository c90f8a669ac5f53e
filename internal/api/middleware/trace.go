package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	TraceIDHeader    = "X-Trace-ID"
	requestIDHeader  = "X-Request-ID"
	maxTraceIDLength = 128
)

// TraceMiddleware adopts the caller's X-Trace-ID or X-Request-ID when it is a safe
// token, otherwise mints one. The id is echoed on the response and carried on the
// context for logs, problem bodies and provider calls.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := incomingTraceID(r)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(TraceIDHeader, traceID)
		next.ServeHTTP(w, r.WithContext(contextWithTraceID(r.Context(), traceID)))
	})
}

func incomingTraceID(r *http.Request) string {
	for _, header := range []string{TraceIDHeader, requestIDHeader} {
		if id := strings.TrimSpace(r.Header.Get(header)); validTraceID(id) {
			return id
		}
	}
	return ""
}

// validTraceID keeps ids that are safe to log verbatim.
func validTraceID(id string) bool {
	if id == "" || len(id) > maxTraceIDLength {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.', c == ':':
		default:
			return false
		}
	}
	return true
}

func contextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey, traceID)
}
