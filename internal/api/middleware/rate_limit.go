package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ayo6706/value-core/internal/api/problem"
	"github.com/ayo6706/value-core/internal/observability"
	"github.com/go-chi/httprate"
)

const (
	scopePublic = "public"
	scopeUser   = "user"
)

// PublicRateLimiter limits unauthenticated routes per client IP.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(scopePublic, rps, httprate.KeyByIP)
}

// AuthRateLimiter limits authenticated routes per user, falling back to the IP
// when no identity is on the context yet.
func AuthRateLimiter(rps int) func(http.Handler) http.Handler {
	return limiter(scopeUser, rps, func(r *http.Request) (string, error) {
		if userID := UserIDFromContext(r.Context()); userID != "" {
			return "user:" + userID, nil
		}
		return httprate.KeyByIP(r)
	})
}

func limiter(scope string, rps int, key httprate.KeyFunc) func(http.Handler) http.Handler {
	if rps < 1 {
		rps = 1
	}
	detail := fmt.Sprintf("Rate limit of %d requests per second exceeded for this %s", rps, subject(scope))
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(key),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			observability.IncrementRateLimited(scope)
			w.Header().Set("Retry-After", strconv.Itoa(1))
			problem.Write(w, r, http.StatusTooManyRequests,
				problem.Type("rate-limit-exceeded"),
				http.StatusText(http.StatusTooManyRequests),
				detail,
			)
		}),
	)
}

func subject(scope string) string {
	if scope == scopeUser {
		return "user"
	}
	return "client"
}
