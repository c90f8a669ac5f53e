package handler

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const readinessTimeout = time.Second

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependencyCheck struct {
	name string
	ping func(ctx context.Context) error
}

type HealthHandler struct {
	checks []dependencyCheck
}

// NewHealthHandler checks whichever of db and redis are non-nil on readiness.
func NewHealthHandler(db Pinger, rdb redis.Cmdable) *HealthHandler {
	h := &HealthHandler{}
	if db != nil {
		h.checks = append(h.checks, dependencyCheck{name: "postgres", ping: db.Ping})
	}
	if rdb != nil {
		h.checks = append(h.checks, dependencyCheck{name: "redis", ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}
	return h
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready pings every dependency in parallel and fails if any is down.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		status = make(map[string]string, len(h.checks))
		down   []string
		g      errgroup.Group
	)
	for _, check := range h.checks {
		g.Go(func() error {
			err := check.ping(ctx)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("readiness check failed", zap.String("dependency", check.name), zap.Error(err))
				status[check.name] = "unavailable"
				down = append(down, check.name)
				return nil
			}
			status[check.name] = "ok"
			return nil
		})
	}
	_ = g.Wait()

	if len(down) > 0 {
		sort.Strings(down)
		RespondError(w, r, http.StatusServiceUnavailable, "health/dependency-unavailable", strings.Join(down, ", ")+" unavailable")
		return
	}
	RespondJSON(w, http.StatusOK, map[string]any{"status": "ready", "checks": status})
}
