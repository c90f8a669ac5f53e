package middleware

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/value-core/internal/api/problem"
	"github.com/ayo6706/value-core/internal/idempotency"
	"github.com/ayo6706/value-core/internal/observability"
	"go.uber.org/zap"
)

const (
	IdempotencyKeyHeader    = "Idempotency-Key"
	IdempotentReplayHeader  = "X-Idempotent-Replay"
	maxIdempotencyKeyLength = 128
)

type idempotencyGuard struct {
	store  *idempotency.Store
	logger *zap.Logger
}

// IdempotencyMiddleware requires an Idempotency-Key on mutating requests and replays the
// first completed response for any retry carrying the same key and body. Keys are scoped
// to the authenticated caller, so two users never share one.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	g := &idempotencyGuard{store: store, logger: logger}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil || !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(next, w, r)
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (g *idempotencyGuard) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(IdempotencyKeyHeader)
	switch {
	case key == "":
		g.reject(w, r, "missing_key", http.StatusBadRequest, "idempotency/missing-key", "Idempotency-Key header is required")
		return
	case len(key) > maxIdempotencyKeyLength:
		g.reject(w, r, "invalid_key", http.StatusBadRequest, "idempotency/invalid-key", "Idempotency-Key header is too long")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), http.StatusText(http.StatusBadRequest), "Failed to read request body")
		return
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	req := idempotency.NewRequest(callerScopedKey(r, key), r.Method, r.URL.Path, body)
	rec, reserved, err := g.store.Begin(r.Context(), req)
	switch {
	case errors.Is(err, idempotency.ErrHashMismatch):
		g.reject(w, r, "hash_mismatch", http.StatusConflict, "idempotency/key-conflict", "Idempotency-Key was already used with a different request")
		return
	case errors.Is(err, idempotency.ErrInProgress):
		g.awaitAndReplay(w, r, req)
		return
	case err != nil:
		g.logger.Error("idempotency begin failed", zap.Error(err))
		g.reject(w, r, "begin_error", http.StatusInternalServerError, "idempotency/unavailable", "idempotency store unavailable")
		return
	case !reserved:
		observability.IncrementIdempotencyEvent("replay")
		replay(w, rec)
		return
	}
	observability.IncrementIdempotencyEvent("reserved")

	capture := &responseCapture{ResponseWriter: w}
	next.ServeHTTP(capture, r)

	if _, err := g.store.Complete(r.Context(), req, capture.response()); err != nil {
		observability.IncrementIdempotencyEvent("finalize_error")
		g.logger.Warn("idempotency finalize failed", zap.Error(err), zap.String("key", req.Key))
		return
	}
	observability.IncrementIdempotencyEvent("finalized")
}

// awaitAndReplay blocks a concurrent retry until the first attempt completes.
func (g *idempotencyGuard) awaitAndReplay(w http.ResponseWriter, r *http.Request, req idempotency.Request) {
	rec, err := g.store.Await(r.Context(), req)
	if err != nil {
		g.logger.Warn("idempotency wait failed", zap.Error(err), zap.String("key", req.Key))
		g.reject(w, r, "in_progress_conflict", http.StatusConflict, "idempotency/in-progress", "a request with this Idempotency-Key is still processing")
		return
	}
	observability.IncrementIdempotencyEvent("replay_after_wait")
	replay(w, rec)
}

func (g *idempotencyGuard) reject(w http.ResponseWriter, r *http.Request, outcome string, status int, slug, detail string) {
	observability.IncrementIdempotencyEvent(outcome)
	problem.Write(w, r, status, problem.Type(slug), http.StatusText(status), detail)
}

func callerScopedKey(r *http.Request, key string) string {
	if userID := UserIDFromContext(r.Context()); userID != "" {
		return userID + ":" + key
	}
	return "anon:" + key
}

func replay(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set(IdempotentReplayHeader, rec.Source)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

// responseCapture tees the handler's response so it can be stored for replay.
type responseCapture struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *responseCapture) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *responseCapture) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *responseCapture) response() idempotency.Response {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	contentType := c.Header().Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	return idempotency.Response{Status: status, Body: c.body.Bytes(), ContentType: contentType}
}
