package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestReadyReportsDependencies(t *testing.T) {
	ok := NewHealthHandler(pingFunc(func(context.Context) error { return nil }), nil)
	w := httptest.NewRecorder()
	ok.Ready(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"postgres":"ok"}}`, w.Body.String())

	down := NewHealthHandler(pingFunc(func(context.Context) error { return errors.New("refused") }), nil)
	w = httptest.NewRecorder()
	down.Ready(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "health/dependency-unavailable")
	assert.Contains(t, w.Body.String(), "postgres unavailable")
}

func TestReadyWithoutDependencies(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthHandler(nil, nil).Ready(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
