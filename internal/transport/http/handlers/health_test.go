package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
)

func newHealthRouter(opts ...HealthOption) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHealthHandler(opts...)
	r.GET("/healthz", h.Status)
	r.GET("/readyz", h.Readiness)
	return r
}

func TestHealthStatus(t *testing.T) {
	rec := serve(newHealthRouter(), http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decode[HealthResponse](t, rec); resp.Status != "ok" || resp.StartedAt.IsZero() {
		t.Fatalf("unexpected health %+v", resp)
	}
}

func TestReadinessReportsChecks(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	rec := serve(newHealthRouter(WithReadinessCheck("database", ok), WithReadinessCheck("redis", ok)), http.MethodGet, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	resp := decode[ReadyResponse](t, rec)
	if resp.Status != "ready" || resp.Checks["database"] != "ok" || resp.Checks["redis"] != "ok" {
		t.Fatalf("unexpected readiness %+v", resp)
	}

	rec = serve(newHealthRouter(WithReadinessCheck("database", ok), WithReadinessCheck("redis", down)), http.MethodGet, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	resp = decode[ReadyResponse](t, rec)
	if resp.Status != "not_ready" || resp.Checks["redis"] != "connection refused" || resp.Checks["database"] != "ok" {
		t.Fatalf("unexpected readiness %+v", resp)
	}
}

func TestReadinessIgnoresNilCheck(t *testing.T) {
	rec := serve(newHealthRouter(WithReadinessCheck("database", nil)), http.MethodGet, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if resp := decode[ReadyResponse](t, rec); len(resp.Checks) != 0 {
		t.Fatalf("expected no checks, got %v", resp.Checks)
	}
}
