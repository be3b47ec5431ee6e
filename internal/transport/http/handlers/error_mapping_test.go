package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRespondWithMappedError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	errKnown := errors.New("known")
	cases := []ErrorCase{{Err: nil, Status: http.StatusTeapot}, {Err: errKnown, Status: http.StatusNotFound, Message: "missing"}}

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set("trace_id", "trace-1")

	RespondWithMappedError(c, fmt.Errorf("wrapped: %w", errKnown), cases, http.StatusInternalServerError, "boom")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	resp := decode[ErrorResponse](t, rec)
	if resp.Error != "missing" || resp.TraceID != "trace-1" {
		t.Fatalf("unexpected body %+v", resp)
	}
	if len(c.Errors) != 0 {
		t.Fatalf("expected mapped error not to be attached, got %v", c.Errors)
	}

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	RespondWithMappedError(c, errors.New("db down"), cases, http.StatusInternalServerError, "boom")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(c.Errors) != 1 {
		t.Fatalf("expected fallback error attached to context, got %d", len(c.Errors))
	}
}
