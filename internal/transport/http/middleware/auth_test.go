package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"

	"github.com/govvens/visitor-tracking/internal/infra/security"
)

const testSecret = "test-secret-with-enough-entropy"

func newAuthRouter(t *testing.T, verifier *security.TokenVerifier, guard ...gin.HandlerFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(EnrichContext(), OptionalAuth(verifier, "access_token", zaptest.NewLogger(t)))
	handlers := append(guard, func(c *gin.Context) {
		id, ok := GetAuthenticatedUserID(c)
		if !ok {
			c.String(http.StatusOK, "anonymous")
			return
		}
		if reqCtx := GetRequestContext(c); reqCtx.UserID == nil || *reqCtx.UserID != id {
			t.Errorf("expected request context to carry the user id")
		}
		c.String(http.StatusOK, "user")
	})
	router.GET("/", handlers...)
	return router
}

func issue(t *testing.T, verifier *security.TokenVerifier, identity security.Identity, ttl time.Duration) string {
	t.Helper()
	token, err := verifier.Issue(identity, ttl)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	return token
}

func TestOptionalAuthBearerToken(t *testing.T) {
	verifier := security.NewTokenVerifier(testSecret)
	router := newAuthRouter(t, verifier)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, verifier, security.Identity{UserID: 7}, time.Hour))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Body.String() != "user" {
		t.Fatalf("expected authenticated request, got %q", rr.Body.String())
	}
}

func TestOptionalAuthCookieToken(t *testing.T) {
	verifier := security.NewTokenVerifier(testSecret)
	router := newAuthRouter(t, verifier)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "access_token", Value: issue(t, verifier, security.Identity{UserID: 7}, time.Hour)})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Body.String() != "user" {
		t.Fatalf("expected cookie token accepted, got %q", rr.Body.String())
	}
}

func TestOptionalAuthInvalidTokenStaysAnonymous(t *testing.T) {
	verifier := security.NewTokenVerifier(testSecret)
	router := newAuthRouter(t, verifier)

	for _, header := range []string{"Bearer not-a-jwt", "Basic dXNlcjpwYXNz", "Bearer " + issue(t, verifier, security.Identity{UserID: 7}, -time.Minute)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK || rr.Body.String() != "anonymous" {
			t.Fatalf("expected anonymous pass-through for %q, got %d %q", header, rr.Code, rr.Body.String())
		}
	}
}

func TestOptionalAuthWithoutSecret(t *testing.T) {
	signer := security.NewTokenVerifier(testSecret)
	router := newAuthRouter(t, security.NewTokenVerifier(""))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, signer, security.Identity{UserID: 7}, time.Hour))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Body.String() != "anonymous" {
		t.Fatalf("expected tokens ignored without a secret, got %q", rr.Body.String())
	}
}

func TestRequireStaff(t *testing.T) {
	verifier := security.NewTokenVerifier(testSecret)
	router := newAuthRouter(t, verifier, RequireStaff())

	cases := []struct {
		name   string
		token  string
		status int
	}{
		{"anonymous", "", http.StatusUnauthorized},
		{"citizen", issue(t, verifier, security.Identity{UserID: 7}, time.Hour), http.StatusForbidden},
		{"staff", issue(t, verifier, security.Identity{UserID: 1, Staff: true}, time.Hour), http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.token != "" {
			req.Header.Set("Authorization", "Bearer "+tc.token)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)

		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rr.Code)
		}
	}
}
