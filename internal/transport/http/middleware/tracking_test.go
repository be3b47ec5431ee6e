package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/infra/config"
	"github.com/govvens/visitor-tracking/internal/infra/telemetry"
	"github.com/govvens/visitor-tracking/internal/usecase"
)

type fakeUpserter struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	requests []usecase.RequestInfo
	visitors []string
	err      error
	trace    *[]string
}

func (f *fakeUpserter) Upsert(_ context.Context, req usecase.RequestInfo, visitorID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trace != nil {
		*f.trace = append(*f.trace, "upsert")
	}
	f.requests = append(f.requests, req)
	f.visitors = append(f.visitors, visitorID)
	if f.err != nil {
		return nil, &usecase.TrackingError{Stage: usecase.StageSession, Err: f.err}
	}
	if f.sessions == nil {
		f.sessions = make(map[string]*domain.Session)
	}
	session, ok := f.sessions[req.SessionKey]
	if !ok {
		session = &domain.Session{ID: int64(len(f.sessions) + 1), SessionKey: req.SessionKey, VisitorID: visitorID, Country: "Kenya"}
		f.sessions[req.SessionKey] = session
	}
	return session, nil
}

type fakeActivityLogger struct {
	mu     sync.Mutex
	inputs []usecase.ActivityInput
	err    error
	panics bool
	trace  *[]string
}

func (f *fakeActivityLogger) Log(_ context.Context, in usecase.ActivityInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.trace != nil {
		*f.trace = append(*f.trace, "log")
	}
	if f.panics {
		var m map[string]int
		m["boom"]++
	}
	f.inputs = append(f.inputs, in)
	return f.err
}

type fakeBotInspector struct {
	sessions []*domain.Session
	paths    []string
	verdict  usecase.BotVerdict
}

func (f *fakeBotInspector) Inspect(_ context.Context, session *domain.Session, _ string, pathAndQuery, _ string) (usecase.BotVerdict, error) {
	f.sessions = append(f.sessions, session)
	f.paths = append(f.paths, pathAndQuery)
	return f.verdict, nil
}

func testTrackingSettings() config.TrackingSettings {
	return config.TrackingSettings{
		IgnoredPrefixes:     []string{"/static/", "/media/"},
		APIPrefixes:         []string{"/api/"},
		AuthPrefixes:        []string{"/user/login"},
		VisitorCookieName:   "gov_visitor_id",
		VisitorCookieMaxAge: 8760 * time.Hour,
		SessionCookieName:   "sessionid",
		SessionCookieMaxAge: 336 * time.Hour,
	}
}

func newTrackingRouter(t *testing.T, opts TrackerOptions, register func(*gin.Engine)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	opts.Settings = testTrackingSettings()
	opts.Logger = zaptest.NewLogger(t)

	router := gin.New()
	router.Use(NewTracker(opts).Handler())
	register(router)
	return router
}

func findCookies(cookies []*http.Cookie, name string) []*http.Cookie {
	var out []*http.Cookie
	for _, cookie := range cookies {
		if cookie.Name == name {
			out = append(out, cookie)
		}
	}
	return out
}

func TestTrackingVisitorCookieRoundTrip(t *testing.T) {
	sessions := &fakeUpserter{}
	router := newTrackingRouter(t, TrackerOptions{Sessions: sessions, Activities: &fakeActivityLogger{}}, func(r *gin.Engine) {
		r.GET("/tickets", func(c *gin.Context) { c.Status(http.StatusOK) })
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/tickets", nil))

	cookies := rr.Result().Cookies()
	visitor := findCookies(cookies, "gov_visitor_id")
	if len(visitor) != 1 {
		t.Fatalf("expected exactly one visitor cookie, got %d", len(visitor))
	}
	if visitor[0].MaxAge != 31536000 || visitor[0].HttpOnly || visitor[0].SameSite != http.SameSiteLaxMode || visitor[0].Path != "/" {
		t.Fatalf("unexpected visitor cookie attributes %+v", visitor[0])
	}
	if len(visitor[0].Value) != 32 {
		t.Fatalf("unexpected visitor id %q", visitor[0].Value)
	}
	sessionCookie := findCookies(cookies, "sessionid")
	if len(sessionCookie) != 1 || !sessionCookie[0].HttpOnly || sessionCookie[0].MaxAge != 1209600 {
		t.Fatalf("unexpected session cookie %+v", sessionCookie)
	}

	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	req.AddCookie(visitor[0])
	req.AddCookie(sessionCookie[0])
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if got := rr.Result().Cookies(); len(got) != 0 {
		t.Fatalf("expected no cookies on a returning request, got %+v", got)
	}
	if len(sessions.visitors) != 2 || sessions.visitors[1] != visitor[0].Value {
		t.Fatalf("expected visitor id echoed back, got %v", sessions.visitors)
	}
	if sessions.requests[1].SessionKey != sessionCookie[0].Value {
		t.Fatalf("expected session key reused, got %q", sessions.requests[1].SessionKey)
	}
	if len(sessions.sessions) != 1 {
		t.Fatalf("expected a single session, got %d", len(sessions.sessions))
	}
}

func TestTrackingReplacesOverlongCookies(t *testing.T) {
	sessions := &fakeUpserter{}
	router := newTrackingRouter(t, TrackerOptions{Sessions: sessions, Activities: &fakeActivityLogger{}}, func(r *gin.Engine) {
		r.GET("/tickets", func(c *gin.Context) { c.Status(http.StatusOK) })
	})

	req := httptest.NewRequest(http.MethodGet, "/tickets", nil)
	req.AddCookie(&http.Cookie{Name: "gov_visitor_id", Value: strings.Repeat("v", 500)})
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: strings.Repeat("k", 200)})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	cookies := rr.Result().Cookies()
	visitor := findCookies(cookies, "gov_visitor_id")
	if len(visitor) != 1 || len(visitor[0].Value) != 32 {
		t.Fatalf("expected a fresh visitor cookie, got %+v", visitor)
	}
	sessionCookie := findCookies(cookies, "sessionid")
	if len(sessionCookie) != 1 || len(sessionCookie[0].Value) > domain.MaxSessionKeyLen {
		t.Fatalf("expected a fresh session cookie, got %+v", sessionCookie)
	}
	if len(sessions.requests) != 1 || sessions.requests[0].SessionKey != sessionCookie[0].Value {
		t.Fatalf("expected the minted key to reach the session stage, got %+v", sessions.requests)
	}
	if sessions.visitors[0] != visitor[0].Value {
		t.Fatalf("expected the minted visitor id to reach the session stage, got %v", sessions.visitors)
	}
}

func TestTrackingSecureCookies(t *testing.T) {
	router := newTrackingRouter(t, TrackerOptions{Secure: true, Sessions: &fakeUpserter{}}, func(r *gin.Engine) {
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	for _, cookie := range rr.Result().Cookies() {
		if !cookie.Secure {
			t.Fatalf("expected secure cookie %q", cookie.Name)
		}
	}
}

func TestTrackingRunsStagesInOrder(t *testing.T) {
	var trace []string
	sessions := &fakeUpserter{trace: &trace}
	activities := &fakeActivityLogger{trace: &trace}
	bots := &fakeBotInspector{}

	router := newTrackingRouter(t, TrackerOptions{Sessions: sessions, Activities: activities, Bots: bots}, func(r *gin.Engine) {
		r.GET("/tickets/:id", func(c *gin.Context) {
			trace = append(trace, "handler")
			tracking, ok := TrackingFromContext(c.Request.Context())
			if !ok || tracking.Session == nil || tracking.Session.ID != 1 {
				t.Errorf("expected tracking state in handler, got %+v", tracking)
			}
			c.String(http.StatusOK, "ok")
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/tickets/42?tab=history", nil)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Forwarded-For", "197.248.10.4, 10.0.0.1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	if strings.Join(trace, ",") != "upsert,handler,log" {
		t.Fatalf("unexpected stage order %v", trace)
	}
	if len(bots.paths) != 1 || bots.paths[0] != "/tickets/42?tab=history" || bots.sessions[0] == nil {
		t.Fatalf("expected bot inspection after upsert, got %v", bots.paths)
	}

	in := activities.inputs[0]
	if in.ViewName != "/tickets/:id" || in.Path != "/tickets/42" || in.StatusCode != http.StatusOK {
		t.Fatalf("unexpected activity input %+v", in)
	}
	if in.Handler == "" || !in.IsAjax || in.IsSecure {
		t.Fatalf("unexpected handler/flags %q %v %v", in.Handler, in.IsAjax, in.IsSecure)
	}
	if in.ClientIP != "197.248.10.4" || sessions.requests[0].IP != "197.248.10.4" {
		t.Fatalf("expected first forwarded address, got %q", in.ClientIP)
	}
	if in.URL != "http://example.com/tickets/42?tab=history" {
		t.Fatalf("unexpected absolute url %q", in.URL)
	}
}

func TestTrackingActivityFailureDoesNotAlterResponse(t *testing.T) {
	for name, activities := range map[string]*fakeActivityLogger{
		"error": {err: &usecase.TrackingError{Stage: usecase.StageActivity, Err: errors.New("db down")}},
		"panic": {panics: true},
	} {
		t.Run(name, func(t *testing.T) {
			metrics, err := telemetry.NewTrackingMetrics(telemetry.TrackingMetricsOptions{Registerer: prometheus.NewRegistry()})
			if err != nil {
				t.Fatalf("NewTrackingMetrics returned error: %v", err)
			}
			router := newTrackingRouter(t, TrackerOptions{Sessions: &fakeUpserter{}, Activities: activities, Metrics: metrics}, func(r *gin.Engine) {
				r.POST("/tickets", func(c *gin.Context) { c.String(http.StatusCreated, "created") })
			})

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/tickets", strings.NewReader(`{"title":"x"}`)))

			if rr.Code != http.StatusCreated || rr.Body.String() != "created" {
				t.Fatalf("expected untouched response, got %d %q", rr.Code, rr.Body.String())
			}
			if got := testutil.ToFloat64(metrics.Failures.WithLabelValues("activity")); got != 1 {
				t.Fatalf("expected one activity failure, got %v", got)
			}
		})
	}
}

func TestTrackingSessionFailureStillServes(t *testing.T) {
	activities := &fakeActivityLogger{}
	router := newTrackingRouter(t, TrackerOptions{Sessions: &fakeUpserter{err: errors.New("db down")}, Activities: activities}, func(r *gin.Engine) {
		r.GET("/", func(c *gin.Context) {
			tracking, ok := TrackingFromContext(c.Request.Context())
			if !ok || tracking.VisitorID == "" || tracking.Session != nil {
				t.Errorf("expected visitor without session, got %+v", tracking)
			}
			c.String(http.StatusOK, "home")
		})
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK || rr.Body.String() != "home" {
		t.Fatalf("unexpected response %d %q", rr.Code, rr.Body.String())
	}
	if len(activities.inputs) != 0 {
		t.Fatal("expected no activity without a session")
	}
	if len(findCookies(rr.Result().Cookies(), "gov_visitor_id")) != 1 {
		t.Fatal("expected visitor cookie even when the session write fails")
	}
}

func TestTrackingSkipsIgnoredPrefixes(t *testing.T) {
	sessions := &fakeUpserter{}
	router := newTrackingRouter(t, TrackerOptions{Sessions: sessions, Activities: &fakeActivityLogger{}}, func(r *gin.Engine) {
		r.GET("/static/*file", func(c *gin.Context) { c.Status(http.StatusOK) })
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/static/app.css", nil))

	if len(rr.Result().Cookies()) != 0 || len(sessions.requests) != 0 {
		t.Fatal("expected static assets to bypass tracking")
	}
}

func TestTrackingCapturesAndRestoresBody(t *testing.T) {
	activities := &fakeActivityLogger{}
	payload := `{"title":"Pothole on Moi Avenue"}`

	router := newTrackingRouter(t, TrackerOptions{Sessions: &fakeUpserter{}, Activities: activities}, func(r *gin.Engine) {
		r.POST("/tickets", func(c *gin.Context) {
			body, err := io.ReadAll(c.Request.Body)
			if err != nil {
				t.Errorf("read body: %v", err)
			}
			c.String(http.StatusCreated, string(body))
		})
	})

	req := httptest.NewRequest(http.MethodPost, "/tickets", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Body.String() != payload {
		t.Fatalf("expected handler to see the full body, got %q", rr.Body.String())
	}
	in := activities.inputs[0]
	if string(in.Body) != payload || in.ContentType != "application/json" {
		t.Fatalf("unexpected captured body %q (%s)", in.Body, in.ContentType)
	}
}

func TestTrackingForwardsAuthenticatedUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sessions := &fakeUpserter{}
	activities := &fakeActivityLogger{}

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(UserIDKey, int64(77))
		c.Next()
	})
	router.Use(NewTracker(TrackerOptions{
		Settings:   testTrackingSettings(),
		Sessions:   sessions,
		Activities: activities,
		Logger:     zaptest.NewLogger(t),
	}).Handler())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	if sessions.requests[0].UserID == nil || *sessions.requests[0].UserID != 77 {
		t.Fatal("expected user id passed to the session upsert")
	}
	if activities.inputs[0].UserID == nil || *activities.inputs[0].UserID != 77 {
		t.Fatal("expected user id passed to the activity logger")
	}
}

func TestTrackingSessionKeyFailure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	sessions := &fakeUpserter{}

	tracker := NewTracker(TrackerOptions{Settings: testTrackingSettings(), Sessions: sessions, Logger: zaptest.NewLogger(t)})
	tracker.newSessionKey = func() (string, error) { return "", errors.New("entropy exhausted") }

	router := gin.New()
	router.Use(tracker.Handler())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if len(sessions.requests) != 0 {
		t.Fatal("expected no upsert without a session key")
	}
}
