package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/infra/config"
	"github.com/govvens/visitor-tracking/internal/infra/logger"
	"github.com/govvens/visitor-tracking/internal/infra/security"
	"github.com/govvens/visitor-tracking/internal/infra/telemetry"
	"github.com/govvens/visitor-tracking/internal/usecase"
)

const maxCapturedBody = 64 << 10

type trackingKey struct{}

// Tracking is the request-scoped telemetry state handed to handlers and the activity logger.
type Tracking struct {
	VisitorID  string
	NewVisitor bool
	SessionKey string
	Session    *domain.Session
	Bot        usecase.BotVerdict
}

// WithTracking attaches tracking state to ctx.
func WithTracking(ctx context.Context, tracking *Tracking) context.Context {
	return context.WithValue(ctx, trackingKey{}, tracking)
}

// TrackingFromContext returns the tracking state attached by the Tracker middleware.
func TrackingFromContext(ctx context.Context) (*Tracking, bool) {
	if ctx == nil {
		return nil, false
	}
	tracking, ok := ctx.Value(trackingKey{}).(*Tracking)
	return tracking, ok && tracking != nil
}

// SessionUpserter finds or creates the session for a request.
type SessionUpserter interface {
	Upsert(ctx context.Context, req usecase.RequestInfo, visitorID string) (*domain.Session, error)
}

// ActivityLogger records a completed request.
type ActivityLogger interface {
	Log(ctx context.Context, in usecase.ActivityInput) error
}

// BotInspector classifies the caller and flags bot sessions.
type BotInspector interface {
	Inspect(ctx context.Context, session *domain.Session, userAgent, pathAndQuery, clientIP string) (usecase.BotVerdict, error)
}

// TrackerOptions wires the Tracker collaborators.
type TrackerOptions struct {
	Settings   config.TrackingSettings
	Secure     bool
	Visitors   *usecase.VisitorResolver
	Sessions   SessionUpserter
	Activities ActivityLogger
	Bots       BotInspector
	Metrics    *telemetry.TrackingMetrics
	Logger     *zap.Logger
}

// Tracker resolves visitor identity, maintains the session and logs one activity per request.
// Tracking failures are logged and never change the response.
type Tracker struct {
	settings      config.TrackingSettings
	secure        bool
	visitors      *usecase.VisitorResolver
	sessions      SessionUpserter
	activities    ActivityLogger
	bots          BotInspector
	metrics       *telemetry.TrackingMetrics
	logger        *zap.Logger
	newSessionKey func() (string, error)
}

// NewTracker constructs a Tracker.
func NewTracker(opts TrackerOptions) *Tracker {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	visitors := opts.Visitors
	if visitors == nil {
		visitors = usecase.NewVisitorResolver()
	}

	return &Tracker{
		settings:      opts.Settings,
		secure:        opts.Secure,
		visitors:      visitors,
		sessions:      opts.Sessions,
		activities:    opts.Activities,
		bots:          opts.Bots,
		metrics:       opts.Metrics,
		logger:        log,
		newSessionKey: security.GenerateSessionKey,
	}
}

// Handler returns the Gin middleware.
func (t *Tracker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if t.ignored(c.Request.URL.Path) {
			c.Next()
			return
		}

		start := time.Now()
		state := t.prepare(c)

		ctx := WithTracking(c.Request.Context(), state)
		ctx = context.WithValue(ctx, logger.VisitorIDKey{}, state.VisitorID)
		c.Request = c.Request.WithContext(ctx)

		var body []byte
		if usecase.IsMutating(c.Request.Method) {
			body = captureBody(c.Request)
		}

		c.Next()

		t.logActivity(c, state, body, time.Since(start))
	}
}

func (t *Tracker) ignored(path string) bool {
	for _, prefix := range t.settings.IgnoredPrefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// prepare runs identity resolution, session upsert and bot inspection, in that order.
func (t *Tracker) prepare(c *gin.Context) *Tracking {
	state := &Tracking{}

	visitorCookie, _ := c.Cookie(t.settings.VisitorCookieName)
	state.VisitorID, state.NewVisitor = t.visitors.Resolve(visitorCookie)
	if state.NewVisitor {
		t.setCookie(c, t.settings.VisitorCookieName, state.VisitorID, t.settings.VisitorCookieMaxAge, false)
	}

	state.SessionKey = t.sessionKey(c)
	if state.SessionKey == "" {
		return state
	}

	// Persistence outlives a client disconnect.
	ctx := context.WithoutCancel(c.Request.Context())
	ip := usecase.ClientIP(c.GetHeader("X-Forwarded-For"), c.Request.RemoteAddr)

	if t.sessions != nil {
		req := usecase.RequestInfo{
			SessionKey:     state.SessionKey,
			IP:             ip,
			UserAgent:      c.Request.UserAgent(),
			AcceptLanguage: c.GetHeader("Accept-Language"),
			Timezone:       c.GetHeader("X-Timezone"),
			Referrer:       c.Request.Referer(),
			URL:            absoluteURL(c.Request),
			Query:          c.Request.URL.Query(),
			UserID:         authenticatedUser(c),
		}
		err := t.guard(usecase.StageSession, func() error {
			session, err := t.sessions.Upsert(ctx, req, state.VisitorID)
			state.Session = session
			return err
		})
		t.report(c, err)
	}

	if t.bots != nil {
		err := t.guard(usecase.StageBot, func() error {
			verdict, err := t.bots.Inspect(ctx, state.Session, c.Request.UserAgent(), c.Request.URL.RequestURI(), ip)
			state.Bot = verdict
			return err
		})
		t.report(c, err)
	}

	return state
}

func (t *Tracker) sessionKey(c *gin.Context) string {
	// Keys wider than the session key column are replaced rather than stored truncated.
	if key, err := c.Cookie(t.settings.SessionCookieName); err == nil && strings.TrimSpace(key) != "" && len(key) <= domain.MaxSessionKeyLen {
		return key
	}

	key, err := t.newSessionKey()
	if err != nil {
		t.report(c, &usecase.TrackingError{Stage: usecase.StageSession, Err: err})
		return ""
	}
	t.setCookie(c, t.settings.SessionCookieName, key, t.settings.SessionCookieMaxAge, true)
	return key
}

func (t *Tracker) logActivity(c *gin.Context, state *Tracking, body []byte, elapsed time.Duration) {
	if t.activities == nil || state.Session == nil || state.Session.ID == 0 {
		return
	}

	in := usecase.ActivityInput{
		Session:     state.Session,
		Method:      c.Request.Method,
		URL:         absoluteURL(c.Request),
		Path:        c.Request.URL.Path,
		ViewName:    c.FullPath(),
		Handler:     handlerName(c),
		StatusCode:  c.Writer.Status(),
		Duration:    elapsed,
		ClientIP:    usecase.ClientIP(c.GetHeader("X-Forwarded-For"), c.Request.RemoteAddr),
		UserAgent:   c.Request.UserAgent(),
		Referrer:    c.Request.Referer(),
		Query:       c.Request.URL.Query(),
		ContentType: c.ContentType(),
		Body:        body,
		UserID:      authenticatedUser(c),
		IsSecure:    requestScheme(c.Request) == "https",
		IsAjax:      c.GetHeader("X-Requested-With") == "XMLHttpRequest",
	}

	ctx := context.WithoutCancel(c.Request.Context())
	t.report(c, t.guard(usecase.StageActivity, func() error {
		return t.activities.Log(ctx, in)
	}))
}

// guard converts a panic inside a tracking stage into a TrackingError.
func (t *Tracker) guard(stage usecase.Stage, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = usecase.RecoveredError(stage, recovered)
		}
	}()
	return fn()
}

func (t *Tracker) report(c *gin.Context, err error) {
	if err == nil {
		return
	}

	stage := "unknown"
	var trackingErr *usecase.TrackingError
	if errors.As(err, &trackingErr) {
		stage = string(trackingErr.Stage)
	}

	t.metrics.Failure(stage)
	t.logger.Warn("tracking failed",
		zap.String("stage", stage),
		zap.String("request_id", requestIDFromContext(c.Request.Context())),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
}

func (t *Tracker) setCookie(c *gin.Context, name, value string, maxAge time.Duration, httpOnly bool) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   t.secure,
		HttpOnly: httpOnly,
		SameSite: http.SameSiteLaxMode,
	})
}

// captureBody reads up to maxCapturedBody bytes and puts them back in front of the rest of the body.
func captureBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	captured, err := io.ReadAll(io.LimitReader(r.Body, maxCapturedBody))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(captured), r.Body), Closer: r.Body}
	if err != nil {
		return nil
	}
	return captured
}

type readCloser struct {
	io.Reader
	io.Closer
}

func authenticatedUser(c *gin.Context) *int64 {
	if id, ok := GetAuthenticatedUserID(c); ok {
		return &id
	}
	return nil
}

func handlerName(c *gin.Context) string {
	if c.FullPath() == "" {
		return ""
	}
	return c.HandlerName()
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(strings.TrimSpace(strings.Split(proto, ",")[0]))
	}
	return "http"
}

func absoluteURL(r *http.Request) string {
	return requestScheme(r) + "://" + r.Host + r.URL.RequestURI()
}
