package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/core/port"
	"github.com/govvens/visitor-tracking/internal/infra/telemetry"
	"github.com/govvens/visitor-tracking/internal/repository"
)

const maxMultipartMemory = 1 << 20

// ClassifierRules holds the path prefixes that decide an activity's event type.
type ClassifierRules struct {
	APIPrefixes  []string
	AuthPrefixes []string
}

// ActivityInput describes one completed request to be logged.
type ActivityInput struct {
	Session     *domain.Session
	Method      string
	URL         string
	Path        string
	ViewName    string
	Handler     string
	StatusCode  int
	Duration    time.Duration
	ClientIP    string
	UserAgent   string
	Referrer    string
	Query       url.Values
	ContentType string
	Body        []byte
	UserID      *int64
	IsSecure    bool
	IsAjax      bool
}

// CustomEvent is a client-submitted event attached to the caller's current session.
type CustomEvent struct {
	Name       string
	URL        string
	Path       string
	Properties map[string]any
	ClientIP   string
	UserAgent  string
	Referrer   string
	UserID     *int64
}

// ActivityService records request activities and backs the activity admin endpoints.
type ActivityService struct {
	activities port.ActivityRepository
	events     port.EventPublisher
	rules      ClassifierRules
	metrics    *telemetry.TrackingMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewActivityService constructs an ActivityService. events and metrics may be nil.
func NewActivityService(activities port.ActivityRepository, events port.EventPublisher, rules ClassifierRules, metrics *telemetry.TrackingMetrics, logger *zap.Logger) *ActivityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityService{
		activities: activities,
		events:     events,
		rules:      rules,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *ActivityService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// ClassifyEventType derives the event type of a request. API paths win, then POSTs to
// authentication paths, then mutating verbs; everything else is a page view. The auth
// check must precede the mutating-verb check, otherwise a login POST would always
// classify as an interaction and auth would never be produced.
func ClassifyEventType(path, method string, rules ClassifierRules) domain.EventType {
	method = strings.ToUpper(method)
	switch {
	case hasAnyPrefix(path, rules.APIPrefixes):
		return domain.EventAPIRequest
	case method == http.MethodPost && hasAnyPrefix(path, rules.AuthPrefixes):
		return domain.EventAuth
	case IsMutating(method):
		return domain.EventInteraction
	default:
		return domain.EventPageView
	}
}

// IsMutating reports whether method changes server state.
func IsMutating(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// ParsePayload decodes a captured request body. JSON bodies are decoded, forms keep the
// first value per key and anything else yields nil. Undecodable bodies yield an empty map.
func ParsePayload(contentType string, body []byte) any {
	if len(body) == 0 {
		return nil
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		var decoded any
		if err := json.Unmarshal(body, &decoded); err != nil {
			return map[string]any{}
		}
		return decoded
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return map[string]any{}
		}
		return firstValues(values)
	case mediaType == "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return map[string]any{}
		}
		form, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(maxMultipartMemory)
		if err != nil {
			return map[string]any{}
		}
		defer form.RemoveAll()
		return firstValues(form.Value)
	default:
		return nil
	}
}

func firstValues(values map[string][]string) map[string]any {
	out := make(map[string]any, len(values))
	for key, list := range values {
		if len(list) > 0 {
			out[key] = list[0]
		}
	}
	return out
}

// Log writes one activity for a completed request.
func (s *ActivityService) Log(ctx context.Context, in ActivityInput) error {
	if in.Session == nil || in.Session.ID == 0 {
		return trackingError(StageActivity, ErrSessionRequired)
	}

	now := s.now()
	eventType := ClassifyEventType(in.Path, in.Method, s.rules)

	var payload any
	if IsMutating(in.Method) {
		payload = SanitizePayload(ParsePayload(in.ContentType, in.Body))
	}

	var userID any
	if in.UserID != nil {
		userID = *in.UserID
	}

	activity := &domain.Activity{
		SessionID:      in.Session.ID,
		EventType:      eventType,
		URL:            in.URL,
		Path:           in.Path,
		ViewName:       domain.Clamp(in.ViewName, domain.MaxViewNameLen),
		Handler:        domain.Clamp(in.Handler, domain.MaxHandlerLen),
		Method:         domain.Clamp(strings.ToUpper(in.Method), domain.MaxMethodLen),
		StatusCode:     in.StatusCode,
		ResponseTimeMS: in.Duration.Milliseconds(),
		ClientIP:       domain.Clamp(in.ClientIP, domain.MaxIPLen),
		UserAgent:      in.UserAgent,
		Country:        in.Session.Country,
		Referrer:       in.Referrer,
		QueryParams:    QueryParams(in.Query),
		Payload:        payload,
		Metadata: map[string]any{
			"user_id":   userID,
			"is_secure": in.IsSecure,
			"is_ajax":   in.IsAjax,
			"timestamp": now.Format(time.RFC3339),
		},
		CreatedAt: now,
	}

	if err := s.record(ctx, activity, in.Session); err != nil {
		return trackingError(StageActivity, err)
	}
	return nil
}

// RecordCustomEvent logs a client-submitted event on session.
func (s *ActivityService) RecordCustomEvent(ctx context.Context, session *domain.Session, event CustomEvent) (*domain.Activity, error) {
	name := strings.TrimSpace(event.Name)
	if name == "" {
		return nil, ErrInvalidEventName
	}
	if session == nil || session.ID == 0 {
		return nil, ErrSessionRequired
	}

	now := s.now()
	var userID any
	if event.UserID != nil {
		userID = *event.UserID
	}

	properties := map[string]any{}
	if event.Properties != nil {
		properties = event.Properties
	}

	activity := &domain.Activity{
		SessionID:   session.ID,
		EventType:   domain.EventCustom,
		URL:         event.URL,
		Path:        event.Path,
		Method:      http.MethodPost,
		StatusCode:  http.StatusAccepted,
		ClientIP:    domain.Clamp(event.ClientIP, domain.MaxIPLen),
		UserAgent:   event.UserAgent,
		Country:     session.Country,
		Referrer:    event.Referrer,
		QueryParams: map[string]any{},
		Payload:     SanitizePayload(map[string]any{"name": name, "properties": properties}),
		Metadata: map[string]any{
			"user_id":    userID,
			"event_name": name,
			"timestamp":  now.Format(time.RFC3339),
		},
		CreatedAt: now,
	}

	if err := s.record(ctx, activity, session); err != nil {
		return nil, err
	}
	return activity, nil
}

func (s *ActivityService) record(ctx context.Context, activity *domain.Activity, session *domain.Session) error {
	if s.activities == nil {
		return fmt.Errorf("activity repository not configured")
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		return fmt.Errorf("create activity: %w", err)
	}

	s.metrics.ActivityRecorded(string(activity.EventType))

	if s.events == nil {
		return nil
	}
	event := domain.ActivityRecordedEvent{
		EventID:        uuid.NewString(),
		ActivityID:     activity.ID,
		SessionID:      activity.SessionID,
		VisitorID:      session.VisitorID,
		UserID:         session.UserID,
		EventType:      activity.EventType,
		Method:         activity.Method,
		Path:           activity.Path,
		StatusCode:     activity.StatusCode,
		ResponseTimeMS: activity.ResponseTimeMS,
		RecordedAt:     activity.CreatedAt,
	}
	if err := s.events.PublishActivityRecorded(ctx, event); err != nil {
		s.logger.Warn("failed to publish activity recorded event", zap.Int64("activity_id", activity.ID), zap.Error(err))
	}
	return nil
}

// ListActivities returns a filtered page of activities with the total match count.
func (s *ActivityService) ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, int64, error) {
	if filter.EventType != "" && !filter.EventType.Valid() {
		return nil, 0, fmt.Errorf("%w: unknown event type %q", ErrInvalidFilter, filter.EventType)
	}
	activities, total, err := s.activities.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list activities: %w", err)
	}
	return activities, total, nil
}

// ActivityStats aggregates the activity dashboard counters.
func (s *ActivityService) ActivityStats(ctx context.Context) (*domain.ActivityStats, error) {
	stats, err := s.activities.Stats(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("activity stats: %w", err)
	}
	return stats, nil
}

// GetActivity loads one activity.
func (s *ActivityService) GetActivity(ctx context.Context, id int64) (*domain.Activity, error) {
	activity, err := s.activities.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrActivityNotFound
		}
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return activity, nil
}

// DeleteActivity removes one activity.
func (s *ActivityService) DeleteActivity(ctx context.Context, id int64) error {
	if err := s.activities.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrActivityNotFound
		}
		return fmt.Errorf("delete activity: %w", err)
	}
	return nil
}

func hasAnyPrefix(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
