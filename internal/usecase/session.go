package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/core/port"
	"github.com/govvens/visitor-tracking/internal/infra/telemetry"
	"github.com/govvens/visitor-tracking/internal/repository"
)

const detailActivityLimit = 100

// RequestInfo is the slice of an HTTP request the session upserter needs.
type RequestInfo struct {
	SessionKey     string
	IP             string
	UserAgent      string
	AcceptLanguage string
	Timezone       string
	Referrer       string
	URL            string
	Query          url.Values
	UserID         *int64
}

// SessionDetail bundles a session with its latest activities for the admin view.
type SessionDetail struct {
	Session    *domain.Session
	Activities []domain.Activity
	Stats      *domain.ActivityStats
}

// SessionService maintains tracking sessions and backs the session admin endpoints.
type SessionService struct {
	sessions   port.SessionRepository
	activities port.ActivityRepository
	geo        port.GeoLocator
	events     port.EventPublisher
	metrics    *telemetry.TrackingMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewSessionService constructs a SessionService. geo, events and metrics may be nil.
func NewSessionService(sessions port.SessionRepository, activities port.ActivityRepository, geo port.GeoLocator, events port.EventPublisher, metrics *telemetry.TrackingMetrics, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &SessionService{
		sessions:   sessions,
		activities: activities,
		geo:        geo,
		events:     events,
		metrics:    metrics,
		logger:     logger,
	}
	service.now = func() time.Time { return time.Now().UTC() }
	return service
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Upsert finds or creates the session for req.SessionKey and refreshes it with the
// attributes observed on this request. Only fields whose new value is non-empty and
// different are written.
func (s *SessionService) Upsert(ctx context.Context, req RequestInfo, visitorID string) (*domain.Session, error) {
	if strings.TrimSpace(req.SessionKey) == "" {
		return nil, trackingError(StageSession, ErrSessionKeyRequired)
	}
	if utf8.RuneCountInString(req.SessionKey) > domain.MaxSessionKeyLen {
		return nil, trackingError(StageSession, ErrSessionKeyTooLong)
	}
	if s.sessions == nil {
		return nil, trackingError(StageSession, fmt.Errorf("session repository not configured"))
	}

	ctx, span := telemetry.Tracer().Start(ctx, "tracking.UpsertSession")
	defer span.End()

	now := s.now()
	observed := observeRequest(req, visitorID)

	session, err := s.sessions.GetByKey(ctx, req.SessionKey)
	if errors.Is(err, repository.ErrNotFound) {
		created, createErr := s.create(ctx, req, observed, now)
		if createErr == nil {
			span.SetAttributes(attribute.Bool("tracking.session.created", true))
			return created, nil
		}
		if !errors.Is(createErr, repository.ErrConflict) {
			span.SetStatus(codes.Error, createErr.Error())
			return nil, trackingError(StageSession, createErr)
		}
		// Lost the first-contact race; the row exists now.
		session, err = s.sessions.GetByKey(ctx, req.SessionKey)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, trackingError(StageSession, fmt.Errorf("load session: %w", err))
	}

	span.SetAttributes(attribute.Int64("tracking.session.id", session.ID))

	changes := s.diff(ctx, *session, observed, req)
	if err := s.sessions.Update(ctx, session.ID, changes, now); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return session, trackingError(StageSession, fmt.Errorf("update session: %w", err))
	}
	changes.Apply(session)
	session.LastActivityAt = now

	return session, nil
}

func (s *SessionService) create(ctx context.Context, req RequestInfo, observed domain.Session, now time.Time) (*domain.Session, error) {
	session := observed
	session.SessionKey = req.SessionKey
	session.EntryURL = req.URL
	session.ExitURL = req.URL
	session.Metadata = map[string]any{}
	session.StartedAt = now
	session.LastActivityAt = now
	if req.UserID != nil {
		id := *req.UserID
		session.UserID = &id
		session.IsAuthenticated = true
	}

	var geo domain.SessionChanges
	s.geoChanges(ctx, &geo, session)
	geo.Apply(&session)

	if err := s.sessions.Create(ctx, &session); err != nil {
		return nil, err
	}

	s.metrics.SessionCreated()
	s.publishStarted(ctx, &session)

	return &session, nil
}

func (s *SessionService) diff(ctx context.Context, current domain.Session, observed domain.Session, req RequestInfo) domain.SessionChanges {
	var changes domain.SessionChanges

	domain.SetString(&changes.VisitorID, current.VisitorID, observed.VisitorID)
	domain.SetString(&changes.Fingerprint, current.Fingerprint, observed.Fingerprint)
	domain.SetString(&changes.UserAgentHash, current.UserAgentHash, observed.UserAgentHash)
	domain.SetString(&changes.IPAddress, current.IPAddress, observed.IPAddress)
	domain.SetString(&changes.UserAgent, current.UserAgent, observed.UserAgent)
	domain.SetString(&changes.ClientLanguage, current.ClientLanguage, observed.ClientLanguage)
	domain.SetString(&changes.ClientTimezone, current.ClientTimezone, observed.ClientTimezone)
	if observed.DeviceType != domain.DeviceUnknown && observed.DeviceType != current.DeviceType {
		deviceType := observed.DeviceType
		changes.DeviceType = &deviceType
	}
	domain.SetString(&changes.Browser, current.Browser, observed.Browser)
	domain.SetString(&changes.BrowserVersion, current.BrowserVersion, observed.BrowserVersion)
	domain.SetString(&changes.OS, current.OS, observed.OS)
	domain.SetString(&changes.Referrer, current.Referrer, observed.Referrer)
	domain.SetString(&changes.UTMSource, current.UTMSource, observed.UTMSource)
	domain.SetString(&changes.UTMMedium, current.UTMMedium, observed.UTMMedium)
	domain.SetString(&changes.UTMCampaign, current.UTMCampaign, observed.UTMCampaign)
	domain.SetString(&changes.UTMTerm, current.UTMTerm, observed.UTMTerm)
	if observed.IsBot && !current.IsBot {
		isBot := true
		changes.IsBot = &isBot
	}

	if current.EntryURL == "" {
		domain.SetString(&changes.EntryURL, current.EntryURL, req.URL)
	}
	domain.SetString(&changes.ExitURL, current.ExitURL, req.URL)

	if req.UserID != nil {
		if current.UserID == nil || *current.UserID != *req.UserID {
			id := *req.UserID
			changes.UserID = &id
		}
		if !current.IsAuthenticated {
			authenticated := true
			changes.IsAuthenticated = &authenticated
		}
	}

	located := current
	located.IPAddress = observed.IPAddress
	if located.IPAddress == "" {
		located.IPAddress = current.IPAddress
	}
	s.geoChanges(ctx, &changes, located)

	return changes
}

// geoChanges looks up the session address once, while the session has no country yet.
func (s *SessionService) geoChanges(ctx context.Context, changes *domain.SessionChanges, current domain.Session) {
	if s.geo == nil || current.HasGeo() || strings.TrimSpace(current.IPAddress) == "" {
		return
	}

	geo := s.geo.Lookup(ctx, current.IPAddress)
	if geo.Empty() {
		return
	}

	domain.SetString(&changes.Country, current.Country, domain.Clamp(strings.TrimSpace(geo.Country), domain.MaxGeoNameLen))
	domain.SetString(&changes.Region, current.Region, domain.Clamp(strings.TrimSpace(geo.Region), domain.MaxGeoNameLen))
	domain.SetString(&changes.City, current.City, domain.Clamp(strings.TrimSpace(geo.City), domain.MaxGeoNameLen))
	domain.SetString(&changes.ISP, current.ISP, domain.Clamp(strings.TrimSpace(geo.ISP), domain.MaxISPLen))
	if geo.Latitude != nil {
		lat := RoundCoordinate(*geo.Latitude)
		if !current.Latitude.Valid || !current.Latitude.Decimal.Equal(lat) {
			changes.Latitude = &lat
		}
	}
	if geo.Longitude != nil {
		lon := RoundCoordinate(*geo.Longitude)
		if !current.Longitude.Valid || !current.Longitude.Decimal.Equal(lon) {
			changes.Longitude = &lon
		}
	}
}

func (s *SessionService) publishStarted(ctx context.Context, session *domain.Session) {
	if s.events == nil {
		return
	}
	event := domain.SessionStartedEvent{
		EventID:    uuid.NewString(),
		SessionID:  session.ID,
		SessionKey: session.SessionKey,
		VisitorID:  session.VisitorID,
		UserID:     session.UserID,
		DeviceType: session.DeviceType,
		Country:    session.Country,
		EntryURL:   session.EntryURL,
		StartedAt:  session.StartedAt,
		Metadata:   session.Metadata,
	}
	if err := s.events.PublishSessionStarted(ctx, event); err != nil {
		s.logger.Warn("failed to publish session started event", zap.Int64("session_id", session.ID), zap.Error(err))
	}
}

// observeRequest computes the session attributes implied by one request. Client-supplied
// values are clamped to their column widths so an oversized header never blocks the write.
func observeRequest(req RequestInfo, visitorID string) domain.Session {
	device := DetectDevice(req.UserAgent)
	utm := ExtractUTM(req.Query)
	visitorID = domain.Clamp(visitorID, domain.MaxVisitorIDLen)

	return domain.Session{
		VisitorID:      visitorID,
		Fingerprint:    BuildFingerprint(visitorID, req.UserAgent, req.IP),
		UserAgentHash:  UserAgentHash(req.UserAgent),
		IPAddress:      domain.Clamp(req.IP, domain.MaxIPLen),
		UserAgent:      req.UserAgent,
		ClientLanguage: domain.Clamp(PrimaryLanguage(req.AcceptLanguage), domain.MaxLanguageLen),
		ClientTimezone: domain.Clamp(strings.TrimSpace(req.Timezone), domain.MaxTimezoneLen),
		DeviceType:     device.DeviceType,
		Browser:        domain.Clamp(device.Browser, domain.MaxBrowserLen),
		BrowserVersion: domain.Clamp(device.BrowserVersion, domain.MaxBrowserVersionLen),
		OS:             domain.Clamp(device.OS, domain.MaxOSLen),
		Referrer:       req.Referrer,
		UTMSource:      domain.Clamp(utm.Source, domain.MaxUTMLen),
		UTMMedium:      domain.Clamp(utm.Medium, domain.MaxUTMLen),
		UTMCampaign:    domain.Clamp(utm.Campaign, domain.MaxUTMLen),
		UTMTerm:        domain.Clamp(utm.Term, domain.MaxUTMLen),
		IsBot:          device.IsBot,
	}
}

// ListSessions returns a filtered page of sessions with the total match count.
func (s *SessionService) ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, int64, error) {
	switch filter.Kind {
	case "", "authenticated", "anonymous", "bot":
	default:
		return nil, 0, fmt.Errorf("%w: unknown session kind %q", ErrInvalidFilter, filter.Kind)
	}
	sessions, total, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

// SessionStats aggregates the session dashboard counters.
func (s *SessionService) SessionStats(ctx context.Context) (*domain.SessionStats, error) {
	stats, err := s.sessions.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("session stats: %w", err)
	}
	return stats, nil
}

// GetSessionDetail loads a session together with its latest activities and their counters.
func (s *SessionService) GetSessionDetail(ctx context.Context, id int64) (*SessionDetail, error) {
	session, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &SessionDetail{Session: session, Activities: []domain.Activity{}, Stats: &domain.ActivityStats{}}
	if s.activities == nil {
		return detail, nil
	}

	sessionID := session.ID
	activities, _, err := s.activities.List(ctx, domain.ActivityFilter{SessionID: &sessionID, Limit: detailActivityLimit})
	if err != nil {
		return nil, fmt.Errorf("list session activities: %w", err)
	}
	stats, err := s.activities.Stats(ctx, &sessionID)
	if err != nil {
		return nil, fmt.Errorf("session activity stats: %w", err)
	}

	detail.Activities = activities
	detail.Stats = stats
	return detail, nil
}

// CloseSession marks a session ended. Closing an already ended session is a no-op.
func (s *SessionService) CloseSession(ctx context.Context, id int64) (*domain.Session, error) {
	session, err := s.getSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if !session.IsActive() {
		return session, nil
	}

	now := s.now()
	closed, err := s.sessions.Close(ctx, id, now)
	if err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	if closed {
		session.EndedAt = &now
		s.logger.Info("session closed", zap.Int64("session_id", id))
		return session, nil
	}

	// Someone else closed it between the read and the write.
	return s.getSession(ctx, id)
}

// DeleteSession removes a session and, by cascade, its activities.
func (s *SessionService) DeleteSession(ctx context.Context, id int64) error {
	if err := s.sessions.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("delete session: %w", err)
	}
	s.logger.Info("session deleted", zap.Int64("session_id", id))
	return nil
}

func (s *SessionService) getSession(ctx context.Context, id int64) (*domain.Session, error) {
	session, err := s.sessions.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}
