package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/repository"
)

type sessionRepoMock struct {
	mu         sync.Mutex
	nextID     int64
	byKey      map[string]*domain.Session
	creates    int
	conflicts  int
	updates    []domain.SessionChanges
	staleReads int
	markedBots []int64
	closeCalls int
	createErr  error
	updateErr  error
	markBotErr error
	listFilter domain.SessionFilter
}

func newSessionRepoMock() *sessionRepoMock {
	return &sessionRepoMock{byKey: make(map[string]*domain.Session)}
}

func (m *sessionRepoMock) Create(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, exists := m.byKey[session.SessionKey]; exists {
		m.conflicts++
		return repository.ErrConflict
	}
	m.nextID++
	m.creates++
	session.ID = m.nextID
	stored := *session
	m.byKey[session.SessionKey] = &stored
	return nil
}

func (m *sessionRepoMock) GetByKey(_ context.Context, sessionKey string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.staleReads > 0 {
		m.staleReads--
		return nil, repository.ErrNotFound
	}
	session, ok := m.byKey[sessionKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *sessionRepoMock) GetByID(_ context.Context, id int64) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, session := range m.byKey {
		if session.ID == id {
			copied := *session
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *sessionRepoMock) Update(_ context.Context, id int64, changes domain.SessionChanges, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	for _, session := range m.byKey {
		if session.ID == id {
			changes.Apply(session)
			session.LastActivityAt = at
			m.updates = append(m.updates, changes)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *sessionRepoMock) MarkBot(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markBotErr != nil {
		return m.markBotErr
	}
	m.markedBots = append(m.markedBots, id)
	for _, session := range m.byKey {
		if session.ID == id {
			session.IsBot = true
		}
	}
	return nil
}

func (m *sessionRepoMock) Close(_ context.Context, id int64, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	for _, session := range m.byKey {
		if session.ID == id && session.EndedAt == nil {
			ended := at
			session.EndedAt = &ended
			return true, nil
		}
	}
	return false, nil
}

func (m *sessionRepoMock) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, session := range m.byKey {
		if session.ID == id {
			delete(m.byKey, key)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *sessionRepoMock) List(_ context.Context, filter domain.SessionFilter) ([]domain.Session, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listFilter = filter
	sessions := make([]domain.Session, 0, len(m.byKey))
	for _, session := range m.byKey {
		sessions = append(sessions, *session)
	}
	return sessions, int64(len(sessions)), nil
}

func (m *sessionRepoMock) Stats(context.Context) (*domain.SessionStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &domain.SessionStats{Total: int64(len(m.byKey))}, nil
}

func (m *sessionRepoMock) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byKey)
}

type activityRepoMock struct {
	mu         sync.Mutex
	activities []domain.Activity
	createErr  error
	listFilter domain.ActivityFilter
	statsScope *int64
}

func (m *activityRepoMock) Create(_ context.Context, activity *domain.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	activity.ID = int64(len(m.activities) + 1)
	m.activities = append(m.activities, *activity)
	return nil
}

func (m *activityRepoMock) GetByID(_ context.Context, id int64) (*domain.Activity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, activity := range m.activities {
		if activity.ID == id {
			copied := activity
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *activityRepoMock) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, activity := range m.activities {
		if activity.ID == id {
			m.activities = append(m.activities[:i], m.activities[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

func (m *activityRepoMock) List(_ context.Context, filter domain.ActivityFilter) ([]domain.Activity, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listFilter = filter
	out := make([]domain.Activity, 0, len(m.activities))
	for _, activity := range m.activities {
		if filter.SessionID != nil && activity.SessionID != *filter.SessionID {
			continue
		}
		out = append(out, activity)
	}
	return out, int64(len(out)), nil
}

func (m *activityRepoMock) Stats(_ context.Context, sessionID *int64) (*domain.ActivityStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statsScope = sessionID
	return &domain.ActivityStats{Total: int64(len(m.activities))}, nil
}

type geoStub struct {
	mu    sync.Mutex
	info  domain.GeoInfo
	calls []string
}

func (g *geoStub) Lookup(_ context.Context, ip string) domain.GeoInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, ip)
	return g.info
}

func (g *geoStub) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type eventRecorder struct {
	mu         sync.Mutex
	started    []domain.SessionStartedEvent
	recorded   []domain.ActivityRecordedEvent
	botFlagged []domain.SessionBotFlaggedEvent
	err        error
}

func (e *eventRecorder) PublishSessionStarted(_ context.Context, event domain.SessionStartedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, event)
	return e.err
}

func (e *eventRecorder) PublishActivityRecorded(_ context.Context, event domain.ActivityRecordedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recorded = append(e.recorded, event)
	return e.err
}

func (e *eventRecorder) PublishSessionBotFlagged(_ context.Context, event domain.SessionBotFlaggedEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.botFlagged = append(e.botFlagged, event)
	return e.err
}

func float64Ptr(v float64) *float64 { return &v }

func int64Ptr(v int64) *int64 { return &v }
