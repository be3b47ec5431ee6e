package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, visitorID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Debug("Stub event published",
		zap.String("event_type", eventType),
		zap.String("visitor_id", visitorID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishSessionStarted logs tracking.session.started events.
func (p *StubPublisher) PublishSessionStarted(_ context.Context, event domain.SessionStartedEvent) error {
	payload := map[string]any{
		"session_id":  event.SessionID,
		"user_id":     event.UserID,
		"device_type": event.DeviceType,
		"country":     event.Country,
		"entry_url":   event.EntryURL,
	}
	p.logEvent(TopicSessionStarted, event.VisitorID, event.StartedAt, payload)
	return nil
}

// PublishActivityRecorded logs tracking.activity.recorded events.
func (p *StubPublisher) PublishActivityRecorded(_ context.Context, event domain.ActivityRecordedEvent) error {
	payload := map[string]any{
		"activity_id": event.ActivityID,
		"session_id":  event.SessionID,
		"event_type":  event.EventType,
		"path":        event.Path,
		"status_code": event.StatusCode,
	}
	p.logEvent(TopicActivityRecorded, event.VisitorID, event.RecordedAt, payload)
	return nil
}

// PublishSessionBotFlagged logs tracking.session.bot_flagged events.
func (p *StubPublisher) PublishSessionBotFlagged(_ context.Context, event domain.SessionBotFlaggedEvent) error {
	payload := map[string]any{
		"session_id": event.SessionID,
		"reason":     event.Reason,
	}
	p.logEvent(TopicSessionBotFlagged, event.VisitorID, event.FlaggedAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
