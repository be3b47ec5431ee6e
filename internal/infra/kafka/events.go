package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/core/port"
	"github.com/govvens/visitor-tracking/internal/infra/config"
)

const schemaVersion = "1.0"

const (
	TopicSessionStarted    = "tracking.session.started"
	TopicActivityRecorded  = "tracking.activity.recorded"
	TopicSessionBotFlagged = "tracking.session.bot_flagged"
)

// ErrProducerBusy is returned when the producer input buffer is full. Events are dropped
// rather than holding up the request that produced them.
var ErrProducerBusy = errors.New("kafka producer input buffer full")

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	VisitorID string           `json:"visitor_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, key, visitorID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		VisitorID: visitorID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}
	if key != "" {
		message.Key = sarama.StringEncoder(key)
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.Warn("dropping tracking event", zap.String("event_type", eventType))
		return ErrProducerBusy
	}
}

// PublishSessionStarted publishes tracking.session.started events.
func (p *EventPublisher) PublishSessionStarted(ctx context.Context, event domain.SessionStartedEvent) error {
	payload := struct {
		SessionID  int64          `json:"session_id"`
		VisitorID  string         `json:"visitor_id"`
		UserID     *int64         `json:"user_id,omitempty"`
		DeviceType string         `json:"device_type"`
		Country    string         `json:"country,omitempty"`
		EntryURL   string         `json:"entry_url,omitempty"`
		StartedAt  time.Time      `json:"started_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		SessionID:  event.SessionID,
		VisitorID:  event.VisitorID,
		UserID:     event.UserID,
		DeviceType: string(event.DeviceType),
		Country:    event.Country,
		EntryURL:   event.EntryURL,
		StartedAt:  event.StartedAt.UTC(),
		Metadata:   event.Metadata,
	}

	return p.publish(ctx, event.EventID, TopicSessionStarted, sessionKey(event.SessionID), event.VisitorID, event.StartedAt, payload)
}

// PublishActivityRecorded publishes tracking.activity.recorded events.
func (p *EventPublisher) PublishActivityRecorded(ctx context.Context, event domain.ActivityRecordedEvent) error {
	payload := struct {
		ActivityID     int64     `json:"activity_id"`
		SessionID      int64     `json:"session_id"`
		UserID         *int64    `json:"user_id,omitempty"`
		EventType      string    `json:"event_type"`
		Method         string    `json:"method"`
		Path           string    `json:"path"`
		StatusCode     int       `json:"status_code"`
		ResponseTimeMS int64     `json:"response_time_ms"`
		RecordedAt     time.Time `json:"recorded_at"`
	}{
		ActivityID:     event.ActivityID,
		SessionID:      event.SessionID,
		UserID:         event.UserID,
		EventType:      string(event.EventType),
		Method:         event.Method,
		Path:           event.Path,
		StatusCode:     event.StatusCode,
		ResponseTimeMS: event.ResponseTimeMS,
		RecordedAt:     event.RecordedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, TopicActivityRecorded, sessionKey(event.SessionID), event.VisitorID, event.RecordedAt, payload)
}

// PublishSessionBotFlagged publishes tracking.session.bot_flagged events.
func (p *EventPublisher) PublishSessionBotFlagged(ctx context.Context, event domain.SessionBotFlaggedEvent) error {
	payload := struct {
		SessionID int64     `json:"session_id"`
		UserAgent string    `json:"user_agent"`
		Reason    string    `json:"reason"`
		FlaggedAt time.Time `json:"flagged_at"`
	}{
		SessionID: event.SessionID,
		UserAgent: event.UserAgent,
		Reason:    event.Reason,
		FlaggedAt: event.FlaggedAt.UTC(),
	}

	return p.publish(ctx, event.EventID, TopicSessionBotFlagged, sessionKey(event.SessionID), event.VisitorID, event.FlaggedAt, payload)
}

// events of one session land on one partition
func sessionKey(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
