package port

import (
	"context"

	"github.com/govvens/visitor-tracking/internal/core/domain"
)

// EventPublisher publishes tracking events to the message bus.
type EventPublisher interface {
	PublishSessionStarted(ctx context.Context, event domain.SessionStartedEvent) error
	PublishActivityRecorded(ctx context.Context, event domain.ActivityRecordedEvent) error
	PublishSessionBotFlagged(ctx context.Context, event domain.SessionBotFlaggedEvent) error
}
