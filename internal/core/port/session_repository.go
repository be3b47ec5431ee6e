package port

import (
	"context"
	"time"

	"github.com/govvens/visitor-tracking/internal/core/domain"
)

// SessionRepository deals with tracking session storage.
type SessionRepository interface {
	// Create inserts a new session. A duplicate session key yields repository.ErrConflict.
	Create(ctx context.Context, session *domain.Session) error
	GetByKey(ctx context.Context, sessionKey string) (*domain.Session, error)
	GetByID(ctx context.Context, id int64) (*domain.Session, error)
	// Update writes only the dirty fields of changes and refreshes last_activity_at.
	Update(ctx context.Context, id int64, changes domain.SessionChanges, at time.Time) error
	MarkBot(ctx context.Context, id int64) error
	Close(ctx context.Context, id int64, at time.Time) (bool, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, int64, error)
	Stats(ctx context.Context) (*domain.SessionStats, error)
}

// ActivityRepository deals with activity storage.
type ActivityRepository interface {
	Create(ctx context.Context, activity *domain.Activity) error
	GetByID(ctx context.Context, id int64) (*domain.Activity, error)
	Delete(ctx context.Context, id int64) error
	List(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, int64, error)
	Stats(ctx context.Context, sessionID *int64) (*domain.ActivityStats, error)
}
