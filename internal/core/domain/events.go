package domain

import "time"

// SessionStartedEvent represents the payload for tracking.session.started messages.
type SessionStartedEvent struct {
	EventID    string
	SessionID  int64
	SessionKey string
	VisitorID  string
	UserID     *int64
	DeviceType DeviceType
	Country    string
	EntryURL   string
	StartedAt  time.Time
	Metadata   map[string]any
}

// ActivityRecordedEvent represents the payload for tracking.activity.recorded messages.
type ActivityRecordedEvent struct {
	EventID        string
	ActivityID     int64
	SessionID      int64
	VisitorID      string
	UserID         *int64
	EventType      EventType
	Method         string
	Path           string
	StatusCode     int
	ResponseTimeMS int64
	RecordedAt     time.Time
}

// SessionBotFlaggedEvent represents the payload for tracking.session.bot_flagged messages.
type SessionBotFlaggedEvent struct {
	EventID   string
	SessionID int64
	VisitorID string
	UserAgent string
	Reason    string
	FlaggedAt time.Time
}
