package domain

import "time"

// EventType classifies a logged activity.
type EventType string

const (
	EventPageView    EventType = "page_view"
	EventAPIRequest  EventType = "api_request"
	EventInteraction EventType = "interaction"
	EventAuth        EventType = "auth"
	EventCustom      EventType = "custom_event"
)

// Widths of the bounded activities columns, in characters.
const (
	MaxViewNameLen = 255
	MaxHandlerLen  = 255
	MaxMethodLen   = 10
)

// EventTypes lists every known event type in dashboard order.
var EventTypes = []EventType{EventPageView, EventAPIRequest, EventInteraction, EventAuth, EventCustom}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Activity is one logged request or client event tied to a session.
type Activity struct {
	ID             int64
	SessionID      int64
	EventType      EventType
	URL            string
	Path           string
	ViewName       string
	Handler        string
	Method         string
	StatusCode     int
	ResponseTimeMS int64
	ClientIP       string
	UserAgent      string
	Country        string
	Referrer       string
	QueryParams    map[string]any
	Payload        any
	Metadata       map[string]any
	CreatedAt      time.Time
}

// ActivityFilter narrows admin activity listings.
type ActivityFilter struct {
	Search     string
	EventType  EventType
	StatusCode *int
	SessionID  *int64
	DateFrom   *time.Time
	SortAsc    bool
	Limit      int
	Offset     int
}

// ActivityStats aggregates counters for the admin dashboard.
type ActivityStats struct {
	Total             int64
	ByEventType       []CountBucket
	ByStatusCode      []CountBucket
	AvgResponseTimeMS float64
}
