package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/govvens/visitor-tracking/internal/core/domain"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   errorMsg,
		TraceID: traceIDStr,
	}
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness check results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// SessionResponse is the admin view of a tracking session.
type SessionResponse struct {
	ID              int64      `json:"id"`
	SessionKey      string     `json:"session_key"`
	VisitorID       string     `json:"visitor_id"`
	Fingerprint     string     `json:"fingerprint,omitempty"`
	UserID          *int64     `json:"user_id,omitempty"`
	IsAuthenticated bool       `json:"is_authenticated"`
	IPAddress       string     `json:"ip_address,omitempty"`
	UserAgent       string     `json:"user_agent,omitempty"`
	ClientLanguage  string     `json:"client_language,omitempty"`
	ClientTimezone  string     `json:"client_timezone,omitempty"`
	DeviceType      string     `json:"device_type"`
	Browser         string     `json:"browser,omitempty"`
	BrowserVersion  string     `json:"browser_version,omitempty"`
	OS              string     `json:"os,omitempty"`
	Country         string     `json:"country,omitempty"`
	Region          string     `json:"region,omitempty"`
	City            string     `json:"city,omitempty"`
	Latitude        *string    `json:"latitude,omitempty"`
	Longitude       *string    `json:"longitude,omitempty"`
	ISP             string     `json:"isp,omitempty"`
	Referrer        string     `json:"referrer,omitempty"`
	EntryURL        string     `json:"entry_url,omitempty"`
	ExitURL         string     `json:"exit_url,omitempty"`
	UTMSource       string     `json:"utm_source,omitempty"`
	UTMMedium       string     `json:"utm_medium,omitempty"`
	UTMCampaign     string     `json:"utm_campaign,omitempty"`
	UTMTerm         string     `json:"utm_term,omitempty"`
	IsBot           bool       `json:"is_bot"`
	BotScore        float64    `json:"bot_score"`
	IsActive        bool       `json:"is_active"`
	StartedAt       time.Time  `json:"started_at"`
	LastActivityAt  time.Time  `json:"last_activity_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
}

// ActivityResponse is the admin view of one logged activity.
type ActivityResponse struct {
	ID             int64          `json:"id"`
	SessionID      int64          `json:"session_id"`
	EventType      string         `json:"event_type"`
	URL            string         `json:"url"`
	Path           string         `json:"path"`
	ViewName       string         `json:"view_name,omitempty"`
	Handler        string         `json:"handler,omitempty"`
	Method         string         `json:"method"`
	StatusCode     int            `json:"status_code"`
	ResponseTimeMS int64          `json:"response_time_ms"`
	ClientIP       string         `json:"client_ip,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	Country        string         `json:"country,omitempty"`
	Referrer       string         `json:"referrer,omitempty"`
	QueryParams    map[string]any `json:"query_params,omitempty"`
	Payload        any            `json:"payload,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// CountBucketResponse is one labelled count in a dashboard breakdown.
type CountBucketResponse struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// SessionStatsResponse aggregates session dashboard counters.
type SessionStatsResponse struct {
	Total         int64                 `json:"total"`
	Authenticated int64                 `json:"authenticated"`
	Anonymous     int64                 `json:"anonymous"`
	Bots          int64                 `json:"bots"`
	Devices       []CountBucketResponse `json:"devices"`
	TopCountries  []CountBucketResponse `json:"top_countries"`
}

// ActivityStatsResponse aggregates activity dashboard counters.
type ActivityStatsResponse struct {
	Total             int64                 `json:"total"`
	ByEventType       []CountBucketResponse `json:"by_event_type"`
	ByStatusCode      []CountBucketResponse `json:"by_status_code"`
	AvgResponseTimeMS float64               `json:"avg_response_time_ms"`
}

// SessionListResponse is a page of sessions.
type SessionListResponse struct {
	Items    []SessionResponse `json:"items"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// ActivityListResponse is a page of activities.
type ActivityListResponse struct {
	Items    []ActivityResponse `json:"items"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
}

// SessionDetailResponse bundles a session with its latest activities.
type SessionDetailResponse struct {
	Session    SessionResponse       `json:"session"`
	Activities []ActivityResponse    `json:"activities"`
	Stats      ActivityStatsResponse `json:"stats"`
}

// CustomEventRequest is the payload for client-submitted events.
type CustomEventRequest struct {
	Name       string         `json:"name" binding:"required"`
	URL        string         `json:"url"`
	Path       string         `json:"path"`
	Properties map[string]any `json:"properties"`
}

// CustomEventResponse acknowledges a recorded custom event.
type CustomEventResponse struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"session_id"`
	VisitorID string    `json:"visitor_id"`
	CreatedAt time.Time `json:"created_at"`
}

func toSessionResponse(s domain.Session) SessionResponse {
	resp := SessionResponse{
		ID:              s.ID,
		SessionKey:      s.SessionKey,
		VisitorID:       s.VisitorID,
		Fingerprint:     s.Fingerprint,
		UserID:          s.UserID,
		IsAuthenticated: s.IsAuthenticated,
		IPAddress:       s.IPAddress,
		UserAgent:       s.UserAgent,
		ClientLanguage:  s.ClientLanguage,
		ClientTimezone:  s.ClientTimezone,
		DeviceType:      string(s.DeviceType),
		Browser:         s.Browser,
		BrowserVersion:  s.BrowserVersion,
		OS:              s.OS,
		Country:         s.Country,
		Region:          s.Region,
		City:            s.City,
		ISP:             s.ISP,
		Referrer:        s.Referrer,
		EntryURL:        s.EntryURL,
		ExitURL:         s.ExitURL,
		UTMSource:       s.UTMSource,
		UTMMedium:       s.UTMMedium,
		UTMCampaign:     s.UTMCampaign,
		UTMTerm:         s.UTMTerm,
		IsBot:           s.IsBot,
		BotScore:        s.BotScore,
		IsActive:        s.IsActive(),
		StartedAt:       s.StartedAt,
		LastActivityAt:  s.LastActivityAt,
		EndedAt:         s.EndedAt,
	}
	// Coordinates keep their fixed precision as strings.
	if s.Latitude.Valid {
		lat := s.Latitude.Decimal.StringFixed(domain.CoordinatePlaces)
		resp.Latitude = &lat
	}
	if s.Longitude.Valid {
		lon := s.Longitude.Decimal.StringFixed(domain.CoordinatePlaces)
		resp.Longitude = &lon
	}
	return resp
}

func toSessionResponses(sessions []domain.Session) []SessionResponse {
	out := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toSessionResponse(s))
	}
	return out
}

func toActivityResponse(a domain.Activity) ActivityResponse {
	return ActivityResponse{
		ID:             a.ID,
		SessionID:      a.SessionID,
		EventType:      string(a.EventType),
		URL:            a.URL,
		Path:           a.Path,
		ViewName:       a.ViewName,
		Handler:        a.Handler,
		Method:         a.Method,
		StatusCode:     a.StatusCode,
		ResponseTimeMS: a.ResponseTimeMS,
		ClientIP:       a.ClientIP,
		UserAgent:      a.UserAgent,
		Country:        a.Country,
		Referrer:       a.Referrer,
		QueryParams:    a.QueryParams,
		Payload:        a.Payload,
		Metadata:       a.Metadata,
		CreatedAt:      a.CreatedAt,
	}
}

func toActivityResponses(activities []domain.Activity) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(activities))
	for _, a := range activities {
		out = append(out, toActivityResponse(a))
	}
	return out
}

func toBuckets(buckets []domain.CountBucket) []CountBucketResponse {
	out := make([]CountBucketResponse, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, CountBucketResponse{Key: b.Key, Count: b.Count})
	}
	return out
}

func toActivityStatsResponse(stats *domain.ActivityStats) ActivityStatsResponse {
	if stats == nil {
		return ActivityStatsResponse{ByEventType: []CountBucketResponse{}, ByStatusCode: []CountBucketResponse{}}
	}
	return ActivityStatsResponse{
		Total:             stats.Total,
		ByEventType:       toBuckets(stats.ByEventType),
		ByStatusCode:      toBuckets(stats.ByStatusCode),
		AvgResponseTimeMS: stats.AvgResponseTimeMS,
	}
}
