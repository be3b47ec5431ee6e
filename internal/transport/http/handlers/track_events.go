package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/transport/http/middleware"
	"github.com/govvens/visitor-tracking/internal/usecase"
)

// CustomEventRecorder persists client-submitted events.
type CustomEventRecorder interface {
	RecordCustomEvent(ctx context.Context, session *domain.Session, event usecase.CustomEvent) (*domain.Activity, error)
}

var trackErrorCases = []ErrorCase{
	{Err: usecase.ErrInvalidEventName, Status: http.StatusBadRequest, Message: "name is required"},
	{Err: usecase.ErrSessionRequired, Status: http.StatusConflict, Message: "no tracking session for this request"},
}

// TrackHandler accepts custom events from client scripts.
type TrackHandler struct {
	recorder CustomEventRecorder
}

// NewTrackHandler constructs a track handler.
func NewTrackHandler(recorder CustomEventRecorder) *TrackHandler {
	return &TrackHandler{recorder: recorder}
}

// RegisterRoutes binds the event ingestion route.
func (h *TrackHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.POST("/events", h.RecordEvent)
}

// RecordEvent godoc
// @Summary Record a custom event
// @Description Attaches a named client event to the caller's current tracking session.
// @Tags Tracking
// @Accept json
// @Produce json
// @Param request body CustomEventRequest true "Event"
// @Success 202 {object} CustomEventResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/track/events [post]
func (h *TrackHandler) RecordEvent(c *gin.Context) {
	if h.recorder == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "event tracking unavailable"))
		return
	}

	var req CustomEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "name is required"))
		return
	}

	var session *domain.Session
	var visitorID string
	if state, ok := middleware.TrackingFromContext(c.Request.Context()); ok {
		session = state.Session
		visitorID = state.VisitorID
	}

	event := usecase.CustomEvent{
		Name:       req.Name,
		URL:        req.URL,
		Path:       req.Path,
		Properties: req.Properties,
		ClientIP:   usecase.ClientIP(c.GetHeader("X-Forwarded-For"), c.Request.RemoteAddr),
		UserAgent:  c.Request.UserAgent(),
		Referrer:   c.Request.Referer(),
	}
	if userID, ok := middleware.GetAuthenticatedUserID(c); ok {
		event.UserID = &userID
	}

	activity, err := h.recorder.RecordCustomEvent(context.WithoutCancel(c.Request.Context()), session, event)
	if err != nil {
		RespondWithMappedError(c, err, trackErrorCases, http.StatusInternalServerError, "failed to record event")
		return
	}

	c.JSON(http.StatusAccepted, CustomEventResponse{
		ID:        activity.ID,
		SessionID: activity.SessionID,
		VisitorID: visitorID,
		CreatedAt: activity.CreatedAt,
	})
}
