package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/usecase"
)

const defaultActivityPageSize = 50

// ActivityAdmin is the activity service surface used by the admin API.
type ActivityAdmin interface {
	ListActivities(ctx context.Context, filter domain.ActivityFilter) ([]domain.Activity, int64, error)
	ActivityStats(ctx context.Context) (*domain.ActivityStats, error)
	GetActivity(ctx context.Context, id int64) (*domain.Activity, error)
	DeleteActivity(ctx context.Context, id int64) error
}

var activityErrorCases = []ErrorCase{
	{Err: usecase.ErrActivityNotFound, Status: http.StatusNotFound, Message: "activity not found"},
	{Err: usecase.ErrInvalidFilter, Status: http.StatusBadRequest, Message: "unknown event_type"},
}

// ActivityHandler exposes the staff-only activity browsing endpoints.
type ActivityHandler struct {
	activities ActivityAdmin
}

// NewActivityHandler constructs an activity handler.
func NewActivityHandler(activities ActivityAdmin) *ActivityHandler {
	return &ActivityHandler{activities: activities}
}

// RegisterRoutes binds admin activity routes to the provided router group.
func (h *ActivityHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("", h.ListActivities)
	r.GET("/stats", h.Stats)
	r.GET("/:id", h.GetActivity)
	r.DELETE("/:id", h.DeleteActivity)
}

// ListActivities godoc
// @Summary List activities
// @Description Returns a page of activities, newest first unless sort=created_at.
// @Tags Admin
// @Produce json
// @Param search query string false "Path or URL substring"
// @Param event_type query string false "page_view, api_request, interaction, auth or custom_event"
// @Param status_code query int false "Exact response status"
// @Param session_id query int false "Owning session"
// @Param date_from query string false "Lower bound on created_at"
// @Param sort query string false "created_at or -created_at"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} ActivityListResponse
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/admin/activities [get]
func (h *ActivityHandler) ListActivities(c *gin.Context) {
	if h.activities == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "activity service unavailable"))
		return
	}

	page, err := parsePage(c, defaultActivityPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}
	dateFrom, err := parseDateFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	filter := domain.ActivityFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		EventType: domain.EventType(strings.TrimSpace(c.Query("event_type"))),
		DateFrom:  dateFrom,
		SortAsc:   parseSortAsc(c, "created_at"),
		Limit:     page.pageSize,
		Offset:    page.offset(),
	}

	if raw := strings.TrimSpace(c.Query("status_code")); raw != "" {
		code, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "status_code must be an integer"))
			return
		}
		filter.StatusCode = &code
	}
	if raw := strings.TrimSpace(c.Query("session_id")); raw != "" {
		sessionID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, NewErrorResponse(c, "session_id must be an integer"))
			return
		}
		filter.SessionID = &sessionID
	}

	activities, total, err := h.activities.ListActivities(c.Request.Context(), filter)
	if err != nil {
		RespondWithMappedError(c, err, activityErrorCases, http.StatusInternalServerError, "failed to list activities")
		return
	}

	c.JSON(http.StatusOK, ActivityListResponse{
		Items:    toActivityResponses(activities),
		Total:    total,
		Page:     page.page,
		PageSize: page.pageSize,
	})
}

// Stats godoc
// @Summary Activity dashboard counters
// @Tags Admin
// @Produce json
// @Success 200 {object} ActivityStatsResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/admin/activities/stats [get]
func (h *ActivityHandler) Stats(c *gin.Context) {
	if h.activities == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "activity service unavailable"))
		return
	}

	stats, err := h.activities.ActivityStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load activity stats"))
		return
	}

	c.JSON(http.StatusOK, toActivityStatsResponse(stats))
}

// GetActivity godoc
// @Summary Activity detail
// @Tags Admin
// @Produce json
// @Param id path int true "Activity ID"
// @Success 200 {object} ActivityResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/activities/{id} [get]
func (h *ActivityHandler) GetActivity(c *gin.Context) {
	if h.activities == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "activity service unavailable"))
		return
	}

	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	activity, err := h.activities.GetActivity(c.Request.Context(), id)
	if err != nil {
		RespondWithMappedError(c, err, activityErrorCases, http.StatusInternalServerError, "failed to load activity")
		return
	}

	c.JSON(http.StatusOK, toActivityResponse(*activity))
}

// DeleteActivity godoc
// @Summary Delete an activity
// @Tags Admin
// @Param id path int true "Activity ID"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/activities/{id} [delete]
func (h *ActivityHandler) DeleteActivity(c *gin.Context) {
	if h.activities == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "activity service unavailable"))
		return
	}

	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	if err := h.activities.DeleteActivity(c.Request.Context(), id); err != nil {
		RespondWithMappedError(c, err, activityErrorCases, http.StatusInternalServerError, "failed to delete activity")
		return
	}

	c.Status(http.StatusNoContent)
}
