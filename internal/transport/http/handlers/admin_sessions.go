package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/usecase"
)

const defaultSessionPageSize = 25

// SessionAdmin is the session service surface used by the admin API.
type SessionAdmin interface {
	ListSessions(ctx context.Context, filter domain.SessionFilter) ([]domain.Session, int64, error)
	SessionStats(ctx context.Context) (*domain.SessionStats, error)
	GetSessionDetail(ctx context.Context, id int64) (*usecase.SessionDetail, error)
	CloseSession(ctx context.Context, id int64) (*domain.Session, error)
	DeleteSession(ctx context.Context, id int64) error
}

var sessionErrorCases = []ErrorCase{
	{Err: usecase.ErrSessionNotFound, Status: http.StatusNotFound, Message: "session not found"},
	{Err: usecase.ErrInvalidFilter, Status: http.StatusBadRequest, Message: "filter must be one of authenticated, anonymous, bot"},
}

// SessionHandler exposes the staff-only session browsing endpoints.
type SessionHandler struct {
	sessions SessionAdmin
}

// NewSessionHandler constructs a session handler.
func NewSessionHandler(sessions SessionAdmin) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

// RegisterRoutes binds admin session routes to the provided router group.
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("", h.ListSessions)
	r.GET("/stats", h.Stats)
	r.GET("/:id", h.GetSession)
	r.POST("/:id/close", h.CloseSession)
	r.DELETE("/:id", h.DeleteSession)
}

// ListSessions godoc
// @Summary List tracking sessions
// @Description Returns a page of sessions, newest first unless sort=started_at.
// @Tags Admin
// @Produce json
// @Param search query string false "Session key, visitor id or IP substring"
// @Param filter query string false "authenticated, anonymous or bot"
// @Param date_from query string false "Lower bound on started_at"
// @Param sort query string false "started_at or -started_at"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} SessionListResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /api/v1/admin/sessions [get]
func (h *SessionHandler) ListSessions(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	page, err := parsePage(c, defaultSessionPageSize)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}
	dateFrom, err := parseDateFrom(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	filter := domain.SessionFilter{
		Search:   strings.TrimSpace(c.Query("search")),
		Kind:     strings.TrimSpace(c.Query("filter")),
		DateFrom: dateFrom,
		SortAsc:  parseSortAsc(c, "started_at"),
		Limit:    page.pageSize,
		Offset:   page.offset(),
	}

	sessions, total, err := h.sessions.ListSessions(c.Request.Context(), filter)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	c.JSON(http.StatusOK, SessionListResponse{
		Items:    toSessionResponses(sessions),
		Total:    total,
		Page:     page.page,
		PageSize: page.pageSize,
	})
}

// Stats godoc
// @Summary Session dashboard counters
// @Tags Admin
// @Produce json
// @Success 200 {object} SessionStatsResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/admin/sessions/stats [get]
func (h *SessionHandler) Stats(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	stats, err := h.sessions.SessionStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to load session stats"))
		return
	}

	c.JSON(http.StatusOK, SessionStatsResponse{
		Total:         stats.Total,
		Authenticated: stats.Authenticated,
		Anonymous:     stats.Anonymous,
		Bots:          stats.Bots,
		Devices:       toBuckets(stats.Devices),
		TopCountries:  toBuckets(stats.TopCountries),
	})
}

// GetSession godoc
// @Summary Session detail
// @Description Returns the session with its latest activities and their counters.
// @Tags Admin
// @Produce json
// @Param id path int true "Session ID"
// @Success 200 {object} SessionDetailResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/sessions/{id} [get]
func (h *SessionHandler) GetSession(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	detail, err := h.sessions.GetSessionDetail(c.Request.Context(), id)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to load session")
		return
	}

	c.JSON(http.StatusOK, SessionDetailResponse{
		Session:    toSessionResponse(*detail.Session),
		Activities: toActivityResponses(detail.Activities),
		Stats:      toActivityStatsResponse(detail.Stats),
	})
}

// CloseSession godoc
// @Summary Close a session
// @Description Marks the session ended. Closing an ended session returns it unchanged.
// @Tags Admin
// @Produce json
// @Param id path int true "Session ID"
// @Success 200 {object} SessionResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/sessions/{id}/close [post]
func (h *SessionHandler) CloseSession(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	session, err := h.sessions.CloseSession(c.Request.Context(), id)
	if err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to close session")
		return
	}

	c.JSON(http.StatusOK, toSessionResponse(*session))
}

// DeleteSession godoc
// @Summary Delete a session
// @Description Removes the session and its activities.
// @Tags Admin
// @Param id path int true "Session ID"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/admin/sessions/{id} [delete]
func (h *SessionHandler) DeleteSession(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "session service unavailable"))
		return
	}

	id, err := parseID(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, err.Error()))
		return
	}

	if err := h.sessions.DeleteSession(c.Request.Context(), id); err != nil {
		RespondWithMappedError(c, err, sessionErrorCases, http.StatusInternalServerError, "failed to delete session")
		return
	}

	c.Status(http.StatusNoContent)
}
