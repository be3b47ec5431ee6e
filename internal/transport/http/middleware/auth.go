package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/infra/security"
)

// ErrorResponse matches the handlers.ErrorResponse structure
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// newErrorResponse creates an error response with trace ID
func newErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: GetTraceID(c),
	}
}

// OptionalAuth identifies the caller from a bearer token or the auth cookie. Requests without
// a valid token continue anonymously.
func OptionalAuth(verifier *security.TokenVerifier, cookieName string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		if !verifier.Enabled() {
			c.Next()
			return
		}

		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" && cookieName != "" {
			if cookie, err := c.Cookie(cookieName); err == nil {
				token = cookie
			}
		}
		if token == "" {
			c.Next()
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			if !errors.Is(err, security.ErrExpiredToken) {
				logger.Debug("ignoring invalid access token", zap.Error(err))
			}
			c.Next()
			return
		}

		userID := identity.UserID
		c.Set(UserIDKey, userID)
		c.Set(StaffKey, identity.Staff)

		if reqCtx := GetRequestContext(c); reqCtx != nil {
			reqCtx.UserID = &userID
		}

		c.Next()
	}
}

// RequireStaff rejects callers that are not authenticated staff members.
func RequireStaff() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetAuthenticatedUserID(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				newErrorResponse(c, "authentication required"))
			return
		}

		if !c.GetBool(StaffKey) {
			c.AbortWithStatusJSON(http.StatusForbidden,
				newErrorResponse(c, "insufficient permissions"))
			return
		}

		c.Next()
	}
}

// GetAuthenticatedUserID retrieves the user ID from context (helper for handlers)
func GetAuthenticatedUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}

	if id, ok := userID.(int64); ok {
		return id, true
	}

	return 0, false
}

func bearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
