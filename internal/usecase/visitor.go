package usecase

import (
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/govvens/visitor-tracking/internal/core/domain"
)

// VisitorResolver resolves the durable visitor identity carried in the visitor cookie.
type VisitorResolver struct {
	newID func() string
}

// NewVisitorResolver constructs a resolver minting random v4 identifiers.
func NewVisitorResolver() *VisitorResolver {
	return &VisitorResolver{newID: NewVisitorID}
}

// Resolve returns the cookie value when present, non-blank and no wider than the visitor
// column. Otherwise it mints a new identifier and reports isNew so the caller resets the cookie.
func (r *VisitorResolver) Resolve(cookieValue string) (visitorID string, isNew bool) {
	if strings.TrimSpace(cookieValue) != "" && utf8.RuneCountInString(cookieValue) <= domain.MaxVisitorIDLen {
		return cookieValue, false
	}
	return r.newID(), true
}

// NewVisitorID renders a random UUID as 32 lowercase hex characters.
func NewVisitorID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
