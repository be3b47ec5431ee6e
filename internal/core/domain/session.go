package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// DeviceType classifies the client device behind a session.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceTablet  DeviceType = "tablet"
	DeviceMobile  DeviceType = "mobile"
	DeviceBot     DeviceType = "bot"
	DeviceUnknown DeviceType = "unknown"
)

// CoordinatePlaces is the fixed precision applied to latitude and longitude.
const CoordinatePlaces = 6

// Widths of the bounded sessions columns, in characters.
const (
	MaxSessionKeyLen     = 64
	MaxVisitorIDLen      = 64
	MaxIPLen             = 45
	MaxLanguageLen       = 32
	MaxTimezoneLen       = 64
	MaxBrowserLen        = 64
	MaxBrowserVersionLen = 32
	MaxOSLen             = 64
	MaxGeoNameLen        = 100
	MaxISPLen            = 255
	MaxUTMLen            = 255
)

// Clamp cuts s to at most limit characters.
func Clamp(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

// Session represents one browser/device engagement window keyed by the web-session key.
type Session struct {
	ID              int64
	SessionKey      string
	VisitorID       string
	Fingerprint     string
	UserAgentHash   string
	UserID          *int64
	IsAuthenticated bool
	IPAddress       string
	UserAgent       string
	ClientLanguage  string
	ClientTimezone  string
	DeviceType      DeviceType
	Browser         string
	BrowserVersion  string
	OS              string
	Country         string
	Region          string
	City            string
	Latitude        decimal.NullDecimal
	Longitude       decimal.NullDecimal
	ISP             string
	Referrer        string
	EntryURL        string
	ExitURL         string
	UTMSource       string
	UTMMedium       string
	UTMCampaign     string
	UTMTerm         string
	IsBot           bool
	BotScore        float64
	Metadata        map[string]any
	StartedAt       time.Time
	LastActivityAt  time.Time
	EndedAt         *time.Time
}

// IsActive reports whether the session has not been explicitly closed.
func (s Session) IsActive() bool {
	return s.EndedAt == nil
}

// HasGeo reports whether geo enrichment already ran successfully for the session.
func (s Session) HasGeo() bool {
	return strings.TrimSpace(s.Country) != ""
}

// SessionChanges is a typed change set applied to an existing session.
// Only fields marked dirty are written.
type SessionChanges struct {
	VisitorID       *string
	Fingerprint     *string
	UserAgentHash   *string
	UserID          *int64
	IsAuthenticated *bool
	IPAddress       *string
	UserAgent       *string
	ClientLanguage  *string
	ClientTimezone  *string
	DeviceType      *DeviceType
	Browser         *string
	BrowserVersion  *string
	OS              *string
	Country         *string
	Region          *string
	City            *string
	Latitude        *decimal.Decimal
	Longitude       *decimal.Decimal
	ISP             *string
	Referrer        *string
	EntryURL        *string
	ExitURL         *string
	UTMSource       *string
	UTMMedium       *string
	UTMCampaign     *string
	UTMTerm         *string
	IsBot           *bool
	BotScore        *float64
}

// SetString marks target dirty when candidate is non-empty and differs from current.
// It returns true when the field changed.
func SetString(target **string, current, candidate string) bool {
	if candidate == "" || candidate == current {
		return false
	}
	value := candidate
	*target = &value
	return true
}

// Empty reports whether no field is dirty.
func (c SessionChanges) Empty() bool {
	return c == SessionChanges{}
}

// Apply copies the dirty fields onto the session.
func (c SessionChanges) Apply(s *Session) {
	applyString(&s.VisitorID, c.VisitorID)
	applyString(&s.Fingerprint, c.Fingerprint)
	applyString(&s.UserAgentHash, c.UserAgentHash)
	if c.UserID != nil {
		id := *c.UserID
		s.UserID = &id
	}
	if c.IsAuthenticated != nil {
		s.IsAuthenticated = *c.IsAuthenticated
	}
	applyString(&s.IPAddress, c.IPAddress)
	applyString(&s.UserAgent, c.UserAgent)
	applyString(&s.ClientLanguage, c.ClientLanguage)
	applyString(&s.ClientTimezone, c.ClientTimezone)
	if c.DeviceType != nil {
		s.DeviceType = *c.DeviceType
	}
	applyString(&s.Browser, c.Browser)
	applyString(&s.BrowserVersion, c.BrowserVersion)
	applyString(&s.OS, c.OS)
	applyString(&s.Country, c.Country)
	applyString(&s.Region, c.Region)
	applyString(&s.City, c.City)
	if c.Latitude != nil {
		s.Latitude = decimal.NewNullDecimal(*c.Latitude)
	}
	if c.Longitude != nil {
		s.Longitude = decimal.NewNullDecimal(*c.Longitude)
	}
	applyString(&s.ISP, c.ISP)
	applyString(&s.Referrer, c.Referrer)
	applyString(&s.EntryURL, c.EntryURL)
	applyString(&s.ExitURL, c.ExitURL)
	applyString(&s.UTMSource, c.UTMSource)
	applyString(&s.UTMMedium, c.UTMMedium)
	applyString(&s.UTMCampaign, c.UTMCampaign)
	applyString(&s.UTMTerm, c.UTMTerm)
	if c.IsBot != nil {
		s.IsBot = *c.IsBot
	}
	if c.BotScore != nil {
		s.BotScore = *c.BotScore
	}
}

func applyString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// SessionFilter narrows admin session listings.
type SessionFilter struct {
	Search   string
	Kind     string
	DateFrom *time.Time
	SortAsc  bool
	Limit    int
	Offset   int
}

// SessionStats aggregates counters for the admin dashboard.
type SessionStats struct {
	Total         int64
	Authenticated int64
	Anonymous     int64
	Bots          int64
	Devices       []CountBucket
	TopCountries  []CountBucket
}

// CountBucket is a labelled count used by dashboard breakdowns.
type CountBucket struct {
	Key   string
	Count int64
}
