package usecase

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/infra/security"
)

const (
	maxPayloadRunes = 2000
	truncatedMarker = "...[truncated]"
	redactedValue   = "***"
)

var (
	botKeywords     = []string{"bot", "crawler", "spider", "slurp", "curl", "wget", "python-requests"}
	mobileKeywords  = []string{"iphone", "android", "mobile", "opera mini", "blackberry"}
	tabletKeywords  = []string{"ipad", "tablet", "kindle"}
	desktopKeywords = []string{"windows", "macintosh", "x11", "linux"}

	browserPattern = regexp.MustCompile(`(chrome|safari|firefox|edge|opr|opera|msie|trident)/?\s*(\d+\.?\d*)`)
	osPattern      = regexp.MustCompile(`(windows nt|mac os x|android|linux|iphone os|ipad; cpu os)\s*([\d_\.]+)?`)

	sensitiveKeys = []string{"password", "passwd", "secret", "token", "csrf", "credit_card", "card_number", "cvv", "authorization"}
)

// DetectDevice classifies a user agent into device type, browser and operating system.
// Bot keywords take precedence over every other device hint.
func DetectDevice(userAgent string) domain.DeviceInfo {
	ua := strings.ToLower(userAgent)
	info := domain.DeviceInfo{DeviceType: domain.DeviceUnknown}

	switch {
	case containsAny(ua, botKeywords):
		info.DeviceType = domain.DeviceBot
	case containsAny(ua, mobileKeywords):
		info.DeviceType = domain.DeviceMobile
	case containsAny(ua, tabletKeywords):
		info.DeviceType = domain.DeviceTablet
	case containsAny(ua, desktopKeywords):
		info.DeviceType = domain.DeviceDesktop
	}

	if m := browserPattern.FindStringSubmatch(ua); m != nil {
		name := m[1]
		switch name {
		case "opr":
			name = "opera"
		case "msie", "trident":
			name = "ie"
		}
		info.Browser = titleCase(name)
		info.BrowserVersion = m[2]
	}

	if m := osPattern.FindString(ua); m != "" {
		info.OS = strings.TrimSpace(titleCase(strings.ReplaceAll(m, "_", ".")))
	}

	info.IsBot = info.DeviceType == domain.DeviceBot
	return info
}

// ExtractUTM reads campaign attribution parameters from a query string.
func ExtractUTM(query url.Values) domain.UTM {
	return domain.UTM{
		Source:   query.Get("utm_source"),
		Medium:   query.Get("utm_medium"),
		Campaign: query.Get("utm_campaign"),
		Term:     query.Get("utm_term"),
	}
}

// ClientIP returns the first X-Forwarded-For entry, falling back to the peer address.
func ClientIP(forwardedFor, remoteAddr string) string {
	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	remoteAddr = strings.TrimSpace(remoteAddr)
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

// PrimaryLanguage returns the first language tag of an Accept-Language header.
func PrimaryLanguage(acceptLanguage string) string {
	first, _, _ := strings.Cut(acceptLanguage, ",")
	tag, _, _ := strings.Cut(first, ";")
	return strings.TrimSpace(tag)
}

// BuildFingerprint correlates sessions coming from the same visitor, browser and address.
func BuildFingerprint(visitorID, userAgent, ip string) string {
	return security.HashToken(visitorID + ":" + userAgent + ":" + ip)
}

// UserAgentHash groups sessions by user agent.
func UserAgentHash(userAgent string) string {
	return security.HashToken(userAgent)
}

// RoundCoordinate fixes a latitude or longitude to the stored precision.
func RoundCoordinate(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value).Round(domain.CoordinatePlaces)
}

// SanitizePayload makes a request body safe to persist. Maps and lists pass through with
// sensitive keys redacted; anything else is stringified, wrapped and truncated.
func SanitizePayload(payload any) any {
	switch v := payload.(type) {
	case nil:
		return nil
	case map[string]any:
		return redactMap(v)
	case []any:
		return redactList(v)
	case map[string]string:
		out := make(map[string]any, len(v))
		for key, value := range v {
			out[key] = value
		}
		return redactMap(out)
	case string:
		return map[string]any{"value": truncate(v)}
	default:
		return map[string]any{"value": truncate(fmt.Sprint(v))}
	}
}

func redactMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		if isSensitiveKey(key) {
			out[key] = redactedValue
			continue
		}
		switch nested := value.(type) {
		case map[string]any:
			out[key] = redactMap(nested)
		case []any:
			out[key] = redactList(nested)
		default:
			out[key] = value
		}
	}
	return out
}

func redactList(in []any) []any {
	out := make([]any, len(in))
	for i, value := range in {
		switch nested := value.(type) {
		case map[string]any:
			out[i] = redactMap(nested)
		case []any:
			out[i] = redactList(nested)
		default:
			out[i] = value
		}
	}
	return out
}

func isSensitiveKey(key string) bool {
	return containsAny(strings.ToLower(key), sensitiveKeys)
}

func truncate(s string) string {
	if utf8.RuneCountInString(s) <= maxPayloadRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxPayloadRunes]) + truncatedMarker
}

// QueryParams flattens a query string into a JSON-friendly map. Repeated keys keep every value.
func QueryParams(query url.Values) map[string]any {
	if len(query) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(query))
	for key, values := range query {
		if len(values) == 1 {
			out[key] = values[0]
			continue
		}
		list := make([]any, len(values))
		for i, value := range values {
			list[i] = value
		}
		out[key] = list
	}
	return out
}

// titleCase upper-cases every letter that follows a non-letter.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

func containsAny(s string, needles []string) bool {
	for _, needle := range needles {
		if needle != "" && strings.Contains(s, needle) {
			return true
		}
	}
	return false
}
