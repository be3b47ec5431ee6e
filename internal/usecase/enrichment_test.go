package usecase

import (
	"net/url"
	"strings"
	"testing"

	"github.com/govvens/visitor-tracking/internal/core/domain"
)

func TestDetectDevice(t *testing.T) {
	cases := []struct {
		name    string
		ua      string
		device  domain.DeviceType
		browser string
		version string
		os      string
	}{
		{
			name:    "desktop chrome",
			ua:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
			device:  domain.DeviceDesktop,
			browser: "Chrome",
			version: "119.0",
			os:      "Windows Nt 10.0",
		},
		{
			name:    "iphone safari",
			ua:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1",
			device:  domain.DeviceMobile,
			browser: "Safari",
			version: "604.1",
			os:      "Iphone Os 17.1",
		},
		{
			name:    "tablet firefox",
			ua:      "Mozilla/5.0 (Tablet; rv:26.0) Gecko/26.0 Firefox/26.0",
			device:  domain.DeviceTablet,
			browser: "Firefox",
			version: "26.0",
		},
		{
			name:    "legacy ie",
			ua:      "Mozilla/5.0 (compatible; MSIE 10.0; Windows NT 6.2; Trident/6.0)",
			device:  domain.DeviceDesktop,
			browser: "Ie",
			version: "10.0",
			os:      "Windows Nt 6.2",
		},
		{
			name:   "empty",
			ua:     "",
			device: domain.DeviceUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := DetectDevice(tc.ua)
			if info.DeviceType != tc.device {
				t.Fatalf("expected device %q, got %q", tc.device, info.DeviceType)
			}
			if info.Browser != tc.browser {
				t.Fatalf("expected browser %q, got %q", tc.browser, info.Browser)
			}
			if info.BrowserVersion != tc.version {
				t.Fatalf("expected browser version %q, got %q", tc.version, info.BrowserVersion)
			}
			if info.OS != tc.os {
				t.Fatalf("expected os %q, got %q", tc.os, info.OS)
			}
			if info.IsBot {
				t.Fatalf("expected non-bot for %q", tc.ua)
			}
		})
	}
}

func TestDetectDeviceAndroidIsMobile(t *testing.T) {
	info := DetectDevice("Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36")
	if info.DeviceType != domain.DeviceMobile {
		t.Fatalf("expected mobile, got %q", info.DeviceType)
	}
	if !strings.HasPrefix(info.BrowserVersion, "120") {
		t.Fatalf("unexpected browser version %q", info.BrowserVersion)
	}
}

func TestDetectDeviceBotKeywordWins(t *testing.T) {
	info := DetectDevice("curl/8.0")
	if info.DeviceType != domain.DeviceBot || !info.IsBot {
		t.Fatalf("expected bot, got %+v", info)
	}

	info = DetectDevice("Mozilla/5.0 (Linux; Android 6.0.1; Nexus 5X) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0 Mobile Safari/537.36 (compatible; Googlebot/2.1)")
	if info.DeviceType != domain.DeviceBot {
		t.Fatalf("expected bot keyword to beat mobile, got %q", info.DeviceType)
	}
}

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"mac os x 10.15.7": "Mac Os X 10.15.7",
		"chrome":           "Chrome",
		"ipad; cpu os 16":  "Ipad; Cpu Os 16",
		"":                 "",
	}
	for in, want := range cases {
		if got := titleCase(in); got != want {
			t.Fatalf("titleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractUTM(t *testing.T) {
	query := url.Values{"utm_source": {"newsletter"}, "utm_campaign": {"launch"}}
	utm := ExtractUTM(query)
	if utm.Source != "newsletter" || utm.Campaign != "launch" {
		t.Fatalf("unexpected utm %+v", utm)
	}
	if utm.Medium != "" || utm.Term != "" {
		t.Fatalf("expected empty defaults, got %+v", utm)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		xff, remote, want string
	}{
		{"203.0.113.9, 10.0.0.1", "10.0.0.2:1234", "203.0.113.9"},
		{"", "10.0.0.2:1234", "10.0.0.2"},
		{"", "[::1]:80", "::1"},
		{"", "192.0.2.1", "192.0.2.1"},
		{" , ", "192.0.2.7:9", "192.0.2.7"},
	}
	for _, tc := range cases {
		if got := ClientIP(tc.xff, tc.remote); got != tc.want {
			t.Fatalf("ClientIP(%q, %q) = %q, want %q", tc.xff, tc.remote, got, tc.want)
		}
	}
}

func TestPrimaryLanguage(t *testing.T) {
	if got := PrimaryLanguage("en-US,en;q=0.9,sw;q=0.8"); got != "en-US" {
		t.Fatalf("unexpected language %q", got)
	}
	if got := PrimaryLanguage("fr;q=0.8"); got != "fr" {
		t.Fatalf("unexpected language %q", got)
	}
	if got := PrimaryLanguage(""); got != "" {
		t.Fatalf("expected empty language, got %q", got)
	}
}

func TestBuildFingerprintDeterministic(t *testing.T) {
	base := BuildFingerprint("v1", "ua", "203.0.113.9")
	if base != BuildFingerprint("v1", "ua", "203.0.113.9") {
		t.Fatal("expected identical fingerprints for identical inputs")
	}
	if len(base) != 64 {
		t.Fatalf("expected sha256 hex, got %d chars", len(base))
	}
	for _, other := range []string{
		BuildFingerprint("v2", "ua", "203.0.113.9"),
		BuildFingerprint("v1", "ua2", "203.0.113.9"),
		BuildFingerprint("v1", "ua", "203.0.113.10"),
	} {
		if other == base {
			t.Fatal("expected fingerprint to change with its inputs")
		}
	}
	if UserAgentHash("ua") == UserAgentHash("ub") {
		t.Fatal("expected user agent hash to change with the user agent")
	}
}

func TestSanitizePayloadTruncatesStrings(t *testing.T) {
	out, ok := SanitizePayload(strings.Repeat("x", 3000)).(map[string]any)
	if !ok {
		t.Fatalf("expected wrapped map, got %T", out)
	}
	value, _ := out["value"].(string)
	if len(value) != maxPayloadRunes+len(truncatedMarker) {
		t.Fatalf("unexpected length %d", len(value))
	}
	if !strings.HasSuffix(value, "...[truncated]") {
		t.Fatalf("expected truncation marker, got %q", value[len(value)-20:])
	}
}

func TestSanitizePayloadRedactsSensitiveKeys(t *testing.T) {
	in := map[string]any{
		"title":    "Broken streetlight",
		"password": "hunter2",
		"nested":   map[string]any{"api_token": "abc", "ward": "7"},
		"list":     []any{map[string]any{"csrfmiddlewaretoken": "zzz"}},
	}

	out := SanitizePayload(in).(map[string]any)
	if out["password"] != "***" {
		t.Fatalf("expected password redacted, got %v", out["password"])
	}
	if out["title"] != "Broken streetlight" {
		t.Fatalf("expected title kept, got %v", out["title"])
	}
	nested := out["nested"].(map[string]any)
	if nested["api_token"] != "***" || nested["ward"] != "7" {
		t.Fatalf("unexpected nested map %v", nested)
	}
	list := out["list"].([]any)
	if list[0].(map[string]any)["csrfmiddlewaretoken"] != "***" {
		t.Fatalf("expected list entry redacted, got %v", list[0])
	}
	if in["password"] != "hunter2" {
		t.Fatal("expected input map left untouched")
	}
}

func TestSanitizePayloadCoercesScalars(t *testing.T) {
	out := SanitizePayload(42).(map[string]any)
	if out["value"] != "42" {
		t.Fatalf("expected stringified value, got %v", out["value"])
	}
	if SanitizePayload(nil) != nil {
		t.Fatal("expected nil payload to stay nil")
	}
}

func TestRoundCoordinate(t *testing.T) {
	if got := RoundCoordinate(-1.2863891234).String(); got != "-1.286389" {
		t.Fatalf("unexpected rounded coordinate %s", got)
	}
}

func TestQueryParams(t *testing.T) {
	params := QueryParams(url.Values{"page": {"2"}, "tag": {"roads", "water"}})
	if params["page"] != "2" {
		t.Fatalf("unexpected page %v", params["page"])
	}
	tags, ok := params["tag"].([]any)
	if !ok || len(tags) != 2 || tags[1] != "water" {
		t.Fatalf("unexpected tags %v", params["tag"])
	}
	if got := QueryParams(nil); len(got) != 0 {
		t.Fatalf("expected empty map, got %v", got)
	}
}

func TestVisitorResolver(t *testing.T) {
	resolver := NewVisitorResolver()

	id, isNew := resolver.Resolve("")
	if !isNew || len(id) != 32 {
		t.Fatalf("expected new 32-char id, got %q (new=%v)", id, isNew)
	}
	if strings.Trim(id, "0123456789abcdef") != "" {
		t.Fatalf("expected lowercase hex id, got %q", id)
	}

	again, isNew := resolver.Resolve(id)
	if isNew || again != id {
		t.Fatalf("expected cookie value echoed back, got %q (new=%v)", again, isNew)
	}

	if _, isNew := resolver.Resolve("   "); !isNew {
		t.Fatal("expected blank cookie to mint a new id")
	}

	replaced, isNew := resolver.Resolve(strings.Repeat("v", 500))
	if !isNew || len(replaced) != 32 {
		t.Fatalf("expected overlong cookie to be replaced, got %q (new=%v)", replaced, isNew)
	}
}

func TestClampCountsCharacters(t *testing.T) {
	if got := domain.Clamp("Nairobi", 100); got != "Nairobi" {
		t.Fatalf("expected short value untouched, got %q", got)
	}
	if got := domain.Clamp("Ñairobi", 2); got != "Ña" {
		t.Fatalf("expected two characters, got %q", got)
	}
}
