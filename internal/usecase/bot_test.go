package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/infra/config"
	"github.com/govvens/visitor-tracking/internal/infra/telemetry"
)

func testBotSettings() config.BotDetectionSettings {
	return config.BotDetectionSettings{
		Enabled:            true,
		UserAgents:         []string{"bot", "crawler", "spider", "scraper", "headless"},
		SuspiciousPatterns: []string{"wp-admin", "wp-login", ".env", "phpmyadmin", "<script", "union select", "/etc/passwd"},
	}
}

func TestBotClassifierClassify(t *testing.T) {
	classifier := NewBotClassifier(testBotSettings())

	cases := []struct {
		ua     string
		isBot  bool
		reason string
	}{
		{"", true, reasonEmptyAgent},
		{"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true, reasonConfiguredBot},
		{"Mozilla/5.0 HeadlessChrome/119.0", true, reasonConfiguredBot},
		{"curl/8.0", true, reasonScriptingTool},
		{"python-urllib/3.11", true, reasonScriptingTool},
		{chromeUA, false, ""},
	}
	for _, tc := range cases {
		verdict := classifier.Classify(tc.ua)
		if verdict.IsBot != tc.isBot || verdict.Reason != tc.reason {
			t.Fatalf("Classify(%q) = %+v, want bot=%v reason=%q", tc.ua, verdict, tc.isBot, tc.reason)
		}
	}
}

func TestBotClassifierDisabled(t *testing.T) {
	settings := testBotSettings()
	settings.Enabled = false
	classifier := NewBotClassifier(settings)

	if verdict := classifier.Classify(""); verdict.IsBot {
		t.Fatal("expected disabled classifier to flag nothing")
	}
	if _, ok := classifier.Suspicious("/wp-admin/"); ok {
		t.Fatal("expected disabled classifier to ignore patterns")
	}
}

func TestBotClassifierSuspicious(t *testing.T) {
	classifier := NewBotClassifier(testBotSettings())

	cases := []struct {
		path    string
		pattern string
		hit     bool
	}{
		{"/WP-Admin/setup.php", "wp-admin", true},
		{"/search?q=%3Cscript%3Ealert(1)", "<script", true},
		{"/static/..%2F..%2Fsecret", "../", true},
		{`/files/..\boot.ini`, `..\`, true},
		{"/tickets?q=1%27%20UNION%20SELECT%20password", "union select", true},
		{"/tickets?page=2", "", false},
	}
	for _, tc := range cases {
		pattern, hit := classifier.Suspicious(tc.path)
		if hit != tc.hit || pattern != tc.pattern {
			t.Fatalf("Suspicious(%q) = %q %v, want %q %v", tc.path, pattern, hit, tc.pattern, tc.hit)
		}
	}
}

func TestBotServiceFlagsSessionOnce(t *testing.T) {
	sessions := newSessionRepoMock()
	seed := &domain.Session{SessionKey: "key-1", VisitorID: "visitor-1"}
	sessions.Create(context.Background(), seed)
	events := &eventRecorder{}
	metrics, err := telemetry.NewTrackingMetrics(telemetry.TrackingMetricsOptions{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("NewTrackingMetrics returned error: %v", err)
	}

	service := NewBotService(NewBotClassifier(testBotSettings()), sessions, events, metrics, zaptest.NewLogger(t))
	session := &domain.Session{ID: seed.ID, VisitorID: "visitor-1"}

	verdict, err := service.Inspect(context.Background(), session, "Googlebot/2.1", "/", "66.249.66.1")
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if !verdict.IsBot || !session.IsBot {
		t.Fatalf("expected session flagged, verdict=%+v", verdict)
	}
	if _, err := service.Inspect(context.Background(), session, "Googlebot/2.1", "/", "66.249.66.1"); err != nil {
		t.Fatalf("second Inspect returned error: %v", err)
	}

	if len(sessions.markedBots) != 1 || sessions.markedBots[0] != seed.ID {
		t.Fatalf("expected a single MarkBot call, got %v", sessions.markedBots)
	}
	if len(events.botFlagged) != 1 || events.botFlagged[0].Reason != reasonConfiguredBot {
		t.Fatalf("unexpected bot events %+v", events.botFlagged)
	}
	if got := testutil.ToFloat64(metrics.BotsFlagged); got != 1 {
		t.Fatalf("expected 1 bot flagged, got %v", got)
	}
}

func TestBotServiceSkipsUnsavedSession(t *testing.T) {
	sessions := newSessionRepoMock()
	service := NewBotService(NewBotClassifier(testBotSettings()), sessions, nil, nil, zaptest.NewLogger(t))

	verdict, err := service.Inspect(context.Background(), &domain.Session{}, "curl/8.0", "/", "")
	if err != nil || !verdict.IsBot {
		t.Fatalf("unexpected result %+v err=%v", verdict, err)
	}
	if len(sessions.markedBots) != 0 {
		t.Fatal("expected no write without a persisted session")
	}
}

func TestBotServiceCountsSuspiciousRequests(t *testing.T) {
	metrics, err := telemetry.NewTrackingMetrics(telemetry.TrackingMetricsOptions{Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("NewTrackingMetrics returned error: %v", err)
	}
	service := NewBotService(NewBotClassifier(testBotSettings()), newSessionRepoMock(), nil, metrics, zaptest.NewLogger(t))

	verdict, err := service.Inspect(context.Background(), nil, chromeUA, "/.env", "203.0.113.9")
	if err != nil || verdict.IsBot {
		t.Fatalf("unexpected result %+v err=%v", verdict, err)
	}
	if got := testutil.ToFloat64(metrics.SuspiciousRequests); got != 1 {
		t.Fatalf("expected 1 suspicious request, got %v", got)
	}
}

func TestBotServiceMarkFailure(t *testing.T) {
	sessions := newSessionRepoMock()
	sessions.markBotErr = errors.New("timeout")
	service := NewBotService(NewBotClassifier(testBotSettings()), sessions, nil, nil, zaptest.NewLogger(t))

	session := &domain.Session{ID: 4}
	_, err := service.Inspect(context.Background(), session, "", "/", "")
	var trackingErr *TrackingError
	if !errors.As(err, &trackingErr) || trackingErr.Stage != StageBot {
		t.Fatalf("expected bot stage tracking error, got %v", err)
	}
	if session.IsBot {
		t.Fatal("expected session left unflagged after a failed write")
	}
}

func TestRecoveredError(t *testing.T) {
	err := RecoveredError(StageActivity, errors.New("nil map"))
	if err.Stage != StageActivity || err.Error() != "tracking activity: panic: nil map" {
		t.Fatalf("unexpected error %q", err.Error())
	}
	if RecoveredError(StageSession, "boom").Error() != "tracking session: panic: boom" {
		t.Fatal("unexpected message for non-error panic value")
	}
}
