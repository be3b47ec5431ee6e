package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/govvens/visitor-tracking/internal/core/domain"
	"github.com/govvens/visitor-tracking/internal/core/port"
	"github.com/govvens/visitor-tracking/internal/infra/config"
	"github.com/govvens/visitor-tracking/internal/infra/telemetry"
)

const (
	reasonEmptyAgent    = "empty user agent"
	reasonConfiguredBot = "bot user agent"
	reasonScriptingTool = "scripting tool"
)

var (
	scriptingTools    = []string{"curl", "wget", "python", "perl", "java", "ruby", "scrapy"}
	traversalPatterns = []string{"../", `..\`}
)

// BotVerdict is the outcome of classifying one user agent.
type BotVerdict struct {
	IsBot  bool
	Reason string
}

// BotClassifier flags automated clients and probing requests. It never blocks traffic.
type BotClassifier struct {
	enabled    bool
	userAgents []string
	patterns   []string
}

// NewBotClassifier builds a classifier from configuration. Patterns are matched case-insensitively.
func NewBotClassifier(cfg config.BotDetectionSettings) *BotClassifier {
	patterns := make([]string, 0, len(cfg.SuspiciousPatterns)+len(traversalPatterns))
	for _, p := range cfg.SuspiciousPatterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			patterns = append(patterns, p)
		}
	}
	patterns = append(patterns, traversalPatterns...)

	userAgents := make([]string, 0, len(cfg.UserAgents))
	for _, ua := range cfg.UserAgents {
		if ua = strings.ToLower(strings.TrimSpace(ua)); ua != "" {
			userAgents = append(userAgents, ua)
		}
	}

	return &BotClassifier{enabled: cfg.Enabled, userAgents: userAgents, patterns: patterns}
}

// Enabled reports whether detection runs at all.
func (c *BotClassifier) Enabled() bool {
	return c != nil && c.enabled
}

// Classify decides whether userAgent belongs to an automated client.
func (c *BotClassifier) Classify(userAgent string) BotVerdict {
	if !c.Enabled() {
		return BotVerdict{}
	}
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	switch {
	case ua == "":
		return BotVerdict{IsBot: true, Reason: reasonEmptyAgent}
	case containsAny(ua, c.userAgents):
		return BotVerdict{IsBot: true, Reason: reasonConfiguredBot}
	case containsAny(ua, scriptingTools):
		return BotVerdict{IsBot: true, Reason: reasonScriptingTool}
	}
	return BotVerdict{}
}

// Suspicious returns the first probing pattern found in pathAndQuery, checking both the
// raw and the URL-decoded form.
func (c *BotClassifier) Suspicious(pathAndQuery string) (string, bool) {
	if !c.Enabled() || pathAndQuery == "" {
		return "", false
	}
	candidates := []string{strings.ToLower(pathAndQuery)}
	if decoded, err := url.QueryUnescape(pathAndQuery); err == nil {
		candidates = append(candidates, strings.ToLower(decoded))
	}
	for _, pattern := range c.patterns {
		for _, candidate := range candidates {
			if strings.Contains(candidate, pattern) {
				return pattern, true
			}
		}
	}
	return "", false
}

// BotService applies classifier verdicts to tracking sessions.
type BotService struct {
	classifier *BotClassifier
	sessions   port.SessionRepository
	events     port.EventPublisher
	metrics    *telemetry.TrackingMetrics
	logger     *zap.Logger
	now        func() time.Time
}

// NewBotService constructs a BotService. events and metrics may be nil.
func NewBotService(classifier *BotClassifier, sessions port.SessionRepository, events port.EventPublisher, metrics *telemetry.TrackingMetrics, logger *zap.Logger) *BotService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BotService{
		classifier: classifier,
		sessions:   sessions,
		events:     events,
		metrics:    metrics,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Inspect classifies the request and, for bots with a persisted session, flags the session.
// Suspicious paths are only logged.
func (s *BotService) Inspect(ctx context.Context, session *domain.Session, userAgent, pathAndQuery, clientIP string) (BotVerdict, error) {
	if !s.classifier.Enabled() {
		return BotVerdict{}, nil
	}

	if pattern, ok := s.classifier.Suspicious(pathAndQuery); ok {
		s.metrics.SuspiciousRequest()
		s.logger.Warn("suspicious request",
			zap.String("pattern", pattern),
			zap.String("path", pathAndQuery),
			zap.String("client_ip", clientIP),
		)
	}

	verdict := s.classifier.Classify(userAgent)
	if !verdict.IsBot || session == nil || session.ID == 0 || session.IsBot {
		return verdict, nil
	}

	if err := s.sessions.MarkBot(ctx, session.ID); err != nil {
		return verdict, trackingError(StageBot, fmt.Errorf("mark session bot: %w", err))
	}
	session.IsBot = true
	s.metrics.BotFlagged()
	s.logger.Info("session flagged as bot", zap.Int64("session_id", session.ID), zap.String("reason", verdict.Reason))

	if s.events != nil {
		event := domain.SessionBotFlaggedEvent{
			EventID:   uuid.NewString(),
			SessionID: session.ID,
			VisitorID: session.VisitorID,
			UserAgent: userAgent,
			Reason:    verdict.Reason,
			FlaggedAt: s.now(),
		}
		if err := s.events.PublishSessionBotFlagged(ctx, event); err != nil {
			s.logger.Warn("failed to publish bot flagged event", zap.Int64("session_id", session.ID), zap.Error(err))
		}
	}

	return verdict, nil
}
