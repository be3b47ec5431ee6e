package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// TrackingMetricsOptions configures the tracking pipeline collectors.
type TrackingMetricsOptions struct {
	Registerer prometheus.Registerer
	Namespace  string
}

// TrackingMetrics exposes Prometheus collectors for the visitor tracking pipeline.
// A nil *TrackingMetrics is valid and records nothing.
type TrackingMetrics struct {
	SessionsCreated    prometheus.Counter
	Activities         *prometheus.CounterVec
	Failures           *prometheus.CounterVec
	GeoLookups         *prometheus.CounterVec
	BotsFlagged        prometheus.Counter
	SuspiciousRequests prometheus.Counter
}

// NewTrackingMetrics constructs the tracking collectors and registers them with the provided registerer.
func NewTrackingMetrics(opts TrackingMetricsOptions) (*TrackingMetrics, error) {
	namespace := opts.Namespace
	if namespace == "" {
		namespace = "tracking"
	}

	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	sessions, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_created_total",
		Help:      "Total number of tracking sessions created.",
	}))
	if err != nil {
		return nil, err
	}

	activities, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "activities_total",
		Help:      "Total number of activities recorded partitioned by event type.",
	}, []string{"event_type"}))
	if err != nil {
		return nil, err
	}

	failures, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failures_total",
		Help:      "Total number of swallowed tracking failures partitioned by pipeline stage.",
	}, []string{"stage"}))
	if err != nil {
		return nil, err
	}

	geo, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "geo_lookups_total",
		Help:      "Total number of geolocation provider calls partitioned by provider and outcome.",
	}, []string{"provider", "outcome"}))
	if err != nil {
		return nil, err
	}

	bots, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bots_flagged_total",
		Help:      "Total number of sessions flagged as automated traffic.",
	}))
	if err != nil {
		return nil, err
	}

	suspicious, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "suspicious_requests_total",
		Help:      "Total number of requests matching a suspicious path pattern.",
	}))
	if err != nil {
		return nil, err
	}

	return &TrackingMetrics{
		SessionsCreated:    sessions,
		Activities:         activities,
		Failures:           failures,
		GeoLookups:         geo,
		BotsFlagged:        bots,
		SuspiciousRequests: suspicious,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
			return collector, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return collector, fmt.Errorf("register collector: %w", err)
	}
	return collector, nil
}

// SessionCreated counts a newly inserted session.
func (m *TrackingMetrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// ActivityRecorded counts a persisted activity.
func (m *TrackingMetrics) ActivityRecorded(eventType string) {
	if m == nil {
		return
	}
	m.Activities.WithLabelValues(eventType).Inc()
}

// Failure counts a tracking failure that was logged and discarded.
func (m *TrackingMetrics) Failure(stage string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(stage).Inc()
}

// GeoLookup counts one provider attempt.
func (m *TrackingMetrics) GeoLookup(provider, outcome string) {
	if m == nil {
		return
	}
	m.GeoLookups.WithLabelValues(provider, outcome).Inc()
}

// BotFlagged counts a session marked as a bot.
func (m *TrackingMetrics) BotFlagged() {
	if m == nil {
		return
	}
	m.BotsFlagged.Inc()
}

// SuspiciousRequest counts a request that matched a suspicious pattern.
func (m *TrackingMetrics) SuspiciousRequest() {
	if m == nil {
		return
	}
	m.SuspiciousRequests.Inc()
}
