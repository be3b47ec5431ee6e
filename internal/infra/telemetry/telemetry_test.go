package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTrackingMetricsRecords(t *testing.T) {
	reg := prometheus.NewRegistry()

	metrics, err := NewTrackingMetrics(TrackingMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewTrackingMetrics returned error: %v", err)
	}

	metrics.SessionCreated()
	metrics.ActivityRecorded("page_view")
	metrics.ActivityRecorded("page_view")
	metrics.Failure("activity")
	metrics.GeoLookup("ip-api", "success")
	metrics.BotFlagged()
	metrics.SuspiciousRequest()

	if got := testutil.ToFloat64(metrics.SessionsCreated); got != 1 {
		t.Fatalf("expected 1 session, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Activities.WithLabelValues("page_view")); got != 2 {
		t.Fatalf("expected 2 page views, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.Failures.WithLabelValues("activity")); got != 1 {
		t.Fatalf("expected 1 activity failure, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.GeoLookups.WithLabelValues("ip-api", "success")); got != 1 {
		t.Fatalf("expected 1 geo lookup, got %v", got)
	}
}

func TestTrackingMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := NewTrackingMetrics(TrackingMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("first NewTrackingMetrics returned error: %v", err)
	}
	second, err := NewTrackingMetrics(TrackingMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("second NewTrackingMetrics returned error: %v", err)
	}

	second.BotFlagged()
	if got := testutil.ToFloat64(first.BotsFlagged); got != 1 {
		t.Fatalf("expected collectors to be shared, got %v", got)
	}
}

func TestNilTrackingMetricsIsNoop(t *testing.T) {
	var metrics *TrackingMetrics
	metrics.SessionCreated()
	metrics.Failure("session")
}
