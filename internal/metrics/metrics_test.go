package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegisteredAtInit(t *testing.T) {
	// Collectors are package vars; observing without any setup must work,
	// since library consumers and tests never call a constructor.
	ObserveIngest("rss", "inserted")
	if val := testutil.ToFloat64(ingestResultsTotal.WithLabelValues("rss", "inserted")); val != 1 {
		t.Errorf("expected ingest counter to be 1, got %f", val)
	}
}

func TestObserveClassification(t *testing.T) {
	ObserveClassification(false)
	ObserveClassification(true)
	ObserveClassification(true)

	if val := testutil.ToFloat64(classificationsTotal.WithLabelValues("fallback")); val < 2 {
		t.Errorf("expected fallback counter >= 2, got %f", val)
	}
}

func TestObserveAlertEmail(t *testing.T) {
	ObserveAlertEmail("instant", true)
	ObserveAlertEmail("instant", false)

	if val := testutil.ToFloat64(alertEmailsTotal.WithLabelValues("instant", "failed")); val < 1 {
		t.Errorf("expected failed counter >= 1, got %f", val)
	}
}

func TestObserveSourceRunAndHTTP(t *testing.T) {
	// Smoke checks that the histogram paths do not panic.
	ObserveSourceRun("legistar", 7, 3*time.Second)
	ObserveSourceRun("board", 0, time.Second)
	ObserveClassifierCall(750 * time.Millisecond)
	ObserveEventsExtracted(2)
	ObserveHTTPRequest("GET", "/v1/articles", 200, 120*time.Millisecond)

	if handler := Handler(); handler == nil {
		t.Fatal("expected non-nil metrics handler")
	}
}
