package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New()
	m.Webhook("answer", "ok")
	m.Webhook("answer", "ok")
	m.RecordingSaved("partial")
	m.ObserveAnswer(4*time.Second, true)

	if got := testutil.ToFloat64(m.webhooks.WithLabelValues("answer", "ok")); got != 2 {
		t.Fatalf("expected 2 answer webhooks, got %v", got)
	}
	if got := testutil.ToFloat64(m.answerDeadline); got != 1 {
		t.Fatalf("expected 1 deadline miss, got %v", got)
	}

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `voicemail_recordings_saved_total{status="partial"} 1`) {
		t.Fatalf("expected recording counter in output")
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Webhook("event", "ok")
	m.RecordingSaved("completed")
	m.Anomaly("status_unknown_call")
	m.ArchiveJob("ok")
	m.ObserveAnswer(time.Millisecond, false)
}
