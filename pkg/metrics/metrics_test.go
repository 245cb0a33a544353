package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New("test")

	m.FeeComputed("management")
	m.FeeComputed("management")
	m.Transition("invoice", "paid")
	m.Discrepancy()
	m.Payment("USD")
	m.OutboxPublished(3)

	if got := testutil.ToFloat64(m.FeesComputedTotal.WithLabelValues("management")); got != 2 {
		t.Errorf("fees computed = %v", got)
	}
	if got := testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("invoice", "paid")); got != 1 {
		t.Errorf("transitions = %v", got)
	}
	if got := testutil.ToFloat64(m.OutboxPublishedTotal); got != 3 {
		t.Errorf("outbox published = %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New("test")
	m.ObserveHTTP(http.MethodPost, "/api/v1/fee-events", 201, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "feeengine_http_requests_total") {
		t.Error("expected http request counter in output")
	}
}
