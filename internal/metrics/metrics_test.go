package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestHandlerServesHealthAndMetrics(t *testing.T) {
	ResetsTotal.Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "OK" {
		t.Fatalf("unexpected health response: %d %q", resp.StatusCode, body)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "duet_resets_total") {
		t.Fatalf("metrics output missing duet_resets_total")
	}
}

func TestConsumptionCounterLabels(t *testing.T) {
	before := testutil.ToFloat64(ConsumptionsTotal.WithLabelValues(OutcomeReplayed))
	ConsumptionsTotal.WithLabelValues(OutcomeReplayed).Inc()
	after := testutil.ToFloat64(ConsumptionsTotal.WithLabelValues(OutcomeReplayed))
	if after-before != 1 {
		t.Fatalf("expected counter to advance by 1, got %v", after-before)
	}
}
