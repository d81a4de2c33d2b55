package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/cleanplanet/cleanplanet-web/internal/version"
)

func scrape(t *testing.T, m *ServerMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}
	return rec.Body.String()
}

func TestNew_RegistryPopulated(t *testing.T) {
	m := New()
	body := scrape(t, m)

	for _, name := range []string{
		"http_inflight_requests",
		"http_panic_total",
		"http_requests_rate_limited_total",
		"lead_submissions_rate_limited_total",
		"profiling_active",
		"content_watcher_stale",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not found in /metrics output", name)
		}
	}

	if !strings.Contains(body, "go_goroutines") {
		t.Error("go collector metrics missing")
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	// two instances must not collide; a shared default registry would panic
	a := New()
	b := New()
	a.IncHttpPanic()
	if got := testutil.ToFloat64(b.httpPanicTotal); got != 0 {
		t.Fatalf("registries share state: %v", got)
	}
}

func TestLeadOutcomes(t *testing.T) {
	m := New()

	m.IncLeadOutcome(LeadOutcomeCreated)
	m.IncLeadOutcome(LeadOutcomeCreated)
	m.IncLeadOutcome(LeadOutcomeRateLimited)

	if got := testutil.ToFloat64(m.leadsTotal.WithLabelValues(LeadOutcomeCreated)); got != 2 {
		t.Errorf("created = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.leadsTotal.WithLabelValues(LeadOutcomeRateLimited)); got != 1 {
		t.Errorf("rate_limited = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.leadsTotal.WithLabelValues(LeadOutcomeUpstreamError)); got != 0 {
		t.Errorf("upstream_error = %v, want 0", got)
	}
}

func TestAddressProxyCounter(t *testing.T) {
	m := New()
	m.IncAddressProxy("suggest", "ok")
	m.IncAddressProxy("suggest", "ok")
	m.IncAddressProxy("geolocate", "upstream_error")

	if got := testutil.ToFloat64(m.addressReqsTotal.WithLabelValues("suggest", "ok")); got != 2 {
		t.Errorf("suggest ok = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.addressReqsTotal.WithLabelValues("geolocate", "upstream_error")); got != 1 {
		t.Errorf("geolocate upstream_error = %v, want 1", got)
	}
}

func TestContentGauges_SingleLabelValue(t *testing.T) {
	m := New()

	m.SetContentSource("embedded")
	m.SetContentSource("s3")

	body := scrape(t, m)
	if strings.Contains(body, `content_source_info{source="embedded"}`) {
		t.Error("stale content source label survived a swap")
	}
	if !strings.Contains(body, `content_source_info{source="s3"} 1`) {
		t.Error("current content source missing")
	}
}

func TestSetBuildInfo(t *testing.T) {
	m := New()
	vi := version.Get()
	m.SetBuildInfoFromVersion("cleanplanet-web", "server", &vi)

	body := scrape(t, m)
	if !strings.Contains(body, `app="cleanplanet-web"`) {
		t.Error("build_info missing app label")
	}
}
