package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncJob("listing", "completed")
	m.ObserveJob("listing", time.Second)
	m.IncPage("ok")
	m.AddItems(3, 1)
	m.AddUpserts("ok", 2)
	m.IncDetail("updated")
	m.SetQueueJobs("detail", "queued", 4)
}

func TestCounters(t *testing.T) {
	m := New()
	m.IncJob("storage", "completed")
	m.IncJob("storage", "completed")
	m.IncPage("failed")
	m.AddItems(5, 2)
	m.AddUpserts("invalid", 0)

	if got := testutil.ToFloat64(m.JobsTotal.WithLabelValues("storage", "completed")); got != 2 {
		t.Errorf("jobs_total = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.PagesTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("pages_total = %v; want 1", got)
	}
	if got := testutil.ToFloat64(m.ItemsScraped); got != 5 {
		t.Errorf("items = %v; want 5", got)
	}
	if got := testutil.ToFloat64(m.DuplicatesTotal); got != 2 {
		t.Errorf("duplicates = %v; want 2", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.IncDetail("updated")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `adtrail_details_total{outcome="updated"} 1`) {
		t.Errorf("metrics output missing detail counter:\n%s", body)
	}
}
