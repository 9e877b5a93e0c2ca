package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/eunmann/mobility-sync/pkg/ingest"
)

func report() *ingest.Report {
	return &ingest.Report{
		Dataset:             "parkings",
		Started:             time.Unix(1_736_000_000, 0),
		Duration:            1500 * time.Millisecond,
		PartitionsProcessed: 2,
		RecordsInserted:     6,
		RecordsSkipped:      2,
		WriteUnits:          6,
	}
}

func TestObserve(t *testing.T) {
	r := NewRecorder()
	r.Observe(report())

	expected := `
# HELP mobsync_run_records_inserted Records written by the last run, per dataset
# TYPE mobsync_run_records_inserted gauge
mobsync_run_records_inserted{dataset="parkings"} 6
# HELP mobsync_run_records_skipped Records skipped as duplicates or without key, per dataset
# TYPE mobsync_run_records_skipped gauge
mobsync_run_records_skipped{dataset="parkings"} 2
`
	err := testutil.GatherAndCompare(r.Registry(), strings.NewReader(expected),
		"mobsync_run_records_inserted", "mobsync_run_records_skipped")
	if err != nil {
		t.Errorf("unexpected metrics: %v", err)
	}

	if got := testutil.ToFloat64(r.success.WithLabelValues("parkings")); got != 1 {
		t.Errorf("success = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.lastSuccess.WithLabelValues("parkings")); got != 1_736_000_001 {
		t.Errorf("last success = %v", got)
	}
}

func TestObserve_FailedRunKeepsLastSuccess(t *testing.T) {
	r := NewRecorder()
	r.Observe(report())

	failed := report()
	failed.Started = failed.Started.Add(time.Hour)
	failed.Error = "inventory unavailable"
	r.Observe(failed)

	if got := testutil.ToFloat64(r.success.WithLabelValues("parkings")); got != 0 {
		t.Errorf("success = %v, want 0", got)
	}
	if got := testutil.ToFloat64(r.lastSuccess.WithLabelValues("parkings")); got != 1_736_000_001 {
		t.Errorf("last success moved on failure: %v", got)
	}
}

func TestGather_OneSeriesPerDataset(t *testing.T) {
	r := NewRecorder()
	r.Observe(report())
	other := report()
	other.Dataset = "traffic"
	r.Observe(other)

	families, err := r.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var inserted *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "mobsync_run_records_inserted" {
			inserted = mf
		}
	}
	if inserted == nil {
		t.Fatal("records_inserted not gathered")
	}
	if len(inserted.GetMetric()) != 2 {
		t.Errorf("series = %d, want 2", len(inserted.GetMetric()))
	}
	if inserted.GetType() != dto.MetricType_GAUGE {
		t.Errorf("type = %v", inserted.GetType())
	}
}

func TestPush(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path = req.Method + " " + req.URL.Path
		data, _ := io.ReadAll(req.Body)
		body = string(data)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := NewRecorder()
	r.Observe(report())
	if err := r.Push(context.Background(), srv.URL); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if path != "PUT /metrics/job/mobsync" {
		t.Errorf("request = %q", path)
	}
	if body == "" {
		t.Error("empty push body")
	}
}

func TestPush_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewRecorder()
	if err := r.Push(context.Background(), srv.URL); err == nil {
		t.Error("expected error")
	}
}
