package analytics

import (
	"bytes"
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/eunmann/mobility-sync/internal/awsfake"
	"github.com/eunmann/mobility-sync/pkg/archive"
	"github.com/eunmann/mobility-sync/pkg/retry"
	"github.com/eunmann/mobility-sync/pkg/store"
)

const day = "2025-01-09"

func sample(ts, segment string, speed any, lost any) map[string]any {
	m := map[string]any{"timestamp_capture": ts, FieldSegment: segment, FieldSpeed: speed}
	if lost != nil {
		m[FieldLostTime] = lost
	}
	return m
}

func fixture() (traffic, perturbations, parkings []map[string]any) {
	traffic = []map[string]any{
		sample(day+"T08:00:00Z", "A", 10.0, 36.0),
		sample(day+"T08:30:00Z", "B", 40.0, 12.0),
		sample(day+"T09:00:00Z", "A", 50.0, 0.0),
		sample(day+"T10:00:00Z", "C", "n/a", nil),
		sample("2025-01-08T09:00:00Z", "A", 5.0, 54.0),
	}
	perturbations = []map[string]any{
		{"gid": 1.0, "timestamp_capture": day + "T07:00:00Z"},
		{"gid": 2.0, "timestamp_capture": day + "T07:05:00Z"},
		{"gid": 3.0, "timestamp_capture": "2025-01-08T07:00:00Z"},
	}
	parkings = []map[string]any{
		{"idparking": "P1", "timestamp_capture": day + "T06:00:00Z"},
	}
	return
}

func TestCompute(t *testing.T) {
	traffic, perturbations, parkings := fixture()
	rep := Compute(day, traffic, perturbations, parkings)

	if rep.TrafficSamples != 4 {
		t.Errorf("TrafficSamples = %d, want 4", rep.TrafficSamples)
	}
	if rep.AvgSpeedKmh != 37.5 {
		t.Errorf("AvgSpeedKmh = %v, want 37.5", rep.AvgSpeedKmh)
	}
	if rep.AvgLostTimeMin != 12 {
		t.Errorf("AvgLostTimeMin = %v, want 12", rep.AvgLostTimeMin)
	}
	if rep.CongestionCount != 1 {
		t.Errorf("CongestionCount = %d, want 1", rep.CongestionCount)
	}
	if rep.PerturbationCount != 2 || rep.ParkingCount != 1 {
		t.Errorf("counts = %d/%d, want 2/1", rep.PerturbationCount, rep.ParkingCount)
	}

	if len(rep.BestHours) != 2 || rep.BestHours[0] != 9 || rep.BestHours[1] != 8 {
		t.Errorf("BestHours = %v, want [9 8]", rep.BestHours)
	}

	if len(rep.SlowestSegments) != 2 {
		t.Fatalf("SlowestSegments = %+v, want A and B", rep.SlowestSegments)
	}
	if s := rep.SlowestSegments[0]; s.Name != "A" || s.AvgSpeedKmh != 30 || s.AvgLostTimeMin != 18 {
		t.Errorf("slowest = %+v, want A 30 km/h 18 min", s)
	}
	if rep.SlowestSegments[1].Name != "B" {
		t.Errorf("second slowest = %s, want B", rep.SlowestSegments[1].Name)
	}

	if len(rep.Hourly) != 3 {
		t.Fatalf("Hourly has %d rows, want 3", len(rep.Hourly))
	}
	h10 := rep.Hourly[2]
	if h10.Hour != 10 || h10.Samples != 1 || !math.IsNaN(h10.AvgSpeedKmh) {
		t.Errorf("hour 10 = %+v, want one sample and no speed", h10)
	}
}

func TestComputeEmpty(t *testing.T) {
	rep := Compute(day, nil, nil, nil)
	if rep.AvgSpeedKmh != 0 || rep.CongestionCount != 0 || len(rep.Hourly) != 0 {
		t.Errorf("empty report = %+v", rep)
	}
	if rep.BestHours == nil || rep.SlowestSegments == nil {
		t.Error("empty report lists should be non-nil")
	}
}

func TestComputeSlowestCapped(t *testing.T) {
	var traffic []map[string]any
	for i := range 15 {
		traffic = append(traffic, sample(day+"T12:00:00Z", string(rune('a'+i)), float64(10+i), 0.0))
	}
	rep := Compute(day, traffic, nil, nil)
	if len(rep.SlowestSegments) != slowSegmentsCount {
		t.Fatalf("SlowestSegments = %d, want %d", len(rep.SlowestSegments), slowSegmentsCount)
	}
	if rep.SlowestSegments[0].Name != "a" || rep.SlowestSegments[9].Name != "j" {
		t.Errorf("ranking = %s..%s, want a..j", rep.SlowestSegments[0].Name, rep.SlowestSegments[9].Name)
	}
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func newReporter(ddb *awsfake.Dynamo, s3 *awsfake.S3) *Reporter {
	return &Reporter{
		Traffic:       store.NewTable(ddb, "TrafficRealtime", fastRetry()),
		Perturbations: store.NewTable(ddb, "PerturbationsRealtime", fastRetry()),
		Parkings:      store.NewTable(ddb, "ParkingsDaily", fastRetry()),
		Reports:       store.NewTable(ddb, "AnalyticsDailyReports", fastRetry()),
		Export:        archive.NewReader(s3, "lyon-s3-raw-dev", fastRetry()),
	}
}

func TestReporterRun(t *testing.T) {
	ddb := awsfake.NewDynamo()
	ddb.PageSize = 2
	ddb.SetHashKey("AnalyticsDailyReports", "date")
	traffic, perturbations, parkings := fixture()
	ddb.Seed("TrafficRealtime", traffic...)
	ddb.Seed("PerturbationsRealtime", perturbations...)
	ddb.Seed("ParkingsDaily", parkings...)
	s3 := awsfake.NewS3()

	r := newReporter(ddb, s3)
	if _, err := r.Run(context.Background(), day); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// A rerun replaces the report for the same date.
	rep, err := r.Run(context.Background(), day)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if rep.AvgSpeedKmh != 37.5 {
		t.Errorf("AvgSpeedKmh = %v, want 37.5", rep.AvgSpeedKmh)
	}

	stored := ddb.Items("AnalyticsDailyReports")
	if len(stored) != 1 {
		t.Fatalf("stored %d reports, want 1", len(stored))
	}
	got := stored[0]
	if got["date"] != day || got["avg_speed_kmh"] != 37.5 || got["congestion_count"] != 1.0 {
		t.Errorf("stored report = %v", got)
	}
	hours, _ := got["best_hours"].([]any)
	if len(hours) != 2 || hours[0] != 9.0 {
		t.Errorf("stored best_hours = %v, want [9 8]", got["best_hours"])
	}

	body, ok := s3.Object(ExportKey(day))
	if !ok {
		t.Fatalf("no export at %s", ExportKey(day))
	}
	rows, err := parquet.Read[HourlyRow](bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("parquet rows = %d, want 3", len(rows))
	}
	if rows[0].Hour != 8 || rows[0].AvgSpeedKmh != 25 || rows[0].Samples != 2 {
		t.Errorf("first row = %+v, want hour 8, 25 km/h, 2 samples", rows[0])
	}
}

func TestReporterRunWithoutExport(t *testing.T) {
	ddb := awsfake.NewDynamo()
	traffic, _, _ := fixture()
	ddb.Seed("TrafficRealtime", traffic...)
	s3 := awsfake.NewS3()

	r := newReporter(ddb, s3)
	r.Export = nil
	if _, err := r.Run(context.Background(), day); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := s3.Object(ExportKey(day)); ok {
		t.Error("export written with Export disabled")
	}
	if len(ddb.Items("AnalyticsDailyReports")) != 1 {
		t.Error("report not stored")
	}
}

func TestReporterScanFailure(t *testing.T) {
	ddb := awsfake.NewDynamo()
	boom := errors.New("boom")
	ddb.FailScan(100, boom)

	r := newReporter(ddb, awsfake.NewS3())
	_, err := r.Run(context.Background(), day)
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want boom", err)
	}
	if n := len(ddb.Items("AnalyticsDailyReports")); n != 0 {
		t.Errorf("stored %d reports after failed scan", n)
	}
}
