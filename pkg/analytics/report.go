package analytics

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"time"

	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	"github.com/eunmann/mobility-sync/internal/logctx"
	"github.com/eunmann/mobility-sync/pkg/logging"
	"github.com/eunmann/mobility-sync/pkg/record"
	"github.com/eunmann/mobility-sync/pkg/store"
)

// Scanner reads every page of a table.
type Scanner interface {
	Scan(ctx context.Context, fields []string, fn func(items []map[string]any) error) error
}

// Putter stores a single item.
type Putter interface {
	PutItem(ctx context.Context, item store.Item) error
}

// Uploader stores an object in the archive bucket.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}

// ExportKey is where the hourly breakdown of date is written.
func ExportKey(date string) string {
	return "analytics/" + date + "/hourly.parquet"
}

// Reporter computes and stores daily reports.
type Reporter struct {
	Traffic       Scanner
	Perturbations Scanner
	Parkings      Scanner
	Reports       Putter

	// Export is optional; nil disables the Parquet upload.
	Export Uploader
}

// Run builds the report for date, stores it, and exports the hourly rows.
func (r *Reporter) Run(ctx context.Context, date string) (DailyReport, error) {
	start := time.Now()
	log := logctx.FromContext(ctx)

	var traffic, perturbations, parkings []map[string]any
	var g errgroup.Group
	for _, src := range []struct {
		name string
		s    Scanner
		dst  *[]map[string]any
	}{
		{"traffic", r.Traffic, &traffic},
		{"perturbations", r.Perturbations, &perturbations},
		{"parkings", r.Parkings, &parkings},
	} {
		g.Go(func() error {
			items, err := collect(ctx, src.s, date)
			if err != nil {
				return fmt.Errorf("read %s: %w", src.name, err)
			}
			*src.dst = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return DailyReport{}, err
	}

	rep := Compute(date, traffic, perturbations, parkings)

	item, err := store.ToItem(rep.record())
	if err != nil {
		return rep, fmt.Errorf("convert report %s: %w", date, err)
	}
	if err := r.Reports.PutItem(ctx, item); err != nil {
		return rep, fmt.Errorf("store report %s: %w", date, err)
	}

	if r.Export != nil && len(rep.Hourly) > 0 {
		body, err := EncodeHourly(rep.Hourly)
		if err != nil {
			return rep, err
		}
		if err := r.Export.Put(ctx, ExportKey(date), body, "application/vnd.apache.parquet"); err != nil {
			return rep, fmt.Errorf("export report %s: %w", date, err)
		}
	}

	logging.NewCompletionEvent(log, "report_completed", "analytics", time.Since(start)).
		Str("date", date).
		Count("traffic_samples", int64(rep.TrafficSamples)).
		Count("congestion_count", int64(rep.CongestionCount)).
		Count("perturbation_count", int64(rep.PerturbationCount)).
		Count("parking_count", int64(rep.ParkingCount)).
		Log("Daily report stored")
	return rep, nil
}

// collect keeps only the items captured on date, page by page.
func collect(ctx context.Context, s Scanner, date string) ([]map[string]any, error) {
	var out []map[string]any
	err := s.Scan(ctx, nil, func(items []map[string]any) error {
		out = append(out, onDate(items, date)...)
		return nil
	})
	return out, err
}

// EncodeHourly renders rows as a Parquet file.
func EncodeHourly(rows []HourlyRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, fmt.Errorf("encode hourly parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// record is the stored form, keyed by date.
func (d DailyReport) record() record.Record {
	hours := make([]any, len(d.BestHours))
	for i, h := range d.BestHours {
		hours[i] = h
	}
	segs := make([]any, len(d.SlowestSegments))
	for i, s := range d.SlowestSegments {
		segs[i] = map[string]any{
			"libelle":           s.Name,
			"avg_speed_kmh":     s.AvgSpeedKmh,
			"avg_lost_time_min": s.AvgLostTimeMin,
		}
	}
	hourly := make([]any, 0, len(d.Hourly))
	for _, h := range d.Hourly {
		hourly = append(hourly, map[string]any{
			"hour":              int(h.Hour),
			"avg_speed_kmh":     finiteOrNil(h.AvgSpeedKmh),
			"avg_lost_time_min": finiteOrNil(h.AvgLostTimeMin),
			"samples":           h.Samples,
		})
	}
	return record.Record{
		"date":               d.Date,
		"avg_speed_kmh":      d.AvgSpeedKmh,
		"avg_lost_time_min":  d.AvgLostTimeMin,
		"congestion_count":   d.CongestionCount,
		"perturbation_count": d.PerturbationCount,
		"parking_count":      d.ParkingCount,
		"traffic_samples":    d.TrafficSamples,
		"best_hours":         hours,
		"slowest_segments":   segs,
		"hourly":             hourly,
		"generated_at":       time.Now().UTC().Format(time.RFC3339),
	}
}

func finiteOrNil(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return round2(v)
}
