// Package analytics builds the daily mobility summary from the destination
// tables.
package analytics

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eunmann/mobility-sync/pkg/record"
)

// Traffic fields read by the summary.
const (
	FieldSpeed    = "vitesse_clean"
	FieldLostTime = "lost_time_min"
	FieldSegment  = "libelle"
)

const (
	bestHoursCount    = 3
	slowSegmentsCount = 10
)

// HourlyRow is one hour of traffic, also the Parquet export schema.
type HourlyRow struct {
	Hour           int32   `parquet:"hour" json:"hour"`
	AvgSpeedKmh    float64 `parquet:"avg_speed_kmh" json:"avg_speed_kmh"`
	AvgLostTimeMin float64 `parquet:"avg_lost_time_min" json:"avg_lost_time_min"`
	Samples        int64   `parquet:"samples" json:"samples"`
}

// Segment is the mean state of one named road segment.
type Segment struct {
	Name           string  `json:"libelle"`
	AvgSpeedKmh    float64 `json:"avg_speed_kmh"`
	AvgLostTimeMin float64 `json:"avg_lost_time_min"`
}

// DailyReport is the summary of one capture date.
type DailyReport struct {
	Date              string      `json:"date"`
	AvgSpeedKmh       float64     `json:"avg_speed_kmh"`
	AvgLostTimeMin    float64     `json:"avg_lost_time_min"`
	CongestionCount   int         `json:"congestion_count"`
	PerturbationCount int         `json:"perturbation_count"`
	ParkingCount      int         `json:"parking_count"`
	BestHours         []int       `json:"best_hours"`
	SlowestSegments   []Segment   `json:"slowest_segments"`
	Hourly            []HourlyRow `json:"-"`
	TrafficSamples    int         `json:"traffic_samples"`
}

// Compute summarizes the items captured on date. Non-numeric speeds or
// lost times are left out of the means, as are unparsable timestamps from
// the hourly breakdown.
func Compute(date string, traffic, perturbations, parkings []map[string]any) DailyReport {
	rep := DailyReport{
		Date:              date,
		PerturbationCount: len(onDate(perturbations, date)),
		ParkingCount:      len(onDate(parkings, date)),
		BestHours:         []int{},
		SlowestSegments:   []Segment{},
	}

	rows := onDate(traffic, date)
	rep.TrafficSamples = len(rows)
	if len(rows) == 0 {
		return rep
	}

	type acc struct {
		speed, lost mean
		n           int64
	}
	hours := make(map[int]*acc)
	segments := make(map[string]*acc)
	var all mean
	var speeds []float64

	for _, r := range rows {
		speed, hasSpeed := number(r[FieldSpeed])
		lost, hasLost := number(r[FieldLostTime])
		if hasSpeed {
			all.add(speed)
			speeds = append(speeds, speed)
		}

		if h, ok := captureHour(r); ok {
			a := hours[h]
			if a == nil {
				a = &acc{}
				hours[h] = a
			}
			a.n++
			if hasSpeed {
				a.speed.add(speed)
			}
			if hasLost {
				a.lost.add(lost)
			}
		}

		if name, ok := r[FieldSegment].(string); ok && name != "" {
			a := segments[name]
			if a == nil {
				a = &acc{}
				segments[name] = a
			}
			if hasSpeed {
				a.speed.add(speed)
			}
			if hasLost {
				a.lost.add(lost)
			}
		}
	}

	var hourSpeed, hourLost mean
	for h, a := range hours {
		row := HourlyRow{Hour: int32(h), Samples: a.n, AvgSpeedKmh: math.NaN(), AvgLostTimeMin: math.NaN()}
		if s, ok := a.speed.value(); ok {
			row.AvgSpeedKmh = s
			hourSpeed.add(s)
		}
		if l, ok := a.lost.value(); ok {
			row.AvgLostTimeMin = l
			hourLost.add(l)
		}
		rep.Hourly = append(rep.Hourly, row)
	}
	sort.Slice(rep.Hourly, func(i, j int) bool { return rep.Hourly[i].Hour < rep.Hourly[j].Hour })

	if v, ok := hourSpeed.value(); ok {
		rep.AvgSpeedKmh = round2(v)
	}
	if v, ok := hourLost.value(); ok {
		rep.AvgLostTimeMin = round2(v)
	}

	ranked := make([]HourlyRow, 0, len(rep.Hourly))
	for _, row := range rep.Hourly {
		if !math.IsNaN(row.AvgSpeedKmh) {
			ranked = append(ranked, row)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].AvgSpeedKmh > ranked[j].AvgSpeedKmh })
	for i := 0; i < len(ranked) && i < bestHoursCount; i++ {
		rep.BestHours = append(rep.BestHours, int(ranked[i].Hour))
	}

	for name, a := range segments {
		s, ok := a.speed.value()
		if !ok {
			continue
		}
		seg := Segment{Name: name, AvgSpeedKmh: round2(s)}
		if l, ok := a.lost.value(); ok {
			seg.AvgLostTimeMin = round2(l)
		}
		rep.SlowestSegments = append(rep.SlowestSegments, seg)
	}
	sort.Slice(rep.SlowestSegments, func(i, j int) bool {
		a, b := rep.SlowestSegments[i], rep.SlowestSegments[j]
		if a.AvgSpeedKmh != b.AvgSpeedKmh {
			return a.AvgSpeedKmh < b.AvgSpeedKmh
		}
		return a.Name < b.Name
	})
	if len(rep.SlowestSegments) > slowSegmentsCount {
		rep.SlowestSegments = rep.SlowestSegments[:slowSegmentsCount]
	}

	if m, ok := all.value(); ok {
		threshold := m * 0.5
		for _, s := range speeds {
			if s < threshold {
				rep.CongestionCount++
			}
		}
	}
	return rep
}

// onDate keeps items whose capture timestamp falls on date.
func onDate(items []map[string]any, date string) []map[string]any {
	var out []map[string]any
	for _, it := range items {
		if d, ok := record.Record(it).CaptureDate(); ok && d == date {
			out = append(out, it)
		}
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

func captureHour(item map[string]any) (int, bool) {
	ts, ok := item[record.CaptureField].(string)
	if !ok {
		return 0, false
	}
	ts = strings.TrimSpace(ts)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, ts); err == nil {
			return t.Hour(), true
		}
	}
	return 0, false
}

// number accepts stored numbers and numeric strings.
func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, !math.IsNaN(t)
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.n++
}

func (m mean) value() (float64, bool) {
	if m.n == 0 {
		return 0, false
	}
	return m.sum / float64(m.n), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
