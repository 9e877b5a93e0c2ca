package fetch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eunmann/mobility-sync/pkg/dataset"
	"github.com/eunmann/mobility-sync/pkg/record"
)

// Default endpoints.
const (
	TrafficURL       = "https://data.grandlyon.com/geoserver/ogc/features/v1/collections/pvo_patrimoine_voirie.pvotrafic/items?f=json&limit=10000&startindex=0"
	PerturbationsURL = "https://data.grandlyon.com/fr/datapusher/ws/grandlyon/pvo_patrimoine_voirie.pvochantierperturbant/all.json?maxfeatures=10000&start=1&filename=chantiers-perturbants-metropole-lyon"
	ParkingsURL      = "https://data.grandlyon.com/fr/datapusher/ws/grandlyon/pvo_patrimoine_voirie.pvoparking/all.json?maxfeatures=100000&start=1&filename=parkings-metropole-lyon"
)

// RefSpeed is the reference speed in km/h lost time is measured against.
const RefSpeed = 50.0

// CaptureLayout formats timestamp_capture. It carries no zone; captures are
// always UTC.
const CaptureLayout = "2006-01-02T15:04:05.000000"

// Source describes one upstream feed.
type Source struct {
	Dataset dataset.Dataset
	URL     string

	// Interval between captures; zero captures once.
	Interval time.Duration

	// Extract turns a response body into records stamped with now.
	Extract func(body []byte, now time.Time) ([]record.Record, error)

	// Object names the archive object for a capture at now.
	Object func(now time.Time) string
}

// Key is the archive key of a capture at now.
func (s Source) Key(now time.Time) string {
	now = now.UTC()
	return s.Dataset.Prefix + "/" + now.Format(dataset.DateLayout) + "/" + s.Object(now)
}

// Sources returns the feeds for the datasets of reg.
func Sources(reg dataset.Registry) map[string]Source {
	out := make(map[string]Source, 3)
	if ds, ok := reg["traffic"]; ok {
		out[ds.Name] = Source{
			Dataset:  ds,
			URL:      TrafficURL,
			Interval: time.Minute,
			Extract:  extractTraffic,
			Object:   stamped("traffic"),
		}
	}
	if ds, ok := reg["perturbations"]; ok {
		out[ds.Name] = Source{
			Dataset:  ds,
			URL:      PerturbationsURL,
			Interval: 5 * time.Minute,
			Extract:  extractValues,
			Object:   stamped("perturbations"),
		}
	}
	if ds, ok := reg["parkings"]; ok {
		out[ds.Name] = Source{
			Dataset: ds,
			URL:     ParkingsURL,
			Extract: extractValues,
			Object:  func(time.Time) string { return "parkings.json" },
		}
	}
	return out
}

func stamped(name string) func(time.Time) string {
	return func(now time.Time) string {
		return name + "_" + now.Format("1504") + ".json"
	}
}

// trafficFields are the segment properties kept from each feature.
var trafficFields = []string{
	"twgid", "code", "libelle", "zoom", "nom_zoom", "sens", "longueur",
	"fournisseur", "id_fournisseur", "etat", "vitesse", "ids_ptm", "gid",
	"last_update", "last_update_fme", "est_a_jour",
}

func extractTraffic(body []byte, now time.Time) ([]record.Record, error) {
	var doc struct {
		Features []struct {
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode traffic features: %w", err)
	}

	ts := now.UTC().Format(CaptureLayout)
	out := make([]record.Record, 0, len(doc.Features))
	for _, f := range doc.Features {
		p := f.Properties
		r := make(record.Record, len(trafficFields)+5)
		for _, k := range trafficFields {
			r[k] = p[k]
		}
		speed := CleanSpeed(p["vitesse"])
		lost := math.Max(0, RefSpeed-speed) / RefSpeed
		r["vitesse_clean"] = speed
		r["ref_speed"] = RefSpeed
		r["lost_time_min"] = round(lost*60, 2)
		r["lost_time_pct"] = round(lost*100, 1)
		r[record.CaptureField] = ts
		out = append(out, r)
	}
	return out, nil
}

func extractValues(body []byte, now time.Time) ([]record.Record, error) {
	var doc struct {
		Values []map[string]any `json:"values"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}

	ts := now.UTC().Format(CaptureLayout)
	out := make([]record.Record, 0, len(doc.Values))
	for _, v := range doc.Values {
		r := record.Record(v)
		if r == nil {
			r = record.Record{}
		}
		r[record.CaptureField] = ts
		out = append(out, r)
	}
	return out, nil
}

// CleanSpeed reads the feed's speed label: "18 km/h" is 18, a regulatory
// speed label is RefSpeed, numbers pass through, anything else is 0.
func CleanSpeed(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		if strings.Contains(t, "km/h") {
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(t, "km/h", "")), 64)
			if err != nil {
				return 0
			}
			return f
		}
		if strings.Contains(strings.ToLower(t), "réglementaire") {
			return RefSpeed
		}
	}
	return 0
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
