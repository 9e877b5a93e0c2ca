// Package dataset describes the harvested datasets and how each one
// identifies a record.
package dataset

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eunmann/mobility-sync/pkg/record"
)

// KeyMode selects how duplicates are detected for a dataset.
type KeyMode int

const (
	// KeyIdentifier dedupes per record on a stable source identifier.
	KeyIdentifier KeyMode = iota
	// KeyPartition dedupes per capture date: a date present in the store is
	// never ingested again.
	KeyPartition
)

func (m KeyMode) String() string {
	switch m {
	case KeyIdentifier:
		return "identifier"
	case KeyPartition:
		return "partition"
	default:
		return "unknown"
	}
}

// DateLayout is the partition folder and partition key format.
const DateLayout = "2006-01-02"

// Dataset binds an archive prefix to a destination table.
type Dataset struct {
	Name   string
	Prefix string
	Table  string
	Mode   KeyMode

	// KeyField is the record field the natural key is derived from.
	KeyField string

	// normalize canonicalizes the raw KeyField value. Nil for KeyPartition.
	normalize func(v any) (string, bool)
}

// Projection lists the stored attributes needed to rebuild the inventory.
func (d Dataset) Projection() []string {
	return []string{d.KeyField}
}

// Key extracts the natural key of a record or stored item. For partition
// datasets the key is the capture date.
func (d Dataset) Key(r record.Record) (string, bool) {
	if d.Mode == KeyPartition {
		date, ok := r.CaptureDate()
		if !ok || !IsDate(date) {
			return "", false
		}
		return date, true
	}
	v, ok := r[d.KeyField]
	if !ok || v == nil {
		return "", false
	}
	return d.normalize(v)
}

// IsDate reports whether s is a YYYY-MM-DD calendar date.
func IsDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}

// scalarKey renders strings, booleans and numbers canonically. Integral
// floats print without a fractional part so 12 and 12.0 collide.
func scalarKey(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

// integerKey accepts integral numbers and numeric strings.
func integerKey(v any) (string, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatInt(int64(t), 10), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatInt(n, 10), true
	default:
		return "", false
	}
}

// Traffic is the road segment speed feed, one ingestion per capture date.
func Traffic() Dataset {
	return Dataset{
		Name:     "traffic",
		Prefix:   "supervision_trafic_temps_reel",
		Table:    "TrafficRealtime",
		Mode:     KeyPartition,
		KeyField: record.CaptureField,
	}
}

// Perturbations is the road-works feed keyed by integer gid.
func Perturbations() Dataset {
	return Dataset{
		Name:      "perturbations",
		Prefix:    "perturbations_travaux_temps_reel",
		Table:     "PerturbationsRealtime",
		Mode:      KeyIdentifier,
		KeyField:  "gid",
		normalize: integerKey,
	}
}

// Parkings is the daily parking availability feed keyed by idparking.
func Parkings() Dataset {
	return Dataset{
		Name:      "parkings",
		Prefix:    "disponibilites_parkings_journalier",
		Table:     "ParkingsDaily",
		Mode:      KeyIdentifier,
		KeyField:  "idparking",
		normalize: scalarKey,
	}
}

// Registry maps dataset names to definitions.
type Registry map[string]Dataset

// Defaults returns the three built-in datasets.
func Defaults() Registry {
	r := Registry{}
	for _, d := range []Dataset{Traffic(), Perturbations(), Parkings()} {
		r[d.Name] = d
	}
	return r
}

// Override replaces prefix and table for a dataset when non-empty.
func (r Registry) Override(name, prefix, table string) error {
	d, ok := r[name]
	if !ok {
		return fmt.Errorf("unknown dataset %q", name)
	}
	if prefix != "" {
		d.Prefix = strings.Trim(prefix, "/")
	}
	if table != "" {
		d.Table = table
	}
	r[name] = d
	return nil
}

// Lookup resolves names; an empty list selects every dataset in name order.
func (r Registry) Lookup(names ...string) ([]Dataset, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	out := make([]Dataset, 0, len(names))
	for _, n := range names {
		d, ok := r[n]
		if !ok {
			return nil, fmt.Errorf("unknown dataset %q (known: %s)", n, strings.Join(r.Names(), ", "))
		}
		out = append(out, d)
	}
	return out, nil
}

// Names returns the registered names sorted.
func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
