package pricing

import (
	"os"
	"path/filepath"
	"testing"
)

func TestComputeWriteCost(t *testing.T) {
	pt := DefaultOnDemandPrices()

	usage := []Usage{
		{Dataset: "traffic", WriteUnits: 1_000_000},
		{Dataset: "parkings", WriteUnits: 0},
	}
	cost, ok := ComputeWriteCost(usage, "us-east-1", pt)
	if !ok {
		t.Fatal("us-east-1 missing from default prices")
	}

	// 1M WRU at $0.625 per million.
	if cost.TotalMicrodollars != 625_000 {
		t.Errorf("got %d microdollars, expected 625000", cost.TotalMicrodollars)
	}
	if cost.PerDatasetMicrodollars["traffic"] != 625_000 {
		t.Errorf("traffic: got %d", cost.PerDatasetMicrodollars["traffic"])
	}
	if _, ok := cost.PerDatasetMicrodollars["parkings"]; ok {
		t.Error("zero usage should not be priced")
	}
}

func TestComputeWriteCost_SmallVolumes(t *testing.T) {
	pt := PriceTable{WritePerMillion: map[string]float64{"eu-west-3": 0.735}}

	cost, _ := ComputeWriteCost([]Usage{
		{Dataset: "perturbations", WriteUnits: 1000},
		{Dataset: "perturbations", WriteUnits: 1000},
	}, "eu-west-3", pt)

	if cost.PerDatasetMicrodollars["perturbations"] != 1470 {
		t.Errorf("perturbations: got %d, expected 1470", cost.PerDatasetMicrodollars["perturbations"])
	}
}

func TestComputeWriteCost_UnknownRegion(t *testing.T) {
	cost, ok := ComputeWriteCost([]Usage{{Dataset: "traffic", WriteUnits: 10}}, "mars-north-1", DefaultOnDemandPrices())
	if ok || cost.TotalMicrodollars != 0 {
		t.Errorf("unknown region: ok=%v total=%d", ok, cost.TotalMicrodollars)
	}
}

func TestTotalDollars(t *testing.T) {
	result := CostResult{TotalMicrodollars: 1_000_000}
	if result.TotalDollars() != 1.0 {
		t.Errorf("expected $1.00, got $%.2f", result.TotalDollars())
	}
}

func TestFormatCost(t *testing.T) {
	tests := []struct {
		microdollars uint64
		want         string
	}{
		{0, "$0.000000"},
		{100, "$0.000100"},
		{10_000, "$0.0100"},
		{100_000, "$0.1000"},
		{1_000_000, "$1.00"},
		{50_000_000, "$50.00"},
		{100_000_000, "$100"},
	}

	for _, tt := range tests {
		got := FormatCost(tt.microdollars)
		if got != tt.want {
			t.Errorf("FormatCost(%d) = %q, want %q", tt.microdollars, got, tt.want)
		}
	}
}

func TestLoadSavePriceTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prices.json")

	original := PriceTable{WritePerMillion: map[string]float64{"eu-west-3": 0.735}}
	if err := SavePriceTable(path, original); err != nil {
		t.Fatalf("SavePriceTable failed: %v", err)
	}

	loaded, err := LoadPriceTable(path)
	if err != nil {
		t.Fatalf("LoadPriceTable failed: %v", err)
	}
	if loaded.WritePerMillion["eu-west-3"] != 0.735 {
		t.Errorf("eu-west-3 price: got %f, want 0.735", loaded.WritePerMillion["eu-west-3"])
	}
}

func TestLoadPriceTable_Errors(t *testing.T) {
	if _, err := LoadPriceTable("/nonexistent/path/prices.json"); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "invalid.json")
	if err := os.WriteFile(path, []byte("not valid json"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}
	if _, err := LoadPriceTable(path); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestDefaultOnDemandPrices_CoversDefaultRegion(t *testing.T) {
	if _, ok := DefaultOnDemandPrices().WritePerMillion["eu-west-3"]; !ok {
		t.Error("missing price for eu-west-3")
	}
}
