// Package pricing estimates the DynamoDB on-demand cost of sync writes.
package pricing

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// PriceTable holds on-demand write prices per region.
type PriceTable struct {
	// WritePerMillion maps regions to USD per million write request units.
	WritePerMillion map[string]float64 `json:"write_per_million"`
}

// DefaultOnDemandPrices returns approximate standard-table-class prices (as of 2025).
// They should be refreshed from the AWS price list when precision matters.
func DefaultOnDemandPrices() PriceTable {
	return PriceTable{
		WritePerMillion: map[string]float64{
			"us-east-1":    0.625,
			"us-west-2":    0.625,
			"eu-west-1":    0.7063,
			"eu-west-2":    0.7350,
			"eu-west-3":    0.7350,
			"eu-central-1": 0.7625,
		},
	}
}

// LoadPriceTable loads a price table from a JSON file.
func LoadPriceTable(path string) (PriceTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PriceTable{}, fmt.Errorf("read price table: %w", err)
	}

	var pt PriceTable
	if err := json.Unmarshal(data, &pt); err != nil {
		return PriceTable{}, fmt.Errorf("parse price table: %w", err)
	}

	return pt, nil
}

// SavePriceTable saves a price table to a JSON file.
func SavePriceTable(path string, pt PriceTable) error {
	data, err := json.MarshalIndent(pt, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal price table: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write price table: %w", err)
	}

	return nil
}

// Usage is the write volume of one dataset.
type Usage struct {
	Dataset    string
	WriteUnits int64
}

// CostResult contains the estimated write cost.
type CostResult struct {
	// TotalMicrodollars is the total cost in microdollars (1 USD = 1,000,000 microdollars).
	TotalMicrodollars uint64
	// PerDatasetMicrodollars maps dataset names to their cost in microdollars.
	PerDatasetMicrodollars map[string]uint64
}

// TotalDollars returns the total cost in dollars.
func (r CostResult) TotalDollars() float64 {
	return float64(r.TotalMicrodollars) / 1_000_000
}

// ComputeWriteCost prices usage in region. A region missing from pt costs
// nothing and ok is false.
func ComputeWriteCost(usage []Usage, region string, pt PriceTable) (result CostResult, ok bool) {
	result.PerDatasetMicrodollars = make(map[string]uint64, len(usage))

	price, ok := pt.WritePerMillion[region]
	if !ok {
		return result, false
	}

	for _, u := range usage {
		if u.WriteUnits <= 0 {
			continue
		}
		// USD per million units is microdollars per unit.
		microdollars := uint64(math.Round(float64(u.WriteUnits) * price))
		result.PerDatasetMicrodollars[u.Dataset] += microdollars
		result.TotalMicrodollars += microdollars
	}

	return result, true
}

// FormatCost formats a cost in microdollars as a human-readable string.
func FormatCost(microdollars uint64) string {
	dollars := float64(microdollars) / 1_000_000

	switch {
	case dollars < 0.01:
		return fmt.Sprintf("$%.6f", dollars)
	case dollars < 1:
		return fmt.Sprintf("$%.4f", dollars)
	case dollars < 100:
		return fmt.Sprintf("$%.2f", dollars)
	default:
		return fmt.Sprintf("$%.0f", dollars)
	}
}
