// Package delta filters archived records down to the ones the store lacks.
package delta

import (
	"github.com/eunmann/mobility-sync/pkg/dataset"
	"github.com/eunmann/mobility-sync/pkg/record"
)

// KeySet is the read side of an inventory.
type KeySet interface {
	Contains(key string) bool
}

// Result is the outcome of resolving one batch.
type Result struct {
	// New holds the records to write, in input order.
	New []record.Record
	// Keys holds the key of each New record at the same index.
	Keys []string
	// Duplicates counts records whose key is already stored.
	Duplicates int
	// NoKey counts records without a usable key.
	NoKey int
}

// Resolve returns the records of batch whose key is absent from inv.
//
// Identifier datasets are filtered record by record. A key repeated inside
// the same batch is not deduplicated; upstream feeds emit one record per
// identifier per snapshot.
//
// Partition datasets are not filtered against inv: the caller skips whole
// partitions already stored, so every record of a pending partition is new.
// Records without a parsable capture date count as NoKey.
func Resolve(batch []record.Record, inv KeySet, ds dataset.Dataset) Result {
	var res Result
	for _, r := range batch {
		key, ok := ds.Key(r)
		if !ok {
			res.NoKey++
			continue
		}
		if ds.Mode == dataset.KeyIdentifier && inv.Contains(key) {
			res.Duplicates++
			continue
		}
		res.New = append(res.New, r)
		res.Keys = append(res.Keys, key)
	}
	return res
}
