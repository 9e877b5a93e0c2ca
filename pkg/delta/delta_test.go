package delta

import (
	"testing"

	"github.com/eunmann/mobility-sync/pkg/dataset"
	"github.com/eunmann/mobility-sync/pkg/record"
)

type keySet map[string]bool

func (k keySet) Contains(key string) bool { return k[key] }

func TestResolve_Identifier(t *testing.T) {
	batch := []record.Record{
		{"gid": 1.0, "titre": "a"},
		{"gid": 2.0, "titre": "b"},
		{"gid": "3", "titre": "c"},
		{"titre": "no gid"},
		{"gid": 4.5},
	}
	inv := keySet{"2": true}

	res := Resolve(batch, inv, dataset.Perturbations())

	if len(res.New) != 2 || res.Duplicates != 1 || res.NoKey != 2 {
		t.Fatalf("Resolve = new %d dup %d nokey %d, want 2/1/2", len(res.New), res.Duplicates, res.NoKey)
	}
	wantKeys := []string{"1", "3"}
	for i, k := range wantKeys {
		if res.Keys[i] != k {
			t.Errorf("Keys[%d] = %q, want %q", i, res.Keys[i], k)
		}
	}
	if res.New[0]["titre"] != "a" || res.New[1]["titre"] != "c" {
		t.Errorf("order not preserved: %v", res.New)
	}
}

func TestResolve_NoDuplicatesAgainstInventory(t *testing.T) {
	batch := []record.Record{{"idparking": "LPA0740"}, {"idparking": "LPA0741"}}
	inv := keySet{"LPA0740": true, "LPA0741": true}

	res := Resolve(batch, inv, dataset.Parkings())
	if len(res.New) != 0 || res.Duplicates != 2 {
		t.Errorf("Resolve = new %d dup %d, want 0/2", len(res.New), res.Duplicates)
	}
}

func TestResolve_WithinBatchRepeatsKept(t *testing.T) {
	batch := []record.Record{{"gid": 7.0, "v": 1.0}, {"gid": 7.0, "v": 2.0}}

	res := Resolve(batch, keySet{}, dataset.Perturbations())
	if len(res.New) != 2 {
		t.Errorf("within-batch repeats: got %d new, want 2", len(res.New))
	}
}

func TestResolve_Partition(t *testing.T) {
	batch := []record.Record{
		{"timestamp_capture": "2024-05-01T08:00:00", "libelle": "A"},
		{"timestamp_capture": "2024-05-01T08:00:00", "libelle": "A"},
		{"timestamp_capture": "not a date"},
		{"libelle": "no capture"},
	}
	// A stored date does not filter records; the partition gate is upstream.
	inv := keySet{"2024-05-01": true}

	res := Resolve(batch, inv, dataset.Traffic())
	if len(res.New) != 2 || res.NoKey != 2 || res.Duplicates != 0 {
		t.Fatalf("Resolve = new %d dup %d nokey %d, want 2/0/2", len(res.New), res.Duplicates, res.NoKey)
	}
	for _, k := range res.Keys {
		if k != "2024-05-01" {
			t.Errorf("key = %q, want capture date", k)
		}
	}
}
