// Package inventory holds the set of natural keys already stored in a
// destination table.
package inventory

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/relab/bbhash"

	"github.com/eunmann/mobility-sync/internal/logctx"
)

// Scanner pages through a table's items, reading only fields.
type Scanner interface {
	Scan(ctx context.Context, fields []string, fn func(items []map[string]any) error) error
}

// KeyFunc extracts the key of a stored item.
type KeyFunc func(item map[string]any) (string, bool)

// BuildError reports a scan that could not complete.
type BuildError struct {
	Scanned int
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build inventory after %d items: %v", e.Scanned, e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// Inventory is the key space observed at run start plus keys committed
// since. The scanned keys are frozen into a minimal perfect hash over their
// 64-bit hashes; each slot stores the exact key so lookups never report a
// false positive. Keys added later live in an overlay map.
type Inventory struct {
	mu sync.RWMutex

	mph      *bbhash.BBHash2
	slots    []string
	overflow map[string]struct{}
	hash     func(string) uint64

	overlay map[string]struct{}
}

// New returns an inventory whose base set is keys.
func New(keys []string) (*Inventory, error) {
	return freeze(keys, hashString)
}

// Build scans the table once and freezes the keys it finds. Items for which
// extract reports no key are ignored.
func Build(ctx context.Context, scanner Scanner, projection []string, extract KeyFunc) (*Inventory, error) {
	start := time.Now()
	var keys []string
	scanned := 0

	err := scanner.Scan(ctx, projection, func(items []map[string]any) error {
		scanned += len(items)
		for _, item := range items {
			if key, ok := extract(item); ok {
				keys = append(keys, key)
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return nil, &BuildError{Scanned: scanned, Err: err}
	}

	inv, err := New(keys)
	if err != nil {
		return nil, &BuildError{Scanned: scanned, Err: err}
	}

	log := logctx.FromContext(ctx)
	log.Debug().
		Int("items_scanned", scanned).
		Int("keys", inv.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("inventory built")
	return inv, nil
}

func freeze(keys []string, hash func(string) uint64) (*Inventory, error) {
	inv := &Inventory{
		hash:     hash,
		overflow: make(map[string]struct{}),
		overlay:  make(map[string]struct{}),
	}

	byHash := make(map[uint64]string, len(keys))
	hashes := make([]uint64, 0, len(keys))
	for _, k := range keys {
		h := hash(k)
		prev, seen := byHash[h]
		switch {
		case !seen:
			byHash[h] = k
			hashes = append(hashes, h)
		case prev != k:
			inv.overflow[k] = struct{}{}
		}
	}
	if len(hashes) == 0 {
		return inv, nil
	}

	mph, err := bbhash.New(hashes, bbhash.Gamma(2.0))
	if err != nil {
		return nil, fmt.Errorf("build key index: %w", err)
	}

	// Find is 1-indexed.
	inv.slots = make([]string, len(hashes))
	for _, h := range hashes {
		pos := mph.Find(h)
		if pos == 0 {
			return nil, fmt.Errorf("key index lookup failed for %q", byHash[h])
		}
		inv.slots[pos-1] = byHash[h]
	}
	inv.mph = mph
	return inv, nil
}

// Contains reports whether key was stored at run start or added since.
func (inv *Inventory) Contains(key string) bool {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return inv.containsLocked(key)
}

func (inv *Inventory) containsLocked(key string) bool {
	if _, ok := inv.overlay[key]; ok {
		return true
	}
	if _, ok := inv.overflow[key]; ok {
		return true
	}
	if inv.mph == nil {
		return false
	}
	pos := inv.mph.Find(inv.hash(key))
	if pos == 0 || pos > uint64(len(inv.slots)) {
		return false
	}
	return inv.slots[pos-1] == key
}

// Add records keys committed during the run.
func (inv *Inventory) Add(keys ...string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, k := range keys {
		if !inv.containsLocked(k) {
			inv.overlay[k] = struct{}{}
		}
	}
}

// Len returns the number of distinct keys.
func (inv *Inventory) Len() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.slots) + len(inv.overflow) + len(inv.overlay)
}

// Added returns the number of keys added since the scan.
func (inv *Inventory) Added() int {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	return len(inv.overlay)
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
