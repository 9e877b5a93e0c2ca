package cli

import (
	"context"

	"github.com/eunmann/mobility-sync/pkg/archive"
	"github.com/eunmann/mobility-sync/pkg/retry"
)

func listPartitions(h *harness, prefix string) ([]string, error) {
	r := archive.NewReader(h.s3, "lyon-s3-raw-dev", retry.Config{MaxAttempts: 1})
	return r.ListPartitions(context.Background(), prefix)
}
