package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestProgressTracker_BasicOperations(t *testing.T) {
	pt := NewProgressTracker(10)

	pt.RecordCompletion(100 * time.Millisecond)
	pt.RecordCompletion(150 * time.Millisecond)
	pt.RecordSkip()

	completed, skipped, total := pt.Progress()
	if completed != 2 {
		t.Errorf("completed = %d, want 2", completed)
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
	if total != 10 {
		t.Errorf("total = %d, want 10", total)
	}
	if remaining := pt.Remaining(); remaining != 7 {
		t.Errorf("Remaining() = %d, want 7", remaining)
	}
}

func TestProgressTracker_ETA(t *testing.T) {
	pt := NewProgressTracker(10)
	if eta := pt.ETA(); eta != 0 {
		t.Errorf("ETA() before any completion = %v, want 0", eta)
	}

	pt.RecordCompletion(100 * time.Millisecond)
	pt.RecordCompletion(100 * time.Millisecond)

	// 8 remaining at 100ms each.
	if eta := pt.ETA(); eta != 800*time.Millisecond {
		t.Errorf("ETA() = %v, want 800ms", eta)
	}
}

func TestCompletionEvent_Log(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	PartitionComplete(log, "sync", 2*time.Second).
		Str("partition", "2025-01-01").
		Count("inserted", 6).
		Rate("inserted_per_sec", 6).
		Log("partition done")

	out := buf.String()
	for _, want := range []string{
		`"event":"partition_completed"`,
		`"phase":"sync"`,
		`"duration_ms":2000`,
		`"partition":"2025-01-01"`,
		`"inserted":6`,
		`"inserted_per_sec":3`,
		`"level":"info"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}

func TestCompletionEvent_ErrRaisesLevel(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	RunComplete(log, "sync", time.Second).Err(errors.New("boom")).Log("run done")

	out := buf.String()
	if !strings.Contains(out, `"level":"warn"`) {
		t.Errorf("expected warn level, got %s", out)
	}
	if !strings.Contains(out, `"error":"boom"`) {
		t.Errorf("expected error field, got %s", out)
	}
}

func TestCompletionEvent_ProgressKeepsEventCounts(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	pt := NewProgressTracker(4)
	pt.RecordCompletion(time.Second)

	PartitionComplete(log, "sync", time.Second).
		Count("skipped", 2).
		Progress(pt).
		Log("partition done")

	out := buf.String()
	for _, want := range []string{
		`"skipped":2`,
		`"progress_completed":1`,
		`"progress_skipped":0`,
		`"progress_total":4`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %s", want, out)
		}
	}
}
