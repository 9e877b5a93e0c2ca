package ingest

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/eunmann/mobility-sync/pkg/logging"
)

// PartitionStatus is the outcome of one partition.
type PartitionStatus string

const (
	StatusIngested  PartitionStatus = "ingested"
	StatusFailed    PartitionStatus = "failed"
	StatusSkipped   PartitionStatus = "skipped"
	StatusDeferred  PartitionStatus = "deferred"
	StatusCancelled PartitionStatus = "cancelled"
)

// PartitionReport counts what happened to one partition.
type PartitionReport struct {
	Partition         string          `json:"partition"`
	Status            PartitionStatus `json:"status"`
	ObjectsListed     int             `json:"objects_listed"`
	ObjectsFailed     int             `json:"objects_failed"`
	Inserted          int             `json:"inserted"`
	SkippedDuplicates int             `json:"skipped_duplicates"`
	SkippedNoKey      int             `json:"skipped_no_key"`
	Undecodable       int             `json:"undecodable"`
	WriteUnits        int             `json:"write_units"`
	Duration          time.Duration   `json:"duration"`
	Error             string          `json:"error,omitempty"`
	// PartialWrite is set when a chunk failed with items left unwritten.
	PartialWrite bool `json:"partial_write,omitempty"`

	err error
}

// Err returns the partition failure, if any.
func (p *PartitionReport) Err() error {
	return p.err
}

func (p *PartitionReport) fail(err error) {
	p.Status = StatusFailed
	p.err = err
	p.Error = err.Error()
}

// Report is the outcome of one run.
type Report struct {
	RunID    string        `json:"run_id"`
	Dataset  string        `json:"dataset"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Message  string        `json:"message,omitempty"`

	PartitionsProcessed int `json:"partitions_processed"`
	PartitionsSkipped   int `json:"partitions_skipped"`
	PartitionsFailed    int `json:"partitions_failed"`
	PartitionsCancelled int `json:"partitions_cancelled"`
	RecordsInserted     int `json:"records_inserted"`
	RecordsSkipped      int `json:"records_skipped"`
	ObjectsFailed       int `json:"objects_failed"`
	RecordsUndecodable  int `json:"records_undecodable"`
	WriteUnits          int `json:"write_units"`
	// KeysAdded counts distinct keys committed by this run.
	KeysAdded int `json:"keys_added"`

	// Processed lists partitions fully ingested by this run.
	Processed []string `json:"processed"`
	// Missing lists partitions pending at run start.
	Missing []string `json:"missing"`

	Partitions []PartitionReport `json:"partitions"`
	Error      string            `json:"error,omitempty"`
}

// NothingToDo is the report message for an archive with no partitions.
const NothingToDo = "nothing to do"

func (r *Report) add(p PartitionReport) {
	r.Partitions = append(r.Partitions, p)
	r.RecordsInserted += p.Inserted
	r.RecordsSkipped += p.SkippedDuplicates + p.SkippedNoKey
	r.ObjectsFailed += p.ObjectsFailed
	r.RecordsUndecodable += p.Undecodable
	r.WriteUnits += p.WriteUnits

	switch p.Status {
	case StatusIngested:
		r.PartitionsProcessed++
		r.Processed = append(r.Processed, p.Partition)
	case StatusFailed:
		r.PartitionsFailed++
	case StatusSkipped, StatusDeferred:
		r.PartitionsSkipped++
	case StatusCancelled:
		r.PartitionsCancelled++
	}
}

// Log emits the run_completed event.
func (r *Report) Log(log zerolog.Logger) {
	ev := logging.RunComplete(log, "sync", r.Duration).
		Str("dataset", r.Dataset).
		Count("partitions_processed", int64(r.PartitionsProcessed)).
		Count("partitions_skipped", int64(r.PartitionsSkipped)).
		Count("partitions_failed", int64(r.PartitionsFailed)).
		Count("records_inserted", int64(r.RecordsInserted)).
		Count("records_skipped", int64(r.RecordsSkipped)).
		Count("objects_failed", int64(r.ObjectsFailed)).
		Count("records_undecodable", int64(r.RecordsUndecodable)).
		Count("write_units", int64(r.WriteUnits)).
		Count("keys_added", int64(r.KeysAdded)).
		Rate("records_per_sec", int64(r.RecordsInserted)).
		Strs("processed", r.Processed)
	if r.PartitionsCancelled > 0 {
		ev = ev.Count("partitions_cancelled", int64(r.PartitionsCancelled))
	}
	if r.Error != "" {
		ev = ev.Str("error", r.Error)
	}
	msg := "sync finished"
	if r.Message != "" {
		msg = r.Message
	}
	ev.Log(msg)
}
