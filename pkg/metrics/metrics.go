// Package metrics exports sync run reports as Prometheus gauges.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/eunmann/mobility-sync/pkg/ingest"
)

const (
	namespace = "mobsync"
	subsystem = "run"
)

// Job is the Pushgateway job name.
const Job = "mobsync"

var labels = []string{"dataset"}

func gauge(name, help string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// Recorder holds the gauges of the latest run per dataset.
type Recorder struct {
	registry *prometheus.Registry

	partitionsProcessed *prometheus.GaugeVec
	partitionsSkipped   *prometheus.GaugeVec
	partitionsFailed    *prometheus.GaugeVec
	recordsInserted     *prometheus.GaugeVec
	recordsSkipped      *prometheus.GaugeVec
	objectsFailed       *prometheus.GaugeVec
	recordsUndecodable  *prometheus.GaugeVec
	writeUnits          *prometheus.GaugeVec
	duration            *prometheus.GaugeVec
	success             *prometheus.GaugeVec
	lastSuccess         *prometheus.GaugeVec
}

// NewRecorder returns a recorder with its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry:            prometheus.NewRegistry(),
		partitionsProcessed: gauge("partitions_processed", "Partitions fully ingested by the last run, per dataset"),
		partitionsSkipped:   gauge("partitions_skipped", "Partitions skipped as already stored or still open, per dataset"),
		partitionsFailed:    gauge("partitions_failed", "Partitions that failed in the last run, per dataset"),
		recordsInserted:     gauge("records_inserted", "Records written by the last run, per dataset"),
		recordsSkipped:      gauge("records_skipped", "Records skipped as duplicates or without key, per dataset"),
		objectsFailed:       gauge("objects_failed", "Archive objects that could not be read, per dataset"),
		recordsUndecodable:  gauge("records_undecodable", "Malformed records dropped, per dataset"),
		writeUnits:          gauge("write_units", "DynamoDB write request units consumed, per dataset"),
		duration:            gauge("duration_seconds", "Wall time of the last run, per dataset"),
		success:             gauge("success", "1 if the last run completed without run-level error, per dataset"),
		lastSuccess:         gauge("last_success_timestamp_seconds", "Unix time of the last successful run, per dataset"),
	}
	r.registry.MustRegister(
		r.partitionsProcessed, r.partitionsSkipped, r.partitionsFailed,
		r.recordsInserted, r.recordsSkipped, r.objectsFailed, r.recordsUndecodable,
		r.writeUnits, r.duration, r.success, r.lastSuccess,
	)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Observe sets the gauges from a run report.
func (r *Recorder) Observe(rep *ingest.Report) {
	ds := rep.Dataset
	r.partitionsProcessed.WithLabelValues(ds).Set(float64(rep.PartitionsProcessed))
	r.partitionsSkipped.WithLabelValues(ds).Set(float64(rep.PartitionsSkipped))
	r.partitionsFailed.WithLabelValues(ds).Set(float64(rep.PartitionsFailed))
	r.recordsInserted.WithLabelValues(ds).Set(float64(rep.RecordsInserted))
	r.recordsSkipped.WithLabelValues(ds).Set(float64(rep.RecordsSkipped))
	r.objectsFailed.WithLabelValues(ds).Set(float64(rep.ObjectsFailed))
	r.recordsUndecodable.WithLabelValues(ds).Set(float64(rep.RecordsUndecodable))
	r.writeUnits.WithLabelValues(ds).Set(float64(rep.WriteUnits))
	r.duration.WithLabelValues(ds).Set(rep.Duration.Seconds())

	if rep.Error != "" {
		r.success.WithLabelValues(ds).Set(0)
		return
	}
	r.success.WithLabelValues(ds).Set(1)
	r.lastSuccess.WithLabelValues(ds).Set(float64(rep.Started.Add(rep.Duration).Unix()))
}

// Push sends every gauge to the Pushgateway at url, replacing the job's
// previous metrics.
func (r *Recorder) Push(ctx context.Context, url string) error {
	if err := push.New(url, Job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
