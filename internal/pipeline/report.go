package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
)

// Outcome labels of a partition report.
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// PartitionError is the failure of one processing partition. Partitions that
// completed before it, in this run or earlier ones, are not affected.
type PartitionError struct {
	Dataset domain.Dataset
	Year    int
	Step    Step
	Kind    domain.ErrorKind
	Err     error
}

// Key returns the processing partition key, e.g. "silver/year=2023".
func (e *PartitionError) Key() string {
	return partitionKey(e.Dataset, e.Year)
}

func (e *PartitionError) Error() string {
	return fmt.Sprintf("%s: %s failed (%s): %v", e.Key(), e.Step, e.Kind, e.Err)
}

func (e *PartitionError) Unwrap() error { return e.Err }

// PartitionReport describes what happened to one processing partition.
type PartitionReport struct {
	Dataset    domain.Dataset   `json:"dataset"`
	Year       int              `json:"year"`
	Key        string           `json:"key"`
	Outcome    string           `json:"outcome"`
	Reason     string           `json:"reason,omitempty"`
	Step       Step             `json:"step,omitempty"`
	Kind       domain.ErrorKind `json:"kind,omitempty"`
	Error      string           `json:"error,omitempty"`
	Partitions []string         `json:"partitions,omitempty"`
	RecordsIn  int              `json:"records_in"`
	RecordsOut int              `json:"records_out"`
	Duration   time.Duration    `json:"duration_ns"`

	Silver *domain.TransformStats `json:"silver_stats,omitempty"`
	Gold   *domain.AggregateStats `json:"gold_stats,omitempty"`

	err *PartitionError
}

// Err returns the partition failure, or nil.
func (r PartitionReport) Err() error {
	if r.err == nil {
		return nil
	}
	return r.err
}

// RunReport collects the partition reports of one run.
type RunReport struct {
	RunID      string            `json:"run_id"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Partitions []PartitionReport `json:"partitions"`
}

// Failed returns the reports of failed partitions.
func (r RunReport) Failed() []PartitionReport {
	var failed []PartitionReport
	for _, p := range r.Partitions {
		if p.Outcome == OutcomeFailed {
			failed = append(failed, p)
		}
	}
	return failed
}

// Err joins the failures of the run, or returns nil when every partition
// succeeded or was skipped.
func (r RunReport) Err() error {
	var errs []error
	for _, p := range r.Failed() {
		errs = append(errs, p.Err())
	}
	return errors.Join(errs...)
}

func partitionKey(ds domain.Dataset, year int) string {
	return fmt.Sprintf("%s/year=%04d", ds, year)
}
