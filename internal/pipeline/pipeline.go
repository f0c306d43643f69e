package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"

	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
	"github.com/couchcryptid/inmet-climate-etl/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"
)

// BronzeReader supplies the raw rows of one archive year.
type BronzeReader interface {
	ReadBronze(ctx context.Context, year int) (domain.BronzePartition, error)
}

// SilverReader supplies published Silver records. Both methods fail with
// domain.ErrNoInput when nothing was published.
type SilverReader interface {
	ReadSilver(ctx context.Context, year int) ([]domain.CleanObservationRecord, error)
	ReadSilverMonth(ctx context.Context, key domain.SilverPartitionKey) ([]domain.CleanObservationRecord, error)
}

// DatasetWriter publishes the partitions of one processing year atomically:
// either every partition of the year becomes visible or none does.
type DatasetWriter interface {
	WriteSilver(ctx context.Context, year int, parts []domain.SilverPartition) error
	WriteGold(ctx context.Context, year int, parts []domain.GoldPartition) error
}

// Lake is the storage collaborator of the runner.
type Lake interface {
	SilverReader
	DatasetWriter
}

// Notifier announces published partitions.
type Notifier interface {
	Notify(ctx context.Context, n domain.PartitionNotice) error
}

// Checkpoints remembers the input fingerprint of each published partition.
// Fingerprint returns "" when nothing was recorded.
type Checkpoints interface {
	Fingerprint(ctx context.Context, key string) (string, error)
	Record(ctx context.Context, key, fingerprint string) error
}

// Options selects what a run does.
type Options struct {
	Stages        []domain.Dataset
	Workers       int
	SkipUnchanged bool
}

// Runner processes years partition-parallel. Each year runs its stages as a
// sequential chain; a failing year is reported and the others carry on.
type Runner struct {
	bronze      BronzeReader
	lake        Lake
	silver      *domain.SilverTransformer
	gold        *domain.Aggregator
	notifier    Notifier
	checkpoints Checkpoints
	logger      *slog.Logger
	metrics     *observability.Metrics
	clock       clockwork.Clock
	opts        Options

	ready atomic.Bool
	last  atomic.Pointer[RunReport]
}

// New creates a Runner with the given collaborators and observability.
func New(bronze BronzeReader, lake Lake, silver *domain.SilverTransformer, gold *domain.Aggregator, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Runner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Runner{
		bronze:  bronze,
		lake:    lake,
		silver:  silver,
		gold:    gold,
		logger:  logger,
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
		opts:    opts,
	}
}

// WithNotifier sets the notifier used after each publication.
func (r *Runner) WithNotifier(n Notifier) *Runner {
	r.notifier = n
	return r
}

// WithCheckpoints sets the store consulted when skipping unchanged input.
func (r *Runner) WithCheckpoints(c Checkpoints) *Runner {
	r.checkpoints = c
	return r
}

// WithClock replaces the clock used for run IDs and durations.
func (r *Runner) WithClock(c clockwork.Clock) *Runner {
	r.clock = c
	return r
}

// CheckReadiness returns nil once a run has completed, or an error describing
// why the service is not yet ready.
func (r *Runner) CheckReadiness(_ context.Context) error {
	if !r.ready.Load() {
		return errors.New("no run has completed yet")
	}
	return nil
}

// LastReport returns the report of the most recent completed run.
func (r *Runner) LastReport() (RunReport, bool) {
	rep := r.last.Load()
	if rep == nil {
		return RunReport{}, false
	}
	return *rep, true
}

// Run processes the given years. The returned error joins the partition
// failures; the report is complete either way.
func (r *Runner) Run(ctx context.Context, years []int) (RunReport, error) {
	start := r.clock.Now()
	report := RunReport{
		RunID:     ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String(),
		StartedAt: start.UTC(),
	}

	r.logger.Info("run started",
		"run_id", report.RunID,
		"years", years,
		"stages", r.opts.Stages,
		"workers", r.opts.Workers,
	)
	r.metrics.RunRunning.Set(1)
	defer r.metrics.RunRunning.Set(0)

	years = uniqueYears(years)
	barrier := r.newSilverBarrier(years)

	// Later years first: Gold of a year waits for Silver of the next one,
	// which must therefore already hold a worker or be done.
	order := make([]int, len(years))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return years[order[a]] > years[order[b]] })

	results := make([][]PartitionReport, len(years))
	var g errgroup.Group
	g.SetLimit(r.opts.Workers)
	for _, i := range order {
		g.Go(func() error {
			results[i] = r.processYear(ctx, report.RunID, years[i], barrier)
			return nil
		})
	}
	_ = g.Wait() // partition failures are values in results

	for _, reps := range results {
		report.Partitions = append(report.Partitions, reps...)
	}
	report.FinishedAt = r.clock.Now().UTC()

	r.last.Store(&report)
	r.ready.Store(true)

	err := report.Err()
	r.logger.Info("run finished",
		"run_id", report.RunID,
		"partitions", len(report.Partitions),
		"failed", len(report.Failed()),
		"duration", report.FinishedAt.Sub(report.StartedAt),
	)
	return report, err
}

func (r *Runner) runs(ds domain.Dataset) bool {
	for _, s := range r.opts.Stages {
		if s == ds {
			return true
		}
	}
	return false
}

// processYear chains the selected stages of one year. Gold uses the records
// Silver just produced; when Silver did not run or was skipped, it reads the
// published Silver partition instead.
func (r *Runner) processYear(ctx context.Context, runID string, year int, barrier silverBarrier) []PartitionReport {
	var reports []PartitionReport
	var fresh []domain.CleanObservationRecord
	haveFresh := false

	if r.runs(domain.DatasetSilver) {
		rep, records := r.runSilver(ctx, runID, year)
		barrier.done(year)
		reports = append(reports, rep)
		if rep.Outcome == OutcomeFailed {
			if r.runs(domain.DatasetGold) {
				reports = append(reports, r.skip(domain.DatasetGold, year, "silver_failed"))
			}
			return reports
		}
		fresh, haveFresh = records, rep.Outcome == OutcomeSuccess
	}

	if r.runs(domain.DatasetGold) {
		barrier.wait(ctx, year+1)
		reports = append(reports, r.runGold(ctx, runID, year, fresh, haveFresh))
	}
	return reports
}

// silverBarrier signals when the Silver stage of each year of a run has
// settled, whatever its outcome. Gold of a year reads the next year's
// January, where its last local hours are stored.
type silverBarrier map[int]chan struct{}

func (r *Runner) newSilverBarrier(years []int) silverBarrier {
	b := make(silverBarrier)
	if !r.runs(domain.DatasetSilver) || !r.runs(domain.DatasetGold) {
		return b
	}
	for _, y := range years {
		b[y] = make(chan struct{})
	}
	return b
}

// done must be called once per year.
func (b silverBarrier) done(year int) {
	if ch, ok := b[year]; ok {
		close(ch)
	}
}

// wait returns once Silver of year has settled, at once when year is not
// part of the run.
func (b silverBarrier) wait(ctx context.Context, year int) {
	ch, ok := b[year]
	if !ok {
		return
	}
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func uniqueYears(years []int) []int {
	seen := make(map[int]bool, len(years))
	out := make([]int, 0, len(years))
	for _, y := range years {
		if !seen[y] {
			seen[y] = true
			out = append(out, y)
		}
	}
	return out
}

func newReport(ds domain.Dataset, year int) PartitionReport {
	return PartitionReport{Dataset: ds, Year: year, Key: partitionKey(ds, year)}
}

func (r *Runner) skip(ds domain.Dataset, year int, reason string) PartitionReport {
	rep := newReport(ds, year)
	rep.Outcome, rep.Reason = OutcomeSkipped, reason
	r.finish(rep)
	return rep
}

// fail turns a step error into the partition's report. Missing input is a
// skip, not a failure.
func (r *Runner) fail(rep PartitionReport, step Step, err error) PartitionReport {
	kind := domain.KindOf(err)
	if kind == domain.KindNoInput {
		rep.Outcome, rep.Reason = OutcomeSkipped, string(kind)
		return rep
	}
	if kind == domain.KindInternal {
		switch step {
		case StepRead:
			kind = domain.KindReadFailed
		case StepWrite:
			kind = domain.KindWriteFailed
		}
	}

	rep.Outcome = OutcomeFailed
	rep.Step = step
	rep.Kind = kind
	rep.Error = err.Error()
	rep.err = &PartitionError{Dataset: rep.Dataset, Year: rep.Year, Step: step, Kind: kind, Err: err}
	return rep
}

// unchanged reports whether fingerprint matches the recorded one. Checkpoint
// errors count as changed so the partition is rebuilt.
func (r *Runner) unchanged(ctx context.Context, key, fingerprint string) bool {
	if !r.opts.SkipUnchanged || r.checkpoints == nil {
		return false
	}
	prev, err := r.checkpoints.Fingerprint(ctx, key)
	if err != nil {
		r.logger.Warn("checkpoint lookup failed", "key", key, "error", err)
		return false
	}
	return prev != "" && prev == fingerprint
}

func (r *Runner) record(ctx context.Context, key, fingerprint string) {
	if r.checkpoints == nil {
		return
	}
	if err := r.checkpoints.Record(ctx, key, fingerprint); err != nil {
		r.logger.Warn("checkpoint record failed", "key", key, "error", err)
	}
}

// notify is best effort: the partition is already published.
func (r *Runner) notify(ctx context.Context, n domain.PartitionNotice) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.metrics.Notices.WithLabelValues(string(n.Dataset), "error").Inc()
		r.logger.Warn("publication notice failed", "key", n.Key(), "error", err)
		return
	}
	r.metrics.Notices.WithLabelValues(string(n.Dataset), "success").Inc()
}

// finish logs the report and updates metrics.
func (r *Runner) finish(rep PartitionReport) {
	stage := string(rep.Dataset)
	r.metrics.Partitions.WithLabelValues(stage, rep.Outcome).Inc()
	r.metrics.PartitionDuration.WithLabelValues(stage).Observe(rep.Duration.Seconds())

	logger := r.logger.With("stage", stage, "year", rep.Year)
	switch rep.Outcome {
	case OutcomeFailed:
		logger.Error("partition failed",
			"step", rep.Step,
			"kind", rep.Kind,
			"error", rep.Error,
		)
		return
	case OutcomeSkipped:
		logger.Info("partition skipped", "reason", rep.Reason)
		return
	}

	r.metrics.RecordsRead.WithLabelValues(stage).Add(float64(rep.RecordsIn))
	r.metrics.RecordsWritten.WithLabelValues(stage).Add(float64(rep.RecordsOut))

	if s := rep.Silver; s != nil {
		for field, byReason := range s.Nulls {
			for reason, n := range byReason {
				r.metrics.CoercionNulls.WithLabelValues(string(field), string(reason)).Add(float64(n))
			}
		}
		r.metrics.DroppedRecords.WithLabelValues("timestamp").Add(float64(s.DroppedTimestamp))
		r.metrics.DroppedRecords.WithLabelValues("identity").Add(float64(s.DroppedIdentity))
		r.metrics.DroppedRecords.WithLabelValues("out_of_partition").Add(float64(s.OutOfPartition))
		r.metrics.DuplicatesRemoved.Add(float64(s.Duplicates))
	}
	if g := rep.Gold; g != nil {
		r.metrics.DroppedRecords.WithLabelValues("out_of_window").Add(float64(g.OutOfWindow))
	}

	logger.Info("partition published",
		"records_in", rep.RecordsIn,
		"records_out", rep.RecordsOut,
		"partitions", len(rep.Partitions),
		"duration", rep.Duration,
	)
}
