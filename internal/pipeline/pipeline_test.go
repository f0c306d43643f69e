package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"cloud.google.com/go/civil"
	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
	"github.com/couchcryptid/inmet-climate-etl/internal/observability"
	"github.com/couchcryptid/inmet-climate-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockBronze struct {
	partitions map[int]domain.BronzePartition
	errs       map[int]error
}

func (m *mockBronze) ReadBronze(_ context.Context, year int) (domain.BronzePartition, error) {
	if err := m.errs[year]; err != nil {
		return domain.BronzePartition{}, err
	}
	p, ok := m.partitions[year]
	if !ok {
		return domain.BronzePartition{}, fmt.Errorf("year %d: %w", year, domain.ErrNoInput)
	}
	return p, nil
}

type mockLake struct {
	mu          sync.Mutex
	silver      map[int][]domain.SilverPartition
	gold        map[int][]domain.GoldPartition
	writeErr    error
	silverReads int
	monthReads  int
}

func newMockLake() *mockLake {
	return &mockLake{
		silver: make(map[int][]domain.SilverPartition),
		gold:   make(map[int][]domain.GoldPartition),
	}
}

func (m *mockLake) ReadSilver(_ context.Context, year int) ([]domain.CleanObservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.silverReads++
	parts, ok := m.silver[year]
	if !ok {
		return nil, fmt.Errorf("silver year %d: %w", year, domain.ErrNoInput)
	}
	// Month-major order, as a partitioned store returns it.
	var out []domain.CleanObservationRecord
	for _, p := range parts {
		out = append(out, p.Records...)
	}
	return out, nil
}

func (m *mockLake) ReadSilverMonth(_ context.Context, key domain.SilverPartitionKey) ([]domain.CleanObservationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monthReads++
	for _, p := range m.silver[key.Year] {
		if p.Key == key {
			return p.Records, nil
		}
	}
	return nil, fmt.Errorf("silver %s: %w", key, domain.ErrNoInput)
}

func (m *mockLake) WriteSilver(_ context.Context, year int, parts []domain.SilverPartition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.silver[year] = parts
	return nil
}

func (m *mockLake) WriteGold(_ context.Context, year int, parts []domain.GoldPartition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writeErr != nil {
		return m.writeErr
	}
	m.gold[year] = parts
	return nil
}

type mockNotifier struct {
	mu      sync.Mutex
	notices []domain.PartitionNotice
	err     error
}

func (m *mockNotifier) Notify(_ context.Context, n domain.PartitionNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.notices = append(m.notices, n)
	return nil
}

func (m *mockNotifier) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.notices))
	for _, n := range m.notices {
		keys = append(keys, n.Key())
	}
	sort.Strings(keys)
	return keys
}

type mockCheckpoints struct {
	mu  sync.Mutex
	fps map[string]string
}

func (m *mockCheckpoints) Fingerprint(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps[key], nil
}

func (m *mockCheckpoints) Record(_ context.Context, key, fp string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fps == nil {
		m.fps = make(map[string]string)
	}
	m.fps[key] = fp
	return nil
}

// --- fixtures ---

var testHeader = []string{
	"Data",
	"Hora UTC",
	"PRECIPITAÇÃO TOTAL, HORÁRIO (mm)",
	"TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)",
	"UMIDADE RELATIVA DO AR, HORARIA (%)",
	"",
}

func bronzeYear(year int) domain.BronzePartition {
	file := fmt.Sprintf("INMET_NE_PB_A320_JOAO PESSOA_01-01-%d_A_31-12-%d.CSV", year, year)
	row := func(date, hour, precip, temp string) domain.RawObservationRecord {
		return domain.RawObservationRecord{
			StationID:  "A320",
			Municipio:  "JOÃO PESSOA",
			SourceFile: file,
			Values:     []string{date, hour, precip, temp, "80", ""},
		}
	}
	d := func(month, day int) string { return fmt.Sprintf("%04d/%02d/%02d", year, month, day) }
	return domain.BronzePartition{
		Year:   year,
		Header: testHeader,
		Records: []domain.RawObservationRecord{
			row(d(3, 10), "1200 UTC", "0,0", "24,0"),
			row(d(3, 10), "1500 UTC", "1,2", "30,0"),
			row(d(7, 1), "1200 UTC", "0,4", "22,5"),
			row(d(7, 1), "1200 UTC", "---", "22,5"), // duplicate with more nulls
		},
	}
}

// yearEndBronze returns Bronze 2022 and 2023 for one station whose last local
// day of 2022 spans both files: 2100-2300 local on Dec 31 are 0000-0200 UTC
// on Jan 1. Those three hours read hot.
func yearEndBronze() map[int]domain.BronzePartition {
	row := func(file string, ts time.Time, temp string) domain.RawObservationRecord {
		return domain.RawObservationRecord{
			StationID:  "A320",
			Municipio:  "JOÃO PESSOA",
			SourceFile: file,
			Values:     []string{ts.Format("2006/01/02"), ts.Format("1504") + " UTC", "0,0", temp, "80", ""},
		}
	}
	file2022 := "INMET_NE_PB_A320_JOAO PESSOA_01-01-2022_A_31-12-2022.CSV"
	file2023 := "INMET_NE_PB_A320_JOAO PESSOA_01-01-2023_A_31-12-2023.CSV"
	start := time.Date(2022, time.December, 31, 3, 0, 0, 0, time.UTC)

	var recs2022, recs2023 []domain.RawObservationRecord
	for h := range 24 {
		ts := start.Add(time.Duration(h) * time.Hour)
		if ts.Year() == 2022 {
			recs2022 = append(recs2022, row(file2022, ts, "20,0"))
			continue
		}
		recs2023 = append(recs2023, row(file2023, ts, "35,0"))
	}
	return map[int]domain.BronzePartition{
		2022: {Year: 2022, Header: testHeader, Records: recs2022},
		2023: {Year: 2023, Header: testHeader, Records: recs2023},
	}
}

func newTestMetrics() *observability.Metrics {
	// Use a fresh registry to avoid "already registered" panics in tests.
	return observability.NewMetricsForTesting()
}

func newRunner(t *testing.T, bronze pipeline.BronzeReader, lake pipeline.Lake, metrics *observability.Metrics, opts pipeline.Options) *pipeline.Runner {
	t.Helper()
	target, err := time.LoadLocation("America/Fortaleza")
	require.NoError(t, err)

	silver := domain.NewSilverTransformer(
		domain.NewSchemaNormalizer(domain.DefaultSchemaVersions()),
		domain.NewTypeCoercer(domain.DefaultSentinels()),
		time.UTC,
		target,
		nil,
	)
	if len(opts.Stages) == 0 {
		opts.Stages = []domain.Dataset{domain.DatasetSilver, domain.DatasetGold}
	}
	return pipeline.New(bronze, lake, silver, domain.NewAggregator(target), slog.Default(), metrics, opts).
		WithClock(clockwork.NewFakeClockAt(time.Date(2024, time.March, 1, 3, 0, 0, 0, time.UTC)))
}

func reportByKey(t *testing.T, rep pipeline.RunReport, key string) pipeline.PartitionReport {
	t.Helper()
	for _, p := range rep.Partitions {
		if p.Key == key {
			return p
		}
	}
	t.Fatalf("no partition report for %s", key)
	return pipeline.PartitionReport{}
}

// --- tests ---

func TestRunner_Run_HappyPath(t *testing.T) {
	bronze := &mockBronze{partitions: map[int]domain.BronzePartition{
		2022: bronzeYear(2022),
		2023: bronzeYear(2023),
	}}
	lake := newMockLake()
	notifier := &mockNotifier{}
	metrics := newTestMetrics()

	r := newRunner(t, bronze, lake, metrics, pipeline.Options{Workers: 2}).WithNotifier(notifier)

	rep, err := r.Run(context.Background(), []int{2022, 2023})
	require.NoError(t, err)
	assert.NotEmpty(t, rep.RunID)
	assert.Len(t, rep.Partitions, 4)
	assert.Empty(t, rep.Failed())

	silver := reportByKey(t, rep, "silver/year=2023")
	assert.Equal(t, pipeline.OutcomeSuccess, silver.Outcome)
	assert.Equal(t, 4, silver.RecordsIn)
	assert.Equal(t, 3, silver.RecordsOut)
	assert.Equal(t, []string{"year=2023/month=03", "year=2023/month=07"}, silver.Partitions)
	require.NotNil(t, silver.Silver)
	assert.Equal(t, 1, silver.Silver.Duplicates)

	gold := reportByKey(t, rep, "gold/year=2023")
	assert.Equal(t, pipeline.OutcomeSuccess, gold.Outcome)
	assert.Equal(t, 3, gold.RecordsIn)
	assert.Equal(t, []string{"year=2023/municipio=JOAO_PESSOA"}, gold.Partitions)

	require.Len(t, lake.gold[2023], 1)
	days := lake.gold[2023][0].Records
	require.NotEmpty(t, days)
	first := days[0]
	require.NotNil(t, first.TempMax)
	assert.InDelta(t, 30.0, *first.TempMax, 0.001)
	require.NotNil(t, first.PrecipitationTotal)
	assert.InDelta(t, 1.2, *first.PrecipitationTotal, 0.001)

	// Silver was handed over in memory.
	assert.Zero(t, lake.silverReads)

	want := []string{"gold/2022", "gold/2023", "silver/2022", "silver/2023"}
	if diff := cmp.Diff(want, notifier.keys()); diff != "" {
		t.Errorf("notices mismatch (-want +got):\n%s", diff)
	}

	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.Partitions.WithLabelValues("silver", pipeline.OutcomeSuccess)), 0)
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.DuplicatesRemoved), 0)
	assert.InDelta(t, 0.0, testutil.ToFloat64(metrics.RunRunning), 0)

	require.NoError(t, r.CheckReadiness(context.Background()))
	last, ok := r.LastReport()
	require.True(t, ok)
	assert.Equal(t, rep.RunID, last.RunID)
}

func TestRunner_NotReadyBeforeFirstRun(t *testing.T) {
	r := newRunner(t, &mockBronze{}, newMockLake(), newTestMetrics(), pipeline.Options{})
	require.Error(t, r.CheckReadiness(context.Background()))
	_, ok := r.LastReport()
	assert.False(t, ok)
}

func TestRunner_Run_FailedPartitionIsolated(t *testing.T) {
	bad := bronzeYear(2022)
	bad.Header = []string{"Data", "Hora UTC", "VENTO, RAJADA MAXIMA (m/s)"}
	bronze := &mockBronze{partitions: map[int]domain.BronzePartition{
		2022: bad,
		2023: bronzeYear(2023),
	}}
	lake := newMockLake()
	notifier := &mockNotifier{}

	r := newRunner(t, bronze, lake, newTestMetrics(), pipeline.Options{Workers: 2}).WithNotifier(notifier)

	rep, err := r.Run(context.Background(), []int{2022, 2023})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)

	var perr *pipeline.PartitionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "silver/year=2022", perr.Key())
	assert.Equal(t, pipeline.StepTransform, perr.Step)

	failed := reportByKey(t, rep, "silver/year=2022")
	assert.Equal(t, pipeline.OutcomeFailed, failed.Outcome)
	assert.Equal(t, domain.KindSchemaMismatch, failed.Kind)

	skipped := reportByKey(t, rep, "gold/year=2022")
	assert.Equal(t, pipeline.OutcomeSkipped, skipped.Outcome)
	assert.Equal(t, "silver_failed", skipped.Reason)

	assert.Equal(t, pipeline.OutcomeSuccess, reportByKey(t, rep, "silver/year=2023").Outcome)
	assert.Equal(t, pipeline.OutcomeSuccess, reportByKey(t, rep, "gold/year=2023").Outcome)

	_, published := lake.silver[2022]
	assert.False(t, published)
	assert.Equal(t, []string{"gold/2023", "silver/2023"}, notifier.keys())
}

func TestRunner_Run_NoInputIsSkipped(t *testing.T) {
	r := newRunner(t, &mockBronze{}, newMockLake(), newTestMetrics(), pipeline.Options{})

	rep, err := r.Run(context.Background(), []int{2021})
	require.NoError(t, err)
	require.Len(t, rep.Partitions, 2)
	for _, p := range rep.Partitions {
		assert.Equal(t, pipeline.OutcomeSkipped, p.Outcome, p.Key)
		assert.Equal(t, "no_input", p.Reason, p.Key)
	}
}

func TestRunner_Run_ReadFailure(t *testing.T) {
	bronze := &mockBronze{errs: map[int]error{2023: errors.New("disk unplugged")}}
	r := newRunner(t, bronze, newMockLake(), newTestMetrics(), pipeline.Options{})

	rep, err := r.Run(context.Background(), []int{2023})
	require.Error(t, err)

	silver := reportByKey(t, rep, "silver/year=2023")
	assert.Equal(t, pipeline.StepRead, silver.Step)
	assert.Equal(t, domain.KindReadFailed, silver.Kind)
	assert.Contains(t, silver.Error, "disk unplugged")
}

func TestRunner_Run_WriteFailure(t *testing.T) {
	bronze := &mockBronze{partitions: map[int]domain.BronzePartition{2023: bronzeYear(2023)}}
	lake := newMockLake()
	lake.writeErr = errors.New("no space left on device")
	notifier := &mockNotifier{}
	r := newRunner(t, bronze, lake, newTestMetrics(), pipeline.Options{}).WithNotifier(notifier)

	rep, err := r.Run(context.Background(), []int{2023})
	require.Error(t, err)

	silver := reportByKey(t, rep, "silver/year=2023")
	assert.Equal(t, pipeline.OutcomeFailed, silver.Outcome)
	assert.Equal(t, pipeline.StepWrite, silver.Step)
	assert.Equal(t, domain.KindWriteFailed, silver.Kind)
	assert.Empty(t, notifier.keys())
}

func TestRunner_Run_Canceled(t *testing.T) {
	bronze := &mockBronze{partitions: map[int]domain.BronzePartition{2023: bronzeYear(2023)}}
	r := newRunner(t, bronze, newMockLake(), newTestMetrics(), pipeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := r.Run(ctx, []int{2023})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.KindCanceled, reportByKey(t, rep, "silver/year=2023").Kind)
}

func TestRunner_Run_GoldOnlyReadsSilver(t *testing.T) {
	bronze := &mockBronze{partitions: map[int]domain.BronzePartition{2023: bronzeYear(2023)}}
	lake := newMockLake()

	_, err := newRunner(t, bronze, lake, newTestMetrics(), pipeline.Options{
		Stages: []domain.Dataset{domain.DatasetSilver},
	}).Run(context.Background(), []int{2023})
	require.NoError(t, err)
	assert.Empty(t, lake.gold)

	rep, err := newRunner(t, &mockBronze{}, lake, newTestMetrics(), pipeline.Options{
		Stages: []domain.Dataset{domain.DatasetGold},
	}).Run(context.Background(), []int{2023})
	require.NoError(t, err)
	require.Len(t, rep.Partitions, 1)
	assert.Equal(t, pipeline.OutcomeSuccess, rep.Partitions[0].Outcome)
	assert.Equal(t, 1, lake.silverReads)
	assert.Len(t, lake.gold[2023], 1)
}

func TestRunner_Run_SkipUnchanged(t *testing.T) {
	bronze := &mockBronze{partitions: map[int]domain.BronzePartition{2023: bronzeYear(2023)}}
	lake := newMockLake()
	checkpoints := &mockCheckpoints{}
	notifier := &mockNotifier{}

	newSkipping := func() *pipeline.Runner {
		return newRunner(t, bronze, lake, newTestMetrics(), pipeline.Options{SkipUnchanged: true}).
			WithCheckpoints(checkpoints).
			WithNotifier(notifier)
	}

	first, err := newSkipping().Run(context.Background(), []int{2023})
	require.NoError(t, err)
	for _, p := range first.Partitions {
		assert.Equal(t, pipeline.OutcomeSuccess, p.Outcome, p.Key)
	}

	second, err := newSkipping().Run(context.Background(), []int{2023})
	require.NoError(t, err)
	for _, p := range second.Partitions {
		assert.Equal(t, pipeline.OutcomeSkipped, p.Outcome, p.Key)
		assert.Equal(t, "unchanged", p.Reason, p.Key)
	}
	assert.Len(t, notifier.keys(), 2)

	changed := bronzeYear(2023)
	changed.Records = changed.Records[:2]
	bronze.partitions[2023] = changed

	third, err := newSkipping().Run(context.Background(), []int{2023})
	require.NoError(t, err)
	for _, p := range third.Partitions {
		assert.Equal(t, pipeline.OutcomeSuccess, p.Outcome, p.Key)
	}
}

func TestRunner_Run_NotifyFailureDoesNotFail(t *testing.T) {
	bronze := &mockBronze{partitions: map[int]domain.BronzePartition{2023: bronzeYear(2023)}}
	metrics := newTestMetrics()
	r := newRunner(t, bronze, newMockLake(), metrics, pipeline.Options{}).
		WithNotifier(&mockNotifier{err: errors.New("broker down")})

	rep, err := r.Run(context.Background(), []int{2023})
	require.NoError(t, err)
	assert.Empty(t, rep.Failed())
	assert.InDelta(t, 1.0, testutil.ToFloat64(metrics.Notices.WithLabelValues("silver", "error")), 0)
}

func TestRunner_Run_ParallelMatchesSequential(t *testing.T) {
	years := []int{2019, 2020, 2021, 2022, 2023}
	parts := make(map[int]domain.BronzePartition)
	for _, y := range years {
		parts[y] = bronzeYear(y)
	}

	sequential := newMockLake()
	_, err := newRunner(t, &mockBronze{partitions: parts}, sequential, newTestMetrics(), pipeline.Options{Workers: 1}).
		Run(context.Background(), years)
	require.NoError(t, err)

	parallel := newMockLake()
	_, err = newRunner(t, &mockBronze{partitions: parts}, parallel, newTestMetrics(), pipeline.Options{Workers: 5}).
		Run(context.Background(), years)
	require.NoError(t, err)

	if diff := cmp.Diff(sequential.silver, parallel.silver); diff != "" {
		t.Errorf("silver mismatch (-sequential +parallel):\n%s", diff)
	}
	if diff := cmp.Diff(sequential.gold, parallel.gold); diff != "" {
		t.Errorf("gold mismatch (-sequential +parallel):\n%s", diff)
	}
}

func TestRunner_Run_YearEndDayIsComplete(t *testing.T) {
	for _, workers := range []int{1, 2} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			lake := newMockLake()
			rep, err := newRunner(t, &mockBronze{partitions: yearEndBronze()}, lake, newTestMetrics(), pipeline.Options{Workers: workers}).
				Run(context.Background(), []int{2022, 2023})
			require.NoError(t, err)
			assert.Empty(t, rep.Failed())

			require.Len(t, lake.gold[2022], 1)
			days := lake.gold[2022][0].Records
			require.NotEmpty(t, days)
			last := days[len(days)-1]
			assert.Equal(t, civil.Date{Year: 2022, Month: time.December, Day: 31}, last.Date)
			assert.Equal(t, 24, last.ObservationCount)
			require.NotNil(t, last.TempMax)
			assert.InDelta(t, 35.0, *last.TempMax, 1e-9)

			// The carried hours belong to 2022 only.
			assert.Empty(t, lake.gold[2023])
			assert.Equal(t, 24, reportByKey(t, rep, "gold/year=2022").RecordsIn)
		})
	}
}

func TestRunner_Run_GoldOnlyCarriesFromLake(t *testing.T) {
	lake := newMockLake()
	_, err := newRunner(t, &mockBronze{partitions: yearEndBronze()}, lake, newTestMetrics(), pipeline.Options{
		Stages: []domain.Dataset{domain.DatasetSilver},
	}).Run(context.Background(), []int{2022, 2023})
	require.NoError(t, err)

	_, err = newRunner(t, &mockBronze{}, lake, newTestMetrics(), pipeline.Options{
		Stages: []domain.Dataset{domain.DatasetGold},
	}).Run(context.Background(), []int{2022})
	require.NoError(t, err)

	require.Len(t, lake.gold[2022], 1)
	days := lake.gold[2022][0].Records
	require.NotEmpty(t, days)
	assert.Equal(t, 24, days[len(days)-1].ObservationCount)
	assert.Equal(t, 1, lake.monthReads)
}
