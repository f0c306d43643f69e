// Package lake persists Silver and Gold partitions as Parquet files.
//
// Layout:
//
//	<silver>/year=YYYY/month=MM/part-00000.parquet
//	<gold>/year=YYYY/municipio=NAME/part-00000.parquet
//
// A processing year is published as a whole: its partitions are staged in a
// hidden directory next to the target and swapped in by rename.
package lake

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
	"github.com/oklog/ulid/v2"
	"github.com/parquet-go/parquet-go"
)

const partFile = "part-00000.parquet"

// Lake reads and writes the Silver and Gold datasets.
// It implements pipeline.Lake.
type Lake struct {
	silverDir string
	goldDir   string
	zone      *time.Location
	logger    *slog.Logger
}

// New creates a Lake. Silver timestamps read back are expressed in zone.
func New(silverDir, goldDir string, zone *time.Location, logger *slog.Logger) *Lake {
	return &Lake{
		silverDir: silverDir,
		goldDir:   goldDir,
		zone:      zone,
		logger:    logger,
	}
}

// WriteSilver replaces the Silver partitions of year with parts.
func (l *Lake) WriteSilver(ctx context.Context, year int, parts []domain.SilverPartition) error {
	return l.publish(ctx, l.silverDir, year, func(stage string) error {
		for _, p := range parts {
			if err := ctx.Err(); err != nil {
				return err
			}
			if p.Key.Year != year {
				return fmt.Errorf("partition %s outside processing year %d", p.Key, year)
			}
			rows := make([]silverRow, len(p.Records))
			for i, rec := range p.Records {
				rows[i] = toSilverRow(rec)
			}
			dir := filepath.Join(stage, fmt.Sprintf("month=%02d", int(p.Key.Month)))
			if err := writeParquet(filepath.Join(dir, partFile), rows); err != nil {
				return fmt.Errorf("write %s: %w", p.Key, err)
			}
		}
		return nil
	})
}

// WriteGold replaces the Gold partitions of year with parts.
func (l *Lake) WriteGold(ctx context.Context, year int, parts []domain.GoldPartition) error {
	return l.publish(ctx, l.goldDir, year, func(stage string) error {
		for _, p := range parts {
			if err := ctx.Err(); err != nil {
				return err
			}
			if p.Key.Year != year {
				return fmt.Errorf("partition %s outside processing year %d", p.Key, year)
			}
			rows := make([]goldRow, len(p.Records))
			for i, rec := range p.Records {
				rows[i] = toGoldRow(rec)
			}
			dir := filepath.Join(stage, "municipio="+p.Key.Municipio)
			if err := writeParquet(filepath.Join(dir, partFile), rows); err != nil {
				return fmt.Errorf("write %s: %w", p.Key, err)
			}
		}
		return nil
	})
}

// ReadSilver returns every Silver record of year, month by month. It fails
// with domain.ErrNoInput when the year was never published.
func (l *Lake) ReadSilver(ctx context.Context, year int) ([]domain.CleanObservationRecord, error) {
	parts, err := l.ReadSilverPartitions(ctx, year)
	if err != nil {
		return nil, err
	}
	var out []domain.CleanObservationRecord
	for _, p := range parts {
		out = append(out, p.Records...)
	}
	return out, nil
}

// ReadSilverPartitions returns the Silver partitions of year in month order.
func (l *Lake) ReadSilverPartitions(ctx context.Context, year int) ([]domain.SilverPartition, error) {
	dirs, err := partitionDirs(l.silverDir, year, "month=")
	if err != nil {
		return nil, err
	}

	parts := make([]domain.SilverPartition, 0, len(dirs))
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		month, err := strconv.Atoi(d.value)
		if err != nil || month < 1 || month > 12 {
			return nil, fmt.Errorf("invalid silver partition %s", d.path)
		}
		rows, err := readParquetDir[silverRow](d.path)
		if err != nil {
			return nil, err
		}
		p := domain.SilverPartition{
			Key:     domain.SilverPartitionKey{Year: year, Month: time.Month(month)},
			Records: make([]domain.CleanObservationRecord, len(rows)),
		}
		for i, row := range rows {
			p.Records[i] = fromSilverRow(row, l.zone)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// ReadSilverMonth returns the Silver records of one month partition. It fails
// with domain.ErrNoInput when the partition was never published.
func (l *Lake) ReadSilverMonth(ctx context.Context, key domain.SilverPartitionKey) ([]domain.CleanObservationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(l.silverDir, yearDir(key.Year), fmt.Sprintf("month=%02d", int(key.Month)))
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", dir, domain.ErrNoInput)
	} else if err != nil {
		return nil, fmt.Errorf("stat %s: %w", dir, err)
	}

	rows, err := readParquetDir[silverRow](dir)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CleanObservationRecord, len(rows))
	for i, row := range rows {
		out[i] = fromSilverRow(row, l.zone)
	}
	return out, nil
}

// ReadGold returns the Gold partitions of year in municipality order.
func (l *Lake) ReadGold(ctx context.Context, year int) ([]domain.GoldPartition, error) {
	dirs, err := partitionDirs(l.goldDir, year, "municipio=")
	if err != nil {
		return nil, err
	}

	parts := make([]domain.GoldPartition, 0, len(dirs))
	for _, d := range dirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := readParquetDir[goldRow](d.path)
		if err != nil {
			return nil, err
		}
		p := domain.GoldPartition{
			Key:     domain.GoldPartitionKey{Year: year, Municipio: d.value},
			Records: make([]domain.DailyAggregateRecord, len(rows)),
		}
		for i, row := range rows {
			p.Records[i] = fromGoldRow(row)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// Years lists the published years of a dataset in ascending order.
func (l *Lake) Years(ds domain.Dataset) ([]int, error) {
	root := l.silverDir
	if ds == domain.DatasetGold {
		root = l.goldDir
	}
	entries, err := os.ReadDir(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", root, err)
	}

	var years []int
	for _, e := range entries {
		v, ok := strings.CutPrefix(e.Name(), "year=")
		if !e.IsDir() || !ok {
			continue
		}
		if y, err := strconv.Atoi(v); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// publish stages the output of fill and swaps it in as the year directory.
// The staging directory is removed on every failure path, panics included,
// and the previous year directory stays in place.
func (l *Lake) publish(ctx context.Context, root string, year int, fill func(stage string) error) (err error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", root, err)
	}
	if err := l.recoverYear(root, year); err != nil {
		return err
	}
	stage := filepath.Join(root, ".staging-"+ulid.Make().String())
	if err := os.Mkdir(stage, 0o755); err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = os.RemoveAll(stage)
			panic(p)
		}
		if err != nil {
			if rmErr := os.RemoveAll(stage); rmErr != nil {
				l.logger.Warn("staging dir cleanup failed", "dir", stage, "error", rmErr)
			}
		}
	}()

	if err := fill(stage); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.swap(stage, root, year)
}

// swap moves stage into place as the directory of year. An existing
// directory is set aside first and restored if the promotion fails; a crash
// in between is repaired by recoverYear on the next publish.
func (l *Lake) swap(stage, root string, year int) error {
	target := filepath.Join(root, yearDir(year))
	backup := ""
	if _, err := os.Stat(target); err == nil {
		backup = filepath.Join(root, backupPrefix(year)+ulid.Make().String())
		if err := os.Rename(target, backup); err != nil {
			return fmt.Errorf("set aside %s: %w", target, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", target, err)
	}

	if err := os.Rename(stage, target); err != nil {
		if backup != "" {
			if rbErr := os.Rename(backup, target); rbErr != nil {
				l.logger.Error("restore after failed swap", "target", target, "backup", backup, "error", rbErr)
			}
		}
		return fmt.Errorf("promote %s: %w", target, err)
	}

	if backup != "" {
		if err := os.RemoveAll(backup); err != nil {
			l.logger.Warn("previous partition cleanup failed", "dir", backup, "error", err)
		}
	}
	l.logger.Debug("partition published", "dir", target)
	return nil
}

// backupPrefix names the directories a year is set aside in during a swap.
func backupPrefix(year int) string {
	return ".old-" + yearDir(year) + "-"
}

// recoverYear repairs a swap interrupted between its two renames. When the
// year directory is missing, the newest backup of the year is moved back;
// remaining backups of the year are removed.
func (l *Lake) recoverYear(root string, year int) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Errorf("list %s: %w", root, err)
	}
	var backups []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), backupPrefix(year)) {
			backups = append(backups, filepath.Join(root, e.Name()))
		}
	}
	if len(backups) == 0 {
		return nil
	}
	sort.Strings(backups) // ULIDs sort by creation time

	target := filepath.Join(root, yearDir(year))
	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		newest := backups[len(backups)-1]
		if err := os.Rename(newest, target); err != nil {
			return fmt.Errorf("restore %s: %w", newest, err)
		}
		l.logger.Warn("restored partition from interrupted swap", "dir", target, "backup", newest)
		backups = backups[:len(backups)-1]
	} else if err != nil {
		return fmt.Errorf("stat %s: %w", target, err)
	}

	for _, b := range backups {
		if err := os.RemoveAll(b); err != nil {
			l.logger.Warn("stale backup cleanup failed", "dir", b, "error", err)
		}
	}
	return nil
}

func yearDir(year int) string {
	return fmt.Sprintf("year=%04d", year)
}

type partitionDir struct {
	path  string
	value string
}

// partitionDirs lists the key=value subdirectories of a year, sorted by name.
func partitionDirs(root string, year int, prefix string) ([]partitionDir, error) {
	dir := filepath.Join(root, yearDir(year))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", dir, domain.ErrNoInput)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	var out []partitionDir
	for _, e := range entries {
		v, ok := strings.CutPrefix(e.Name(), prefix)
		if !e.IsDir() || !ok {
			continue
		}
		out = append(out, partitionDir{path: filepath.Join(dir, e.Name()), value: v})
	}
	return out, nil
}

func writeParquet[T any](path string, rows []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := parquet.NewGenericWriter[T](f, parquet.Compression(&parquet.Zstd))
	if _, err := w.Write(rows); err != nil {
		_ = f.Close()
		return err
	}
	if err := w.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// readParquetDir reads every Parquet file of dir in name order.
func readParquetDir[T any](dir string) ([]T, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.parquet"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var out []T
	for _, f := range files {
		rows, err := parquet.ReadFile[T](f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		out = append(out, rows...)
	}
	return out, nil
}
