// Package bronze reads INMET hourly CSV files into Bronze partitions.
//
// A year is either a directory <dir>/<year>/ of extracted CSV files or the
// archive <dir>/<year>.zip as published by INMET. Files are Latin-1 encoded,
// start with eight "KEY:;VALUE" metadata lines and use ';' as delimiter.
package bronze

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
	"golang.org/x/text/encoding/charmap"
)

const (
	metadataLines = 8
	delimiter     = ';'
)

// Reader loads Bronze partitions from a directory tree.
// It implements pipeline.BronzeReader.
type Reader struct {
	dir    string
	filter string
	logger *slog.Logger
}

// NewReader creates a Reader rooted at dir. Only files whose name contains
// filter are read; an empty filter reads every CSV file.
func NewReader(dir, filter string, logger *slog.Logger) *Reader {
	return &Reader{dir: dir, filter: filter, logger: logger}
}

// source is one CSV file of a year, wherever it is stored.
type source struct {
	name string
	open func() (io.ReadCloser, error)
}

// ReadBronze returns the rows of every matching file of year in file-name
// order. It fails with domain.ErrNoInput when the year has no matching file
// and with domain.ErrSchemaMismatch when files of the year disagree on the
// header.
func (r *Reader) ReadBronze(ctx context.Context, year int) (domain.BronzePartition, error) {
	sources, closeArchive, err := r.sources(year)
	if err != nil {
		return domain.BronzePartition{}, err
	}
	defer closeArchive()

	if len(sources) == 0 {
		return domain.BronzePartition{}, fmt.Errorf("bronze year %d (filter %q): %w", year, r.filter, domain.ErrNoInput)
	}

	p := domain.BronzePartition{Year: year}
	var headerFile string
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return domain.BronzePartition{}, err
		}

		f, err := readSource(src)
		if err != nil {
			return domain.BronzePartition{}, err
		}

		if p.Header == nil {
			p.Header, headerFile = f.header, src.name
		} else if domain.HeaderSignature(f.header) != domain.HeaderSignature(p.Header) {
			return domain.BronzePartition{}, fmt.Errorf("%s: header differs from %s: %w", src.name, headerFile, domain.ErrSchemaMismatch)
		}
		p.Records = append(p.Records, f.records...)

		r.logger.Debug("bronze file read",
			"year", year,
			"file", src.name,
			"station", f.station,
			"rows", len(f.records),
		)
	}
	return p, nil
}

// sources lists the matching files of year, sorted by name. The returned
// func releases the archive when the year is zipped.
func (r *Reader) sources(year int) ([]source, func(), error) {
	noop := func() {}
	yearDir := filepath.Join(r.dir, strconv.Itoa(year))

	entries, err := os.ReadDir(yearDir)
	switch {
	case err == nil:
		var out []source
		for _, e := range entries {
			if e.IsDir() || !r.matches(e.Name()) {
				continue
			}
			full := filepath.Join(yearDir, e.Name())
			out = append(out, source{
				name: e.Name(),
				open: func() (io.ReadCloser, error) { return os.Open(full) },
			})
		}
		sortSources(out)
		return out, noop, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, noop, fmt.Errorf("list %s: %w", yearDir, err)
	}

	archive := filepath.Join(r.dir, strconv.Itoa(year)+".zip")
	zr, err := zip.OpenReader(archive)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, noop, nil
	}
	if err != nil {
		return nil, noop, fmt.Errorf("open %s: %w", archive, err)
	}

	var out []source
	for _, zf := range zr.File {
		name := path.Base(zf.Name)
		if zf.FileInfo().IsDir() || !r.matches(name) {
			continue
		}
		out = append(out, source{name: name, open: zf.Open})
	}
	sortSources(out)
	return out, func() { _ = zr.Close() }, nil
}

func (r *Reader) matches(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".csv") && strings.Contains(name, r.filter)
}

func sortSources(s []source) {
	sort.Slice(s, func(i, j int) bool { return s[i].name < s[j].name })
}

type file struct {
	station   string
	municipio string
	header    []string
	records   []domain.RawObservationRecord
}

func readSource(src source) (file, error) {
	rc, err := src.open()
	if err != nil {
		return file{}, fmt.Errorf("open %s: %w", src.name, err)
	}
	defer rc.Close()

	f, err := parse(rc, src.name)
	if err != nil {
		return file{}, fmt.Errorf("read %s: %w", src.name, err)
	}
	return f, nil
}

// parse decodes one INMET file. Station and municipality come from the
// metadata block, or from the file name when the block lacks them.
func parse(r io.Reader, name string) (file, error) {
	br := bufio.NewReader(charmap.ISO8859_1.NewDecoder().Reader(r))

	var f file
	for i := 0; i < metadataLines; i++ {
		line, err := br.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return file{}, fmt.Errorf("metadata line %d: %w", i+1, err)
		}
		key, value, ok := strings.Cut(strings.TrimRight(line, "\r\n"), ":;")
		if !ok {
			continue
		}
		switch domain.NormalizeHeader(key) {
		case "ESTACAO":
			f.municipio = strings.TrimSpace(value)
		case "CODIGO (WMO)":
			f.station = strings.TrimSpace(value)
		}
	}
	if f.station == "" || f.municipio == "" {
		station, municipio := identityFromName(name)
		if f.station == "" {
			f.station = station
		}
		if f.municipio == "" {
			f.municipio = municipio
		}
	}

	cr := csv.NewReader(br)
	cr.Comma = delimiter
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return file{}, errors.New("missing header line")
		}
		return file{}, fmt.Errorf("header: %w", err)
	}
	f.header = header

	for {
		values, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return file{}, err
		}
		f.records = append(f.records, domain.RawObservationRecord{
			StationID:  f.station,
			Municipio:  f.municipio,
			SourceFile: name,
			Values:     values,
		})
	}
	return f, nil
}

// identityFromName extracts station and municipality from names like
// "INMET_NE_PB_A320_JOAO PESSOA_01-01-2023_A_31-12-2023.CSV".
func identityFromName(name string) (station, municipio string) {
	parts := strings.Split(strings.TrimSuffix(name, filepath.Ext(name)), "_")
	if len(parts) < 5 || parts[0] != "INMET" {
		return "", ""
	}
	return parts[3], parts[4]
}
