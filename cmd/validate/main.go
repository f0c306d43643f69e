// Command validate checks the integrity of a published lake. Silver keys must
// be unique and stored in the partition of their instant with readings inside
// the quality ranges. Gold days must form a continuous calendar inside their
// year with consistent statistics, and count every Silver record of the year
// exactly once.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -silver-dir data/silver \
//	  -gold-dir data/gold \
//	  -timezone America/Fortaleza
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/couchcryptid/inmet-climate-etl/internal/adapter/lake"
	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
)

// statTolerance absorbs the rounding of stored statistics.
const statTolerance = 0.011

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// dataset is everything read from the lake, by year.
type dataset struct {
	silver map[int][]domain.SilverPartition
	gold   map[int][]domain.GoldPartition
}

func main() {
	silverDir := flag.String("silver-dir", "data/silver", "Silver dataset root")
	goldDir := flag.String("gold-dir", "data/gold", "Gold dataset root")
	zone := flag.String("timezone", "America/Fortaleza", "civil zone of the Gold calendar")
	flag.Parse()

	loc, err := time.LoadLocation(*zone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load timezone: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if code := run(context.Background(), lake.New(*silverDir, *goldDir, loc, logger), loc); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, l *lake.Lake, loc *time.Location) int {
	fmt.Println("=== INMET Lake Integrity Validation ===")
	fmt.Println()

	data, err := load(ctx, l)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load lake: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateSilverKeys(data),
		validateSilverQuality(data),
		validateGoldDays(data),
		validateGoldStatistics(data),
		validateCoverage(data, loc),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Years: %d silver, %d gold. Records: %d silver, %d gold\n",
		len(data.silver), len(data.gold), countSilver(data), countGold(data))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func load(ctx context.Context, l *lake.Lake) (dataset, error) {
	data := dataset{
		silver: make(map[int][]domain.SilverPartition),
		gold:   make(map[int][]domain.GoldPartition),
	}

	years, err := l.Years(domain.DatasetSilver)
	if err != nil {
		return data, err
	}
	for _, y := range years {
		parts, err := l.ReadSilverPartitions(ctx, y)
		if err != nil {
			return data, fmt.Errorf("silver %d: %w", y, err)
		}
		data.silver[y] = parts
		fmt.Printf("  silver year=%04d: %d partitions\n", y, len(parts))
	}

	years, err = l.Years(domain.DatasetGold)
	if err != nil {
		return data, err
	}
	for _, y := range years {
		parts, err := l.ReadGold(ctx, y)
		if err != nil {
			return data, fmt.Errorf("gold %d: %w", y, err)
		}
		data.gold[y] = parts
		fmt.Printf("  gold   year=%04d: %d municipalities\n", y, len(parts))
	}
	return data, nil
}

func countSilver(d dataset) int {
	n := 0
	for _, parts := range d.silver {
		for _, p := range parts {
			n += len(p.Records)
		}
	}
	return n
}

func countGold(d dataset) int {
	n := 0
	for _, parts := range d.gold {
		for _, p := range parts {
			n += len(p.Records)
		}
	}
	return n
}

// ── Phase 1: Silver keys ──

type silverKey struct {
	station string
	instant int64
}

func validateSilverKeys(d dataset) *phase {
	p := &phase{name: "Phase 1: Silver keys and partitions"}

	for year, parts := range d.silver {
		seen := make(map[silverKey]string)
		for _, part := range parts {
			if part.Key.Year != year {
				p.errorf("%s: stored under year=%04d", part.Key, year)
			}
			for _, rec := range part.Records {
				if got := domain.SilverPartitionKeyOf(rec); got != part.Key {
					p.errorf("%s: %s %s belongs to %s", part.Key, rec.StationID, rec.Timestamp.UTC().Format(time.RFC3339), got)
				}
				if rec.StationID == "" || rec.Municipio == "" {
					p.errorf("%s: record at %s has no station or municipality", part.Key, rec.Timestamp.UTC().Format(time.RFC3339))
				}
				k := silverKey{station: rec.StationID, instant: rec.Timestamp.UnixNano()}
				if prev, dup := seen[k]; dup {
					p.errorf("%s: duplicate %s %s (also in %s)", part.Key, rec.StationID, rec.Timestamp.UTC().Format(time.RFC3339), prev)
					continue
				}
				seen[k] = part.Key.String()
			}
		}
	}
	return p
}

// ── Phase 2: Silver quality ranges ──

func validateSilverQuality(d dataset) *phase {
	p := &phase{name: "Phase 2: Silver quality ranges"}

	for _, parts := range d.silver {
		for _, part := range parts {
			for _, rec := range part.Records {
				for _, spec := range domain.CanonicalFields {
					if spec.Range == nil {
						continue
					}
					v := rec.Float(spec.Field)
					if v != nil && !spec.Range.Contains(*v) {
						p.errorf("%s: %s %s: %s=%g outside [%g, %g]", part.Key, rec.StationID,
							rec.Timestamp.UTC().Format(time.RFC3339), spec.Field, *v, spec.Range.Min, spec.Range.Max)
					}
				}
			}
		}
	}
	return p
}

// ── Phase 3: Gold days ──

func validateGoldDays(d dataset) *phase {
	p := &phase{name: "Phase 3: Gold calendar"}

	for year, parts := range d.gold {
		for _, part := range parts {
			if domain.NormalizeMunicipio(part.Key.Municipio) != part.Key.Municipio {
				p.errorf("%s: municipality is not in normalized form", part.Key)
			}
			for i, day := range part.Records {
				if day.Date.Year != year {
					p.errorf("%s: day %s outside the year", part.Key, day.Date)
				}
				if day.Municipio != part.Key.Municipio {
					p.errorf("%s: day %s belongs to %s", part.Key, day.Date, day.Municipio)
				}
				if i > 0 {
					prev := part.Records[i-1].Date
					if !prev.Before(day.Date) {
						p.errorf("%s: day %s not after %s", part.Key, day.Date, prev)
					} else if prev.AddDays(1) != day.Date {
						p.errorf("%s: gap between %s and %s", part.Key, prev, day.Date)
					}
				}
			}
		}
	}
	return p
}

// ── Phase 4: Gold statistics ──

func validateGoldStatistics(d dataset) *phase {
	p := &phase{name: "Phase 4: Gold statistics"}

	for _, parts := range d.gold {
		for _, part := range parts {
			for _, day := range part.Records {
				where := fmt.Sprintf("%s %s", part.Key, day.Date)

				if (day.TempMax == nil) != (day.TempMin == nil) || (day.TempMax == nil) != (day.TempMean == nil) {
					p.errorf("%s: temperature statistics partially null", where)
					continue
				}
				if day.ObservationCount == 0 && (day.TempMax != nil || day.PrecipitationTotal != nil) {
					p.errorf("%s: statistics without observations", where)
				}
				if day.TempMax == nil {
					if day.ThermalAmplitude != nil {
						p.errorf("%s: amplitude without temperatures", where)
					}
					continue
				}

				hi, mean, lo := *day.TempMax, *day.TempMean, *day.TempMin
				if hi+statTolerance < mean || mean+statTolerance < lo {
					p.errorf("%s: expected max >= mean >= min, got %g / %g / %g", where, hi, mean, lo)
				}
				if day.ThermalAmplitude == nil {
					p.errorf("%s: amplitude missing", where)
				} else if math.Abs(*day.ThermalAmplitude-(hi-lo)) > statTolerance {
					p.errorf("%s: amplitude %g != max - min %g", where, *day.ThermalAmplitude, hi-lo)
				}
				if day.PrecipitationTotal != nil && *day.PrecipitationTotal < 0 {
					p.errorf("%s: negative precipitation %g", where, *day.PrecipitationTotal)
				}
			}
		}
	}
	return p
}

// ── Phase 5: Silver/Gold coverage ──

// validateCoverage checks that the observation counts of a Gold year add up
// to the records of the Silver year with the same UTC year whose local date
// also falls in it.
func validateCoverage(d dataset, loc *time.Location) *phase {
	p := &phase{name: "Phase 5: Silver/Gold coverage"}

	for year, parts := range d.gold {
		silverParts, ok := d.silver[year]
		if !ok {
			p.errorf("year=%04d: gold without silver", year)
			continue
		}
		window := make(map[string]int)
		for _, sp := range silverParts {
			for _, rec := range sp.Records {
				if rec.Timestamp.In(loc).Year() == year {
					window[domain.NormalizeMunicipio(rec.Municipio)]++
				}
			}
		}

		for _, part := range parts {
			got := 0
			for _, day := range part.Records {
				got += day.ObservationCount
			}
			if want := window[part.Key.Municipio]; got != want {
				p.errorf("%s: %d observations in gold, %d in silver", part.Key, got, want)
			}
			delete(window, part.Key.Municipio)
		}
		for municipio, n := range window {
			p.errorf("year=%04d/municipio=%s: %d silver records missing from gold", year, municipio, n)
		}
	}
	return p
}
