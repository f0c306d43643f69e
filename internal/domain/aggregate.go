package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
)

// GoldPartitionKey locates a municipality's daily aggregates for one year.
type GoldPartitionKey struct {
	Year      int
	Municipio string
}

func (k GoldPartitionKey) String() string {
	return fmt.Sprintf("year=%04d/municipio=%s", k.Year, k.Municipio)
}

// GoldPartition is the logical table handed to the writer for one key.
type GoldPartition struct {
	Key     GoldPartitionKey
	Records []DailyAggregateRecord
}

// GoldResult is the output of one Gold transform.
type GoldResult struct {
	Records    []DailyAggregateRecord
	Partitions []GoldPartition
	Stats      AggregateStats
}

// Aggregator computes daily statistics per municipality. Days are calendar
// days in zone.
type Aggregator struct {
	zone *time.Location
}

// NewAggregator returns an aggregator grouping by calendar day in zone.
func NewAggregator(zone *time.Location) *Aggregator {
	return &Aggregator{zone: zone}
}

type dayKey struct {
	municipio string
	date      civil.Date
}

// Aggregate groups records by (municipio, local date) and computes the daily
// statistics. The result does not depend on the order of records.
//
// A day with no valid temperature is still emitted with null temperature
// statistics. Days missing between a municipality's first and last observed
// day are emitted as empty rows so consumers see a continuous calendar.
func (a *Aggregator) Aggregate(records []CleanObservationRecord) []DailyAggregateRecord {
	out, _ := a.aggregate(records)
	return out
}

// Transform aggregates the Silver records of one year. following holds the
// Silver records of the next year's January: the last local hours of
// December 31 are stored there, on the UTC calendar. Only its records whose
// local date is in year are used. Records of year whose local date is not in
// year are excluded and counted; they belong to the neighboring year's window.
func (a *Aggregator) Transform(year int, records, following []CleanObservationRecord) GoldResult {
	carry := a.Carryover(year, following)
	inWindow := make([]CleanObservationRecord, 0, len(records)+len(carry))
	outside := 0
	for _, rec := range records {
		if rec.Timestamp.In(a.zone).Year() != year {
			outside++
			continue
		}
		inWindow = append(inWindow, rec)
	}
	inWindow = append(inWindow, carry...)

	out, stats := a.aggregate(inWindow)
	stats.Year = year
	stats.RecordsIn = len(records)
	stats.OutOfWindow = outside
	stats.CarriedOver = len(carry)

	return GoldResult{
		Records:    out,
		Partitions: SplitGold(year, out),
		Stats:      stats,
	}
}

// Carryover returns the records of following whose local date is in year.
func (a *Aggregator) Carryover(year int, following []CleanObservationRecord) []CleanObservationRecord {
	var carry []CleanObservationRecord
	for _, rec := range following {
		if rec.Timestamp.In(a.zone).Year() == year {
			carry = append(carry, rec)
		}
	}
	return carry
}

func (a *Aggregator) aggregate(records []CleanObservationRecord) ([]DailyAggregateRecord, AggregateStats) {
	groups := make(map[dayKey][]CleanObservationRecord)
	for _, rec := range records {
		key := dayKey{
			municipio: NormalizeMunicipio(rec.Municipio),
			date:      civil.DateOf(rec.Timestamp.In(a.zone)),
		}
		groups[key] = append(groups[key], rec)
	}

	var stats AggregateStats
	out := make([]DailyAggregateRecord, 0, len(groups))
	for key, group := range groups {
		day := summarizeDay(key, group)
		if day.TempMax == nil {
			stats.EmptyTemperatureDays++
		}
		out = append(out, day)
	}
	sortDays(out)

	out, stats.FilledDays = fillGaps(out)
	stats.Days = len(out)
	return out, stats
}

// summarizeDay computes the statistics of one group. The group is put in
// canonical order first so that floating-point sums are reproducible.
func summarizeDay(key dayKey, group []CleanObservationRecord) DailyAggregateRecord {
	sort.Slice(group, func(i, j int) bool {
		a, b := group[i], group[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.StationID != b.StationID {
			return a.StationID < b.StationID
		}
		return a.SourceFile < b.SourceFile
	})

	var temp, precip, humidity, windSpeed, gust, radiation accumulator
	for _, rec := range group {
		temp.add(rec.Temperature)
		precip.add(rec.Precipitation)
		humidity.add(rec.Humidity)
		windSpeed.add(rec.WindSpeed)
		gust.add(rec.WindGust)
		radiation.add(rec.Radiation)
	}

	day := DailyAggregateRecord{
		Municipio:          key.municipio,
		Date:               key.date,
		TempMax:            round(temp.max(), 2),
		TempMin:            round(temp.min(), 2),
		TempMean:           round(temp.mean(), 2),
		PrecipitationTotal: round(precip.total(), 1),
		HumidityMean:       round(humidity.mean(), 2),
		WindSpeedMean:      round(windSpeed.mean(), 2),
		WindGustMax:        round(gust.max(), 2),
		RadiationTotal:     round(radiation.total(), 2),
		ObservationCount:   len(group),
	}
	if day.TempMax != nil && day.TempMin != nil {
		day.ThermalAmplitude = round(ptr(*day.TempMax-*day.TempMin), 2)
	}
	return day
}

func sortDays(days []DailyAggregateRecord) {
	sort.Slice(days, func(i, j int) bool {
		if days[i].Municipio != days[j].Municipio {
			return days[i].Municipio < days[j].Municipio
		}
		return days[i].Date.Before(days[j].Date)
	})
}

// fillGaps inserts empty rows for the days missing between each
// municipality's first and last day. days must be sorted.
func fillGaps(days []DailyAggregateRecord) ([]DailyAggregateRecord, int) {
	if len(days) == 0 {
		return days, 0
	}
	out := make([]DailyAggregateRecord, 0, len(days))
	filled := 0
	for i, day := range days {
		if i > 0 && days[i-1].Municipio == day.Municipio {
			for d := days[i-1].Date.AddDays(1); d.Before(day.Date); d = d.AddDays(1) {
				out = append(out, DailyAggregateRecord{Municipio: day.Municipio, Date: d})
				filled++
			}
		}
		out = append(out, day)
	}
	return out, filled
}

// SplitGold groups sorted daily records by municipality.
func SplitGold(year int, days []DailyAggregateRecord) []GoldPartition {
	var parts []GoldPartition
	for _, day := range days {
		if n := len(parts); n == 0 || parts[n-1].Key.Municipio != day.Municipio {
			parts = append(parts, GoldPartition{Key: GoldPartitionKey{Year: year, Municipio: day.Municipio}})
		}
		last := &parts[len(parts)-1]
		last.Records = append(last.Records, day)
	}
	return parts
}

// NormalizeMunicipio returns the partition form of a municipality name:
// accents folded, upper case, words joined by '_'. "João Pessoa" becomes
// "JOAO_PESSOA".
func NormalizeMunicipio(name string) string {
	words := strings.FieldsFunc(strings.ToUpper(foldAccents(name)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(words, "_")
}

type accumulator struct {
	n      int
	sum    float64
	hi, lo float64
}

func (a *accumulator) add(v *float64) {
	if v == nil {
		return
	}
	if a.n == 0 || *v > a.hi {
		a.hi = *v
	}
	if a.n == 0 || *v < a.lo {
		a.lo = *v
	}
	a.sum += *v
	a.n++
}

func (a *accumulator) max() *float64 {
	if a.n == 0 {
		return nil
	}
	return ptr(a.hi)
}

func (a *accumulator) min() *float64 {
	if a.n == 0 {
		return nil
	}
	return ptr(a.lo)
}

func (a *accumulator) mean() *float64 {
	if a.n == 0 {
		return nil
	}
	return ptr(a.sum / float64(a.n))
}

func (a *accumulator) total() *float64 {
	if a.n == 0 {
		return nil
	}
	return ptr(a.sum)
}

func round(v *float64, places int) *float64 {
	if v == nil {
		return nil
	}
	p := math.Pow(10, float64(places))
	r := math.Round(*v*p) / p
	return &r
}

func ptr(v float64) *float64 { return &v }
