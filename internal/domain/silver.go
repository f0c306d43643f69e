package domain

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// SilverPartitionKey is the (year, month) of a record's instant on the UTC
// calendar. Bronze years are UTC years, so every Silver partition belongs to
// exactly one Bronze year.
type SilverPartitionKey struct {
	Year  int
	Month time.Month
}

func (k SilverPartitionKey) String() string {
	return fmt.Sprintf("year=%04d/month=%02d", k.Year, int(k.Month))
}

// SilverPartitionKeyOf returns the partition a record belongs to.
func SilverPartitionKeyOf(rec CleanObservationRecord) SilverPartitionKey {
	utc := rec.Timestamp.UTC()
	return SilverPartitionKey{Year: utc.Year(), Month: utc.Month()}
}

// SilverPartition is the logical table handed to the writer for one key.
type SilverPartition struct {
	Key     SilverPartitionKey
	Records []CleanObservationRecord
}

// SilverResult is the output of one Silver transform.
type SilverResult struct {
	Records    []CleanObservationRecord
	Partitions []SilverPartition
	Stats      TransformStats
}

// SilverTransformer turns one Bronze year into clean records: normalize the
// header, coerce values, convert timestamps and deduplicate. It holds no
// mutable state and may be shared by concurrent partitions.
type SilverTransformer struct {
	normalizer *SchemaNormalizer
	coercer    *TypeCoercer
	source     *time.Location
	target     *time.Location
	logger     *slog.Logger
}

// NewSilverTransformer wires the Silver sub-steps. source is the zone the
// archive timestamps are written in, target the zone of the output.
func NewSilverTransformer(n *SchemaNormalizer, c *TypeCoercer, source, target *time.Location, logger *slog.Logger) *SilverTransformer {
	return &SilverTransformer{
		normalizer: n,
		coercer:    c,
		source:     source,
		target:     target,
		logger:     logger,
	}
}

// Transform runs the Silver stage on one Bronze partition. The same partition
// always yields the same result. Schema and timezone failures are returned as
// errors and nothing of the partition is kept; value-level failures become
// nulls counted in the stats.
func (t *SilverTransformer) Transform(p BronzePartition) (SilverResult, error) {
	stats := newTransformStats(p.Year)
	stats.RecordsIn = len(p.Records)

	mapping, err := t.normalizer.Normalize(p.Header, p.Year)
	if err != nil {
		return SilverResult{Stats: stats}, fmt.Errorf("normalize header: %w", err)
	}
	stats.SchemaVersion = mapping.Version
	stats.HeaderSignature = mapping.Signature

	converter, err := NewTimezoneConverter(t.source, t.target, YearWindow(p.Year))
	if err != nil {
		return SilverResult{Stats: stats}, fmt.Errorf("timezone converter: %w", err)
	}

	candidates := make([]CleanObservationRecord, 0, len(p.Records))
	for _, raw := range p.Records {
		rec, ok, err := t.clean(raw, len(p.Header), mapping, converter, &stats)
		if err != nil {
			return SilverResult{Stats: stats}, fmt.Errorf("%s: %w", raw.SourceFile, err)
		}
		if !ok {
			continue
		}
		if SilverPartitionKeyOf(rec).Year != p.Year {
			stats.OutOfPartition++
			continue
		}
		candidates = append(candidates, rec)
	}

	records, removed := Deduplicate(candidates)
	stats.Duplicates = removed
	stats.RecordsOut = len(records)

	if t.logger != nil {
		t.logger.Debug("silver transform complete",
			"year", p.Year,
			"schema_version", mapping.Version,
			"records_in", stats.RecordsIn,
			"records_out", stats.RecordsOut,
			"duplicates", removed,
			"nulls", stats.NullTotal(),
		)
	}

	return SilverResult{
		Records:    records,
		Partitions: SplitSilver(records),
		Stats:      stats,
	}, nil
}

// clean converts one raw row. ok is false when the row cannot be keyed and
// was dropped.
func (t *SilverTransformer) clean(raw RawObservationRecord, width int, mapping ColumnMapping, conv *TimezoneConverter, stats *TransformStats) (CleanObservationRecord, bool, error) {
	if len(raw.Values) < width {
		stats.ShortRows++
	}

	station := strings.TrimSpace(raw.StationID)
	municipio := strings.TrimSpace(raw.Municipio)
	if station == "" || municipio == "" {
		stats.DroppedIdentity++
		return CleanObservationRecord{}, false, nil
	}

	date, _ := mapping.Value(raw.Values, FieldDate)
	hour, _ := mapping.Value(raw.Values, FieldHour)
	naive, reason := t.coercer.Timestamp(date, hour, mapping.DateLayout)
	if reason != NullNone {
		stats.DroppedTimestamp++
		t.debugNull(raw, FieldDate, date+" "+hour, reason)
		return CleanObservationRecord{}, false, nil
	}

	ts, err := conv.Convert(naive)
	if err != nil {
		return CleanObservationRecord{}, false, err
	}

	rec := CleanObservationRecord{
		StationID:  station,
		Timestamp:  ts,
		Municipio:  municipio,
		SourceFile: raw.SourceFile,
	}

	for _, spec := range CanonicalFields {
		switch spec.Kind {
		case ValueFloat:
			text, _ := mapping.Value(raw.Values, spec.Field)
			v, reason := t.coercer.Float(text)
			if v != nil && spec.Range != nil && !spec.Range.Contains(*v) {
				v, reason = nil, NullOutOfRange
			}
			if v == nil {
				stats.addNull(spec.Field, reason)
				if reason != NullMissing {
					t.debugNull(raw, spec.Field, text, reason)
				}
			}
			rec.setFloat(spec.Field, v)
		case ValueInt:
			text, _ := mapping.Value(raw.Values, spec.Field)
			v, reason := t.coercer.Int(text)
			if v == nil {
				stats.addNull(spec.Field, reason)
				if reason != NullMissing {
					t.debugNull(raw, spec.Field, text, reason)
				}
			}
			rec.WindDirection = v
		}
	}

	return rec, true, nil
}

func (t *SilverTransformer) debugNull(raw RawObservationRecord, field CanonicalField, value string, reason NullReason) {
	if t.logger == nil || reason == NullSentinel {
		return
	}
	t.logger.Debug("value coerced to null",
		"source_file", raw.SourceFile,
		"field", string(field),
		"value", value,
		"reason", string(reason),
	)
}

func (m *Measurements) setFloat(f CanonicalField, v *float64) {
	switch f {
	case FieldTemperature:
		m.Temperature = v
	case FieldTemperatureMax:
		m.TemperatureMax = v
	case FieldTemperatureMin:
		m.TemperatureMin = v
	case FieldDewPoint:
		m.DewPoint = v
	case FieldPrecipitation:
		m.Precipitation = v
	case FieldHumidity:
		m.Humidity = v
	case FieldPressure:
		m.Pressure = v
	case FieldRadiation:
		m.Radiation = v
	case FieldWindSpeed:
		m.WindSpeed = v
	case FieldWindGust:
		m.WindGust = v
	}
}

// Float returns the value of a float field, or nil for any other field.
func (m Measurements) Float(f CanonicalField) *float64 {
	switch f {
	case FieldTemperature:
		return m.Temperature
	case FieldTemperatureMax:
		return m.TemperatureMax
	case FieldTemperatureMin:
		return m.TemperatureMin
	case FieldDewPoint:
		return m.DewPoint
	case FieldPrecipitation:
		return m.Precipitation
	case FieldHumidity:
		return m.Humidity
	case FieldPressure:
		return m.Pressure
	case FieldRadiation:
		return m.Radiation
	case FieldWindSpeed:
		return m.WindSpeed
	case FieldWindGust:
		return m.WindGust
	}
	return nil
}

// SplitSilver groups records by partition key, keeping their relative order.
// Partitions are returned in key order.
func SplitSilver(records []CleanObservationRecord) []SilverPartition {
	index := make(map[SilverPartitionKey]int)
	var parts []SilverPartition
	for _, rec := range records {
		key := SilverPartitionKeyOf(rec)
		i, ok := index[key]
		if !ok {
			i = len(parts)
			index[key] = i
			parts = append(parts, SilverPartition{Key: key})
		}
		parts[i].Records = append(parts[i].Records, rec)
	}
	sort.Slice(parts, func(i, j int) bool {
		a, b := parts[i].Key, parts[j].Key
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})
	return parts
}
