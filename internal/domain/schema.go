package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// CanonicalField is the version-independent name of a logical column.
type CanonicalField string

const (
	FieldDate           CanonicalField = "date"
	FieldHour           CanonicalField = "hour"
	FieldPrecipitation  CanonicalField = "precipitation_mm"
	FieldPressure       CanonicalField = "pressure_mb"
	FieldRadiation      CanonicalField = "radiation_kj_m2"
	FieldTemperature    CanonicalField = "temperature_c"
	FieldDewPoint       CanonicalField = "dew_point_c"
	FieldTemperatureMax CanonicalField = "temperature_max_c"
	FieldTemperatureMin CanonicalField = "temperature_min_c"
	FieldHumidity       CanonicalField = "humidity_pct"
	FieldWindDirection  CanonicalField = "wind_direction_deg"
	FieldWindGust       CanonicalField = "wind_gust_ms"
	FieldWindSpeed      CanonicalField = "wind_speed_ms"
)

// ValueKind is the target type of a canonical field.
type ValueKind int

const (
	ValueFloat ValueKind = iota
	ValueInt
	ValueTimestamp
)

// Range bounds the plausible values of a measurement, inclusive.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// FieldSpec describes a canonical field: its type, whether a header must
// provide it, and the range outside which a reading is discarded.
type FieldSpec struct {
	Field    CanonicalField
	Kind     ValueKind
	Required bool
	Range    *Range
}

var (
	temperatureRange   = &Range{Min: -20, Max: 50}
	humidityRange      = &Range{Min: 0, Max: 100}
	precipitationRange = &Range{Min: 0, Max: math.Inf(1)}
)

// CanonicalFields lists every field a Silver record is built from. Quality
// ranges follow the INMET plausibility limits.
var CanonicalFields = []FieldSpec{
	{Field: FieldDate, Kind: ValueTimestamp, Required: true},
	{Field: FieldHour, Kind: ValueTimestamp, Required: true},
	{Field: FieldTemperature, Kind: ValueFloat, Required: true, Range: temperatureRange},
	{Field: FieldPrecipitation, Kind: ValueFloat, Required: true, Range: precipitationRange},
	{Field: FieldTemperatureMax, Kind: ValueFloat, Range: temperatureRange},
	{Field: FieldTemperatureMin, Kind: ValueFloat, Range: temperatureRange},
	{Field: FieldDewPoint, Kind: ValueFloat, Range: temperatureRange},
	{Field: FieldHumidity, Kind: ValueFloat, Range: humidityRange},
	{Field: FieldPressure, Kind: ValueFloat},
	{Field: FieldRadiation, Kind: ValueFloat},
	{Field: FieldWindSpeed, Kind: ValueFloat},
	{Field: FieldWindGust, Kind: ValueFloat},
	{Field: FieldWindDirection, Kind: ValueInt},
}

// SchemaVersion is one entry of the header mapping table: the years it
// covers, how its dates are written, and the accepted header text for each
// canonical field. A new archive layout is a new entry, nothing else.
type SchemaVersion struct {
	Name       string
	FirstYear  int // inclusive, 0 for no lower bound
	LastYear   int // inclusive, 0 for no upper bound
	DateLayout string
	Columns    map[CanonicalField][]string
}

func (v SchemaVersion) covers(year int) bool {
	if v.FirstYear != 0 && year < v.FirstYear {
		return false
	}
	if v.LastYear != 0 && year > v.LastYear {
		return false
	}
	return true
}

// measurementHeaders are shared by every INMET layout; the layouts differ in
// accents and capitalization only, which NormalizeHeader removes.
var measurementHeaders = map[CanonicalField][]string{
	FieldPrecipitation:  {"PRECIPITAÇÃO TOTAL, HORÁRIO (mm)"},
	FieldPressure:       {"PRESSAO ATMOSFERICA AO NIVEL DA ESTACAO, HORARIA (mB)"},
	FieldRadiation:      {"RADIACAO GLOBAL (Kj/m²)", "RADIACAO GLOBAL (KJ/m²)"},
	FieldTemperature:    {"TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)"},
	FieldDewPoint:       {"TEMPERATURA DO PONTO DE ORVALHO (°C)"},
	FieldTemperatureMax: {"TEMPERATURA MÁXIMA NA HORA ANT. (AUT) (°C)"},
	FieldTemperatureMin: {"TEMPERATURA MÍNIMA NA HORA ANT. (AUT) (°C)"},
	FieldHumidity:       {"UMIDADE RELATIVA DO AR, HORARIA (%)"},
	FieldWindDirection:  {"VENTO, DIREÇÃO HORARIA (gr) (° (gr))"},
	FieldWindGust:       {"VENTO, RAJADA MAXIMA (m/s)"},
	FieldWindSpeed:      {"VENTO, VELOCIDADE HORARIA (m/s)"},
}

func withMeasurements(date, hour []string) map[CanonicalField][]string {
	cols := make(map[CanonicalField][]string, len(measurementHeaders)+2)
	for f, aliases := range measurementHeaders {
		cols[f] = aliases
	}
	cols[FieldDate] = date
	cols[FieldHour] = hour
	return cols
}

// DefaultSchemaVersions returns the INMET layouts known so far.
func DefaultSchemaVersions() []SchemaVersion {
	return []SchemaVersion{
		{
			Name:       "inmet-2000",
			LastYear:   2018,
			DateLayout: "2006-01-02",
			Columns:    withMeasurements([]string{"DATA (YYYY-MM-DD)"}, []string{"HORA (UTC)"}),
		},
		{
			Name:       "inmet-2019",
			FirstYear:  2019,
			DateLayout: "2006/01/02",
			Columns:    withMeasurements([]string{"Data"}, []string{"Hora UTC"}),
		},
	}
}

// ColumnMapping locates canonical fields in the rows of one header.
type ColumnMapping struct {
	Version    string
	Signature  string
	DateLayout string
	Index      map[CanonicalField]int
}

// Value returns the raw text of field f in a row. ok is false when the header
// has no such column or the row is too short to contain it.
func (m ColumnMapping) Value(values []string, f CanonicalField) (string, bool) {
	i, ok := m.Index[f]
	if !ok || i >= len(values) {
		return "", false
	}
	return values[i], true
}

// SchemaNormalizer maps raw headers to canonical fields through a versioned
// table, never through column positions.
type SchemaNormalizer struct {
	versions []SchemaVersion
}

// NewSchemaNormalizer builds a normalizer over the given table. Header
// aliases are normalized once here.
func NewSchemaNormalizer(versions []SchemaVersion) *SchemaNormalizer {
	normalized := make([]SchemaVersion, len(versions))
	for i, v := range versions {
		cols := make(map[CanonicalField][]string, len(v.Columns))
		for f, aliases := range v.Columns {
			for _, a := range aliases {
				cols[f] = append(cols[f], NormalizeHeader(a))
			}
		}
		v.Columns = cols
		normalized[i] = v
	}
	return &SchemaNormalizer{versions: normalized}
}

// Normalize returns the column mapping of header for the given year. It
// fails with a *SchemaMismatchError when no version covers the year or a
// required field has no column.
func (n *SchemaNormalizer) Normalize(header []string, year int) (ColumnMapping, error) {
	signature := HeaderSignature(header)

	version, ok := n.versionFor(year)
	if !ok {
		return ColumnMapping{}, &SchemaMismatchError{Year: year, Signature: signature}
	}

	positions := make(map[string]int, len(header))
	for i, h := range header {
		key := NormalizeHeader(h)
		if key == "" {
			continue
		}
		if _, dup := positions[key]; !dup {
			positions[key] = i
		}
	}

	index := make(map[CanonicalField]int, len(CanonicalFields))
	var missing []string
	for _, spec := range CanonicalFields {
		found := false
		for _, alias := range version.Columns[spec.Field] {
			if i, ok := positions[alias]; ok {
				index[spec.Field] = i
				found = true
				break
			}
		}
		if !found && spec.Required {
			missing = append(missing, string(spec.Field))
		}
	}

	if len(missing) > 0 {
		return ColumnMapping{}, &SchemaMismatchError{
			Year:      year,
			Version:   version.Name,
			Signature: signature,
			Missing:   missing,
		}
	}

	return ColumnMapping{
		Version:    version.Name,
		Signature:  signature,
		DateLayout: version.DateLayout,
		Index:      index,
	}, nil
}

func (n *SchemaNormalizer) versionFor(year int) (SchemaVersion, bool) {
	for _, v := range n.versions {
		if v.covers(year) {
			return v, true
		}
	}
	return SchemaVersion{}, false
}

// NormalizeHeader folds accents, upper-cases and collapses whitespace so that
// "PRECIPITAÇÃO  TOTAL" and "Precipitacao Total" compare equal.
func NormalizeHeader(s string) string {
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.Join(strings.Fields(strings.ToUpper(foldAccents(s))), " ")
}

// foldAccents strips combining marks. transform.Chain keeps state, so each
// call builds its own chain; partitions normalize concurrently.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}

// HeaderSignature identifies a header layout independently of accents and
// capitalization. Column order is part of the signature.
func HeaderSignature(header []string) string {
	h := sha256.New()
	for _, col := range header {
		h.Write([]byte(NormalizeHeader(col)))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))[:12]
}
