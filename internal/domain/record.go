package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// RawObservationRecord is one data row as read from a Bronze file. Values
// follow the column order of the partition header and are not validated.
type RawObservationRecord struct {
	StationID  string
	Municipio  string
	SourceFile string
	Values     []string
}

// BronzePartition is the raw content of one archive year. Records are in
// ingestion order, which the deduplication tie-break relies on.
type BronzePartition struct {
	Year    int
	Header  []string
	Records []RawObservationRecord
}

// Measurements holds the typed hourly readings of a station. A nil pointer
// means the value was missing, a sentinel, unparsable or out of range.
type Measurements struct {
	Temperature    *float64 `json:"temperature_c"`
	TemperatureMax *float64 `json:"temperature_max_c"`
	TemperatureMin *float64 `json:"temperature_min_c"`
	DewPoint       *float64 `json:"dew_point_c"`
	Precipitation  *float64 `json:"precipitation_mm"`
	Humidity       *float64 `json:"humidity_pct"`
	Pressure       *float64 `json:"pressure_mb"`
	Radiation      *float64 `json:"radiation_kj_m2"`
	WindSpeed      *float64 `json:"wind_speed_ms"`
	WindGust       *float64 `json:"wind_gust_ms"`
	WindDirection  *int     `json:"wind_direction_deg"`
}

// NullCount returns how many measurement fields are null.
func (m Measurements) NullCount() int {
	n := 0
	for _, v := range []*float64{
		m.Temperature, m.TemperatureMax, m.TemperatureMin, m.DewPoint,
		m.Precipitation, m.Humidity, m.Pressure, m.Radiation,
		m.WindSpeed, m.WindGust,
	} {
		if v == nil {
			n++
		}
	}
	if m.WindDirection == nil {
		n++
	}
	return n
}

// CleanObservationRecord is a typed Silver row. Timestamp is expressed in
// the target civil zone.
type CleanObservationRecord struct {
	StationID  string    `json:"station_id"`
	Timestamp  time.Time `json:"timestamp"`
	Municipio  string    `json:"municipio"`
	SourceFile string    `json:"source_file"`
	Measurements
}

// DailyAggregateRecord is a Gold row: the daily statistics of one
// municipality. Statistics are nil when the day had no valid readings.
type DailyAggregateRecord struct {
	Municipio          string     `json:"municipio"`
	Date               civil.Date `json:"date"`
	TempMax            *float64   `json:"temp_max"`
	TempMin            *float64   `json:"temp_min"`
	TempMean           *float64   `json:"temp_mean"`
	PrecipitationTotal *float64   `json:"precipitation_total"`
	ThermalAmplitude   *float64   `json:"thermal_amplitude"`
	HumidityMean       *float64   `json:"humidity_mean"`
	WindSpeedMean      *float64   `json:"wind_speed_mean"`
	WindGustMax        *float64   `json:"wind_gust_max"`
	RadiationTotal     *float64   `json:"radiation_total"`
	ObservationCount   int        `json:"observation_count"`
}
