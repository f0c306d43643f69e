package lake

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/couchcryptid/inmet-climate-etl/internal/domain"
)

// silverRow is the Parquet layout of a Silver record. The instant is stored
// in UTC; readers restore the civil zone.
type silverRow struct {
	StationID  string    `parquet:"station_id"`
	Timestamp  time.Time `parquet:"timestamp,timestamp(millisecond)"`
	Municipio  string    `parquet:"municipio"`
	SourceFile string    `parquet:"source_file"`

	Temperature    *float64 `parquet:"temperature_c,optional"`
	TemperatureMax *float64 `parquet:"temperature_max_c,optional"`
	TemperatureMin *float64 `parquet:"temperature_min_c,optional"`
	DewPoint       *float64 `parquet:"dew_point_c,optional"`
	Precipitation  *float64 `parquet:"precipitation_mm,optional"`
	Humidity       *float64 `parquet:"humidity_pct,optional"`
	Pressure       *float64 `parquet:"pressure_mb,optional"`
	Radiation      *float64 `parquet:"radiation_kj_m2,optional"`
	WindSpeed      *float64 `parquet:"wind_speed_ms,optional"`
	WindGust       *float64 `parquet:"wind_gust_ms,optional"`
	WindDirection  *int32   `parquet:"wind_direction_deg,optional"`
}

// goldRow is the Parquet layout of a daily aggregate. Date is the number of
// days since 1970-01-01.
type goldRow struct {
	Municipio string `parquet:"municipio"`
	Date      int32  `parquet:"date,date"`

	TempMax            *float64 `parquet:"temp_max,optional"`
	TempMin            *float64 `parquet:"temp_min,optional"`
	TempMean           *float64 `parquet:"temp_mean,optional"`
	PrecipitationTotal *float64 `parquet:"precipitation_total,optional"`
	ThermalAmplitude   *float64 `parquet:"thermal_amplitude,optional"`
	HumidityMean       *float64 `parquet:"humidity_mean,optional"`
	WindSpeedMean      *float64 `parquet:"wind_speed_mean,optional"`
	WindGustMax        *float64 `parquet:"wind_gust_max,optional"`
	RadiationTotal     *float64 `parquet:"radiation_total,optional"`
	ObservationCount   int32    `parquet:"observation_count"`
}

var epoch = civil.Date{Year: 1970, Month: time.January, Day: 1}

func toSilverRow(r domain.CleanObservationRecord) silverRow {
	m := r.Measurements
	row := silverRow{
		StationID:      r.StationID,
		Timestamp:      r.Timestamp.UTC(),
		Municipio:      r.Municipio,
		SourceFile:     r.SourceFile,
		Temperature:    m.Temperature,
		TemperatureMax: m.TemperatureMax,
		TemperatureMin: m.TemperatureMin,
		DewPoint:       m.DewPoint,
		Precipitation:  m.Precipitation,
		Humidity:       m.Humidity,
		Pressure:       m.Pressure,
		Radiation:      m.Radiation,
		WindSpeed:      m.WindSpeed,
		WindGust:       m.WindGust,
	}
	if m.WindDirection != nil {
		d := int32(*m.WindDirection)
		row.WindDirection = &d
	}
	return row
}

func fromSilverRow(row silverRow, zone *time.Location) domain.CleanObservationRecord {
	rec := domain.CleanObservationRecord{
		StationID:  row.StationID,
		Timestamp:  row.Timestamp.In(zone),
		Municipio:  row.Municipio,
		SourceFile: row.SourceFile,
		Measurements: domain.Measurements{
			Temperature:    row.Temperature,
			TemperatureMax: row.TemperatureMax,
			TemperatureMin: row.TemperatureMin,
			DewPoint:       row.DewPoint,
			Precipitation:  row.Precipitation,
			Humidity:       row.Humidity,
			Pressure:       row.Pressure,
			Radiation:      row.Radiation,
			WindSpeed:      row.WindSpeed,
			WindGust:       row.WindGust,
		},
	}
	if row.WindDirection != nil {
		d := int(*row.WindDirection)
		rec.WindDirection = &d
	}
	return rec
}

func toGoldRow(r domain.DailyAggregateRecord) goldRow {
	return goldRow{
		Municipio:          r.Municipio,
		Date:               int32(r.Date.DaysSince(epoch)),
		TempMax:            r.TempMax,
		TempMin:            r.TempMin,
		TempMean:           r.TempMean,
		PrecipitationTotal: r.PrecipitationTotal,
		ThermalAmplitude:   r.ThermalAmplitude,
		HumidityMean:       r.HumidityMean,
		WindSpeedMean:      r.WindSpeedMean,
		WindGustMax:        r.WindGustMax,
		RadiationTotal:     r.RadiationTotal,
		ObservationCount:   int32(r.ObservationCount),
	}
}

func fromGoldRow(row goldRow) domain.DailyAggregateRecord {
	return domain.DailyAggregateRecord{
		Municipio:          row.Municipio,
		Date:               epoch.AddDays(int(row.Date)),
		TempMax:            row.TempMax,
		TempMin:            row.TempMin,
		TempMean:           row.TempMean,
		PrecipitationTotal: row.PrecipitationTotal,
		ThermalAmplitude:   row.ThermalAmplitude,
		HumidityMean:       row.HumidityMean,
		WindSpeedMean:      row.WindSpeedMean,
		WindGustMax:        row.WindGustMax,
		RadiationTotal:     row.RadiationTotal,
		ObservationCount:   int(row.ObservationCount),
	}
}
