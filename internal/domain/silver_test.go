package domain

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func partition2023(t *testing.T) BronzePartition {
	t.Helper()
	row := func(date, hour, temp, precip, humidity string) RawObservationRecord {
		return rawRecord(rowOf(t, header2019, 2023, map[CanonicalField]string{
			FieldDate:          date,
			FieldHour:          hour,
			FieldTemperature:   temp,
			FieldPrecipitation: precip,
			FieldHumidity:      humidity,
			FieldWindDirection: "120",
			FieldWindSpeed:     "2,1",
		}))
	}
	return BronzePartition{
		Year:   2023,
		Header: header2019,
		Records: []RawObservationRecord{
			row("2023/03/10", "1200 UTC", "25,4", "0", "81"),
			row("2023/03/10", "1300 UTC", "---", ",2", "79"),
			row("2023/03/10", "1400 UTC", "27,1", "0", "101"),
			row("2023/04/02", "0000 UTC", "24,0", "-9999", "88"),
		},
	}
}

func TestSilverTransformer_Transform(t *testing.T) {
	tr := newTestTransformer(t)

	res, err := tr.Transform(partition2023(t))

	require.NoError(t, err)
	require.Len(t, res.Records, 4)

	first := res.Records[0]
	assert.Equal(t, testStation, first.StationID)
	assert.Equal(t, testMunicipio, first.Municipio)
	assert.Equal(t, testFile2023, first.SourceFile)
	assert.True(t, first.Timestamp.Equal(time.Date(2023, 3, 10, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, 9, first.Timestamp.Hour(), "expressed in the target zone")
	require.NotNil(t, first.Temperature)
	assert.Equal(t, 25.4, *first.Temperature)
	require.NotNil(t, first.WindDirection)
	assert.Equal(t, 120, *first.WindDirection)
	assert.Nil(t, first.Pressure, "empty column")

	t.Run("sentinel temperature is null", func(t *testing.T) {
		assert.Nil(t, res.Records[1].Temperature)
		require.NotNil(t, res.Records[1].Precipitation)
		assert.Equal(t, 0.2, *res.Records[1].Precipitation)
	})

	t.Run("out of range humidity is null", func(t *testing.T) {
		assert.Nil(t, res.Records[2].Humidity)
		require.NotNil(t, res.Records[2].Temperature)
	})

	t.Run("stats", func(t *testing.T) {
		s := res.Stats
		assert.Equal(t, 2023, s.Year)
		assert.Equal(t, "inmet-2019", s.SchemaVersion)
		assert.Equal(t, HeaderSignature(header2019), s.HeaderSignature)
		assert.Equal(t, 4, s.RecordsIn)
		assert.Equal(t, 4, s.RecordsOut)
		assert.Equal(t, 1, s.Nulls[FieldTemperature][NullSentinel])
		assert.Equal(t, 1, s.Nulls[FieldPrecipitation][NullSentinel])
		assert.Equal(t, 1, s.Nulls[FieldHumidity][NullOutOfRange])
		assert.Equal(t, 4, s.Nulls[FieldPressure][NullMissing])
		assert.Zero(t, s.Duplicates)
	})

	t.Run("partitioned by month", func(t *testing.T) {
		require.Len(t, res.Partitions, 2)
		assert.Equal(t, SilverPartitionKey{Year: 2023, Month: time.March}, res.Partitions[0].Key)
		assert.Len(t, res.Partitions[0].Records, 3)
		assert.Equal(t, "year=2023/month=04", res.Partitions[1].Key.String())
		assert.Len(t, res.Partitions[1].Records, 1)
	})
}

func TestSilverTransformer_Idempotent(t *testing.T) {
	tr := newTestTransformer(t)
	p := partition2023(t)

	first, err := tr.Transform(p)
	require.NoError(t, err)
	second, err := tr.Transform(p)
	require.NoError(t, err)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second run differs (-first +second):\n%s", diff)
	}
	assert.Equal(t, FingerprintSilver(2023, first.Records), FingerprintSilver(2023, second.Records))
}

func TestSilverTransformer_Deduplicates(t *testing.T) {
	tr := newTestTransformer(t)
	sparse := rawRecord(rowOf(t, header2019, 2023, map[CanonicalField]string{
		FieldDate: "2023/03/10", FieldHour: "1200 UTC", FieldTemperature: "25,4", FieldPrecipitation: "---",
	}))
	complete := rawRecord(rowOf(t, header2019, 2023, map[CanonicalField]string{
		FieldDate: "2023/03/10", FieldHour: "1200 UTC", FieldTemperature: "25,6", FieldPrecipitation: "0",
	}))
	complete.SourceFile = "reissued.csv"

	res, err := tr.Transform(BronzePartition{
		Year:    2023,
		Header:  header2019,
		Records: []RawObservationRecord{complete, sparse},
	})

	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "reissued.csv", res.Records[0].SourceFile)
	assert.Equal(t, 25.6, *res.Records[0].Temperature)
	assert.Equal(t, 1, res.Stats.Duplicates)
}

func TestSilverTransformer_SchemaDrift(t *testing.T) {
	tr := newTestTransformer(t)
	values := map[CanonicalField]string{
		FieldDate:          "2023/08/01",
		FieldHour:          "1800 UTC",
		FieldTemperature:   "29,9",
		FieldPrecipitation: "0",
		FieldHumidity:      "64",
		FieldWindGust:      "8,2",
	}

	reversed := make([]string, len(header2019))
	for i, h := range header2019 {
		reversed[len(header2019)-1-i] = h
	}
	require.NotEqual(t, HeaderSignature(header2019), HeaderSignature(reversed))

	a, err := tr.Transform(BronzePartition{Year: 2023, Header: header2019,
		Records: []RawObservationRecord{rawRecord(rowOf(t, header2019, 2023, values))}})
	require.NoError(t, err)
	b, err := tr.Transform(BronzePartition{Year: 2023, Header: reversed,
		Records: []RawObservationRecord{rawRecord(rowOf(t, reversed, 2023, values))}})
	require.NoError(t, err)

	if diff := cmp.Diff(a.Records, b.Records); diff != "" {
		t.Errorf("column order changed the records (-a +b):\n%s", diff)
	}
}

func TestSilverTransformer_OldLayout(t *testing.T) {
	tr := newTestTransformer(t)
	row := rawRecord(rowOf(t, header2018, 2018, map[CanonicalField]string{
		FieldDate: "2018-06-01", FieldHour: "15:00", FieldTemperature: "28,3", FieldPrecipitation: "-9999",
	}))

	res, err := tr.Transform(BronzePartition{Year: 2018, Header: header2018, Records: []RawObservationRecord{row}})

	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.True(t, res.Records[0].Timestamp.Equal(time.Date(2018, 6, 1, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, 28.3, *res.Records[0].Temperature)
	assert.Nil(t, res.Records[0].Precipitation)
	assert.Equal(t, "inmet-2000", res.Stats.SchemaVersion)
}

func TestSilverTransformer_DropsUnkeyableRows(t *testing.T) {
	tr := newTestTransformer(t)
	good := rawRecord(rowOf(t, header2019, 2023, map[CanonicalField]string{
		FieldDate: "2023/03/10", FieldHour: "1200 UTC", FieldTemperature: "25", FieldPrecipitation: "0",
	}))
	noTime := rawRecord(rowOf(t, header2019, 2023, map[CanonicalField]string{
		FieldDate: "2023/03/10", FieldHour: "---", FieldTemperature: "25", FieldPrecipitation: "0",
	}))
	noStation := good
	noStation.StationID = " "
	short := good
	short.Values = good.Values[:3]
	lastYear := rawRecord(rowOf(t, header2019, 2023, map[CanonicalField]string{
		FieldDate: "2022/12/31", FieldHour: "2300 UTC", FieldTemperature: "25", FieldPrecipitation: "0",
	}))

	res, err := tr.Transform(BronzePartition{
		Year:    2023,
		Header:  header2019,
		Records: []RawObservationRecord{good, noTime, noStation, short, lastYear},
	})

	require.NoError(t, err)
	assert.Len(t, res.Records, 1)
	assert.Equal(t, 1, res.Stats.DroppedTimestamp)
	assert.Equal(t, 1, res.Stats.DroppedIdentity)
	assert.Equal(t, 1, res.Stats.ShortRows)
	assert.Equal(t, 1, res.Stats.OutOfPartition)
	// The short row shares good's key and has fewer values, so it loses.
	assert.Equal(t, 1, res.Stats.Duplicates)
	assert.Equal(t, 25.0, *res.Records[0].Temperature)
}

func TestSilverTransformer_SchemaMismatchStopsPartition(t *testing.T) {
	tr := newTestTransformer(t)
	header := []string{"Data", "Hora UTC", "UMIDADE RELATIVA DO AR, HORARIA (%)"}

	res, err := tr.Transform(BronzePartition{
		Year:    2023,
		Header:  header,
		Records: []RawObservationRecord{rawRecord([]string{"2023/03/10", "1200 UTC", "80"})},
	})

	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Equal(t, KindSchemaMismatch, KindOf(err))
	assert.Empty(t, res.Records)
	assert.Empty(t, res.Partitions)
}

func TestSilverTransformer_TimezoneViolationStopsPartition(t *testing.T) {
	tr := NewSilverTransformer(
		NewSchemaNormalizer(DefaultSchemaVersions()),
		NewTypeCoercer(DefaultSentinels()),
		time.UTC,
		loadZone(t, "America/Sao_Paulo"),
		nil,
	)

	res, err := tr.Transform(BronzePartition{Year: 2018, Header: header2018})

	require.ErrorIs(t, err, ErrTimezoneAssumptionViolated)
	assert.Equal(t, KindTimezone, KindOf(err))
	assert.Empty(t, res.Records)
}

func TestSilverTransformer_PartitionIndependence(t *testing.T) {
	tr := newTestTransformer(t)
	p2023 := partition2023(t)
	p2022 := BronzePartition{
		Year:   2022,
		Header: header2019,
		Records: []RawObservationRecord{rawRecord(rowOf(t, header2019, 2022, map[CanonicalField]string{
			FieldDate: "2022/12/31", FieldHour: "2300 UTC", FieldTemperature: "26", FieldPrecipitation: "0",
		}))},
	}

	before, err := tr.Transform(p2022)
	require.NoError(t, err)
	_, err = tr.Transform(p2023)
	require.NoError(t, err)
	after, err := tr.Transform(p2022)
	require.NoError(t, err)

	assert.Empty(t, cmp.Diff(before, after))
	for _, part := range before.Partitions {
		assert.Equal(t, 2022, part.Key.Year)
	}
}

func TestSplitSilver(t *testing.T) {
	feb := observation(testStation, time.Date(2023, 2, 1, 0, 30, 0, 0, time.UTC), f64(24))
	jan := observation(testStation, time.Date(2023, 1, 31, 23, 0, 0, 0, time.UTC), f64(25))

	parts := SplitSilver([]CleanObservationRecord{feb, jan})

	// Keys follow the UTC calendar: feb is still January 31st locally.
	require.Len(t, parts, 2)
	assert.Equal(t, time.January, parts[0].Key.Month)
	assert.Equal(t, time.February, parts[1].Key.Month)
}

func TestMeasurements_Float(t *testing.T) {
	m := Measurements{Temperature: f64(24.5), Humidity: f64(80), WindDirection: new(int)}

	assert.InDelta(t, 24.5, *m.Float(FieldTemperature), 1e-9)
	assert.InDelta(t, 80, *m.Float(FieldHumidity), 1e-9)
	assert.Nil(t, m.Float(FieldPrecipitation))
	assert.Nil(t, m.Float(FieldWindDirection), "not a float field")
	assert.Nil(t, m.Float(FieldDate))
}
