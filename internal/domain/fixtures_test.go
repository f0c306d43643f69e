package domain

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/require"
)

// header2019 is the INMET header from 2019 on, trailing empty column included.
var header2019 = []string{
	"Data",
	"Hora UTC",
	"PRECIPITAÇÃO TOTAL, HORÁRIO (mm)",
	"PRESSAO ATMOSFERICA AO NIVEL DA ESTACAO, HORARIA (mB)",
	"PRESSÃO ATMOSFERICA MAX.NA HORA ANT. (AUT) (mB)",
	"RADIACAO GLOBAL (Kj/m²)",
	"TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)",
	"TEMPERATURA DO PONTO DE ORVALHO (°C)",
	"TEMPERATURA MÁXIMA NA HORA ANT. (AUT) (°C)",
	"TEMPERATURA MÍNIMA NA HORA ANT. (AUT) (°C)",
	"UMIDADE RELATIVA DO AR, HORARIA (%)",
	"VENTO, DIREÇÃO HORARIA (gr) (° (gr))",
	"VENTO, RAJADA MAXIMA (m/s)",
	"VENTO, VELOCIDADE HORARIA (m/s)",
	"",
}

// header2018 is the pre-2019 header: different timestamp columns, some
// measurement headers without accents.
var header2018 = []string{
	"DATA (YYYY-MM-DD)",
	"HORA (UTC)",
	"PRECIPITACAO TOTAL, HORARIO (mm)",
	"PRESSAO ATMOSFERICA AO NIVEL DA ESTACAO, HORARIA (mB)",
	"RADIACAO GLOBAL (KJ/m²)",
	"TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)",
	"TEMPERATURA DO PONTO DE ORVALHO (°C)",
	"TEMPERATURA MAXIMA NA HORA ANT. (AUT) (°C)",
	"TEMPERATURA MINIMA NA HORA ANT. (AUT) (°C)",
	"UMIDADE RELATIVA DO AR, HORARIA (%)",
	"VENTO, DIRECAO HORARIA (gr) (° (gr))",
	"VENTO, RAJADA MAXIMA (m/s)",
	"VENTO, VELOCIDADE HORARIA (m/s)",
	"",
}

const (
	testStation   = "A320"
	testMunicipio = "JOAO PESSOA"
	testFile2023  = "INMET_NE_PB_A320_JOAO PESSOA_01-01-2023_A_31-12-2023.CSV"
)

func loadZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

// rowOf lays out values by canonical field in the column order of header.
func rowOf(t *testing.T, header []string, year int, vals map[CanonicalField]string) []string {
	t.Helper()
	m, err := NewSchemaNormalizer(DefaultSchemaVersions()).Normalize(header, year)
	require.NoError(t, err)
	row := make([]string, len(header))
	for f, v := range vals {
		i, ok := m.Index[f]
		require.True(t, ok, "header has no column for %s", f)
		row[i] = v
	}
	return row
}

func rawRecord(values []string) RawObservationRecord {
	return RawObservationRecord{
		StationID:  testStation,
		Municipio:  testMunicipio,
		SourceFile: testFile2023,
		Values:     values,
	}
}

func newTestTransformer(t *testing.T) *SilverTransformer {
	t.Helper()
	return NewSilverTransformer(
		NewSchemaNormalizer(DefaultSchemaVersions()),
		NewTypeCoercer(DefaultSentinels()),
		time.UTC,
		loadZone(t, "America/Fortaleza"),
		nil,
	)
}

func f64(v float64) *float64 { return &v }

func intp(v int) *int { return &v }

// observation builds a clean record at the given UTC wall time.
func observation(station string, utc time.Time, temp *float64) CleanObservationRecord {
	fortaleza := time.FixedZone("-03", -3*60*60)
	return CleanObservationRecord{
		StationID:    station,
		Timestamp:    utc.In(fortaleza),
		Municipio:    testMunicipio,
		SourceFile:   testFile2023,
		Measurements: Measurements{Temperature: temp},
	}
}
