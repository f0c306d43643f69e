package bronze

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Station is the metadata block of an INMET file.
type Station struct {
	Region    string
	State     string
	Code      string
	Municipio string
	Latitude  float64
	Longitude float64
	Altitude  float64
	Founded   string
}

// FileName returns the archive name of a station's file for year.
func FileName(st Station, year int) string {
	return fmt.Sprintf("INMET_%s_%s_%s_%s_01-01-%04d_A_31-12-%04d.CSV",
		st.Region, st.State, st.Code, st.Municipio, year, year)
}

// WriteFile encodes one station file the way INMET publishes it: Latin-1,
// CRLF line ends, metadata block, then ';'-separated rows each closed by a
// trailing delimiter. Text outside Latin-1 fails the write.
func WriteFile(w io.Writer, st Station, header []string, rows [][]string) error {
	enc := charmap.ISO8859_1.NewEncoder().Writer(w)

	meta := [metadataLines][2]string{
		{"REGIÃO", st.Region},
		{"UF", st.State},
		{"ESTAÇÃO", st.Municipio},
		{"CODIGO (WMO)", st.Code},
		{"LATITUDE", decimalComma(st.Latitude)},
		{"LONGITUDE", decimalComma(st.Longitude)},
		{"ALTITUDE", decimalComma(st.Altitude)},
		{"DATA DE FUNDAÇÃO", st.Founded},
	}
	for _, kv := range meta {
		if _, err := fmt.Fprintf(enc, "%s:;%s\r\n", kv[0], kv[1]); err != nil {
			return fmt.Errorf("write metadata: %w", err)
		}
	}

	cw := csv.NewWriter(enc)
	cw.Comma = delimiter
	cw.UseCRLF = true
	if err := cw.Write(append(append([]string(nil), header...), "")); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(append(append([]string(nil), row...), "")); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func decimalComma(v float64) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', -1, 64), ".", ",", 1)
}
