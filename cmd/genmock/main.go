// Command genmock writes synthetic INMET Bronze files for local runs and
// tests. Output is deterministic for a given seed and reproduces the quirks
// of the real archive: Latin-1 text, decimal commas, "-9999" and "---"
// sentinels, the pre-2019 header layout, "2400" hours and duplicated rows.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -dir data/bronze \
//	  -years 2018,2019 \
//	  -stations 3 \
//	  -zip
package main

import (
	"archive/zip"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/inmet-climate-etl/internal/adapter/bronze"
)

// stations are real INMET automatic stations of the Northeast region.
var stations = []bronze.Station{
	{Region: "NE", State: "PB", Code: "A320", Municipio: "JOAO PESSOA", Latitude: -7.16527777, Longitude: -34.81555555, Altitude: 33.5, Founded: "21/07/07"},
	{Region: "NE", State: "PB", Code: "A313", Municipio: "CAMPINA GRANDE", Latitude: -7.22555555, Longitude: -35.90472222, Altitude: 547.56, Founded: "13/05/06"},
	{Region: "NE", State: "PB", Code: "A321", Municipio: "PATOS", Latitude: -7.07972222, Longitude: -37.27277777, Altitude: 264.61, Founded: "10/07/07"},
	{Region: "NE", State: "PE", Code: "A301", Municipio: "RECIFE", Latitude: -8.05916666, Longitude: -34.95916666, Altitude: 11.3, Founded: "10/10/04"},
	{Region: "NE", State: "CE", Code: "A305", Municipio: "FORTALEZA", Latitude: -3.81555555, Longitude: -38.53777777, Altitude: 29.89, Founded: "05/10/05"},
	{Region: "NE", State: "PI", Code: "A312", Municipio: "TERESINA", Latitude: -5.08555555, Longitude: -42.81083333, Altitude: 75.73, Founded: "26/10/06"},
}

// Header layouts of the archive. The trailing empty column is added by
// bronze.WriteFile.
var (
	header2019 = []string{
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
	}
	header2018 = []string{
		"DATA (YYYY-MM-DD)",
		"HORA (UTC)",
		"PRECIPITACAO TOTAL, HORARIO (mm)",
		"PRESSAO ATMOSFERICA AO NIVEL DA ESTACAO, HORARIA (mB)",
		"PRESSAO ATMOSFERICA MAX.NA HORA ANT. (AUT) (mB)",
		"RADIACAO GLOBAL (KJ/m²)",
		"TEMPERATURA DO AR - BULBO SECO, HORARIA (°C)",
		"TEMPERATURA DO PONTO DE ORVALHO (°C)",
		"TEMPERATURA MAXIMA NA HORA ANT. (AUT) (°C)",
		"TEMPERATURA MINIMA NA HORA ANT. (AUT) (°C)",
		"UMIDADE RELATIVA DO AR, HORARIA (%)",
		"VENTO, DIRECAO HORARIA (gr) (° (gr))",
		"VENTO, RAJADA MAXIMA (m/s)",
		"VENTO, VELOCIDADE HORARIA (m/s)",
	}
)

type options struct {
	dir      string
	years    []int
	stations int
	days     int
	zip      bool
	seed     uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	dir := flag.String("dir", "data/bronze", "output Bronze directory")
	years := flag.String("years", "2018,2019", "comma-separated years to generate")
	n := flag.Int("stations", 3, fmt.Sprintf("number of stations (max %d)", len(stations)))
	days := flag.Int("days", 0, "days per year to generate, 0 for the whole year")
	asZip := flag.Bool("zip", false, "write <dir>/<year>.zip instead of <dir>/<year>/")
	seed := flag.Uint64("seed", 1, "random seed")
	flag.Parse()

	opts := options{dir: *dir, stations: *n, days: *days, zip: *asZip, seed: *seed}
	if opts.stations < 1 || opts.stations > len(stations) {
		return fmt.Errorf("-stations must be between 1 and %d", len(stations))
	}
	for _, s := range strings.Split(*years, ",") {
		y, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid year %q: %w", s, err)
		}
		opts.years = append(opts.years, y)
	}

	for _, year := range opts.years {
		if err := writeYear(opts, year); err != nil {
			return fmt.Errorf("year %d: %w", year, err)
		}
	}
	return nil
}

func writeYear(opts options, year int) error {
	if err := os.MkdirAll(opts.dir, 0o755); err != nil {
		return err
	}

	if !opts.zip {
		dir := filepath.Join(opts.dir, strconv.Itoa(year))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		for i, st := range stations[:opts.stations] {
			if err := writeStationFile(filepath.Join(dir, bronze.FileName(st, year)), opts, year, i); err != nil {
				return err
			}
		}
		log.Printf("%d: wrote %d files to %s", year, opts.stations, dir)
		return nil
	}

	path := filepath.Join(opts.dir, fmt.Sprintf("%d.zip", year))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for i, st := range stations[:opts.stations] {
		w, err := zw.Create(bronze.FileName(st, year))
		if err != nil {
			return err
		}
		if err := writeStation(w, opts, year, i); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	log.Printf("%d: wrote %d files to %s", year, opts.stations, path)
	return f.Sync()
}

func writeStationFile(path string, opts options, year, station int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeStation(f, opts, year, station); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func writeStation(w io.Writer, opts options, year, station int) error {
	rng := rand.New(rand.NewPCG(opts.seed, uint64(year)<<8|uint64(station)))
	header := header2019
	if year < 2019 {
		header = header2018
	}
	return bronze.WriteFile(w, stations[station], header, rows(rng, opts, year, station))
}

// rows generates hourly readings. One in roughly 200 values is a sentinel and
// one in roughly 500 rows is repeated with a gap in it.
func rows(rng *rand.Rand, opts options, year, station int) [][]string {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(1, 0, 0)
	if opts.days > 0 {
		end = start.AddDate(0, 0, opts.days)
	}

	altitude := stations[station].Altitude
	var out [][]string
	for ts := start; ts.Before(end); ts = ts.Add(time.Hour) {
		row := reading(rng, year, ts, altitude)
		out = append(out, row)
		if rng.IntN(500) == 0 {
			dup := append([]string(nil), row...)
			dup[2+rng.IntN(len(dup)-2)] = "-9999"
			out = append(out, dup)
		}
	}
	return out
}

func reading(rng *rand.Rand, year int, ts time.Time, altitude float64) []string {
	date, hour := ts.Format("2006/01/02"), ts.Format("1504")+" UTC"
	if year < 2019 {
		date, hour = ts.Format("2006-01-02"), ts.Format("15:04")
	}
	// Some exports write midnight of the first of the month as "2400".
	if ts.Hour() == 0 && ts.Day() == 1 {
		hour = "2400"
	}

	// Local solar hour in Brazil's Northeast is about UTC-3.
	local := float64((ts.Hour() + 21) % 24)
	daily := math.Sin((local - 9) / 24 * 2 * math.Pi)
	temp := 27 - altitude/150 + 4*daily + rng.NormFloat64()*0.6
	dew := temp - 4 - rng.Float64()*3
	tmax := temp + rng.Float64()*0.8
	tmin := temp - rng.Float64()*0.8
	humidity := math.Min(100, math.Max(20, 78-8*daily+rng.NormFloat64()*4))
	pressure := 1010 - altitude/8.3 + rng.NormFloat64()
	speed := math.Max(0, 3+rng.NormFloat64())
	gust := speed + rng.Float64()*4

	precip := 0.0
	if rng.IntN(12) == 0 {
		precip = rng.ExpFloat64() * 2
	}
	radiation := ""
	if local >= 6 && local <= 18 {
		radiation = comma(math.Max(0, 3200*math.Sin((local-6)/12*math.Pi)+rng.NormFloat64()*100), 1)
	}

	row := []string{
		date,
		hour,
		comma(precip, 1),
		comma(pressure, 1),
		comma(pressure+0.4, 1),
		radiation,
		comma(temp, 1),
		comma(dew, 1),
		comma(tmax, 1),
		comma(tmin, 1),
		strconv.Itoa(int(math.Round(humidity))),
		strconv.Itoa(rng.IntN(360)),
		comma(gust, 1),
		comma(speed, 1),
	}
	for i := 2; i < len(row); i++ {
		if rng.IntN(200) == 0 {
			row[i] = sentinel(rng)
		}
	}
	return row
}

func sentinel(rng *rand.Rand) string {
	if rng.IntN(2) == 0 {
		return "-9999"
	}
	return "---"
}

// comma formats v with a decimal comma, as the archive does.
func comma(v float64, places int) string {
	return strings.Replace(strconv.FormatFloat(v, 'f', places, 64), ".", ",", 1)
}
