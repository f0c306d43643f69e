package domain

import (
	"math"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
)

// NullReason says why a coerced value is null. The empty reason means the
// value was kept.
type NullReason string

const (
	NullNone       NullReason = ""
	NullMissing    NullReason = "missing"
	NullSentinel   NullReason = "sentinel"
	NullInvalid    NullReason = "invalid"
	NullOutOfRange NullReason = "out_of_range"
)

// DefaultSentinels are the INMET missing-value markers.
func DefaultSentinels() []string {
	return []string{"---", "-9999", "-9999.0"}
}

// TypeCoercer converts canonical raw strings to typed values. Sentinels and
// unparsable text become null with a reason; coercion never fails a batch.
type TypeCoercer struct {
	text    map[string]struct{}
	numeric map[float64]struct{}
}

// NewTypeCoercer builds a coercer treating the given strings as missing.
// Numeric sentinels also match other spellings of the same number, so
// "-9999" catches "-9999,00".
func NewTypeCoercer(sentinels []string) *TypeCoercer {
	c := &TypeCoercer{
		text:    make(map[string]struct{}, len(sentinels)),
		numeric: make(map[float64]struct{}),
	}
	for _, s := range sentinels {
		s = decimalPoint(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		c.text[s] = struct{}{}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			c.numeric[v] = struct{}{}
		}
	}
	return c
}

// Float coerces raw to a float64. It returns nil and the reason when the
// value is missing, a sentinel, or not a finite number.
func (c *TypeCoercer) Float(raw string) (*float64, NullReason) {
	s := decimalPoint(strings.TrimSpace(raw))
	if s == "" {
		return nil, NullMissing
	}
	if _, ok := c.text[s]; ok {
		return nil, NullSentinel
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, NullInvalid
	}
	if _, ok := c.numeric[v]; ok {
		return nil, NullSentinel
	}
	return &v, NullNone
}

// Int coerces raw to an integer. Integral decimals such as "180,0" are
// accepted; fractional values are invalid.
func (c *TypeCoercer) Int(raw string) (*int, NullReason) {
	f, reason := c.Float(raw)
	if f == nil {
		return nil, reason
	}
	if *f != math.Trunc(*f) || math.Abs(*f) > math.MaxInt32 {
		return nil, NullInvalid
	}
	v := int(*f)
	return &v, NullNone
}

// Timestamp combines a date written in layout with an INMET hour ("0300 UTC",
// "03:00", "300") into a naive date-time. "2400" reads as 00:00 of the same
// date, as the archive has always been processed.
func (c *TypeCoercer) Timestamp(date, hour, layout string) (civil.DateTime, NullReason) {
	date = strings.TrimSpace(date)
	if date == "" || strings.TrimSpace(hour) == "" {
		return civil.DateTime{}, NullMissing
	}
	if _, ok := c.text[date]; ok {
		return civil.DateTime{}, NullSentinel
	}

	d, err := time.Parse(layout, date)
	if err != nil {
		return civil.DateTime{}, NullInvalid
	}

	hh, mm, ok := parseHour(hour)
	if !ok {
		return civil.DateTime{}, NullInvalid
	}

	return civil.DateTime{
		Date: civil.DateOf(d),
		Time: civil.Time{Hour: hh, Minute: mm},
	}, NullNone
}

// parseHour reads the hour column of both INMET layouts.
func parseHour(raw string) (int, int, bool) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimSpace(strings.TrimSuffix(s, "UTC"))
	s = strings.ReplaceAll(s, ":", "")
	if s == "" || len(s) > 4 {
		return 0, 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, 0, false
		}
	}
	s = strings.Repeat("0", 4-len(s)) + s
	if s == "2400" {
		s = "0000"
	}

	hh, _ := strconv.Atoi(s[:2])
	mm, _ := strconv.Atoi(s[2:])
	if hh > 23 || mm > 59 {
		return 0, 0, false
	}
	return hh, mm, true
}

// decimalPoint turns a decimal comma into a point unless the value already
// uses a point.
func decimalPoint(s string) string {
	if strings.Contains(s, ",") && !strings.Contains(s, ".") {
		return strings.Replace(s, ",", ".", 1)
	}
	return s
}
