package domain

import (
	"time"

	"cloud.google.com/go/civil"
)

// Window is the half-open interval [Start, End) a converter is validated for.
type Window struct {
	Start time.Time
	End   time.Time
}

// YearWindow covers a calendar year plus one day on each side, so readings
// near New Year that shift across the boundary after conversion are covered.
func YearWindow(year int) Window {
	return Window{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1),
		End:   time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1),
	}
}

// TimezoneConverter anchors naive timestamps written in a fixed source offset
// to a fixed target zone.
//
// Both zones must keep a single UTC offset over the window. INMET timestamps
// are UTC and America/Fortaleza has been UTC-3 without daylight saving since
// 2002, so no instant is ambiguous or skipped and conversion is total. If a
// zone that changes offset is configured, construction fails with
// ErrTimezoneAssumptionViolated instead of converting some hours wrong.
type TimezoneConverter struct {
	source       *time.Location
	target       *time.Location
	sourceOffset int
	targetOffset int
	window       Window
}

// Window returns the interval the converter was validated for.
func (c *TimezoneConverter) Window() Window { return c.window }

// NewTimezoneConverter validates both zones over w.
func NewTimezoneConverter(source, target *time.Location, w Window) (*TimezoneConverter, error) {
	sourceOffset, err := fixedOffset(source, w)
	if err != nil {
		return nil, err
	}
	targetOffset, err := fixedOffset(target, w)
	if err != nil {
		return nil, err
	}
	return &TimezoneConverter{
		source:       source,
		target:       target,
		sourceOffset: sourceOffset,
		targetOffset: targetOffset,
		window:       w,
	}, nil
}

// Target returns the zone converted instants are expressed in.
func (c *TimezoneConverter) Target() *time.Location { return c.target }

// Convert reads dt in the source zone and returns the same instant in the
// target zone. Offsets are checked again at the instant itself, so a
// timestamp outside the validated window cannot be converted silently.
func (c *TimezoneConverter) Convert(dt civil.DateTime) (time.Time, error) {
	t := dt.In(c.source)
	if _, off := t.Zone(); off != c.sourceOffset {
		return time.Time{}, &TimezoneError{Zone: c.source.String(), At: t, Offset: off, Expected: c.sourceOffset}
	}
	local := t.In(c.target)
	if _, off := local.Zone(); off != c.targetOffset {
		return time.Time{}, &TimezoneError{Zone: c.target.String(), At: t, Offset: off, Expected: c.targetOffset}
	}
	return local, nil
}

// fixedOffset returns the single UTC offset loc uses during w, walking the
// zone transitions inside the window.
func fixedOffset(loc *time.Location, w Window) (int, error) {
	t := w.Start.In(loc)
	_, offset := t.Zone()
	for {
		_, end := t.ZoneBounds()
		if end.IsZero() || !end.Before(w.End) {
			return offset, nil
		}
		t = end.In(loc)
		if _, off := t.Zone(); off != offset {
			return 0, &TimezoneError{Zone: loc.String(), At: end, Offset: off, Expected: offset}
		}
	}
}
