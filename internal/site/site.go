// Package site provides the observing site location and the observing-night
// arithmetic used when validating and resolving nightly schedules.
package site

import (
	"fmt"
	"time"

	"github.com/nathan-osman/go-sunrise"
)

// Location describes the observing site.
type Location struct {
	// Latitude in decimal degrees, north positive.
	Latitude float64
	// Longitude in decimal degrees, east positive.
	Longitude float64
	// Elevation above sea level in metres.
	Elevation float64
}

// Validate checks that the coordinates are on the globe.
func (l Location) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", l.Longitude)
	}
	return nil
}

// Night identifies one observing night by the date of its local noon.
// The night labelled 2026-08-25 runs from local noon on the 25th until
// local noon on the 26th.
type Night struct {
	Year  int
	Month time.Month
	Day   int
}

// ParseNight parses a YYYY-MM-DD night label.
func ParseNight(s string) (Night, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Night{}, fmt.Errorf("%q is not a valid date", s)
	}
	return Night{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (n Night) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", n.Year, n.Month, n.Day)
}

// CurrentNight returns the observing night containing the given instant:
// the day on which local noon most recently passed at the site.
// Local time is approximated from the site longitude (15 degrees per hour),
// which is exact enough to pick the correct noon boundary.
func (l Location) CurrentNight(now time.Time) Night {
	offset := time.Duration(l.Longitude / 15 * float64(time.Hour))
	local := now.UTC().Add(offset)
	if local.Hour() < 12 {
		local = local.AddDate(0, 0, -1)
	}
	return Night{Year: local.Year(), Month: local.Month(), Day: local.Day()}
}

// NoonWindow returns the UTC instants of local noon on the night's date and
// local noon the following day. Schedule times must fall inside this window.
func (l Location) NoonWindow(n Night) (time.Time, time.Time) {
	offset := time.Duration(l.Longitude / 15 * float64(time.Hour))
	noon := time.Date(n.Year, n.Month, n.Day, 12, 0, 0, 0, time.UTC).Add(-offset)
	return noon, noon.Add(24 * time.Hour)
}

// NightStartEnd returns sunset and sunrise bracketing the observing night:
// sunset after local noon on the night's date, sunrise before local noon
// the following day.
func (l Location) NightStartEnd(n Night) (time.Time, time.Time, error) {
	noonStart, noonEnd := l.NoonWindow(n)

	_, set := sunrise.SunriseSunset(l.Latitude, l.Longitude, n.Year, n.Month, n.Day)
	if set.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("no sunset at %v,%v on %s", l.Latitude, l.Longitude, n)
	}
	if set.Before(noonStart) {
		// Sunset on the calendar date fell before local noon; the one that
		// opens this observing night is on the following calendar day.
		next := time.Date(n.Year, n.Month, n.Day, 12, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
		_, set = sunrise.SunriseSunset(l.Latitude, l.Longitude, next.Year(), next.Month(), next.Day())
	}

	morning := set.Add(12 * time.Hour)
	rise, _ := sunrise.SunriseSunset(l.Latitude, l.Longitude, morning.Year(), morning.Month(), morning.Day())
	if rise.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("no sunrise at %v,%v on %s", l.Latitude, l.Longitude, n)
	}
	if rise.Before(set) {
		next := morning.AddDate(0, 0, 1)
		rise, _ = sunrise.SunriseSunset(l.Latitude, l.Longitude, next.Year(), next.Month(), next.Day())
	}
	if !rise.After(set) || rise.After(noonEnd) {
		return time.Time{}, time.Time{}, fmt.Errorf("could not bracket night %s between %v and %v", n, set, rise)
	}

	return set.UTC(), rise.UTC(), nil
}
