package datetime

import (
	"fmt"
	"time"
)

var (
	dayNames   = [...]string{"Minggu", "Senin", "Selasa", "Rabu", "Kamis", "Jumat", "Sabtu"}
	monthNames = [...]string{"Januari", "Februari", "Maret", "April", "Mei", "Juni", "Juli",
		"Agustus", "September", "Oktober", "November", "Desember"}
)

// Format renders t for chat replies, e.g. "Rabu, 25 Desember 2030 17.00 WITA".
func Format(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	zone, _ := t.Zone()
	return fmt.Sprintf("%s, %d %s %d %02d.%02d %s",
		dayNames[t.Weekday()], t.Day(), monthNames[t.Month()-1], t.Year(), t.Hour(), t.Minute(), zone)
}

// Short renders t as "25/12/2030 17:00", the same shape users type.
func Short(t time.Time, loc *time.Location) string {
	if loc != nil {
		t = t.In(loc)
	}
	return t.Format("02/01/2006 15:04")
}

// LoadLocation resolves a timezone name, defaulting to Asia/Makassar.
// If the tz database is unavailable it falls back to a fixed UTC+8 zone
// named WITA.
func LoadLocation(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultTimezone
	}
	loc, err := time.LoadLocation(name)
	if err == nil {
		return loc, nil
	}
	if name == DefaultTimezone {
		return time.FixedZone("WITA", 8*60*60), nil
	}
	return nil, fmt.Errorf("datetime: load location %q: %w", name, err)
}

const DefaultTimezone = "Asia/Makassar"
