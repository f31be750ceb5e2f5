// Package datetime parses the "HH:MM DD/MM/YYYY" answers users type into
// the scheduling wizard and enforces the minimum lead time.
package datetime

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrFormat          = errors.New("datetime: bad format")
	ErrRange           = errors.New("datetime: component out of range")
	ErrNonexistentDate = errors.New("datetime: date does not exist")
	ErrTooSoon         = errors.New("datetime: not far enough in the future")
)

// DefaultMinLead is the minimum distance between now and a new entry.
const DefaultMinLead = 60 * time.Second

var (
	timeNoise = regexp.MustCompile(`[^\d:]`)
	dateNoise = regexp.MustCompile(`[^\d/]`)
	timeRe    = regexp.MustCompile(`^(\d{1,2}):(\d{1,2})$`)
	dateRe    = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// Parse combines a time ("17:00") and a date ("25/12/2030") into an instant
// in loc. Characters other than digits and the separator are dropped first,
// so "17.00"-style typos fail on format while "<17:00>" still parses.
//
// Dates that time.Date would normalize (31/02, 24:00 is already out of range)
// are rejected with ErrNonexistentDate.
func Parse(timeText, dateText string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	tm := timeRe.FindStringSubmatch(timeNoise.ReplaceAllString(timeText, ""))
	dm := dateRe.FindStringSubmatch(dateNoise.ReplaceAllString(dateText, ""))
	if tm == nil || dm == nil {
		return time.Time{}, ErrFormat
	}

	hour, minute := atoi(tm[1]), atoi(tm[2])
	day, month, year := atoi(dm[1]), atoi(dm[2]), atoi(dm[3])

	switch {
	case month < 1 || month > 12,
		day < 1 || day > 31,
		hour < 0 || hour > 23,
		minute < 0 || minute > 59,
		year < 1970 || year > 3000:
		return time.Time{}, fmt.Errorf("%w: %02d:%02d %02d/%02d/%04d", ErrRange, hour, minute, day, month, year)
	}

	t := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day || t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, fmt.Errorf("%w: %02d/%02d/%04d %02d:%02d", ErrNonexistentDate, day, month, year, hour, minute)
	}
	return t, nil
}

// SplitInput splits a single answer into its time and date halves.
// Exactly two whitespace separated parts are accepted.
func SplitInput(s string) (timeText, dateText string, err error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return "", "", ErrFormat
	}
	return parts[0], parts[1], nil
}

// ParseInput is SplitInput followed by Parse.
func ParseInput(s string, loc *time.Location) (time.Time, error) {
	tt, dt, err := SplitInput(s)
	if err != nil {
		return time.Time{}, err
	}
	return Parse(tt, dt, loc)
}

// CheckLead returns ErrTooSoon unless t is strictly after now+lead.
func CheckLead(t, now time.Time, lead time.Duration) error {
	if !t.After(now.Add(lead)) {
		return ErrTooSoon
	}
	return nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
