// Package timezone implements the pure, stateless calendar-date-to-UTC-instant
// logic described in spec §4.1. Nothing in this package touches the network,
// a clock dependency beyond time.Now, or any store.
package timezone

import (
	"fmt"
	"strings"
	"time"

	"github.com/greetingsvc/scheduler/internal/domain"
)

// sendHour is the fixed local wall-clock hour every calendar-triggered
// message targets. Minute precision; seconds/millis are always zero.
const sendHour = 9

// ComputeSendInstant interprets cal as a (month, day) pair and returns the
// UTC instant corresponding to 09:00:00.000 on the current year's
// occurrence of that day in zone. Feb 29 in a non-leap current year fails
// with domain.ErrInvalidDateForYear — callers fall back to Feb 28 only
// after IsAnniversaryToday has already matched via the leap-year rule.
func ComputeSendInstant(cal domain.CalendarDate, zone string) (time.Time, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return time.Time{}, err
	}

	now := time.Now().In(loc)
	year := now.Year()

	if cal.Month == time.February && cal.Day == 29 && !isLeapYear(year) {
		return time.Time{}, domain.ErrInvalidDateForYear
	}

	// time.Date normalizes overflowing days (e.g. day=31 in a 30-day month)
	// instead of erroring — guard against silently landing on the wrong day.
	if !validDayOfMonth(cal.Month, cal.Day, year) {
		return time.Time{}, domain.ErrInvalidDateForYear
	}

	instant := time.Date(year, cal.Month, cal.Day, sendHour, 0, 0, 0, loc)
	return instant.UTC().Truncate(time.Minute), nil
}

// IsAnniversaryToday reports whether today, evaluated in zone, is the
// calendar day cal refers to — including the Feb-29-on-a-non-leap-year
// fallback to Feb 28 (but never Mar 1).
func IsAnniversaryToday(cal domain.CalendarDate, zone string) (bool, error) {
	loc, err := LoadLocation(zone)
	if err != nil {
		return false, err
	}

	today := time.Now().In(loc)
	if today.Month() == cal.Month && today.Day() == cal.Day {
		return true, nil
	}

	if cal.Month == time.February && cal.Day == 29 &&
		today.Month() == time.February && today.Day() == 28 &&
		!isLeapYear(today.Year()) {
		return true, nil
	}

	return false, nil
}

// ValidateZone accepts IANA zone names only. Empty strings, strings with
// control or shell metacharacters, and names unresolvable in the IANA
// database are all rejected.
func ValidateZone(zone string) bool {
	if zone == "" {
		return false
	}
	if strings.ContainsAny(zone, "\x00\r\n\t;|&$`<>(){}\\\"'*?[]~") {
		return false
	}
	if strings.TrimSpace(zone) != zone {
		return false
	}
	// A handful of common ambiguous abbreviations the Go tzdata loader
	// otherwise resolves without complaint. Reject them explicitly; see
	// spec §4.1's documented-deviation requirement.
	switch strings.ToUpper(zone) {
	case "EST", "EDT", "CST", "CDT", "MST", "MDT", "PST", "PDT", "GMT":
		return false
	}
	_, err := time.LoadLocation(zone)
	return err == nil
}

// LoadLocation validates then loads zone, returning domain.ErrInvalidZone
// wrapped with context on failure.
func LoadLocation(zone string) (*time.Location, error) {
	if !ValidateZone(zone) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidZone, zone)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidZone, zone, err)
	}
	return loc, nil
}

func isLeapYear(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func validDayOfMonth(month time.Month, day, year int) bool {
	if day < 1 {
		return false
	}
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfMonth := firstOfNext.AddDate(0, 0, -1)
	return day <= lastOfMonth.Day()
}
