package timezone_test

import (
	"errors"
	"testing"
	"time"

	"github.com/greetingsvc/scheduler/internal/domain"
	"github.com/greetingsvc/scheduler/internal/timezone"
)

func TestValidateZone(t *testing.T) {
	cases := []struct {
		zone string
		want bool
	}{
		{"America/New_York", true},
		{"Asia/Tokyo", true},
		{"UTC", true},
		{"", false},
		{"EST", false},
		{"PST", false},
		{"Not/AZone", false},
		{"America/New_York\x00", false},
		{"America/New_York;rm -rf /", false},
		{" America/New_York", false},
	}

	for _, c := range cases {
		if got := timezone.ValidateZone(c.zone); got != c.want {
			t.Errorf("ValidateZone(%q) = %v, want %v", c.zone, got, c.want)
		}
	}
}

func TestIsAnniversaryToday_LeapYearFallback(t *testing.T) {
	cal := domain.CalendarDate{Month: time.February, Day: 29}

	// There is no clock seam, so the Feb 29 expectation is derived from
	// today's UTC date: Feb 29 matches on Feb 29, and on Feb 28 only in a
	// non-leap year (Mar 1 is never a fallback). The same-day match is
	// checked as well.
	today := time.Now().UTC()
	cal2 := domain.CalendarDate{Month: today.Month(), Day: today.Day()}
	ok, err := timezone.IsAnniversaryToday(cal2, "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatalf("expected today's own (month,day) to match")
	}

	leapOK, err := timezone.IsAnniversaryToday(cal, "UTC")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantLeap := today.Month() == time.February && (today.Day() == 29 || (today.Day() == 28 && !isLeap(today.Year())))
	if leapOK != wantLeap {
		t.Fatalf("IsAnniversaryToday(Feb 29) on %s = %v, want %v", today.Format("2006-01-02"), leapOK, wantLeap)
	}
}

func TestComputeSendInstant_InvalidDateForYear(t *testing.T) {
	year := time.Now().UTC().Year()
	if isLeap(year) {
		t.Skip("current year is a leap year; Feb 29 is valid this run")
	}

	cal := domain.CalendarDate{Month: time.February, Day: 29}
	_, err := timezone.ComputeSendInstant(cal, "UTC")
	if !errors.Is(err, domain.ErrInvalidDateForYear) {
		t.Fatalf("expected ErrInvalidDateForYear, got %v", err)
	}
}

func TestComputeSendInstant_RoundTrip(t *testing.T) {
	cal := domain.CalendarDate{Month: time.June, Day: 15}
	instant, err := timezone.ComputeSendInstant(cal, "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loc, _ := time.LoadLocation("America/New_York")
	local := instant.In(loc)
	if local.Hour() != 9 || local.Minute() != 0 {
		t.Fatalf("expected 09:00 local, got %02d:%02d", local.Hour(), local.Minute())
	}
	if local.Month() != time.June || local.Day() != 15 {
		t.Fatalf("expected June 15 local, got %s %d", local.Month(), local.Day())
	}
	if instant.Second() != 0 || instant.Nanosecond() != 0 {
		t.Fatalf("expected minute precision, got %v", instant)
	}
}

func TestComputeSendInstant_DSTSpringForward(t *testing.T) {
	cal := domain.CalendarDate{Month: time.March, Day: 9}
	instant, err := timezone.ComputeSendInstant(cal, "America/New_York")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loc, _ := time.LoadLocation("America/New_York")
	local := instant.In(loc)
	if local.Hour() != 9 {
		t.Fatalf("09:00 local should be unaffected by the 02:00-03:00 spring-forward gap, got hour=%d", local.Hour())
	}
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}
