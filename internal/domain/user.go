package domain

import "time"

// CalendarDate is a calendar day with no year, clock time, or offset —
// exactly the granularity spec §3 requires for birthday/anniversary.
type CalendarDate struct {
	Month time.Month
	Day   int
}

// User is the core's read-only view of the out-of-scope CRUD layer's
// user record. The core never writes these fields; RescheduleService only
// reacts to a notification carrying the new values.
type User struct {
	ID           string
	FirstName    string
	Email        string
	Zone         string
	Birthday     *CalendarDate
	Anniversary  *CalendarDate
	Deleted      bool
}
