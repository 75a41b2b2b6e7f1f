package domain

import "time"

// MessageType is the small closed set of calendar-triggered message
// variants. Deliberately not open for extension — see DESIGN.md's entry
// for internal/domain/message.go.
type MessageType string

const (
	MessageTypeBirthday    MessageType = "BIRTHDAY"
	MessageTypeAnniversary MessageType = "ANNIVERSARY"
)

// Descriptor is the per-variant behavior the daily materializer and the
// render step need: which calendar field on the user applies, and how to
// turn a user into the fixed message body.
type Descriptor struct {
	Type            MessageType
	Label           string
	PickCalendarDate func(u User) *CalendarDate
	RenderBody       func(u User) string
}

var Descriptors = []Descriptor{
	{
		Type:  MessageTypeBirthday,
		Label: "birthday",
		PickCalendarDate: func(u User) *CalendarDate {
			return u.Birthday
		},
		RenderBody: func(u User) string {
			return "Hey " + u.FirstName + ", happy birthday!"
		},
	},
	{
		Type:  MessageTypeAnniversary,
		Label: "anniversary",
		PickCalendarDate: func(u User) *CalendarDate {
			return u.Anniversary
		},
		RenderBody: func(u User) string {
			return "Hey " + u.FirstName + ", happy work anniversary!"
		},
	},
}

// Status is the MessageRecord state machine of spec §4.3.
type Status string

const (
	StatusScheduled     Status = "SCHEDULED"
	StatusQueued        Status = "QUEUED"
	StatusSending       Status = "SENDING"
	StatusSent          Status = "SENT"
	StatusFailedRetry   Status = "FAILED_RETRY"
	StatusFailedTerminal Status = "FAILED_TERMINAL"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailedTerminal
}

// NonTerminalStatuses backs the partial-unique idempotency index described
// in spec §4.3: only rows in one of these statuses compete for a key.
var NonTerminalStatuses = []Status{StatusScheduled, StatusQueued, StatusSending, StatusFailedRetry}

// MessageRecord is the durable row described in spec §3.
type MessageRecord struct {
	ID             string
	UserID         string
	Type           MessageType
	Body           string
	ScheduledAt    time.Time
	ActualSentAt   *time.Time
	Status         Status
	RetryCount     int
	IdempotencyKey string
	VendorCode     *int
	VendorBody     *string
	LastError      *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
