package domain

import "errors"

// Kind is the small closed error taxonomy the whole pipeline classifies
// failures into. Scheduler loops, the worker pool, and the outbound sender
// all switch on Kind rather than inspecting error strings.
type Kind string

const (
	KindValidation       Kind = "VALIDATION"
	KindNotFound         Kind = "NOT_FOUND"
	KindConflict         Kind = "CONFLICT"
	KindTransientExternal Kind = "TRANSIENT_EXTERNAL"
	KindPermanentExternal Kind = "PERMANENT_EXTERNAL"
	KindInternal         Kind = "INTERNAL"
)

// Error carries a Kind alongside the usual wrapped error chain so call
// sites can do one errors.As instead of chaining sentinel comparisons.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op != "" {
		return e.Op + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind of err, defaulting to KindInternal when err
// carries none. The worker pool treats KindInternal like any other
// non-permanent kind: the job is retried.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrMessageNotFound = errors.New("message record not found")
	ErrConflict        = errors.New("idempotency key already has a non-terminal record")
	ErrCircuitOpen     = errors.New("circuit open")
	ErrInvalidZone     = errors.New("invalid IANA zone")
	ErrInvalidDateForYear = errors.New("INVALID_DATE_FOR_YEAR")
)
