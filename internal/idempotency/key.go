// Package idempotency implements the canonical idempotency-key format
// described in spec §4.2: a deterministic, human-legible string derived
// from a user id, a message type, and a calendar occurrence date, used to
// prevent duplicate sends across retries, restarts, and queue redelivery.
package idempotency

import (
	"fmt"
	"strings"
	"time"

	"github.com/greetingsvc/scheduler/internal/domain"
)

const dateLayout = "2006-01-02"

// Components is the parsed form of an idempotency key.
type Components struct {
	UserID string
	Type   domain.MessageType
	Date   string // YYYY-MM-DD, zone-local to the user at generation time
}

// Generate builds the canonical "<user-id>:<TYPE>:<YYYY-MM-DD>" key.
// Fails with domain.KindValidation if userID is empty/whitespace, typ is
// empty, occursOn is the zero time, or userID contains a colon (which
// would make the key ambiguous to parse back out).
func Generate(userID string, typ domain.MessageType, occursOn time.Time) (string, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	if strings.TrimSpace(string(typ)) == "" {
		return "", domain.NewError(domain.KindValidation, "idempotency.Generate", fmt.Errorf("message type is empty"))
	}
	if strings.Contains(string(typ), ":") {
		return "", domain.NewError(domain.KindValidation, "idempotency.Generate", fmt.Errorf("message type %q contains ':'", typ))
	}
	if occursOn.IsZero() {
		return "", domain.NewError(domain.KindValidation, "idempotency.Generate", fmt.Errorf("occurrence date is zero"))
	}

	date := occursOn.Format(dateLayout)
	return strings.Join([]string{userID, string(typ), date}, ":"), nil
}

// Parse splits a canonical key back into its components, validating the
// date segment strictly against YYYY-MM-DD.
func Parse(key string) (Components, error) {
	if strings.TrimSpace(key) == "" {
		return Components{}, domain.NewError(domain.KindValidation, "idempotency.Parse", fmt.Errorf("key is empty"))
	}

	parts := strings.Split(key, ":")
	if len(parts) != 3 {
		return Components{}, domain.NewError(domain.KindValidation, "idempotency.Parse", fmt.Errorf("key %q does not have exactly 3 colon-separated segments", key))
	}

	userID, typ, date := parts[0], parts[1], parts[2]
	if err := validateUserID(userID); err != nil {
		return Components{}, err
	}
	if strings.TrimSpace(typ) == "" {
		return Components{}, domain.NewError(domain.KindValidation, "idempotency.Parse", fmt.Errorf("key %q has an empty type segment", key))
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return Components{}, domain.NewError(domain.KindValidation, "idempotency.Parse", fmt.Errorf("key %q has an invalid date segment: %w", key, err))
	}

	return Components{UserID: userID, Type: domain.MessageType(typ), Date: date}, nil
}

// Validate reports whether key round-trips through Parse cleanly.
func Validate(key string) bool {
	_, err := Parse(key)
	return err == nil
}

// SameUserAndDate reports whether two keys share both the user id and
// date segments, ignoring message type (a BIRTHDAY and an ANNIVERSARY key
// for the same user and day match).
func SameUserAndDate(a, b string) bool {
	ca, err := Parse(a)
	if err != nil {
		return false
	}
	cb, err := Parse(b)
	if err != nil {
		return false
	}
	return ca.UserID == cb.UserID && ca.Date == cb.Date
}

// ExtractComponents is Parse with the error swallowed into a zero value,
// for call sites that have already validated the key and just want the
// pieces (e.g. log fields, DLQ forensics).
func ExtractComponents(key string) Components {
	c, _ := Parse(key)
	return c
}

func validateUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.NewError(domain.KindValidation, "idempotency", fmt.Errorf("user id is empty"))
	}
	if strings.Contains(userID, ":") {
		return domain.NewError(domain.KindValidation, "idempotency", fmt.Errorf("user id %q contains ':'", userID))
	}
	return nil
}
