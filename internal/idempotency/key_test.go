package idempotency_test

import (
	"testing"
	"time"

	"github.com/greetingsvc/scheduler/internal/domain"
	"github.com/greetingsvc/scheduler/internal/idempotency"
)

func TestGenerateParseRoundTrip(t *testing.T) {
	occursOn := time.Date(2026, time.March, 3, 0, 0, 0, 0, time.UTC)

	key, err := idempotency.Generate("user-42", domain.MessageTypeBirthday, occursOn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "user-42:BIRTHDAY:2026-03-03" {
		t.Fatalf("unexpected key: %q", key)
	}

	got, err := idempotency.Parse(key)
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	if got.UserID != "user-42" || got.Type != domain.MessageTypeBirthday || got.Date != "2026-03-03" {
		t.Fatalf("unexpected components: %+v", got)
	}
}

func TestGenerateRejectsColonInUserID(t *testing.T) {
	_, err := idempotency.Generate("user:42", domain.MessageTypeBirthday, time.Now())
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected VALIDATION kind, got %v (err=%v)", domain.KindOf(err), err)
	}
}

func TestGenerateRejectsEmptyUserID(t *testing.T) {
	_, err := idempotency.Generate("   ", domain.MessageTypeBirthday, time.Now())
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("expected VALIDATION kind, got %v", domain.KindOf(err))
	}
}

func TestParseRejectsMalformedKey(t *testing.T) {
	cases := []string{
		"",
		"only-one-segment",
		"a:b:c:d",
		"user-1:BIRTHDAY:not-a-date",
		"user-1::2026-03-03",
		":BIRTHDAY:2026-03-03",
	}
	for _, key := range cases {
		if _, err := idempotency.Parse(key); err == nil {
			t.Errorf("Parse(%q): expected error, got none", key)
		}
	}
}

func TestValidate(t *testing.T) {
	if !idempotency.Validate("user-1:ANNIVERSARY:2025-11-02") {
		t.Fatal("expected well-formed key to validate")
	}
	if idempotency.Validate("garbage") {
		t.Fatal("expected malformed key to fail validation")
	}
}

func TestSameUserAndDate(t *testing.T) {
	a := "user-1:BIRTHDAY:2026-03-03"
	b := "user-1:ANNIVERSARY:2026-03-03"
	c := "user-1:BIRTHDAY:2026-03-04"
	d := "user-2:BIRTHDAY:2026-03-03"

	if !idempotency.SameUserAndDate(a, b) {
		t.Error("expected same user+date across different types to match")
	}
	if idempotency.SameUserAndDate(a, c) {
		t.Error("expected different dates to not match")
	}
	if idempotency.SameUserAndDate(a, d) {
		t.Error("expected different users to not match")
	}
}

func TestExtractComponentsSwallowsError(t *testing.T) {
	got := idempotency.ExtractComponents("garbage")
	if got != (idempotency.Components{}) {
		t.Fatalf("expected zero value for malformed key, got %+v", got)
	}
}
