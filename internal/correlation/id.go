// Package correlation carries a per-attempt identifier through context, the
// same way the request-scoped ID worked in the HTTP-era layer this system
// replaces — except here it tags an outbound vendor call or a scheduler
// run rather than an inbound HTTP request.
package correlation

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// New generates a random UUID v4 correlation id.
func New() string {
	return uuid.NewString()
}

// WithID returns a copy of ctx carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext extracts the correlation id from ctx, or "" if absent.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
