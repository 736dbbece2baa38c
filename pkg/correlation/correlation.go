// Package correlation carries request correlation ids through contexts.
package correlation

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header is the HTTP header used to propagate correlation ids.
const Header = "X-Correlation-Id"

const maxIDLength = 64

type contextKey struct{}

// New returns a fresh correlation id.
func New() string {
	return uuid.NewString()
}

// Sanitize returns id when it is usable as a correlation id, or a new one.
func Sanitize(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || len(id) > maxIDLength {
		return New()
	}

	for _, r := range id {
		if !(r == '-' || r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9')) {
			return New()
		}
	}

	return id
}

// WithID returns a context carrying id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the id stored in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)

	return id
}
