// Package requestid carries a per-request correlation ID through contexts so
// control-plane log lines can be tied back to the API call that caused them.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header the control plane reads and echoes back.
const Header = "X-Request-ID"

type ctxKey struct{}

// New mints a fresh correlation ID.
func New() string {
	return uuid.NewString()
}

// Set returns a copy of ctx carrying id.
func Set(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Get reads the correlation ID from ctx, or "" when none was set.
func Get(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
