// Package tenant binds the current organization to a unit of work.
//
// The binding lives on the context.Context of the unit of work (one inbound request), so
// concurrent requests never observe each other's organization. There is no process-wide
// "current organization".
package tenant

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/taskhub/internal/models"
)

type contextKey int

const (
	organizationContextKey contextKey = iota
	unscopedContextKey
)

// binding is stored by value; a nil org records an explicit absence that shadows any parent binding.
type binding struct {
	org *models.Organization
}

// WithOrganization binds org as the current organization for the unit of work carried by ctx.
func WithOrganization(ctx context.Context, org models.Organization) context.Context {
	return context.WithValue(ctx, organizationContextKey, binding{org: &org})
}

// Clear returns a context in which no organization is bound, even if ctx had one.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, organizationContextKey, binding{})
}

// Current returns the organization bound to ctx.
// The second result is false when nothing is bound; there is no default organization.
func Current(ctx context.Context) (models.Organization, bool) {
	b, ok := ctx.Value(organizationContextKey).(binding)
	if !ok || b.org == nil {
		return models.Organization{}, false
	}
	return *b.org, true
}

// OrganizationID returns the ID of the bound organization.
func OrganizationID(ctx context.Context) (uuid.UUID, bool) {
	org, ok := Current(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return org.ID, true
}
