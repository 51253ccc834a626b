package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/wolfeidau/taskhub/internal/models"
)

// Principal is the authenticated user of a request, as established by the session layer.
type Principal struct {
	UserID      uuid.UUID
	OrgID       uuid.UUID
	Username    string
	IsStaff     bool
	IsSuperuser bool
}

type contextKey int

const (
	principalContextKey contextKey = iota
)

// PrincipalFromUser builds the principal for an authenticated user.
func PrincipalFromUser(u *models.User) *Principal {
	return &Principal{
		UserID:      u.ID,
		OrgID:       u.OrgID,
		Username:    u.Username,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
	}
}

// WithPrincipal stores the authenticated principal in the request context.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

// PrincipalFromContext extracts the authenticated principal from the request context.
// Returns nil if no principal is present (unauthenticated request).
func PrincipalFromContext(ctx context.Context) *Principal {
	principal, _ := ctx.Value(principalContextKey).(*Principal)
	return principal
}
