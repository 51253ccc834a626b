package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/auth"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/store"
	"github.com/wolfeidau/taskhub/internal/tenant"
)

// OrganizationGetter loads an organization by ID.
// store.Repository[*models.Organization] satisfies it.
type OrganizationGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Organization, error)
}

// TenantMiddleware binds the authenticated principal's organization to the request context.
//
// Requests without a principal pass through with nothing bound. The binding only lives on the
// request's context, so it is released when the request completes.
func TenantMiddleware(orgs OrganizationGetter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			principal := auth.PrincipalFromContext(ctx)
			if principal == nil {
				next.ServeHTTP(w, r)
				return
			}

			org, err := orgs.Get(ctx, principal.OrgID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					zerolog.Ctx(ctx).Warn().
						Str("principal_id", principal.UserID.String()).
						Str("org_id", principal.OrgID.String()).
						Msg("Principal organization not found")
					http.Error(w, "organization not found", http.StatusForbidden)
					return
				}
				zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to load principal organization")
				http.Error(w, "internal error", http.StatusInternalServerError)
				return
			}

			logger := zerolog.Ctx(ctx).With().
				Str("org_id", org.ID.String()).
				Str("principal_id", principal.UserID.String()).
				Logger()

			ctx = tenant.WithOrganization(ctx, *org)
			ctx = logger.WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
