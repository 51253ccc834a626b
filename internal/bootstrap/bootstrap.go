// Package bootstrap creates organizations and their first users.
//
// Organizations are only ever created administratively, so everything here runs inside
// tenant.WithoutScope and binds each organization explicitly while creating its users.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/service"
	"github.com/wolfeidau/taskhub/internal/store"
	"github.com/wolfeidau/taskhub/internal/tenant"
)

// Bootstrapper seeds organizations and users.
type Bootstrapper struct {
	orgs  *store.Repository[*models.Organization]
	users *service.UserService
}

// New creates a Bootstrapper.
func New(orgs *store.Repository[*models.Organization], users *service.UserService) *Bootstrapper {
	return &Bootstrapper{orgs: orgs, users: users}
}

// EnsureOrganization returns the organization with the given name, creating it if it doesn't exist.
// The second result reports whether it was created.
func (b *Bootstrapper) EnsureOrganization(ctx context.Context, name string) (*models.Organization, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false, errors.New("organization name is required")
	}

	type ensured struct {
		org     *models.Organization
		created bool
	}

	res, err := tenant.Unscoped(ctx, "bootstrap-organization", func(ctx context.Context) (ensured, error) {
		org, err := b.findOrganization(ctx, name)
		if err == nil {
			return ensured{org: org}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return ensured{}, err
		}

		org, err = b.orgs.Create(ctx, &models.Organization{Name: name})
		if errors.Is(err, store.ErrAlreadyExists) {
			// lost a race with a concurrent bootstrap
			org, err = b.findOrganization(ctx, name)
			return ensured{org: org}, err
		}
		if err != nil {
			return ensured{}, fmt.Errorf("failed to create organization %q: %w", name, err)
		}

		zerolog.Ctx(ctx).Info().
			Str("org_id", org.ID.String()).
			Str("org_name", org.Name).
			Msg("Created organization")

		return ensured{org: org, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	return res.org, res.created, nil
}

// Seed creates every organization and user in seed. Existing organizations are reused and
// users whose username is already taken in their organization are skipped, so a seed can be
// applied more than once.
func (b *Bootstrapper) Seed(ctx context.Context, seed *Seed) (*Result, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}

	result := &Result{}

	for _, so := range seed.Organizations {
		org, created, err := b.EnsureOrganization(ctx, so.Name)
		if err != nil {
			return result, err
		}
		if created {
			result.OrganizationsCreated++
		}

		err = tenant.WithoutScope(ctx, "bootstrap-users", func(ctx context.Context) error {
			orgCtx := tenant.WithOrganization(ctx, *org)

			for _, su := range so.Users {
				_, err := b.users.Register(orgCtx, service.RegisterInput{
					Username:    su.Username,
					Password:    su.Password,
					IsStaff:     su.Staff,
					IsSuperuser: su.Superuser,
				})
				if errors.Is(err, store.ErrDuplicateInTenant) {
					zerolog.Ctx(ctx).Info().
						Str("org_name", org.Name).
						Str("username", su.Username).
						Msg("User already exists, skipping")
					result.UsersSkipped++
					continue
				}
				if err != nil {
					return fmt.Errorf("failed to create user %q in %q: %w", su.Username, org.Name, err)
				}
				result.UsersCreated++
			}
			return nil
		})
		if err != nil {
			return result, err
		}
	}

	return result, nil
}

// SuperuserInput describes a superuser to create.
type SuperuserInput struct {
	Username string
	Password string
	// Organization defaults to DefaultOrganization, created if needed.
	Organization string
}

// CreateSuperuser creates an active staff superuser in the named organization.
func (b *Bootstrapper) CreateSuperuser(ctx context.Context, in SuperuserInput) (*models.User, error) {
	orgName := in.Organization
	if strings.TrimSpace(orgName) == "" {
		orgName = DefaultOrganization
	}

	org, _, err := b.EnsureOrganization(ctx, orgName)
	if err != nil {
		return nil, err
	}

	return tenant.Unscoped(ctx, "bootstrap-superuser", func(ctx context.Context) (*models.User, error) {
		return b.users.Register(tenant.WithOrganization(ctx, *org), service.RegisterInput{
			Username:    in.Username,
			Password:    in.Password,
			IsSuperuser: true,
		})
	})
}

func (b *Bootstrapper) findOrganization(ctx context.Context, name string) (*models.Organization, error) {
	orgs, err := b.orgs.Query(ctx, store.Where("name", name), store.Limit(1))
	if err != nil {
		return nil, fmt.Errorf("failed to look up organization %q: %w", name, err)
	}
	if len(orgs) == 0 {
		return nil, store.ErrNotFound
	}
	return orgs[0], nil
}
