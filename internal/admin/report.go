// Package admin holds cross-tenant operations for operators.
package admin

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/store"
	"github.com/wolfeidau/taskhub/internal/tenant"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// OrganizationStats summarises one organization.
type OrganizationStats struct {
	OrgID          string `json:"org_id"`
	Name           string `json:"name"`
	Users          int    `json:"users"`
	OpenTasks      int    `json:"open_tasks"`
	CompletedTasks int    `json:"completed_tasks"`
}

// Reporter builds reports across every organization.
type Reporter struct {
	orgs        *store.Repository[*models.Organization]
	users       *store.Repository[*models.User]
	tasks       *store.Repository[*models.Task]
	concurrency int
}

// NewReporter creates a Reporter that counts up to concurrency organizations at once.
func NewReporter(
	orgs *store.Repository[*models.Organization],
	users *store.Repository[*models.User],
	tasks *store.Repository[*models.Task],
	concurrency int,
) *Reporter {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Reporter{orgs: orgs, users: users, tasks: tasks, concurrency: concurrency}
}

// TenantReport counts users and open and completed tasks per organization, ordered by name.
func (r *Reporter) TenantReport(ctx context.Context) ([]OrganizationStats, error) {
	return tenant.Unscoped(ctx, "admin-tenant-report", func(ctx context.Context) ([]OrganizationStats, error) {
		orgs, err := r.orgs.Query(ctx, store.OrderBy("name"))
		if err != nil {
			return nil, fmt.Errorf("failed to list organizations: %w", err)
		}

		stats := make([]OrganizationStats, len(orgs))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)

		for i, org := range orgs {
			g.Go(func() error {
				s, err := r.organizationStats(gctx, org)
				if err != nil {
					return err
				}
				stats[i] = s
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return nil, err
		}

		zerolog.Ctx(ctx).Info().Int("organizations", len(stats)).Msg("Built tenant report")
		return stats, nil
	})
}

// organizationStats counts with the organization bound, so the repositories scope the counts.
func (r *Reporter) organizationStats(ctx context.Context, org *models.Organization) (OrganizationStats, error) {
	orgCtx := tenant.WithOrganization(ctx, *org)

	users, err := r.users.Count(orgCtx)
	if err != nil {
		return OrganizationStats{}, fmt.Errorf("failed to count users of %q: %w", org.Name, err)
	}
	open, err := r.tasks.Count(orgCtx, store.Where("completed", false))
	if err != nil {
		return OrganizationStats{}, fmt.Errorf("failed to count open tasks of %q: %w", org.Name, err)
	}
	completed, err := r.tasks.Count(orgCtx, store.Where("completed", true))
	if err != nil {
		return OrganizationStats{}, fmt.Errorf("failed to count completed tasks of %q: %w", org.Name, err)
	}

	return OrganizationStats{
		OrgID:          org.ID.String(),
		Name:           org.Name,
		Users:          users,
		OpenTasks:      open,
		CompletedTasks: completed,
	}, nil
}
