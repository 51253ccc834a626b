package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/service"
	"github.com/wolfeidau/taskhub/internal/store"
	"github.com/wolfeidau/taskhub/internal/store/memory"
	"github.com/wolfeidau/taskhub/internal/tenant"
	"golang.org/x/crypto/bcrypt"
)

const seedYAML = `
organizations:
  - name: acme
    users:
      - username: alice
        password: alice-password
        staff: true
      - username: bob
        password: bob-password
  - name: globex
    users:
      - username: alice
        password: other-alice-password
`

func newBootstrapper(t *testing.T) (*Bootstrapper, *store.Repository[*models.Organization], *store.Repository[*models.User]) {
	t.Helper()
	engine := memory.NewEngine()

	orgs, err := store.NewRepository[*models.Organization](engine)
	require.NoError(t, err)
	users, err := store.NewRepository[*models.User](engine)
	require.NoError(t, err)

	return New(orgs, service.NewUserService(users, bcrypt.MinCost)), orgs, users
}

func TestParseSeed(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		seed, err := ParseSeed([]byte(seedYAML))
		require.NoError(t, err)
		require.Len(t, seed.Organizations, 2)
		require.Equal(t, "acme", seed.Organizations[0].Name)
		require.True(t, seed.Organizations[0].Users[0].Staff)
	})

	tests := []struct {
		name string
		yaml string
	}{
		{name: "empty", yaml: ""},
		{name: "no organizations", yaml: "organizations: []\n"},
		{name: "missing name", yaml: "organizations:\n  - users: []\n"},
		{name: "duplicate organization", yaml: "organizations:\n  - name: acme\n  - name: acme\n"},
		{name: "duplicate user", yaml: "organizations:\n  - name: acme\n    users:\n      - username: a\n      - username: a\n"},
		{name: "unknown field", yaml: "organizations:\n  - name: acme\n    colour: red\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSeed([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seedYAML), 0o600))

	seed, err := LoadSeed(path)
	require.NoError(t, err)
	require.Len(t, seed.Organizations, 2)

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestBootstrapper_Seed(t *testing.T) {
	ctx := context.Background()
	b, orgs, users := newBootstrapper(t)

	seed, err := ParseSeed([]byte(seedYAML))
	require.NoError(t, err)

	res, err := b.Seed(ctx, seed)
	require.NoError(t, err)
	require.Equal(t, &Result{OrganizationsCreated: 2, UsersCreated: 3}, res)

	t.Run("users land in their organization", func(t *testing.T) {
		acme, err := orgs.Query(ctx, store.Where("name", "acme"))
		require.NoError(t, err)
		require.Len(t, acme, 1)

		got, err := users.Query(tenant.WithOrganization(ctx, *acme[0]), store.OrderBy("username"))
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "alice", got[0].Username)
		require.True(t, got[0].IsStaff)
		require.Equal(t, "bob", got[1].Username)
		require.Equal(t, acme[0].ID, got[1].OrgID)
	})

	t.Run("second run is a no-op", func(t *testing.T) {
		res, err := b.Seed(ctx, seed)
		require.NoError(t, err)
		require.Equal(t, &Result{UsersSkipped: 3}, res)

		n, err := orgs.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})

	t.Run("caller binding survives", func(t *testing.T) {
		other, err := orgs.Create(ctx, &models.Organization{Name: "initech"})
		require.NoError(t, err)

		bound := tenant.WithOrganization(ctx, *other)
		_, err = b.Seed(bound, seed)
		require.NoError(t, err)

		org, ok := tenant.Current(bound)
		require.True(t, ok)
		require.Equal(t, other.ID, org.ID)
	})
}

func TestBootstrapper_CreateSuperuser(t *testing.T) {
	ctx := context.Background()
	b, orgs, _ := newBootstrapper(t)

	t.Run("default organization", func(t *testing.T) {
		u, err := b.CreateSuperuser(ctx, SuperuserInput{Username: "root", Password: "root-password"})
		require.NoError(t, err)
		require.True(t, u.IsSuperuser)
		require.True(t, u.IsStaff)
		require.True(t, u.IsActive)

		org, err := orgs.Get(ctx, u.OrgID)
		require.NoError(t, err)
		require.Equal(t, DefaultOrganization, org.Name)
	})

	t.Run("named organization", func(t *testing.T) {
		u, err := b.CreateSuperuser(ctx, SuperuserInput{Username: "root", Password: "root-password", Organization: "acme"})
		require.NoError(t, err)

		org, err := orgs.Get(ctx, u.OrgID)
		require.NoError(t, err)
		require.Equal(t, "acme", org.Name)
	})

	t.Run("duplicate in organization", func(t *testing.T) {
		_, err := b.CreateSuperuser(ctx, SuperuserInput{Username: "root", Password: "root-password"})
		require.ErrorIs(t, err, store.ErrDuplicateInTenant)
	})

	t.Run("organization reused", func(t *testing.T) {
		n, err := orgs.Count(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})
}

func TestBootstrapper_EnsureOrganization(t *testing.T) {
	ctx := context.Background()
	b, _, _ := newBootstrapper(t)

	first, created, err := b.EnsureOrganization(ctx, "acme")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := b.EnsureOrganization(ctx, " acme ")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, again.ID)

	_, _, err = b.EnsureOrganization(ctx, "")
	require.Error(t, err)
}
