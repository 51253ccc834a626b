package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/store"
	"github.com/wolfeidau/taskhub/internal/store/memory"
	"github.com/wolfeidau/taskhub/internal/tenant"
	"golang.org/x/sync/errgroup"
)

type fixture struct {
	orgs  *store.Repository[*models.Organization]
	users *store.Repository[*models.User]
	tasks *store.Repository[*models.Task]

	orgA, orgB models.Organization
	ctxA, ctxB context.Context
}

func newFixture(t *testing.T, opts ...store.RepositoryOption) *fixture {
	t.Helper()
	ctx := context.Background()
	engine := memory.NewEngine()

	orgs, err := store.NewRepository[*models.Organization](engine, opts...)
	require.NoError(t, err)
	users, err := store.NewRepository[*models.User](engine, opts...)
	require.NoError(t, err)
	tasks, err := store.NewRepository[*models.Task](engine, opts...)
	require.NoError(t, err)

	orgA, err := orgs.Create(ctx, &models.Organization{Name: "acme"})
	require.NoError(t, err)
	orgB, err := orgs.Create(ctx, &models.Organization{Name: "globex"})
	require.NoError(t, err)

	return &fixture{
		orgs:  orgs,
		users: users,
		tasks: tasks,
		orgA:  *orgA,
		orgB:  *orgB,
		ctxA:  tenant.WithOrganization(ctx, *orgA),
		ctxB:  tenant.WithOrganization(ctx, *orgB),
	}
}

func requireViolation(t *testing.T, err error, rule string, sentinel error) {
	t.Helper()
	require.ErrorIs(t, err, sentinel)

	var v *store.Violation
	require.True(t, errors.As(err, &v), "expected a guard violation, got %v", err)
	require.Equal(t, rule, v.Rule)
}

func TestNewRepository(t *testing.T) {
	engine := memory.NewEngine()

	t.Run("tenant owned entity", func(t *testing.T) {
		repo, err := store.NewRepository[*models.Task](engine)
		require.NoError(t, err)
		require.True(t, repo.TenantOwned())
		require.Equal(t, models.CollectionTasks, repo.Collection())
	})

	t.Run("shared entity", func(t *testing.T) {
		repo, err := store.NewRepository[*models.Organization](engine)
		require.NoError(t, err)
		require.False(t, repo.TenantOwned())
	})

	t.Run("entity without scope declaration is rejected", func(t *testing.T) {
		_, err := store.NewRepository[*undeclared](engine)
		require.ErrorIs(t, err, store.ErrUnscopableEntity)
	})

	t.Run("nil engine", func(t *testing.T) {
		_, err := store.NewRepository[*models.Task](nil)
		require.Error(t, err)
	})
}

func TestRepository_Query(t *testing.T) {
	f := newFixture(t)

	for _, title := range []string{"a1", "a2"} {
		_, err := f.tasks.Create(f.ctxA, &models.Task{Title: title})
		require.NoError(t, err)
	}
	_, err := f.tasks.Create(f.ctxB, &models.Task{Title: "b1"})
	require.NoError(t, err)

	t.Run("bound organization only sees its rows", func(t *testing.T) {
		tasks, err := f.tasks.Query(f.ctxA)
		require.NoError(t, err)
		require.Len(t, tasks, 2)
		for _, task := range tasks {
			require.Equal(t, f.orgA.ID, task.OrgID)
		}

		tasks, err = f.tasks.Query(f.ctxB)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		require.Equal(t, "b1", tasks[0].Title)
	})

	t.Run("no bound organization sees everything", func(t *testing.T) {
		tasks, err := f.tasks.Query(context.Background())
		require.NoError(t, err)
		require.Len(t, tasks, 3)
	})

	t.Run("shared entity ignores binding", func(t *testing.T) {
		all, err := f.orgs.Query(context.Background(), store.OrderBy("name"))
		require.NoError(t, err)
		scoped, err := f.orgs.Query(f.ctxA, store.OrderBy("name"))
		require.NoError(t, err)
		require.Equal(t, all, scoped)
		require.Len(t, scoped, 2)
	})

	t.Run("filter and order", func(t *testing.T) {
		tasks, err := f.tasks.Query(f.ctxA, store.Where("title", "a2"))
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		require.Equal(t, "a2", tasks[0].Title)

		tasks, err = f.tasks.Query(f.ctxA, store.OrderByDesc("title"), store.Limit(1))
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		require.Equal(t, "a2", tasks[0].Title)
	})

	t.Run("count is scoped", func(t *testing.T) {
		n, err := f.tasks.Count(f.ctxA)
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})

	t.Run("unknown field", func(t *testing.T) {
		_, err := f.tasks.Query(f.ctxA, store.Where("colour", "red"))
		require.Error(t, err)
	})
}

func TestRepository_Get(t *testing.T) {
	f := newFixture(t)

	task, err := f.tasks.Create(f.ctxA, &models.Task{Title: "report"})
	require.NoError(t, err)

	t.Run("own row", func(t *testing.T) {
		got, err := f.tasks.Get(f.ctxA, task.ID)
		require.NoError(t, err)
		require.Equal(t, task.Title, got.Title)
	})

	t.Run("other organization looks missing", func(t *testing.T) {
		_, err := f.tasks.Get(f.ctxB, task.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = f.tasks.Get(f.ctxB, uuid.New())
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("returned row is a copy", func(t *testing.T) {
		got, err := f.tasks.Get(f.ctxA, task.ID)
		require.NoError(t, err)
		got.Title = "changed"

		again, err := f.tasks.Get(f.ctxA, task.ID)
		require.NoError(t, err)
		require.Equal(t, "report", again.Title)
	})
}

func TestRepository_Create(t *testing.T) {
	t.Run("stamps bound organization", func(t *testing.T) {
		f := newFixture(t)

		task, err := f.tasks.Create(f.ctxA, &models.Task{Title: "stamped"})
		require.NoError(t, err)
		require.Equal(t, f.orgA.ID, task.OrgID)
		require.NotEqual(t, uuid.Nil, task.ID)
		require.False(t, task.CreatedAt.IsZero())

		got, err := f.tasks.Get(f.ctxA, task.ID)
		require.NoError(t, err)
		require.Equal(t, f.orgA.ID, got.OrgID)
	})

	t.Run("does not modify the argument", func(t *testing.T) {
		f := newFixture(t)

		in := &models.Task{Title: "input"}
		_, err := f.tasks.Create(f.ctxA, in)
		require.NoError(t, err)
		require.Equal(t, uuid.Nil, in.ID)
		require.Equal(t, uuid.Nil, in.OrgID)
	})

	t.Run("no organization bound or supplied", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.tasks.Create(context.Background(), &models.Task{Title: "orphan"})
		require.ErrorIs(t, err, store.ErrMissingTenantContext)

		n, err := f.tasks.Count(context.Background())
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("explicit organization without binding", func(t *testing.T) {
		f := newFixture(t)

		task, err := f.tasks.Create(context.Background(), &models.Task{Title: "explicit", OrgID: f.orgB.ID})
		require.NoError(t, err)
		require.Equal(t, f.orgB.ID, task.OrgID)
	})

	t.Run("explicit organization differing from binding", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.tasks.Create(f.ctxA, &models.Task{Title: "smuggled", OrgID: f.orgB.ID})
		requireViolation(t, err, store.RuleTenant, store.ErrCrossTenantReference)
	})

	t.Run("owning organization must exist", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.tasks.Create(context.Background(), &models.Task{Title: "ghost", OrgID: uuid.New()})
		requireViolation(t, err, store.RuleOwner, store.ErrNotFound)
	})

	t.Run("clock option", func(t *testing.T) {
		now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
		f := newFixture(t, store.WithClock(func() time.Time { return now }))

		task, err := f.tasks.Create(f.ctxA, &models.Task{Title: "timed"})
		require.NoError(t, err)
		require.Equal(t, now, task.CreatedAt)
		require.Equal(t, now, task.UpdatedAt)
	})
}

func TestRepository_Update(t *testing.T) {
	t.Run("own row", func(t *testing.T) {
		f := newFixture(t)

		task, err := f.tasks.Create(f.ctxA, &models.Task{Title: "draft"})
		require.NoError(t, err)

		updated, err := f.tasks.Update(f.ctxA, task.ID, func(task *models.Task) error {
			task.Title = "final"
			task.Completed = true
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, "final", updated.Title)
		require.True(t, updated.Completed)
		require.Equal(t, task.CreatedAt, updated.CreatedAt)
	})

	t.Run("other organization looks missing", func(t *testing.T) {
		f := newFixture(t)

		task, err := f.tasks.Create(f.ctxB, &models.Task{Title: "theirs"})
		require.NoError(t, err)

		called := false
		_, err = f.tasks.Update(f.ctxA, task.ID, func(task *models.Task) error {
			called = true
			task.Title = "mine now"
			return nil
		})
		require.ErrorIs(t, err, store.ErrNotFound)
		require.False(t, called)

		got, err := f.tasks.Get(f.ctxB, task.ID)
		require.NoError(t, err)
		require.Equal(t, "theirs", got.Title)
	})

	t.Run("organization is immutable", func(t *testing.T) {
		f := newFixture(t)

		task, err := f.tasks.Create(f.ctxA, &models.Task{Title: "anchored"})
		require.NoError(t, err)

		_, err = f.tasks.Update(f.ctxA, task.ID, func(task *models.Task) error {
			task.OrgID = f.orgB.ID
			return nil
		})
		requireViolation(t, err, store.RuleImmutable, store.ErrTenantImmutable)

		err = tenant.WithoutScope(context.Background(), "test-move", func(ctx context.Context) error {
			_, err := f.tasks.Update(ctx, task.ID, func(task *models.Task) error {
				task.OrgID = f.orgB.ID
				return nil
			})
			return err
		})
		require.ErrorIs(t, err, store.ErrTenantImmutable)
	})

	t.Run("mutate error aborts", func(t *testing.T) {
		f := newFixture(t)

		task, err := f.tasks.Create(f.ctxA, &models.Task{Title: "kept"})
		require.NoError(t, err)

		boom := errors.New("boom")
		_, err = f.tasks.Update(f.ctxA, task.ID, func(task *models.Task) error {
			task.Title = "lost"
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := f.tasks.Get(f.ctxA, task.ID)
		require.NoError(t, err)
		require.Equal(t, "kept", got.Title)
	})

	t.Run("id cannot be changed", func(t *testing.T) {
		f := newFixture(t)

		task, err := f.tasks.Create(f.ctxA, &models.Task{Title: "fixed id"})
		require.NoError(t, err)

		updated, err := f.tasks.Update(f.ctxA, task.ID, func(task *models.Task) error {
			task.ID = uuid.New()
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, task.ID, updated.ID)
	})
}

func TestRepository_Delete(t *testing.T) {
	f := newFixture(t)

	mine, err := f.tasks.Create(f.ctxA, &models.Task{Title: "mine"})
	require.NoError(t, err)
	theirs, err := f.tasks.Create(f.ctxB, &models.Task{Title: "theirs"})
	require.NoError(t, err)

	t.Run("other organization looks missing", func(t *testing.T) {
		err := f.tasks.Delete(f.ctxA, theirs.ID)
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = f.tasks.Get(f.ctxB, theirs.ID)
		require.NoError(t, err)
	})

	t.Run("own row", func(t *testing.T) {
		require.NoError(t, f.tasks.Delete(f.ctxA, mine.ID))

		_, err := f.tasks.Get(f.ctxA, mine.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("missing row", func(t *testing.T) {
		err := f.tasks.Delete(f.ctxA, uuid.New())
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestRepository_Assignment(t *testing.T) {
	f := newFixture(t)

	alice, err := f.users.Create(f.ctxA, &models.User{Username: "alice"})
	require.NoError(t, err)
	bob, err := f.users.Create(f.ctxB, &models.User{Username: "bob"})
	require.NoError(t, err)

	task, err := f.tasks.Create(f.ctxA, &models.Task{Title: "ship it"})
	require.NoError(t, err)

	t.Run("same organization", func(t *testing.T) {
		updated, err := f.tasks.Update(f.ctxA, task.ID, func(task *models.Task) error {
			task.AssignedTo = &alice.ID
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, alice.ID, *updated.AssignedTo)
	})

	t.Run("user of another organization", func(t *testing.T) {
		_, err := f.tasks.Update(f.ctxA, task.ID, func(task *models.Task) error {
			task.AssignedTo = &bob.ID
			task.Title = "hijacked"
			return nil
		})
		requireViolation(t, err, store.RuleReference, store.ErrCrossTenantReference)

		got, err := f.tasks.Get(f.ctxA, task.ID)
		require.NoError(t, err)
		require.Equal(t, alice.ID, *got.AssignedTo)
		require.Equal(t, "ship it", got.Title)
	})

	t.Run("create with user of another organization", func(t *testing.T) {
		_, err := f.tasks.Create(f.ctxA, &models.Task{Title: "cross", AssignedTo: &bob.ID})
		requireViolation(t, err, store.RuleReference, store.ErrCrossTenantReference)

		n, err := f.tasks.Count(f.ctxA, store.Where("title", "cross"))
		require.NoError(t, err)
		require.Zero(t, n)
	})

	t.Run("cross organization check holds without a binding", func(t *testing.T) {
		err := tenant.WithoutScope(context.Background(), "test-assign", func(ctx context.Context) error {
			_, err := f.tasks.Update(ctx, task.ID, func(task *models.Task) error {
				task.AssignedTo = &bob.ID
				return nil
			})
			return err
		})
		require.ErrorIs(t, err, store.ErrCrossTenantReference)
	})

	t.Run("dangling user", func(t *testing.T) {
		missing := uuid.New()
		_, err := f.tasks.Update(f.ctxA, task.ID, func(task *models.Task) error {
			task.AssignedTo = &missing
			return nil
		})
		requireViolation(t, err, store.RuleReference, store.ErrNotFound)
	})

	t.Run("filter by assignee", func(t *testing.T) {
		tasks, err := f.tasks.Query(f.ctxA, store.Where(models.FieldAssignedTo, alice.ID))
		require.NoError(t, err)
		require.Len(t, tasks, 1)

		tasks, err = f.tasks.Query(f.ctxA, store.Where(models.FieldAssignedTo, nil))
		require.NoError(t, err)
		require.Empty(t, tasks)
	})

	t.Run("deleting the user unassigns the task", func(t *testing.T) {
		require.NoError(t, f.users.Delete(f.ctxA, alice.ID))

		got, err := f.tasks.Get(f.ctxA, task.ID)
		require.NoError(t, err)
		require.Nil(t, got.AssignedTo)
	})
}

func TestRepository_UniqueUsername(t *testing.T) {
	t.Run("duplicate within organization", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.users.Create(f.ctxA, &models.User{Username: "alice"})
		require.NoError(t, err)

		_, err = f.users.Create(f.ctxA, &models.User{Username: "alice"})
		requireViolation(t, err, store.RuleUnique, store.ErrDuplicateInTenant)

		n, err := f.users.Count(f.ctxA, store.Where("username", "alice"))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("same username in another organization", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.users.Create(f.ctxA, &models.User{Username: "alice"})
		require.NoError(t, err)
		_, err = f.users.Create(f.ctxB, &models.User{Username: "alice"})
		require.NoError(t, err)
	})

	t.Run("update excludes own row", func(t *testing.T) {
		f := newFixture(t)

		alice, err := f.users.Create(f.ctxA, &models.User{Username: "alice"})
		require.NoError(t, err)

		_, err = f.users.Update(f.ctxA, alice.ID, func(u *models.User) error {
			u.IsStaff = true
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("rename onto taken username", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.users.Create(f.ctxA, &models.User{Username: "alice"})
		require.NoError(t, err)
		carol, err := f.users.Create(f.ctxA, &models.User{Username: "carol"})
		require.NoError(t, err)

		_, err = f.users.Update(f.ctxA, carol.ID, func(u *models.User) error {
			u.Username = "alice"
			return nil
		})
		requireViolation(t, err, store.RuleUnique, store.ErrDuplicateInTenant)
	})

	t.Run("organization names are globally unique", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.orgs.Create(context.Background(), &models.Organization{Name: "acme"})
		requireViolation(t, err, store.RuleUnique, store.ErrAlreadyExists)
	})

	t.Run("concurrent creation", func(t *testing.T) {
		f := newFixture(t)

		const writers = 8
		errs := make([]error, writers)

		var g errgroup.Group
		for i := range writers {
			g.Go(func() error {
				_, errs[i] = f.users.Create(f.ctxA, &models.User{Username: "racer"})
				return nil
			})
		}
		require.NoError(t, g.Wait())

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			require.ErrorIs(t, err, store.ErrDuplicateInTenant)
		}
		require.Equal(t, 1, succeeded)

		n, err := f.users.Count(f.ctxA, store.Where("username", "racer"))
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}

func TestRepository_StrictScope(t *testing.T) {
	f := newFixture(t, store.WithStrictScope())

	_, err := f.tasks.Create(f.ctxA, &models.Task{Title: "scoped"})
	require.NoError(t, err)

	t.Run("unbound read is refused", func(t *testing.T) {
		_, err := f.tasks.Query(context.Background())
		require.ErrorIs(t, err, store.ErrMissingTenantContext)
	})

	t.Run("unscoped escape is allowed", func(t *testing.T) {
		tasks, err := tenant.Unscoped(f.ctxA, "test-report", func(ctx context.Context) ([]*models.Task, error) {
			return f.tasks.Query(ctx)
		})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
	})

	t.Run("shared entities are unaffected", func(t *testing.T) {
		orgs, err := f.orgs.Query(context.Background())
		require.NoError(t, err)
		require.Len(t, orgs, 2)
	})
}

func TestRepository_SharedWritesFromTenantContext(t *testing.T) {
	rename := func(name string) func(*models.Organization) error {
		return func(o *models.Organization) error {
			o.Name = name
			return nil
		}
	}

	t.Run("reads stay global", func(t *testing.T) {
		f := newFixture(t)

		got, err := f.orgs.Get(f.ctxA, f.orgB.ID)
		require.NoError(t, err)
		require.Equal(t, "globex", got.Name)
	})

	t.Run("create is rejected", func(t *testing.T) {
		f := newFixture(t)

		_, err := f.orgs.Create(f.ctxA, &models.Organization{Name: "initech"})
		requireViolation(t, err, store.RuleShared, store.ErrSharedWriteInTenant)

		n, err := f.orgs.Count(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})

	t.Run("foreign organization is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.users.Create(f.ctxB, &models.User{Username: "bob"})
		require.NoError(t, err)

		_, err = f.orgs.Update(f.ctxA, f.orgB.ID, rename("taken"))
		require.ErrorIs(t, err, store.ErrNotFound)

		require.ErrorIs(t, f.orgs.Delete(f.ctxA, f.orgB.ID), store.ErrNotFound)

		got, err := f.orgs.Get(context.Background(), f.orgB.ID)
		require.NoError(t, err)
		require.Equal(t, "globex", got.Name)

		n, err := f.users.Count(f.ctxB)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})

	t.Run("own organization can be renamed", func(t *testing.T) {
		f := newFixture(t)

		got, err := f.orgs.Update(f.ctxA, f.orgA.ID, rename("acme corp"))
		require.NoError(t, err)
		require.Equal(t, "acme corp", got.Name)
	})

	t.Run("unscoped writes are allowed", func(t *testing.T) {
		f := newFixture(t)

		err := tenant.WithoutScope(f.ctxA, "test-shared-write", func(ctx context.Context) error {
			if _, err := f.orgs.Create(ctx, &models.Organization{Name: "initech"}); err != nil {
				return err
			}
			if _, err := f.orgs.Update(ctx, f.orgB.ID, rename("globex corp")); err != nil {
				return err
			}
			return f.orgs.Delete(ctx, f.orgB.ID)
		})
		require.NoError(t, err)

		n, err := f.orgs.Count(context.Background())
		require.NoError(t, err)
		require.Equal(t, 2, n)
	})

	t.Run("binding inside an escape stays unscoped", func(t *testing.T) {
		f := newFixture(t)

		err := tenant.WithoutScope(context.Background(), "test-shared-rebind", func(ctx context.Context) error {
			_, err := f.orgs.Create(tenant.WithOrganization(ctx, f.orgA), &models.Organization{Name: "initech"})
			return err
		})
		require.NoError(t, err)
	})

	t.Run("guard rejects a foreign row directly", func(t *testing.T) {
		engine := memory.NewEngine()
		orgA := &models.Organization{ID: uuid.New(), Name: "acme"}
		orgB := &models.Organization{ID: uuid.New(), Name: "globex"}

		err := engine.WriteTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
			return store.NewGuard().Check(ctx, tx, store.Change{Op: store.OpDelete, Before: orgB, Bound: &orgA.ID})
		})
		requireViolation(t, err, store.RuleShared, store.ErrNotFound)
	})
}

func TestOrganizationDeleteCascades(t *testing.T) {
	f := newFixture(t)

	_, err := f.users.Create(f.ctxB, &models.User{Username: "bob"})
	require.NoError(t, err)
	_, err = f.tasks.Create(f.ctxB, &models.Task{Title: "b"})
	require.NoError(t, err)
	_, err = f.tasks.Create(f.ctxA, &models.Task{Title: "a"})
	require.NoError(t, err)

	require.NoError(t, f.orgs.Delete(context.Background(), f.orgB.ID))

	n, err := f.tasks.Count(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = f.users.Count(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

// undeclared implements models.Entity but neither scope capability.
type undeclared struct{ id uuid.UUID }

func (u *undeclared) Collection() string             { return "undeclared" }
func (u *undeclared) EntityID() uuid.UUID            { return u.id }
func (u *undeclared) SetEntityID(id uuid.UUID)       { u.id = id }
func (u *undeclared) Field(string) (any, bool)       { return nil, false }
func (u *undeclared) References() []models.Reference { return nil }
func (u *undeclared) ClearReference(string)          {}
func (u *undeclared) UniqueFields() []string         { return nil }
func (u *undeclared) Stamp(time.Time)                {}
func (u *undeclared) Clone() models.Entity           { c := *u; return &c }
