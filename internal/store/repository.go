package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/telemetry"
	"github.com/wolfeidau/taskhub/internal/tenant"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// RepositoryOption configures a Repository.
type RepositoryOption func(*repositoryConfig)

type repositoryConfig struct {
	guard  *Guard
	strict bool
	now    func() time.Time
}

// WithStrictScope makes a tenant-owned repository refuse to run without a bound
// organization, except inside tenant.WithoutScope.
func WithStrictScope() RepositoryOption {
	return func(c *repositoryConfig) {
		c.strict = true
	}
}

// WithGuard overrides the guard used to check writes.
func WithGuard(g *Guard) RepositoryOption {
	return func(c *repositoryConfig) {
		c.guard = g
	}
}

// WithClock overrides the clock used to stamp created_at and updated_at.
func WithClock(now func() time.Time) RepositoryOption {
	return func(c *repositoryConfig) {
		c.now = now
	}
}

// Repository is the scoped data-access facade for one entity type.
//
// E must be a pointer type implementing models.TenantOwned or models.Shared. For tenant-owned
// types every read is filtered to the organization bound on the context and every write is
// stamped with it; shared types are read and written across the whole collection.
type Repository[E models.Entity] struct {
	engine      Engine
	guard       *Guard
	collection  string
	tenantOwned bool
	strict      bool
	now         func() time.Time
}

// NewRepository creates a repository for E on engine.
// Returns ErrUnscopableEntity if E declares neither tenant ownership nor shared scope.
func NewRepository[E models.Entity](engine Engine, opts ...RepositoryOption) (*Repository[E], error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}

	cfg := &repositoryConfig{
		guard: NewGuard(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	// The zero value of E is a typed nil pointer; Collection must not dereference its receiver.
	var zero E
	var tenantOwned bool
	switch any(zero).(type) {
	case models.TenantOwned:
		tenantOwned = true
	case models.Shared:
		tenantOwned = false
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnscopableEntity, zero)
	}

	return &Repository[E]{
		engine:      engine,
		guard:       cfg.guard,
		collection:  zero.Collection(),
		tenantOwned: tenantOwned,
		strict:      cfg.strict,
		now:         cfg.now,
	}, nil
}

// Collection returns the name of the collection the repository reads and writes.
func (r *Repository[E]) Collection() string {
	return r.collection
}

// TenantOwned reports whether the repository scopes by organization.
func (r *Repository[E]) TenantOwned() bool {
	return r.tenantOwned
}

// scope returns the organization filter for ctx, nil when the operation runs across all organizations.
func (r *Repository[E]) scope(ctx context.Context) (*uuid.UUID, error) {
	if !r.tenantOwned {
		return nil, nil
	}
	if orgID, ok := tenant.OrganizationID(ctx); ok {
		return &orgID, nil
	}
	if r.strict && !tenant.IsUnscoped(ctx) {
		return nil, ErrMissingTenantContext
	}
	return nil, nil
}

// bound returns the organization bound to ctx, nil when none is bound or inside tenant.WithoutScope.
func bound(ctx context.Context) *uuid.UUID {
	if tenant.IsUnscoped(ctx) {
		return nil
	}
	if orgID, ok := tenant.OrganizationID(ctx); ok {
		return &orgID
	}
	return nil
}

// writeScope narrows which existing rows Update and Delete may touch. Tenant-owned rows follow
// scope; for shared entities a bound organization can only reach its own row.
func (r *Repository[E]) writeScope(ctx context.Context) (*uuid.UUID, error) {
	if r.tenantOwned {
		return r.scope(ctx)
	}
	return bound(ctx), nil
}

// Query returns the rows visible to the current organization.
// With no organization bound, or for shared entities, the whole collection is visible.
func (r *Repository[E]) Query(ctx context.Context, opts ...QueryOption) ([]E, error) {
	var out []E
	err := r.observe(ctx, "query", func(ctx context.Context) error {
		scope, err := r.scope(ctx)
		if err != nil {
			return err
		}

		q := buildQuery(opts)
		q.OrgID = scope

		return r.engine.ReadTx(ctx, func(ctx context.Context, tx Tx) error {
			rows, err := tx.Find(ctx, r.collection, q)
			if err != nil {
				return err
			}

			out = make([]E, 0, len(rows))
			for _, row := range rows {
				e, err := r.cast(row)
				if err != nil {
					return err
				}
				out = append(out, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of rows visible to the current organization.
func (r *Repository[E]) Count(ctx context.Context, opts ...QueryOption) (int, error) {
	var n int
	err := r.observe(ctx, "count", func(ctx context.Context) error {
		scope, err := r.scope(ctx)
		if err != nil {
			return err
		}

		q := buildQuery(opts)
		q.OrgID = scope

		return r.engine.ReadTx(ctx, func(ctx context.Context, tx Tx) error {
			n, err = tx.Count(ctx, r.collection, q)
			return err
		})
	})
	return n, err
}

// Get returns the row with id if it is visible to the current organization.
// Returns ErrNotFound if it doesn't exist or belongs to another organization.
func (r *Repository[E]) Get(ctx context.Context, id uuid.UUID) (E, error) {
	var out E
	err := r.observe(ctx, "get", func(ctx context.Context) error {
		scope, err := r.scope(ctx)
		if err != nil {
			return err
		}

		return r.engine.ReadTx(ctx, func(ctx context.Context, tx Tx) error {
			out, err = r.load(ctx, tx, scope, id, false)
			return err
		})
	})
	return out, err
}

// Create stores e and returns the persisted copy.
//
// A zero ID is replaced with a UUIDv7. For tenant-owned entities a zero OrgID is stamped from
// the bound organization; with neither, ErrMissingTenantContext is returned. A supplied OrgID
// that differs from the bound organization is rejected by the guard, as is any shared entity
// created while an organization is bound.
func (r *Repository[E]) Create(ctx context.Context, e E) (E, error) {
	var out E
	err := r.observe(ctx, "create", func(ctx context.Context) error {
		scope, err := r.scope(ctx)
		if err != nil {
			return err
		}

		subject, err := r.cast(e.Clone())
		if err != nil {
			return err
		}

		if r.tenantOwned {
			owned := any(subject).(models.TenantOwned)
			if owned.TenantID() == uuid.Nil {
				if scope == nil {
					return ErrMissingTenantContext
				}
				owned.SetTenantID(*scope)
			}
		}

		if subject.EntityID() == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return fmt.Errorf("failed to generate id: %w", err)
			}
			subject.SetEntityID(id)
		}
		subject.Stamp(r.now())

		err = r.engine.WriteTx(ctx, func(ctx context.Context, tx Tx) error {
			if err := r.guard.Check(ctx, tx, Change{Op: OpCreate, After: subject, Scope: scope, Bound: bound(ctx)}); err != nil {
				return err
			}
			return tx.Insert(ctx, subject)
		})
		if err != nil {
			return err
		}

		out = subject
		return nil
	})
	return out, err
}

// Update loads the row with id through the scoped lookup, applies mutate to a copy and stores it.
// Returns ErrNotFound if the row is not visible to the current organization. An error from
// mutate or from the guard aborts the write and leaves the row unchanged.
func (r *Repository[E]) Update(ctx context.Context, id uuid.UUID, mutate func(E) error) (E, error) {
	var out E
	err := r.observe(ctx, "update", func(ctx context.Context) error {
		scope, err := r.writeScope(ctx)
		if err != nil {
			return err
		}

		return r.engine.WriteTx(ctx, func(ctx context.Context, tx Tx) error {
			current, err := r.load(ctx, tx, scope, id, true)
			if err != nil {
				return err
			}

			next, err := r.cast(current.Clone())
			if err != nil {
				return err
			}
			if err := mutate(next); err != nil {
				return err
			}
			next.SetEntityID(current.EntityID())
			next.Stamp(r.now())

			if err := r.guard.Check(ctx, tx, Change{Op: OpUpdate, Before: current, After: next, Scope: scope, Bound: bound(ctx)}); err != nil {
				return err
			}
			if err := tx.Update(ctx, next); err != nil {
				return err
			}

			out = next
			return nil
		})
	})
	return out, err
}

// Delete removes the row with id after a scoped lookup.
// Returns ErrNotFound if the row is not visible to the current organization.
func (r *Repository[E]) Delete(ctx context.Context, id uuid.UUID) error {
	return r.observe(ctx, "delete", func(ctx context.Context) error {
		scope, err := r.writeScope(ctx)
		if err != nil {
			return err
		}

		return r.engine.WriteTx(ctx, func(ctx context.Context, tx Tx) error {
			current, err := r.load(ctx, tx, scope, id, true)
			if err != nil {
				return err
			}

			if err := r.guard.Check(ctx, tx, Change{Op: OpDelete, Before: current, Scope: scope, Bound: bound(ctx)}); err != nil {
				return err
			}
			return tx.Delete(ctx, r.collection, id)
		})
	})
}

// load is the scoped lookup shared by Get, Update and Delete; forUpdate locks the row for the
// rest of the write transaction. A row outside scope is reported exactly like a missing one.
func (r *Repository[E]) load(ctx context.Context, tx Tx, scope *uuid.UUID, id uuid.UUID, forUpdate bool) (E, error) {
	var zero E

	get := tx.Get
	if forUpdate {
		get = tx.GetForUpdate
	}

	row, err := get(ctx, r.collection, id)
	if err != nil {
		return zero, err
	}

	if scope != nil && !visibleTo(row, *scope) {
		return zero, ErrNotFound
	}

	return r.cast(row)
}

// visibleTo reports whether orgID may reach row: its own rows, or its own organization row
// for shared entities.
func visibleTo(row models.Entity, orgID uuid.UUID) bool {
	if owned, ok := row.(models.TenantOwned); ok {
		return owned.TenantID() == orgID
	}
	return row.EntityID() == orgID
}

func (r *Repository[E]) cast(row models.Entity) (E, error) {
	e, ok := row.(E)
	if !ok {
		var zero E
		return zero, fmt.Errorf("unexpected %T in collection %s", row, r.collection)
	}
	return e, nil
}

// observe wraps an operation in a span and records its outcome.
func (r *Repository[E]) observe(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	started := time.Now()
	attrs := []attribute.KeyValue{
		attribute.String("collection", r.collection),
		attribute.String("op", op),
	}

	ctx, span := telemetry.Tracer().Start(ctx, "store."+r.collection+"."+op, trace.WithAttributes(attrs...))
	defer span.End()

	err := fn(ctx)

	m := telemetry.GetMetrics()
	m.RepositoryOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.RepositoryOperationDuration.Record(ctx, float64(time.Since(started).Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		// Lookup misses are expected results, not failures of the operation.
		if !errors.Is(err, ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		m.RepositoryOperationErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}

	return err
}
