package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Op is the kind of mutation being checked.
type Op int

const (
	OpCreate Op = iota
	OpUpdate
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Change is a proposed mutation.
// Before is nil on create and After is nil on delete.
type Change struct {
	Op     Op
	Before models.Entity
	After  models.Entity

	// Scope is the organization filter of the write, nil when unscoped. Only tenant-owned
	// subjects are checked against it.
	Scope *uuid.UUID

	// Bound is the organization bound to the unit of work whatever the entity's scope,
	// nil when none is bound or inside tenant.WithoutScope.
	Bound *uuid.UUID
}

func (c Change) subject() models.Entity {
	if c.After != nil {
		return c.After
	}
	return c.Before
}

// Guard rule names reported in violations.
const (
	RuleTenant    = "tenant"
	RuleShared    = "shared"
	RuleOwner     = "owner"
	RuleImmutable = "immutable"
	RuleReference = "reference"
	RuleUnique    = "unique"
)

// Violation is returned by the guard when a change would break a tenant invariant.
// It wraps one of the package sentinel errors.
type Violation struct {
	Rule       string
	Collection string
	Field      string
	Err        error
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s violation on %s.%s: %v", v.Rule, v.Collection, v.Field, v.Err)
}

func (v *Violation) Unwrap() error {
	return v.Err
}

// Guard validates cross-entity tenant invariants before a write commits.
// It only reads through the transaction it is given and never writes.
type Guard struct{}

// NewGuard creates a guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Check validates change inside tx and returns a *Violation or nil.
// Any other error comes from the engine and also aborts the write.
func (g *Guard) Check(ctx context.Context, tx Tx, change Change) error {
	err := g.check(ctx, tx, change)

	var v *Violation
	if errors.As(err, &v) {
		telemetry.GetMetrics().GuardViolationsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("collection", v.Collection),
			attribute.String("rule", v.Rule),
			attribute.String("op", change.Op.String()),
		))
	}

	return err
}

func (g *Guard) check(ctx context.Context, tx Tx, change Change) error {
	subject := change.subject()
	if subject == nil {
		return fmt.Errorf("guard: change has no subject")
	}

	owner, owned := ownerOf(subject)

	// Report a moved row as such rather than as foreign to the bound organization.
	if change.Op == OpUpdate {
		if err := g.checkImmutable(change.Before, subject); err != nil {
			return err
		}
	}

	if err := g.checkTenant(subject, owner, owned, change.Scope); err != nil {
		return err
	}

	if err := g.checkShared(subject, owned, change); err != nil {
		return err
	}

	if change.Op == OpDelete {
		return nil
	}

	// Serialise concurrent writers of the same scope so the checks below still hold at commit.
	if len(subject.UniqueFields()) > 0 {
		if err := tx.LockScope(ctx, subject.Collection(), owner); err != nil {
			return fmt.Errorf("failed to lock %s scope: %w", subject.Collection(), err)
		}
	}

	if change.Op == OpCreate && owned {
		if err := g.checkOwnerExists(ctx, tx, subject, owner); err != nil {
			return err
		}
	}

	if err := g.checkReferences(ctx, tx, subject, owner, owned); err != nil {
		return err
	}

	return g.checkUnique(ctx, tx, subject, owner, owned)
}

func ownerOf(e models.Entity) (uuid.UUID, bool) {
	if owned, ok := e.(models.TenantOwned); ok {
		return owned.TenantID(), true
	}
	return uuid.Nil, false
}

// checkTenant re-validates that a tenant-owned row belongs to the bound organization.
func (g *Guard) checkTenant(subject models.Entity, owner uuid.UUID, owned bool, scope *uuid.UUID) error {
	if !owned || scope == nil || owner == *scope {
		return nil
	}
	return &Violation{
		Rule:       RuleTenant,
		Collection: subject.Collection(),
		Field:      models.FieldOrganizationID,
		Err:        ErrCrossTenantReference,
	}
}

// checkShared keeps a unit of work bound to an organization from writing shared rows other than
// its own organization's, and from creating them at all.
func (g *Guard) checkShared(subject models.Entity, owned bool, change Change) error {
	if owned || change.Bound == nil {
		return nil
	}

	switch {
	case change.Op == OpCreate:
		return &Violation{
			Rule:       RuleShared,
			Collection: subject.Collection(),
			Field:      "id",
			Err:        ErrSharedWriteInTenant,
		}
	case subject.EntityID() != *change.Bound:
		return &Violation{
			Rule:       RuleShared,
			Collection: subject.Collection(),
			Field:      "id",
			Err:        ErrNotFound,
		}
	}
	return nil
}

func (g *Guard) checkOwnerExists(ctx context.Context, tx Tx, subject models.Entity, owner uuid.UUID) error {
	_, err := tx.Get(ctx, models.CollectionOrganizations, owner)
	if errors.Is(err, ErrNotFound) {
		return &Violation{
			Rule:       RuleOwner,
			Collection: subject.Collection(),
			Field:      models.FieldOrganizationID,
			Err:        ErrNotFound,
		}
	}
	return err
}

func (g *Guard) checkImmutable(before, after models.Entity) error {
	prev, _ := ownerOf(before)
	next, owned := ownerOf(after)
	if !owned || prev == next {
		return nil
	}
	return &Violation{
		Rule:       RuleImmutable,
		Collection: after.Collection(),
		Field:      models.FieldOrganizationID,
		Err:        ErrTenantImmutable,
	}
}

// checkReferences loads every set reference without tenant scoping and compares organizations.
func (g *Guard) checkReferences(ctx context.Context, tx Tx, subject models.Entity, owner uuid.UUID, owned bool) error {
	for _, ref := range subject.References() {
		if !ref.IsSet() {
			continue
		}

		target, err := tx.Get(ctx, ref.Collection, ref.ID)
		if errors.Is(err, ErrNotFound) {
			return &Violation{
				Rule:       RuleReference,
				Collection: subject.Collection(),
				Field:      ref.Field,
				Err:        ErrNotFound,
			}
		}
		if err != nil {
			return fmt.Errorf("failed to load %s reference: %w", ref.Field, err)
		}

		targetOwner, targetOwned := ownerOf(target)
		if owned && targetOwned && targetOwner != owner {
			return &Violation{
				Rule:       RuleReference,
				Collection: subject.Collection(),
				Field:      ref.Field,
				Err:        ErrCrossTenantReference,
			}
		}
	}
	return nil
}

// checkUnique looks for another row with the same value, within the owner's organization
// for tenant-owned entities and across the whole collection for shared ones.
func (g *Guard) checkUnique(ctx context.Context, tx Tx, subject models.Entity, owner uuid.UUID, owned bool) error {
	for _, field := range subject.UniqueFields() {
		value, ok := subject.Field(field)
		if !ok {
			return fmt.Errorf("guard: %s has no field %q", subject.Collection(), field)
		}

		q := Query{
			ExcludeID: subject.EntityID(),
			Where:     []Condition{{Field: field, Value: value}},
		}
		sentinel := ErrAlreadyExists
		if owned {
			q.OrgID = &owner
			sentinel = ErrDuplicateInTenant
		}

		n, err := tx.Count(ctx, subject.Collection(), q)
		if err != nil {
			return fmt.Errorf("failed to check %s uniqueness: %w", field, err)
		}
		if n > 0 {
			return &Violation{
				Rule:       RuleUnique,
				Collection: subject.Collection(),
				Field:      field,
				Err:        sentinel,
			}
		}
	}
	return nil
}
