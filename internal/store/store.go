// Package store is the tenant-scoping data-access layer.
//
// Repositories are generic over an entity type and run every operation inside a transaction
// of a storage Engine. Queries on tenant-owned types are confined to the organization bound
// on the context, writes are stamped with it, and every mutation is checked by the Guard
// before it commits.
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/wolfeidau/taskhub/internal/models"
)

// Sentinel errors returned by repositories and the guard.
var (
	// ErrMissingTenantContext is returned when a write needs an organization and none is bound or supplied.
	ErrMissingTenantContext = errors.New("no organization bound to context")

	// ErrNotFound is returned for scoped lookup misses. It is used both for rows that do
	// not exist and rows that belong to another organization.
	ErrNotFound = errors.New("not found")

	// ErrCrossTenantReference is returned when a reference points outside the entity's organization.
	ErrCrossTenantReference = errors.New("reference crosses organization boundary")

	// ErrDuplicateInTenant is returned when a unique-within-organization field is already taken.
	ErrDuplicateInTenant = errors.New("duplicate value within organization")

	// ErrTenantImmutable is returned when an update tries to move a row to another organization.
	ErrTenantImmutable = errors.New("organization of an existing row cannot change")

	// ErrAlreadyExists is returned when a globally unique field of a shared entity is already taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnscopableEntity is returned when a repository is built for a type that declares
	// neither models.TenantOwned nor models.Shared.
	ErrUnscopableEntity = errors.New("entity declares neither tenant ownership nor shared scope")

	// ErrSharedWriteInTenant is returned when a unit of work bound to an organization tries to
	// create a shared entity. Shared entities are written administratively, outside any binding.
	ErrSharedWriteInTenant = errors.New("shared entity cannot be written from an organization context")
)

// Engine is a transactional collection store.
// Implementations must roll back when fn returns an error and commit otherwise.
type Engine interface {
	// ReadTx runs fn in a read-only transaction.
	ReadTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// WriteTx runs fn in a read-write transaction.
	WriteTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the set of operations available inside a transaction.
// Tx never applies tenant scoping itself; the caller supplies it through Query.OrgID.
type Tx interface {
	// Get loads a row by id from a collection. Returns ErrNotFound if it doesn't exist.
	// Inside a write transaction the row cannot be deleted by another writer until commit.
	Get(ctx context.Context, collection string, id uuid.UUID) (models.Entity, error)

	// GetForUpdate loads the row a write transaction is about to modify and locks it
	// exclusively until commit. Only valid in write transactions.
	GetForUpdate(ctx context.Context, collection string, id uuid.UUID) (models.Entity, error)

	// Find returns the rows of a collection matching q.
	Find(ctx context.Context, collection string, q Query) ([]models.Entity, error)

	// Count returns the number of rows of a collection matching q. Ordering and limit are ignored.
	Count(ctx context.Context, collection string, q Query) (int, error)

	// Insert stores a new row.
	Insert(ctx context.Context, e models.Entity) error

	// Update replaces an existing row. Returns ErrNotFound if it doesn't exist.
	Update(ctx context.Context, e models.Entity) error

	// Delete removes a row and applies the delete policy of rows referencing it.
	// Returns ErrNotFound if it doesn't exist.
	Delete(ctx context.Context, collection string, id uuid.UUID) error

	// LockScope serialises writers of the same collection within one organization
	// (uuid.Nil for shared collections) until the transaction ends.
	LockScope(ctx context.Context, collection string, orgID uuid.UUID) error
}

// Condition is an equality predicate on a field. A nil Value matches unset fields.
type Condition struct {
	Field string
	Value any
}

// Order sorts results by a field.
type Order struct {
	Field string
	Desc  bool
}

// Query describes a filtered read of one collection.
type Query struct {
	// OrgID restricts results to one organization when set.
	OrgID *uuid.UUID

	// ExcludeID omits one row, used by uniqueness checks during updates.
	ExcludeID uuid.UUID

	Where   []Condition
	OrderBy []Order

	// Limit caps the result size, 0 means unlimited.
	Limit int
}
