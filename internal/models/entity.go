package models

import (
	"time"

	"github.com/google/uuid"
)

// Collection names used by the storage engines.
const (
	CollectionOrganizations = "organizations"
	CollectionUsers         = "users"
	CollectionTasks         = "tasks"
)

// FieldOrganizationID is the owning organization column carried by every tenant-owned entity.
const FieldOrganizationID = "organization_id"

// DeletePolicy describes what happens to a referencing row when its target is deleted.
type DeletePolicy int

const (
	// OnDeleteSetNull clears the reference (SQL ON DELETE SET NULL).
	OnDeleteSetNull DeletePolicy = iota
	// OnDeleteCascade deletes the referencing row.
	OnDeleteCascade
)

// Reference is a foreign key from one entity to another.
// ID is uuid.Nil when the reference is unset.
type Reference struct {
	Field      string
	Collection string
	ID         uuid.UUID
	OnDelete   DeletePolicy
}

// IsSet reports whether the reference points at a row.
func (r Reference) IsSet() bool {
	return r.ID != uuid.Nil
}

// Entity is implemented by every persisted type.
//
// Field gives explicit, per-type access to column values so that engines can filter and
// order rows without reflection. Unset optional values are returned as a nil interface.
type Entity interface {
	Collection() string
	EntityID() uuid.UUID
	SetEntityID(id uuid.UUID)
	Field(name string) (any, bool)
	References() []Reference
	ClearReference(field string)
	UniqueFields() []string
	Stamp(now time.Time)
	Clone() Entity
}

// TenantOwned is the capability of an entity that belongs to exactly one organization.
// Repositories scope every query on such a type to the current organization.
type TenantOwned interface {
	Entity
	TenantID() uuid.UUID
	SetTenantID(orgID uuid.UUID)
}

// Shared marks an entity as deliberately global (no owning organization).
// Only types that declare it are allowed to be read without a tenant filter.
type Shared interface {
	Entity
	SharedAcrossTenants()
}
