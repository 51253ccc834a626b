package models

import (
	"time"

	"github.com/google/uuid"
)

var _ Shared = (*Organization)(nil)

// Organization represents an organization (tenant) in the system.
// It is the tenant boundary itself and so has no owning organization.
type Organization struct {
	ID        uuid.UUID // UUIDv7
	Name      string    // Globally unique, human readable
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o *Organization) Collection() string       { return CollectionOrganizations }
func (o *Organization) EntityID() uuid.UUID      { return o.ID }
func (o *Organization) SetEntityID(id uuid.UUID) { o.ID = id }
func (o *Organization) References() []Reference  { return nil }
func (o *Organization) ClearReference(string)    {}
func (o *Organization) UniqueFields() []string   { return []string{"name"} }
func (o *Organization) SharedAcrossTenants()     {}

// Field returns the value of the named column.
func (o *Organization) Field(name string) (any, bool) {
	switch name {
	case "id":
		return o.ID, true
	case "name":
		return o.Name, true
	case "created_at":
		return o.CreatedAt, true
	case "updated_at":
		return o.UpdatedAt, true
	}
	return nil, false
}

// Stamp sets CreatedAt on first save and always refreshes UpdatedAt.
func (o *Organization) Stamp(now time.Time) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
}

// Clone returns a copy safe to hand out of a store.
func (o *Organization) Clone() Entity {
	clone := *o
	return &clone
}
