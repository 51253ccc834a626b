package models

import (
	"time"

	"github.com/google/uuid"
)

var _ TenantOwned = (*User)(nil)

// User is a member of exactly one organization.
// The same username may exist in different organizations but only once within one.
type User struct {
	ID           uuid.UUID // UUIDv7
	OrgID        uuid.UUID // UUIDv7, FK to organizations, immutable after creation
	Username     string
	PasswordHash string

	// Role flags
	IsActive    bool
	IsStaff     bool
	IsSuperuser bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (u *User) Collection() string          { return CollectionUsers }
func (u *User) EntityID() uuid.UUID         { return u.ID }
func (u *User) SetEntityID(id uuid.UUID)    { u.ID = id }
func (u *User) TenantID() uuid.UUID         { return u.OrgID }
func (u *User) SetTenantID(orgID uuid.UUID) { u.OrgID = orgID }
func (u *User) References() []Reference     { return nil }
func (u *User) ClearReference(string)       {}

// UniqueFields lists the fields that must be unique within the owning organization.
func (u *User) UniqueFields() []string { return []string{"username"} }

// Field returns the value of the named column.
func (u *User) Field(name string) (any, bool) {
	switch name {
	case "id":
		return u.ID, true
	case FieldOrganizationID:
		return u.OrgID, true
	case "username":
		return u.Username, true
	case "password_hash":
		return u.PasswordHash, true
	case "is_active":
		return u.IsActive, true
	case "is_staff":
		return u.IsStaff, true
	case "is_superuser":
		return u.IsSuperuser, true
	case "created_at":
		return u.CreatedAt, true
	case "updated_at":
		return u.UpdatedAt, true
	}
	return nil, false
}

func (u *User) Stamp(now time.Time) {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
}

func (u *User) Clone() Entity {
	clone := *u
	return &clone
}
