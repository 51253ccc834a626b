package models

import (
	"time"

	"github.com/google/uuid"
)

var _ TenantOwned = (*Task)(nil)

// FieldAssignedTo is the Task column referencing a User.
const FieldAssignedTo = "assigned_to"

// Task is a unit of work owned by an organization and optionally assigned to one of its users.
type Task struct {
	ID          uuid.UUID // UUIDv7
	OrgID       uuid.UUID // UUIDv7, FK to organizations, immutable after creation
	Title       string
	Description string
	Completed   bool
	Priority    int
	Deadline    time.Time  // Always carries an explicit zone
	AssignedTo  *uuid.UUID // FK to users, nil when unassigned
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (t *Task) Collection() string          { return CollectionTasks }
func (t *Task) EntityID() uuid.UUID         { return t.ID }
func (t *Task) SetEntityID(id uuid.UUID)    { t.ID = id }
func (t *Task) TenantID() uuid.UUID         { return t.OrgID }
func (t *Task) SetTenantID(orgID uuid.UUID) { t.OrgID = orgID }
func (t *Task) UniqueFields() []string      { return nil }

// References returns the assignee reference, unset when the task is unassigned.
func (t *Task) References() []Reference {
	ref := Reference{Field: FieldAssignedTo, Collection: CollectionUsers, OnDelete: OnDeleteSetNull}
	if t.AssignedTo != nil {
		ref.ID = *t.AssignedTo
	}
	return []Reference{ref}
}

func (t *Task) ClearReference(field string) {
	if field == FieldAssignedTo {
		t.AssignedTo = nil
	}
}

// Field returns the value of the named column.
func (t *Task) Field(name string) (any, bool) {
	switch name {
	case "id":
		return t.ID, true
	case FieldOrganizationID:
		return t.OrgID, true
	case "title":
		return t.Title, true
	case "description":
		return t.Description, true
	case "completed":
		return t.Completed, true
	case "priority":
		return t.Priority, true
	case "deadline":
		return t.Deadline, true
	case FieldAssignedTo:
		if t.AssignedTo == nil {
			return nil, true
		}
		return *t.AssignedTo, true
	case "created_at":
		return t.CreatedAt, true
	case "updated_at":
		return t.UpdatedAt, true
	}
	return nil, false
}

func (t *Task) Stamp(now time.Time) {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

// Clone returns a deep copy; the assignee pointer is not shared.
func (t *Task) Clone() Entity {
	clone := *t
	if t.AssignedTo != nil {
		id := *t.AssignedTo
		clone.AssignedTo = &id
	}
	return &clone
}
