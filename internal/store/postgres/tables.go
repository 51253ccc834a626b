package postgres

import (
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/wolfeidau/taskhub/internal/models"
)

// table describes how one collection is laid out in the schema.
// Column names double as the allowlist for query fields, so callers can never inject SQL identifiers.
type table struct {
	name    string
	columns []string
	scan    func(row pgx.Row) (models.Entity, error)
}

func (t table) hasColumn(name string) bool {
	return slices.Contains(t.columns, name)
}

// values returns the entity's column values in column order.
func (t table) values(e models.Entity) ([]any, error) {
	out := make([]any, len(t.columns))
	for i, col := range t.columns {
		v, ok := e.Field(col)
		if !ok {
			return nil, fmt.Errorf("%s has no field %q", t.name, col)
		}
		out[i] = v
	}
	return out, nil
}

var tables = map[string]table{
	models.CollectionOrganizations: {
		name:    "organizations",
		columns: []string{"id", "name", "created_at", "updated_at"},
		scan: func(row pgx.Row) (models.Entity, error) {
			var org models.Organization
			err := row.Scan(&org.ID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
			if err != nil {
				return nil, err
			}
			return &org, nil
		},
	},
	models.CollectionUsers: {
		name: "users",
		columns: []string{
			"id", "organization_id", "username", "password_hash",
			"is_active", "is_staff", "is_superuser", "created_at", "updated_at",
		},
		scan: func(row pgx.Row) (models.Entity, error) {
			var u models.User
			err := row.Scan(
				&u.ID,
				&u.OrgID,
				&u.Username,
				&u.PasswordHash,
				&u.IsActive,
				&u.IsStaff,
				&u.IsSuperuser,
				&u.CreatedAt,
				&u.UpdatedAt,
			)
			if err != nil {
				return nil, err
			}
			return &u, nil
		},
	},
	models.CollectionTasks: {
		name: "tasks",
		columns: []string{
			"id", "organization_id", "title", "description", "completed",
			"priority", "deadline", "assigned_to", "created_at", "updated_at",
		},
		scan: func(row pgx.Row) (models.Entity, error) {
			var task models.Task
			err := row.Scan(
				&task.ID,
				&task.OrgID,
				&task.Title,
				&task.Description,
				&task.Completed,
				&task.Priority,
				&task.Deadline,
				&task.AssignedTo,
				&task.CreatedAt,
				&task.UpdatedAt,
			)
			if err != nil {
				return nil, err
			}
			return &task, nil
		},
	},
}

func lookupTable(collection string) (table, error) {
	t, ok := tables[collection]
	if !ok {
		return table{}, fmt.Errorf("unknown collection %q", collection)
	}
	return t, nil
}
