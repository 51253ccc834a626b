package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/store"
)

// constraintViolations maps schema constraints to the violation the guard would have reported.
// The guard normally rejects these writes first; the constraints catch anything that slips past it.
var constraintViolations = map[string]store.Violation{
	"organizations_name_key": {
		Rule: store.RuleUnique, Collection: models.CollectionOrganizations, Field: "name", Err: store.ErrAlreadyExists,
	},
	"users_organization_id_username_key": {
		Rule: store.RuleUnique, Collection: models.CollectionUsers, Field: "username", Err: store.ErrDuplicateInTenant,
	},
	"users_organization_id_fkey": {
		Rule: store.RuleOwner, Collection: models.CollectionUsers, Field: models.FieldOrganizationID, Err: store.ErrNotFound,
	},
	"tasks_organization_id_fkey": {
		Rule: store.RuleOwner, Collection: models.CollectionTasks, Field: models.FieldOrganizationID, Err: store.ErrNotFound,
	},
	"tasks_assignee_same_org_fkey": {
		Rule: store.RuleReference, Collection: models.CollectionTasks, Field: models.FieldAssignedTo, Err: store.ErrCrossTenantReference,
	},
}

// mapPostgresError maps PostgreSQL-specific errors to sentinel errors.
// Returns the original error if it's not a PostgreSQL error or doesn't match known patterns.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		if v, ok := constraintViolations[pgErr.ConstraintName]; ok {
			return &v
		}
		return fmt.Errorf("unique constraint violation: %s: %w", pgErr.ConstraintName, store.ErrAlreadyExists)

	case pgerrcode.ForeignKeyViolation:
		if v, ok := constraintViolations[pgErr.ConstraintName]; ok {
			return &v
		}
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Detail)

	case pgerrcode.CheckViolation:
		return fmt.Errorf("check constraint violation: %s: %w", pgErr.ConstraintName, err)

	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
		// Retryable transaction errors, see isRetryable
		return fmt.Errorf("transaction conflict (retryable): %w", err)

	case pgerrcode.ConnectionException,
		pgerrcode.ConnectionDoesNotExist,
		pgerrcode.ConnectionFailure,
		pgerrcode.CannotConnectNow,
		pgerrcode.SQLClientUnableToEstablishSQLConnection:
		return fmt.Errorf("database connection error: %w", err)

	case pgerrcode.AdminShutdown,
		pgerrcode.CrashShutdown:
		return fmt.Errorf("database server unavailable: %w", err)

	case pgerrcode.QueryCanceled:
		// Context cancellation or timeout
		return fmt.Errorf("query canceled: %w", err)

	case pgerrcode.InsufficientResources,
		pgerrcode.DiskFull,
		pgerrcode.OutOfMemory,
		pgerrcode.TooManyConnections:
		return fmt.Errorf("database resource limit: %w", err)

	default:
		return fmt.Errorf("postgres error [%s]: %s (detail: %s, hint: %s): %w",
			pgErr.Code, pgErr.Message, pgErr.Detail, pgErr.Hint, err)
	}
}

// isRetryable reports whether a write transaction failed only because of a concurrent writer.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}
