package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/store"
	"github.com/wolfeidau/taskhub/internal/telemetry"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Engine implements store.Engine on PostgreSQL.
//
// Write transactions run at READ COMMITTED. The row being written is locked FOR UPDATE, rows
// the guard reads through Get are locked FOR KEY SHARE and LockScope takes a transaction-scoped
// advisory lock, so guard checks still hold when the transaction commits. Serialization failures and deadlocks are
// retried with exponential backoff.
type Engine struct {
	pool *pgxpool.Pool
	cfg  *EngineConfig
}

// NewEngine creates an engine on an existing pool. The caller owns the pool.
func NewEngine(pool *pgxpool.Pool, cfg *EngineConfig) (*Engine, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if cfg == nil {
		cfg = &EngineConfig{}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &Engine{pool: pool, cfg: cfg}, nil
}

// ReadTx runs fn in a read-only transaction.
func (e *Engine) ReadTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	return e.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, false, fn)
}

// WriteTx runs fn in a read-write transaction, retrying it when it loses a race with a concurrent writer.
func (e *Engine) WriteTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	logger := zerolog.Ctx(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.RetryInitialInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := e.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadWrite}, true, fn)
		if err != nil && !isRetryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.cfg.MaxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			telemetry.GetMetrics().TransactionRetriesTotal.Add(ctx, 1)
			logger.Debug().Err(err).Dur("next", next).Msg("Retrying write transaction")
		}),
	)

	return err
}

func (e *Engine) run(ctx context.Context, opts pgx.TxOptions, writable bool, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(e.cfg.TxTimeoutSeconds)*time.Second)
	defer cancel()

	pgTx, err := e.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	if err := fn(ctx, &tx{tx: pgTx, writable: writable}); err != nil {
		return err
	}

	if err := pgTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type tx struct {
	tx       pgx.Tx
	writable bool
}

// Get loads a row. In a write transaction it takes FOR KEY SHARE, which keeps the row from being
// deleted or having its key changed before commit without blocking other writers of that row.
func (t *tx) Get(ctx context.Context, collection string, id uuid.UUID) (models.Entity, error) {
	lock := ""
	if t.writable {
		lock = "FOR KEY SHARE"
	}
	return t.get(ctx, collection, id, lock)
}

// GetForUpdate loads the row about to be modified and locks it FOR UPDATE.
func (t *tx) GetForUpdate(ctx context.Context, collection string, id uuid.UUID) (models.Entity, error) {
	if !t.writable {
		return nil, errReadOnly
	}
	return t.get(ctx, collection, id, "FOR UPDATE")
}

func (t *tx) get(ctx context.Context, collection string, id uuid.UUID, lock string) (models.Entity, error) {
	tbl, err := lookupTable(collection)
	if err != nil {
		return nil, err
	}

	q := psql.Select(tbl.columns...).From(tbl.name).Where(sq.Eq{"id": id})
	if lock != "" {
		q = q.Suffix(lock)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	e, err := tbl.scan(t.tx.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return e, nil
}

func (t *tx) Find(ctx context.Context, collection string, q store.Query) ([]models.Entity, error) {
	tbl, err := lookupTable(collection)
	if err != nil {
		return nil, err
	}

	sel, err := filter(psql.Select(tbl.columns...).From(tbl.name), tbl, q)
	if err != nil {
		return nil, err
	}

	for _, o := range q.OrderBy {
		if !tbl.hasColumn(o.Field) {
			return nil, fmt.Errorf("unknown field %q on %s", o.Field, collection)
		}
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		sel = sel.OrderBy(o.Field + " " + dir)
	}
	sel = sel.OrderBy("id ASC")

	if q.Limit > 0 {
		sel = sel.Limit(uint64(q.Limit))
	}

	sql, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := tbl.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapPostgresError(err)
	}

	return out, nil
}

func (t *tx) Count(ctx context.Context, collection string, q store.Query) (int, error) {
	tbl, err := lookupTable(collection)
	if err != nil {
		return 0, err
	}

	sel, err := filter(psql.Select("count(*)").From(tbl.name), tbl, q)
	if err != nil {
		return 0, err
	}

	sql, args, err := sel.ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var n int
	if err := t.tx.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, mapPostgresError(err)
	}
	return n, nil
}

// filter applies the organization, exclusion and equality conditions of q.
func filter(sel sq.SelectBuilder, tbl table, q store.Query) (sq.SelectBuilder, error) {
	if q.OrgID != nil {
		sel = sel.Where(sq.Eq{models.FieldOrganizationID: *q.OrgID})
	}
	if q.ExcludeID != uuid.Nil {
		sel = sel.Where(sq.NotEq{"id": q.ExcludeID})
	}
	for _, c := range q.Where {
		if !tbl.hasColumn(c.Field) {
			return sel, fmt.Errorf("unknown field %q on %s", c.Field, tbl.name)
		}
		// squirrel renders a nil value as IS NULL
		sel = sel.Where(sq.Eq{c.Field: c.Value})
	}
	return sel, nil
}

func (t *tx) Insert(ctx context.Context, e models.Entity) error {
	tbl, err := t.writableTable(e.Collection())
	if err != nil {
		return err
	}

	values, err := tbl.values(e)
	if err != nil {
		return err
	}

	sql, args, err := psql.Insert(tbl.name).Columns(tbl.columns...).Values(values...).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert: %w", err)
	}

	if _, err := t.tx.Exec(ctx, sql, args...); err != nil {
		return mapPostgresError(err)
	}

	zerolog.Ctx(ctx).Debug().Str("collection", e.Collection()).Stringer("id", e.EntityID()).Msg("Inserted row")
	return nil
}

func (t *tx) Update(ctx context.Context, e models.Entity) error {
	tbl, err := t.writableTable(e.Collection())
	if err != nil {
		return err
	}

	values, err := tbl.values(e)
	if err != nil {
		return err
	}

	set := make(map[string]any, len(tbl.columns))
	for i, col := range tbl.columns {
		if col == "id" {
			continue
		}
		set[col] = values[i]
	}

	sql, args, err := psql.Update(tbl.name).SetMap(set).Where(sq.Eq{"id": e.EntityID()}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update: %w", err)
	}

	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	zerolog.Ctx(ctx).Debug().Str("collection", e.Collection()).Stringer("id", e.EntityID()).Msg("Updated row")
	return nil
}

// Delete removes a row; the schema's foreign keys apply the cascade and set-null policies.
func (t *tx) Delete(ctx context.Context, collection string, id uuid.UUID) error {
	tbl, err := t.writableTable(collection)
	if err != nil {
		return err
	}

	sql, args, err := psql.Delete(tbl.name).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete: %w", err)
	}

	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}

	zerolog.Ctx(ctx).Debug().Str("collection", collection).Stringer("id", id).Msg("Deleted row")
	return nil
}

// LockScope takes an advisory lock keyed by collection and organization, released at commit or rollback.
func (t *tx) LockScope(ctx context.Context, collection string, orgID uuid.UUID) error {
	if !t.writable {
		return errReadOnly
	}

	key := collection + ":" + orgID.String()
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return mapPostgresError(err)
	}
	return nil
}

var errReadOnly = errors.New("write in read-only transaction")

func (t *tx) writableTable(collection string) (table, error) {
	if !t.writable {
		return table{}, errReadOnly
	}
	return lookupTable(collection)
}

var _ store.Engine = (*Engine)(nil)
