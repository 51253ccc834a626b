package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/taskhub/internal/models"
	"github.com/wolfeidau/taskhub/internal/store"
)

var errReadOnly = errors.New("write in read-only transaction")

// Engine implements store.Engine using in-memory storage.
// This implementation is for testing and local development - data is lost on restart.
//
// Write transactions are serialised by a single lock and undone on error. Callbacks must not
// start another transaction on the same engine.
type Engine struct {
	mu sync.RWMutex

	collections map[string]map[uuid.UUID]models.Entity // collection -> id -> row
}

// NewEngine creates an empty in-memory engine holding the organizations, users and tasks collections.
func NewEngine() *Engine {
	return &Engine{
		collections: map[string]map[uuid.UUID]models.Entity{
			models.CollectionOrganizations: make(map[uuid.UUID]models.Entity),
			models.CollectionUsers:         make(map[uuid.UUID]models.Entity),
			models.CollectionTasks:         make(map[uuid.UUID]models.Entity),
		},
	}
}

// ReadTx runs fn against a consistent snapshot of the engine.
func (e *Engine) ReadTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	return fn(ctx, &tx{engine: e})
}

// WriteTx runs fn exclusively and restores every touched row if fn returns an error or panics.
func (e *Engine) WriteTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	t := &tx{engine: e, writable: true, undo: make(map[rowKey]models.Entity)}
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
	}()
	if err := fn(ctx, t); err != nil {
		t.rollback()
		zerolog.Ctx(ctx).Debug().Err(err).Int("rows", len(t.undo)).Msg("memory transaction rolled back")
		return err
	}

	return nil
}

type rowKey struct {
	collection string
	id         uuid.UUID
}

type tx struct {
	engine   *Engine
	writable bool

	// undo holds the pre-transaction value of every touched row, nil when it didn't exist.
	undo map[rowKey]models.Entity
}

func (t *tx) rows(collection string) (map[uuid.UUID]models.Entity, error) {
	rows, ok := t.engine.collections[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return rows, nil
}

// touch records the current value of a row before it is first modified.
func (t *tx) touch(collection string, id uuid.UUID) {
	key := rowKey{collection: collection, id: id}
	if _, seen := t.undo[key]; seen {
		return
	}
	t.undo[key] = t.engine.collections[collection][id]
}

func (t *tx) rollback() {
	for key, prev := range t.undo {
		if prev == nil {
			delete(t.engine.collections[key.collection], key.id)
			continue
		}
		t.engine.collections[key.collection][key.id] = prev
	}
}

func (t *tx) Get(ctx context.Context, collection string, id uuid.UUID) (models.Entity, error) {
	rows, err := t.rows(collection)
	if err != nil {
		return nil, err
	}

	row, exists := rows[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	// Clone to avoid external modifications
	return row.Clone(), nil
}

// GetForUpdate is Get; the write lock already excludes every other writer.
func (t *tx) GetForUpdate(ctx context.Context, collection string, id uuid.UUID) (models.Entity, error) {
	if !t.writable {
		return nil, errReadOnly
	}
	return t.Get(ctx, collection, id)
}

func (t *tx) Find(ctx context.Context, collection string, q store.Query) ([]models.Entity, error) {
	matched, err := t.match(collection, q)
	if err != nil {
		return nil, err
	}

	if err := sortRows(matched, q.OrderBy); err != nil {
		return nil, err
	}

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}

	out := make([]models.Entity, len(matched))
	for i, row := range matched {
		out[i] = row.Clone()
	}
	return out, nil
}

func (t *tx) Count(ctx context.Context, collection string, q store.Query) (int, error) {
	matched, err := t.match(collection, q)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (t *tx) match(collection string, q store.Query) ([]models.Entity, error) {
	rows, err := t.rows(collection)
	if err != nil {
		return nil, err
	}

	var matched []models.Entity
	for id, row := range rows {
		if q.ExcludeID != uuid.Nil && id == q.ExcludeID {
			continue
		}

		if q.OrgID != nil {
			owned, ok := row.(models.TenantOwned)
			if !ok || owned.TenantID() != *q.OrgID {
				continue
			}
		}

		ok, err := matches(row, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, row)
		}
	}
	return matched, nil
}

func (t *tx) Insert(ctx context.Context, e models.Entity) error {
	if !t.writable {
		return errReadOnly
	}

	rows, err := t.rows(e.Collection())
	if err != nil {
		return err
	}

	if _, exists := rows[e.EntityID()]; exists {
		return fmt.Errorf("%s %s: %w", e.Collection(), e.EntityID(), store.ErrAlreadyExists)
	}

	t.touch(e.Collection(), e.EntityID())
	rows[e.EntityID()] = e.Clone()

	return nil
}

func (t *tx) Update(ctx context.Context, e models.Entity) error {
	if !t.writable {
		return errReadOnly
	}

	rows, err := t.rows(e.Collection())
	if err != nil {
		return err
	}

	if _, exists := rows[e.EntityID()]; !exists {
		return store.ErrNotFound
	}

	t.touch(e.Collection(), e.EntityID())
	rows[e.EntityID()] = e.Clone()

	return nil
}

// Delete removes a row, deletes rows owned by or cascading from it, and clears
// set-null references to it.
func (t *tx) Delete(ctx context.Context, collection string, id uuid.UUID) error {
	if !t.writable {
		return errReadOnly
	}

	rows, err := t.rows(collection)
	if err != nil {
		return err
	}

	if _, exists := rows[id]; !exists {
		return store.ErrNotFound
	}

	t.touch(collection, id)
	delete(rows, id)

	for name, other := range t.engine.collections {
		for otherID, row := range other {
			if collection == models.CollectionOrganizations {
				if owned, ok := row.(models.TenantOwned); ok && owned.TenantID() == id {
					zerolog.Ctx(ctx).Debug().Str("collection", name).Stringer("id", otherID).Msg("cascading organization delete")
					if err := t.deleteIfPresent(ctx, name, otherID); err != nil {
						return err
					}
					continue
				}
			}

			if err := t.applyDeletePolicy(ctx, name, row, collection, id); err != nil {
				return err
			}
		}
	}

	return nil
}

// deleteIfPresent tolerates rows already removed earlier in the same cascade.
func (t *tx) deleteIfPresent(ctx context.Context, collection string, id uuid.UUID) error {
	err := t.Delete(ctx, collection, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (t *tx) applyDeletePolicy(ctx context.Context, name string, row models.Entity, collection string, id uuid.UUID) error {
	for _, ref := range row.References() {
		if !ref.IsSet() || ref.Collection != collection || ref.ID != id {
			continue
		}

		switch ref.OnDelete {
		case models.OnDeleteCascade:
			return t.deleteIfPresent(ctx, name, row.EntityID())
		case models.OnDeleteSetNull:
			// Rows may already have been replaced by an earlier reference on the same entity.
			current, exists := t.engine.collections[name][row.EntityID()]
			if !exists {
				return nil
			}
			t.touch(name, row.EntityID())
			cleared := current.Clone()
			cleared.ClearReference(ref.Field)
			t.engine.collections[name][row.EntityID()] = cleared
		}
	}
	return nil
}

// LockScope is a no-op: write transactions already run exclusively.
func (t *tx) LockScope(ctx context.Context, collection string, orgID uuid.UUID) error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

var _ store.Engine = (*Engine)(nil)

func sortRows(rows []models.Entity, order []store.Order) error {
	var sortErr error
	slices.SortFunc(rows, func(a, b models.Entity) int {
		for _, o := range order {
			av, ok := a.Field(o.Field)
			if !ok {
				sortErr = fmt.Errorf("unknown field %q", o.Field)
				return 0
			}
			bv, _ := b.Field(o.Field)

			c := compare(av, bv)
			if o.Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return compare(a.EntityID(), b.EntityID())
	})
	return sortErr
}
