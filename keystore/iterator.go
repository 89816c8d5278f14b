package keystore

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"go.pickle.dev/core/collection"
	"go.pickle.dev/core/sqlstore"
)

// EntryIterator is a forward cursor over the entries of a Map, in insertion
// (id) order. Like the queue Iterator, each step queries for the smallest
// surviving id greater than the cursor, so removed entries are skipped.
type EntryIterator[K, V any] struct {
	m         *Map[K, V]
	current   int64
	hash      int64
	removable bool
}

// HasNext returns whether an entry follows the cursor.
func (it *EntryIterator[K, V]) HasNext(ctx context.Context) (bool, error) {
	it.m.mu.Lock()
	defer it.m.mu.Unlock()

	var r, err = sqlstore.ExecuteQuery(ctx, it.m.h,
		`SELECT MIN(id) FROM map WHERE id > ?`, sqlstore.Args(it.current), sqlstore.ScanInt64)
	return r.Ok, err
}

// Next advances the cursor and returns its Entry,
// or returns collection.ErrNoSuchElement if no entry follows the cursor.
func (it *EntryIterator[K, V]) Next(ctx context.Context) (Entry[K, V], error) {
	it.m.mu.Lock()
	defer it.m.mu.Unlock()

	type row struct {
		id, hash int64
		kb, vb   []byte
	}
	var r, err = sqlstore.ExecuteQuery(ctx, it.m.h,
		`SELECT id, key_hash, "key", "value" FROM map WHERE id > ? ORDER BY id LIMIT 1`,
		sqlstore.Args(it.current),
		func(rows *sql.Rows) (r row, err error) {
			if rows.Next() {
				err = rows.Scan(&r.id, &r.hash, &r.kb, &r.vb)
			}
			return
		})
	if err != nil {
		return Entry[K, V]{}, err
	} else if r.id == 0 {
		return Entry[K, V]{}, errors.WithMessagef(collection.ErrNoSuchElement, "no entry after id %d", it.current)
	}
	it.current, it.hash, it.removable = r.id, r.hash, true

	mem, err := it.m.decode(r.id, r.kb, r.vb)
	return mem.Entry, err
}

// Remove the entry at the cursor. It returns collection.ErrNoSuchElement if
// Next hasn't been called since the EntryIterator was created, or since the
// last Remove.
func (it *EntryIterator[K, V]) Remove(ctx context.Context) (err error) {
	defer func() { observe("remove", err) }()

	it.m.mu.Lock()
	defer it.m.mu.Unlock()

	if !it.removable {
		return errors.WithMessage(collection.ErrNoSuchElement, "Next was not called")
	}
	_, err = sqlstore.ExecuteUpdate(ctx, it.m.h,
		`DELETE FROM map WHERE id = ?`, sqlstore.Args(it.current), nil)
	it.m.invalidate(it.hash)

	if err == nil {
		it.removable = false
	}
	return err
}
