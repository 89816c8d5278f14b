package queue

import (
	"context"

	"github.com/pkg/errors"
	"go.pickle.dev/core/collection"
	"go.pickle.dev/core/sqlstore"
)

// beforeFirst is a cursor position preceding every entry id.
const beforeFirst int64 = -1

// Iterator is a forward cursor over the entries of a Queue, in id order.
// Each step re-queries the store for the next surviving id greater than
// the current one, so entries removed since the last step are skipped.
type Iterator[T any] struct {
	q         *Queue[T]
	current   int64
	removable bool
}

var _ collection.Iterator[string] = (*Iterator[string])(nil)

// ID returns the entry id at the cursor, or -1 if Next hasn't been called.
func (it *Iterator[T]) ID() int64 { return it.current }

// HasNext returns whether an entry follows the cursor.
func (it *Iterator[T]) HasNext(ctx context.Context) (bool, error) {
	it.q.mu.Lock()
	defer it.q.mu.Unlock()

	var r, err = sqlstore.ExecuteQuery(ctx, it.q.h,
		`SELECT MIN(id) FROM queue WHERE id > ?`, sqlstore.Args(it.current), sqlstore.ScanInt64)
	return r.Ok, err
}

// Next advances the cursor and returns its entry,
// or returns collection.ErrNoSuchElement if no entry follows the cursor.
func (it *Iterator[T]) Next(ctx context.Context) (v T, err error) {
	it.q.mu.Lock()
	defer it.q.mu.Unlock()

	var row entry
	if row, err = it.q.next(ctx, it.current); err != nil {
		return v, err
	} else if row.id == 0 {
		return v, errors.WithMessagef(collection.ErrNoSuchElement, "no entry after id %d", it.current)
	}
	it.current, it.removable = row.id, true

	return it.q.decode(row.payload)
}

// Remove the entry at the cursor. It returns collection.ErrNoSuchElement if
// Next hasn't been called since the Iterator was created, or since the last
// Remove. The entry may have already been removed by another operation.
func (it *Iterator[T]) Remove(ctx context.Context) error {
	it.q.mu.Lock()
	defer it.q.mu.Unlock()

	if !it.removable {
		return errors.WithMessage(collection.ErrNoSuchElement, "Next was not called")
	}
	var n, err = sqlstore.ExecuteUpdate(ctx, it.q.h,
		`DELETE FROM queue WHERE id = ?`, sqlstore.Args(it.current), nil)
	if err != nil {
		return err
	}
	it.q.adjust(-int(n))
	it.removable = false

	return nil
}
