// Package queue implements durable FIFO queues of values backed by a SQLite
// store. Entries are rows of a single table, identified by a store-assigned
// id which strictly increases over the lifetime of the store and is never
// reused. The head of a Queue is its entry having the minimum id.
//
// A Queue owns one sqlstore.Handle, and serializes all of its operations
// through an instance mutex. BlockingQueue layers waiting consumers upon a
// Queue, and Consumer processes the head of a BlockingQueue in a loop,
// removing each entry only once it's been processed.
package queue

import (
	"context"
	"database/sql"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.pickle.dev/core/collection"
	"go.pickle.dev/core/metrics"
	"go.pickle.dev/core/sqlstore"
)

// Schema of the queue table.
const Schema = `
	CREATE TABLE IF NOT EXISTS queue (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		payload BLOB NOT NULL
	);`

// Option configures a Queue.
type Option[T any] func(*Queue[T])

// WithCodec sets the Codec of queue payloads. The default is JSONCodec.
func WithCodec[T any](codec collection.Codec[T]) Option[T] {
	return func(q *Queue[T]) { q.codec = codec }
}

// Queue is a durable FIFO queue of T.
type Queue[T any] struct {
	mu    sync.Mutex
	h     *sqlstore.Handle
	codec collection.Codec[T]
	label string

	// Cached number of entries, mutated only while holding |mu|.
	count int
	// Consumers waiting for the queue to become non-empty, in arrival order.
	waiters []chan struct{}
}

var _ collection.Collection[string] = (*Queue[string])(nil)

// Open the Queue stored in the Config directory.
func Open[T any](cfg sqlstore.Config, opts ...Option[T]) (*Queue[T], error) {
	var h, err = sqlstore.Open(cfg, Schema)
	if err != nil {
		return nil, err
	}
	var q = &Queue[T]{
		h:     h,
		codec: collection.JSONCodec[T]{},
		label: h.Dir(),
	}
	for _, opt := range opts {
		opt(q)
	}

	if err = q.recount(context.Background()); err != nil {
		h.Dispose()
		return nil, err
	}
	log.WithFields(log.Fields{"dir": h.Dir(), "size": q.count}).Debug("opened queue")

	return q, nil
}

// Handle returns the sqlstore.Handle of the Queue.
func (q *Queue[T]) Handle() *sqlstore.Handle { return q.h }

// Add is an alias of Offer.
func (q *Queue[T]) Add(ctx context.Context, v T) error { return q.Offer(ctx, v) }

// Offer appends |v| to the tail of the Queue. The entry is durable once
// Offer returns. Nil values fail with collection.ErrInvalidArgument.
func (q *Queue[T]) Offer(ctx context.Context, v T) error {
	var b, err = collection.EncodeValue(q.codec, v)
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if err = q.offer(ctx, b); err == nil {
		q.adjust(1)
	}
	return err
}

// Peek returns the head of the Queue without removing it,
// or ok=false if the Queue is empty.
func (q *Queue[T]) Peek(ctx context.Context) (v T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var row entry
	if row, err = q.peek(ctx); err != nil || row.id == 0 {
		return v, false, err
	}
	v, err = q.decode(row.payload)
	return v, err == nil, err
}

// Poll removes and returns the head of the Queue,
// or returns ok=false if the Queue is empty.
func (q *Queue[T]) Poll(ctx context.Context) (v T, ok bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.pollLocked(ctx)
}

// Size returns the number of entries of the Queue, as counted by the store.
func (q *Queue[T]) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.size(ctx)
}

// IsEmpty returns whether the Queue has no entries.
func (q *Queue[T]) IsEmpty(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var row, err = q.peek(ctx)
	return row.id == 0, err
}

// Contains returns whether an entry encoding equal to |v| is queued.
func (q *Queue[T]) Contains(ctx context.Context, v T) (bool, error) {
	var b, err = collection.EncodeValue(q.codec, v)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	r, err := sqlstore.ExecuteQuery(ctx, q.h,
		`SELECT MIN(id) FROM queue WHERE payload = ?`, sqlstore.Args(b), sqlstore.ScanInt64)
	return r.Ok, err
}

// Remove removes the oldest entry encoding equal to |v|,
// and returns whether such an entry existed.
func (q *Queue[T]) Remove(ctx context.Context, v T) (bool, error) {
	var b, err = collection.EncodeValue(q.codec, v)
	if err != nil {
		return false, err
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	n, err := sqlstore.ExecuteUpdate(ctx, q.h,
		`DELETE FROM queue WHERE id = (SELECT MIN(id) FROM queue WHERE payload = ?)`,
		sqlstore.Args(b), nil)
	if err != nil {
		return false, err
	}
	q.adjust(-int(n))
	return n != 0, nil
}

// Clear removes all entries of the Queue.
func (q *Queue[T]) Clear(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var _, err = sqlstore.ExecuteUpdate(ctx, q.h, `DELETE FROM queue`, nil, nil)
	if err == nil {
		q.adjust(-q.count)
	}
	return err
}

// Iterator returns a collection.Iterator positioned before the head.
func (q *Queue[T]) Iterator() collection.Iterator[T] { return q.Cursor() }

// Cursor returns an Iterator positioned before the head.
func (q *Queue[T]) Cursor() *Iterator[T] {
	return &Iterator[T]{q: q, current: beforeFirst}
}

// InTransaction runs |fn| with the Queue locked and within a single store
// transaction. The Txn passed to |fn| reads and mutates the Queue, and is
// valid only until |fn| returns. If |fn| returns nil the transaction is
// committed, and otherwise it's rolled back and the error of |fn| returned.
func (q *Queue[T]) InTransaction(ctx context.Context, fn func(*Txn[T]) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var txn = &Txn[T]{q: q}
	var err = q.h.InTransaction(ctx, func(ctx context.Context) error {
		return fn(txn)
	})
	if err == nil {
		if txn.resync {
			q.adjust(-q.count)
		}
		q.adjust(txn.delta)
	}
	return err
}

// Compact the store of the Queue, reclaiming space of removed entries.
// The caller must ensure no other Handle is open on the same directory.
func (q *Queue[T]) Compact(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.h.Compact(ctx); err != nil {
		return err
	}
	return q.recount(ctx)
}

// Dispose the Queue, closing its store. Waiting consumers are woken,
// and will fail on their next access of the store.
func (q *Queue[T]) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.h.Dispose()
	for q.signal() {
	}
}

// entry is a row of the queue table. An id of zero denotes no entry.
type entry struct {
	id      int64
	payload []byte
}

func (q *Queue[T]) offer(ctx context.Context, b []byte) error {
	var _, err = sqlstore.ExecuteUpdate(ctx, q.h,
		`INSERT INTO queue (payload) VALUES (?)`, sqlstore.Args(b), nil)
	if err == nil {
		metrics.QueueEnqueuedTotal.WithLabelValues(q.label).Inc()
	}
	return err
}

func (q *Queue[T]) peek(ctx context.Context) (entry, error) {
	return q.next(ctx, beforeFirst)
}

// next returns the entry with the smallest id greater than |after|.
func (q *Queue[T]) next(ctx context.Context, after int64) (entry, error) {
	return sqlstore.ExecuteQuery(ctx, q.h,
		`SELECT id, payload FROM queue WHERE id > ? ORDER BY id LIMIT 1`, sqlstore.Args(after),
		func(rows *sql.Rows) (e entry, err error) {
			if rows.Next() {
				err = rows.Scan(&e.id, &e.payload)
			}
			return
		})
}

// poll reads, decodes and deletes the head within the current transaction
// of the Handle, which the caller must hold open. A head which fails to
// decode is not deleted.
func (q *Queue[T]) poll(ctx context.Context) (v T, ok bool, err error) {
	var row entry
	if row, err = q.peek(ctx); err != nil || row.id == 0 {
		return v, false, err
	} else if v, err = q.decode(row.payload); err != nil {
		return v, false, errors.WithMessagef(err, "entry %d", row.id)
	}
	_, err = sqlstore.ExecuteUpdate(ctx, q.h,
		`DELETE FROM queue WHERE id = ?`, sqlstore.Args(row.id),
		func(n int64) error {
			if n != 1 {
				return errors.Errorf("expected to delete head entry %d (deleted %d)", row.id, n)
			}
			return nil
		})
	if err != nil {
		return v, false, err
	}
	metrics.QueueDequeuedTotal.WithLabelValues(q.label).Inc()
	return v, true, nil
}

// pollLocked polls the head in a new transaction. |mu| must be held.
func (q *Queue[T]) pollLocked(ctx context.Context) (v T, ok bool, err error) {
	if err = q.h.InTransaction(ctx, func(ctx context.Context) (err error) {
		v, ok, err = q.poll(ctx)
		return
	}); err != nil {
		var zero T
		return zero, false, err
	} else if !ok {
		q.adjust(-q.count) // Resynchronize, if another Handle drained the store.
		return v, false, nil
	}
	q.adjust(-1)
	return v, true, nil
}

func (q *Queue[T]) size(ctx context.Context) (int, error) {
	var r, err = sqlstore.ExecuteQuery(ctx, q.h, `SELECT COUNT(*) FROM queue`, nil, sqlstore.ScanInt64)
	return int(r.Value), err
}

func (q *Queue[T]) recount(ctx context.Context) error {
	var n, err = q.size(ctx)
	if err != nil {
		return err
	}
	q.adjust(n - q.count)
	return nil
}

func (q *Queue[T]) decode(b []byte) (T, error) {
	var v, err = q.codec.Decode(b)
	if err != nil {
		return v, errors.WithMessage(err, "decoding payload")
	}
	return v, nil
}

// adjust the cached count by |delta|, waking a waiter for each added entry.
func (q *Queue[T]) adjust(delta int) {
	if q.count += delta; q.count < 0 {
		q.count = 0
	}
	metrics.QueueDepth.WithLabelValues(q.label).Set(float64(q.count))

	for ; delta > 0 && q.signal(); delta-- {
	}
}
