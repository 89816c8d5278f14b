package queue

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/pkg/errors"
	"go.pickle.dev/core/collection"
	"go.pickle.dev/core/metrics"
	"go.pickle.dev/core/sqlstore"
)

// BlockingQueue is a Queue whose consumers may wait for entries to arrive.
// The BlockingQueue is unbounded: producers never wait.
//
// Each enqueued entry wakes at most one waiting consumer, in arrival order.
// A woken consumer re-checks the cached entry count, and waits again if
// another consumer took the entry first.
type BlockingQueue[T any] struct {
	*Queue[T]
}

var _ collection.Collection[string] = (*BlockingQueue[string])(nil)

// OpenBlocking opens the BlockingQueue stored in the Config directory.
func OpenBlocking[T any](cfg sqlstore.Config, opts ...Option[T]) (*BlockingQueue[T], error) {
	var q, err = Open[T](cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &BlockingQueue[T]{Queue: q}, nil
}

// Put appends |v| to the tail of the BlockingQueue. It never waits.
func (b *BlockingQueue[T]) Put(ctx context.Context, v T) error { return b.Offer(ctx, v) }

// OfferTimeout appends |v| to the tail of the BlockingQueue. As the
// BlockingQueue is unbounded, it never waits on |timeout|.
func (b *BlockingQueue[T]) OfferTimeout(ctx context.Context, v T, _ time.Duration) error {
	return b.Offer(ctx, v)
}

// Take removes and returns the head of the BlockingQueue, waiting until one
// is available or |ctx| is done (in which case ctx.Err() is returned).
func (b *BlockingQueue[T]) Take(ctx context.Context) (v T, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var started = time.Now()
	for {
		if err = b.awaitEntries(ctx, time.Time{}); err != nil {
			return v, err
		}
		var ok bool
		if v, ok, err = b.pollLocked(ctx); err != nil || ok {
			metrics.QueueWaitSeconds.Observe(time.Since(started).Seconds())
			return v, err
		}
	}
}

// PollTimeout removes and returns the head of the BlockingQueue, waiting up
// to |timeout| for one to become available. It returns ok=false only after
// |timeout| has elapsed.
func (b *BlockingQueue[T]) PollTimeout(ctx context.Context, timeout time.Duration) (v T, ok bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var started = time.Now()
	var deadline = started.Add(timeout)

	for {
		if err = b.awaitEntries(ctx, deadline); err != nil {
			return v, false, err
		} else if b.count == 0 && b.h.IsOpen() {
			return v, false, nil // Deadline elapsed.
		}
		if v, ok, err = b.pollLocked(ctx); err != nil || ok {
			metrics.QueueWaitSeconds.Observe(time.Since(started).Seconds())
			return v, ok, err
		}
	}
}

// DrainTo removes up to |max| entries from the head of the BlockingQueue and
// adds each to |sink|, in order. A negative |max| drains all entries. Removal
// is atomic: if |sink| fails, the error is returned and no entries are removed
// (though |sink| may have accepted some of them). DrainTo returns the number
// of entries drained, or collection.ErrInvalidArgument if |sink| is the
// BlockingQueue itself.
func (b *BlockingQueue[T]) DrainTo(ctx context.Context, sink collection.Sink[T], max int) (int, error) {
	switch s := sink.(type) {
	case *BlockingQueue[T]:
		if s.Queue == b.Queue {
			return 0, errors.WithMessage(collection.ErrInvalidArgument, "cannot drain a queue to itself")
		}
	case *Queue[T]:
		if s == b.Queue {
			return 0, errors.WithMessage(collection.ErrInvalidArgument, "cannot drain a queue to itself")
		}
	}
	if max == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var drained int64
	var err = b.h.InTransaction(ctx, func(ctx context.Context) error {
		var rows, err = sqlstore.ExecuteQuery(ctx, b.h,
			`SELECT id, payload FROM queue ORDER BY id LIMIT ?`, sqlstore.Args(max),
			func(rows *sql.Rows) ([]entry, error) {
				var out []entry
				for rows.Next() {
					var e entry
					if err := rows.Scan(&e.id, &e.payload); err != nil {
						return nil, err
					}
					out = append(out, e)
				}
				return out, nil
			})
		if err != nil || len(rows) == 0 {
			return err
		}

		for _, row := range rows {
			if v, err := b.decode(row.payload); err != nil {
				return err
			} else if err = sink.Add(ctx, v); err != nil {
				return errors.WithMessagef(err, "adding entry %d to sink", row.id)
			}
		}
		drained, err = sqlstore.ExecuteUpdate(ctx, b.h,
			`DELETE FROM queue WHERE id <= ?`, sqlstore.Args(rows[len(rows)-1].id), nil)
		return err
	})
	if err != nil {
		return 0, err
	}
	b.adjust(-int(drained))
	metrics.QueueDequeuedTotal.WithLabelValues(b.label).Add(float64(drained))

	return int(drained), nil
}

// Size returns the cached number of entries of the BlockingQueue.
func (b *BlockingQueue[T]) Size(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count, nil
}

// RemainingCapacity is always math.MaxInt, as a BlockingQueue is unbounded.
func (b *BlockingQueue[T]) RemainingCapacity() int { return math.MaxInt }

// awaitEntries waits until the cached count is non-zero, |deadline| passes
// (if non-zero), or |ctx| is done. |mu| must be held, and is released while
// waiting. A disposed queue doesn't wait.
func (q *Queue[T]) awaitEntries(ctx context.Context, deadline time.Time) error {
	for q.count == 0 && q.h.IsOpen() {
		var timeout time.Duration
		if !deadline.IsZero() {
			if timeout = time.Until(deadline); timeout <= 0 {
				return nil
			}
		}
		if err := q.wait(ctx, timeout); err != nil {
			return err
		}
	}
	return nil
}

// wait for a signal, expiry of |timeout| (if > 0), or |ctx| to be done.
// |mu| must be held. It's released while waiting, and re-acquired.
func (q *Queue[T]) wait(ctx context.Context, timeout time.Duration) error {
	var ch = make(chan struct{})
	q.waiters = append(q.waiters, ch)
	q.mu.Unlock()

	var expired <-chan time.Time
	if timeout > 0 {
		var timer = time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	var err error
	select {
	case <-ch:
	case <-expired:
	case <-ctx.Done():
		err = ctx.Err()
	}
	q.mu.Lock()

	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return err
		}
	}
	// We were signaled. If we're giving up, pass the signal on.
	if err != nil && q.count != 0 {
		q.signal()
	}
	return err
}

// signal wakes the longest waiting consumer, returning false if there is none.
func (q *Queue[T]) signal() bool {
	if len(q.waiters) == 0 {
		return false
	}
	close(q.waiters[0])
	q.waiters = q.waiters[1:]
	return true
}
