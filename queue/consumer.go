package queue

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.pickle.dev/core/metrics"
)

// DefaultConsumerInterval is the poll interval of a Consumer when none is given.
const DefaultConsumerInterval = 250 * time.Millisecond

// ProcessFunc processes an entry of a Queue. If it returns an error, the
// entry remains at the head of the Queue and is processed again later.
//
// A ProcessFunc runs while the Consumer's queue is locked, and must not call
// methods of that same queue (eg, to re-enqueue an entry): they deadlock.
// Other queues and maps may be used freely.
type ProcessFunc[T any] func(ctx context.Context, v T) error

// Consumer processes entries from the head of a BlockingQueue, in order.
// Each entry is read, processed, and removed within a single transaction
// of the queue, so an entry is removed only if its processing succeeded.
// While an entry is processed, the queue is locked to other operations.
type Consumer[T any] struct {
	q        *BlockingQueue[T]
	fn       ProcessFunc[T]
	interval time.Duration
	disposed atomic.Bool
}

// NewConsumer returns a Consumer of the BlockingQueue which calls |fn| with
// each entry. |interval| bounds each wait for an entry, and is also the
// back-off after a failure. If zero, DefaultConsumerInterval is used.
func NewConsumer[T any](q *BlockingQueue[T], fn ProcessFunc[T], interval time.Duration) *Consumer[T] {
	if interval <= 0 {
		interval = DefaultConsumerInterval
	}
	return &Consumer[T]{q: q, fn: fn, interval: interval}
}

// Serve runs the Consumer loop until it's disposed or |ctx| is done, and
// then returns nil. Failures to process an entry, or of the store, are
// logged and retried after a back-off, and never end the loop.
func (c *Consumer[T]) Serve(ctx context.Context) error {
	log.WithFields(log.Fields{
		"dir":      c.q.h.Dir(),
		"interval": c.interval,
	}).Debug("starting queue consumer")

	for !c.disposed.Load() && ctx.Err() == nil {
		var ready, err = c.q.ready(ctx, c.interval)
		if err != nil || !ready {
			continue // Re-check for disposal.
		}

		var processed bool
		err = c.q.InTransaction(ctx, func(txn *Txn[T]) error {
			var v, ok, err = txn.Peek(ctx)
			if err != nil || !ok {
				return err
			} else if err = c.fn(ctx, v); err != nil {
				return errors.WithMessage(err, "processing entry")
			} else if _, _, err = txn.Poll(ctx); err != nil {
				return err
			}
			processed = true
			return nil
		})

		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.ConsumerProcessedTotal.WithLabelValues(metrics.Fail).Inc()
			log.WithFields(log.Fields{
				"dir": c.q.h.Dir(),
				"err": err,
			}).Warn("failed to consume queue entry (will retry)")

			c.backoff(ctx)
		} else if processed {
			metrics.ConsumerProcessedTotal.WithLabelValues(metrics.Ok).Inc()
		}
	}

	log.WithField("dir", c.q.h.Dir()).Debug("stopped queue consumer")
	return nil
}

// Dispose requests that the Consumer stop. It takes effect at the start of
// the Consumer's next cycle.
func (c *Consumer[T]) Dispose() { c.disposed.Store(true) }

func (c *Consumer[T]) backoff(ctx context.Context) {
	var timer = time.NewTimer(c.interval)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// ready waits up to |timeout| for the BlockingQueue to hold entries.
// A disposed queue is always ready, so that its use fails.
func (b *BlockingQueue[T]) ready(ctx context.Context, timeout time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.awaitEntries(ctx, time.Now().Add(timeout)); err != nil {
		return false, err
	}
	return b.count != 0 || !b.h.IsOpen(), nil
}
