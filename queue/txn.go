package queue

import (
	"context"

	"go.pickle.dev/core/collection"
)

// Txn reads and mutates a Queue within Queue.InTransaction.
// Its effects are durable only once the transaction commits.
type Txn[T any] struct {
	q      *Queue[T]
	delta  int  // Change of the entry count, applied on commit.
	resync bool // Whether the queue was observed to be empty.
}

func (t *Txn[T]) observedEmpty() {
	t.delta, t.resync = 0, true
}

// Offer appends |v| to the tail of the Queue.
func (t *Txn[T]) Offer(ctx context.Context, v T) error {
	var b, err = collection.EncodeValue(t.q.codec, v)
	if err != nil {
		return err
	} else if err = t.q.offer(ctx, b); err != nil {
		return err
	}
	t.delta++
	return nil
}

// Peek returns the head of the Queue, or ok=false if it's empty.
func (t *Txn[T]) Peek(ctx context.Context) (v T, ok bool, err error) {
	var row entry
	if row, err = t.q.peek(ctx); err != nil {
		return v, false, err
	} else if row.id == 0 {
		t.observedEmpty()
		return v, false, nil
	}
	v, err = t.q.decode(row.payload)
	return v, err == nil, err
}

// Poll removes and returns the head of the Queue, or ok=false if it's empty.
// A head which fails to decode is left in place, and the error returned.
func (t *Txn[T]) Poll(ctx context.Context) (v T, ok bool, err error) {
	if v, ok, err = t.q.poll(ctx); err != nil {
		return v, false, err
	} else if !ok {
		t.observedEmpty()
		return v, false, nil
	}
	t.delta--
	return v, true, nil
}

// Size returns the number of entries of the Queue, including uncommitted
// changes of the transaction.
func (t *Txn[T]) Size(ctx context.Context) (int, error) {
	return t.q.size(ctx)
}
