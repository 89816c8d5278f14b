package queue

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.pickle.dev/core/collection"
	"go.pickle.dev/core/sqlstore"
)

func TestPollTimeoutWaitsForFullTimeout(t *testing.T) {
	var ctx = context.Background()
	var b = newTestBlockingQueue(t)

	var started = time.Now()
	var _, ok, err = b.PollTimeout(ctx, 50*time.Millisecond)
	require.NoError(t, err)
	require.False(t, ok)
	require.GreaterOrEqual(t, time.Since(started), 50*time.Millisecond)

	// A zero timeout doesn't wait.
	_, ok, err = b.PollTimeout(ctx, 0)
	require.NoError(t, err)
	require.False(t, ok)

	// An available entry is returned immediately.
	require.NoError(t, b.Put(ctx, "one"))
	v, ok, err := b.PollTimeout(ctx, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)
}

func TestTakeUnblocksOnPut(t *testing.T) {
	var ctx = context.Background()
	var b = newTestBlockingQueue(t)

	var taken = make(chan string)
	go func() {
		var v, err = b.Take(ctx)
		require.NoError(t, err)
		taken <- v
	}()

	// Wait for the taker to block.
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.waiters) == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, b.Put(ctx, "one"))

	select {
	case v := <-taken:
		require.Equal(t, "one", v)
	case <-time.After(5 * time.Second):
		t.Fatal("Take did not unblock")
	}
}

func TestPollTimeoutUnblocksOnPut(t *testing.T) {
	var ctx = context.Background()
	var b = newTestBlockingQueue(t)

	time.AfterFunc(20*time.Millisecond, func() { _ = b.OfferTimeout(ctx, "one", time.Second) })

	var v, ok, err = b.PollTimeout(ctx, 5*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)
}

func TestTakeIsCancelled(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	var b = newTestBlockingQueue(t)

	time.AfterFunc(10*time.Millisecond, cancel)

	var _, err = b.Take(ctx)
	require.ErrorIs(t, err, context.Canceled)

	b.mu.Lock()
	require.Empty(t, b.waiters)
	b.mu.Unlock()

	// Disposal wakes waiting consumers, which fail.
	var failed = make(chan error)
	go func() {
		var _, err = b.Take(context.Background())
		failed <- err
	}()
	require.Eventually(t, func() bool {
		b.mu.Lock()
		defer b.mu.Unlock()
		return len(b.waiters) == 1
	}, time.Second, time.Millisecond)

	b.Dispose()
	require.ErrorIs(t, <-failed, sqlstore.ErrStorage)
}

func TestConcurrentConsumersReceiveEachItemOnce(t *testing.T) {
	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	var b = newTestBlockingQueue(t)

	const consumers, items = 8, 80

	var mu sync.Mutex
	var received []string
	var wg sync.WaitGroup

	for i := 0; i != consumers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				var v, err = b.Take(ctx)
				if err != nil {
					require.ErrorIs(t, err, context.Canceled)
					return
				}
				mu.Lock()
				received = append(received, v)
				mu.Unlock()
			}
		}()
	}

	var expect []string
	for i := 0; i != items; i++ {
		require.NoError(t, b.Put(ctx, item(i)))
		expect = append(expect, item(i))
		time.Sleep(time.Millisecond)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == items
	}, 10*time.Second, 5*time.Millisecond)

	cancel()
	wg.Wait()

	sort.Strings(received)
	require.Equal(t, expect, received)

	size, err := b.Size(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, size)
}

func TestDrainTo(t *testing.T) {
	var ctx = context.Background()
	var b = newTestBlockingQueue(t)

	for i := 0; i != 10; i++ {
		require.NoError(t, b.Put(ctx, item(i)))
	}

	// A queue cannot drain to itself.
	var _, err = b.DrainTo(ctx, b, 1)
	require.ErrorIs(t, err, collection.ErrInvalidArgument)
	_, err = b.DrainTo(ctx, b.Queue, 1)
	require.ErrorIs(t, err, collection.ErrInvalidArgument)

	var sink collection.SliceSink[string]
	n, err := b.DrainTo(ctx, &sink, 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	n, err = b.DrainTo(ctx, &sink, 3)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []string{item(0), item(1), item(2)}, sink.Values)

	size, err := b.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, size)
	require.Equal(t, []string{item(3), item(4), item(5), item(6), item(7), item(8), item(9)},
		iterate(t, b.Iterator()))

	// A failing sink rolls back the drain.
	var failing = &failingSink{after: 2}
	_, err = b.DrainTo(ctx, failing, -1)
	require.ErrorIs(t, err, errSinkFull)
	size, err = b.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, size)

	// Draining more than the queue holds drains all of it, to another queue.
	var other = newTestBlockingQueue(t)
	n, err = b.DrainTo(ctx, other, 100)
	require.NoError(t, err)
	require.Equal(t, 7, n)

	size, err = b.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, size)
	size, err = other.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, size)

	v, _, err := other.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, item(3), v)

	// Draining an empty queue is a no-op.
	n, err = b.DrainTo(ctx, &sink, -1)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}

func TestBlockingSizeIsCached(t *testing.T) {
	var ctx = context.Background()
	var dir = t.TempDir()

	var q, err = Open[string](sqlstore.Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, collection.AddAll[string](ctx, q, "a", "b", "c"))
	q.Dispose()

	b, err := OpenBlocking[string](sqlstore.Config{Dir: dir})
	require.NoError(t, err)
	defer b.Dispose()

	// The count is initialized from the store.
	size, err := b.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, size)
	require.Equal(t, math.MaxInt, b.RemainingCapacity())

	require.NoError(t, b.Offer(ctx, "d"))
	_, err = b.Take(ctx)
	require.NoError(t, err)
	_, err = b.Remove(ctx, "c")
	require.NoError(t, err)

	size, err = b.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, size)
}

var errSinkFull = errors.New("sink is full")

type failingSink struct{ after int }

func (s *failingSink) Add(context.Context, string) error {
	if s.after == 0 {
		return errSinkFull
	}
	s.after--
	return nil
}

func newTestBlockingQueue(t *testing.T) *BlockingQueue[string] {
	var b, err = OpenBlocking[string](sqlstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(b.Dispose)
	return b
}
