package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.pickle.dev/core/collection"
	"go.pickle.dev/core/sqlstore"
)

func TestEnqueueThenDequeueScenario(t *testing.T) {
	var ctx = context.Background()
	var q = newTestQueue(t, sqlstore.Config{Dir: t.TempDir()})

	size, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, size)

	for i := 0; i != 10; i++ {
		require.NoError(t, q.Add(ctx, item(i)))
	}
	for i := 0; i != 5; i++ {
		var v, ok, err = q.Poll(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, item(i), v)
	}
	size, err = q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, size)

	require.Equal(t, []string{item(5), item(6), item(7), item(8), item(9)}, iterate(t, q.Iterator()))
}

func TestPeekPollAndEmptiness(t *testing.T) {
	var ctx = context.Background()
	var q = newTestQueue(t, sqlstore.Config{Dir: t.TempDir()})

	var _, ok, err = q.Peek(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = q.Poll(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	empty, err := q.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)

	require.NoError(t, q.Offer(ctx, "one"))
	require.NoError(t, q.Offer(ctx, "two"))

	// Peek doesn't remove.
	for i := 0; i != 2; i++ {
		v, ok, err := q.Peek(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "one", v)
	}
	empty, err = q.IsEmpty(ctx)
	require.NoError(t, err)
	require.False(t, empty)

	v, ok, err := q.Poll(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "one", v)

	v, _, _ = q.Peek(ctx)
	require.Equal(t, "two", v)
}

func TestContainsRemoveAndClear(t *testing.T) {
	var ctx = context.Background()
	var q = newTestQueue(t, sqlstore.Config{Dir: t.TempDir()})

	require.NoError(t, collection.AddAll[string](ctx, q, "a", "b", "a", "c"))

	ok, err := q.Contains(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = q.Contains(ctx, "z")
	require.NoError(t, err)
	require.False(t, ok)

	// Remove takes the oldest of equal entries.
	ok, err = q.Remove(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = q.Remove(ctx, "z")
	require.NoError(t, err)
	require.False(t, ok)

	require.Equal(t, []string{"b", "a", "c"}, iterate(t, q.Iterator()))
	require.Equal(t, 3, q.count)

	require.NoError(t, q.Clear(ctx))
	size, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, size)
	require.Equal(t, 0, q.count)
}

func TestNilValuesAreRejected(t *testing.T) {
	var ctx = context.Background()
	var q, err = Open[*string](sqlstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer q.Dispose()

	require.ErrorIs(t, q.Offer(ctx, nil), collection.ErrInvalidArgument)
	_, err = q.Contains(ctx, nil)
	require.ErrorIs(t, err, collection.ErrInvalidArgument)
	_, err = q.Remove(ctx, nil)
	require.ErrorIs(t, err, collection.ErrInvalidArgument)

	// No state change.
	size, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, size)

	var s = "value"
	require.NoError(t, q.Offer(ctx, &s))

	v, ok, err := q.Poll(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "value", *v)
}

func TestIteratorSkipsRemovedEntries(t *testing.T) {
	var ctx = context.Background()
	var q = newTestQueue(t, sqlstore.Config{Dir: t.TempDir()})

	for i := 0; i != 6; i++ {
		require.NoError(t, q.Offer(ctx, item(i)))
	}
	var it = q.Cursor()
	require.Equal(t, int64(-1), it.ID())

	// Remove requires a preceding Next.
	require.ErrorIs(t, it.Remove(ctx), collection.ErrNoSuchElement)

	v, err := it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, item(0), v)
	require.Equal(t, int64(1), it.ID())

	// Entries are removed out from under the cursor.
	_, _, err = q.Poll(ctx) // Removes item(0), at the cursor.
	require.NoError(t, err)
	_, err = q.Remove(ctx, item(2))
	require.NoError(t, err)

	// Removing at the cursor tolerates the entry being already gone.
	require.NoError(t, it.Remove(ctx))
	require.ErrorIs(t, it.Remove(ctx), collection.ErrNoSuchElement)

	v, err = it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, item(1), v)
	require.NoError(t, it.Remove(ctx))

	v, err = it.Next(ctx)
	require.NoError(t, err)
	require.Equal(t, item(3), v) // Skips the removed id 3.
	require.Equal(t, int64(4), it.ID())

	// Traversal continues to the end, after which Next fails.
	require.Equal(t, []string{item(4), item(5)}, iterate(t, it))
	_, err = it.Next(ctx)
	require.ErrorIs(t, err, collection.ErrNoSuchElement)

	require.Equal(t, []string{item(3), item(4), item(5)}, iterate(t, q.Iterator()))
	require.Equal(t, 3, q.count)
}

func TestIteratorRemovingEveryEntryEmptiesQueue(t *testing.T) {
	var ctx = context.Background()
	var q = newTestQueue(t, sqlstore.Config{Dir: t.TempDir()})

	for i := 0; i != 20; i++ {
		require.NoError(t, q.Offer(ctx, item(i)))
	}
	var it = q.Iterator()
	var seen []string

	for {
		ok, err := it.HasNext(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		v, err := it.Next(ctx)
		require.NoError(t, err)
		require.NoError(t, it.Remove(ctx))
		seen = append(seen, v)
	}
	require.Len(t, seen, 20)

	empty, err := q.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)
	require.Equal(t, 0, q.count)
}

func TestFIFOIsUnaffectedByIteration(t *testing.T) {
	var ctx = context.Background()
	var q = newTestQueue(t, sqlstore.Config{Dir: t.TempDir()})

	var it = q.Cursor()
	for i := 0; i != 10; i++ {
		require.NoError(t, q.Offer(ctx, item(i)))

		// Walk the cursor behind the tail, removing item(4) as it's visited.
		if i%2 == 1 {
			v, err := it.Next(ctx)
			require.NoError(t, err)
			if v == item(4) {
				require.NoError(t, it.Remove(ctx))
			}
		}
	}
	var polled []string
	for {
		var v, ok, err = q.Poll(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		polled = append(polled, v)
	}
	require.Equal(t, []string{item(0), item(1), item(2), item(3),
		item(5), item(6), item(7), item(8), item(9)}, polled)
}

func TestInTransactionCommitsOrRollsBack(t *testing.T) {
	var ctx = context.Background()
	var q = newTestQueue(t, sqlstore.Config{Dir: t.TempDir()})

	require.NoError(t, q.InTransaction(ctx, func(txn *Txn[string]) error {
		require.NoError(t, txn.Offer(ctx, "one"))
		require.NoError(t, txn.Offer(ctx, "two"))
		require.NoError(t, txn.Offer(ctx, "three"))

		var v, ok, err = txn.Poll(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "one", v)

		size, err := txn.Size(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, size)
		return nil
	}))
	require.Equal(t, 2, q.count)

	var abort = errors.New("abort")
	require.Equal(t, abort, q.InTransaction(ctx, func(txn *Txn[string]) error {
		require.NoError(t, txn.Offer(ctx, "four"))

		var v, ok, err = txn.Poll(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "two", v)

		v, ok, err = txn.Peek(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "three", v)
		return abort
	}))
	require.Equal(t, 2, q.count)
	require.Equal(t, []string{"two", "three"}, iterate(t, q.Iterator()))

	// An observed empty queue resynchronizes the cached count.
	require.NoError(t, q.Clear(ctx))
	q.count = 7
	require.NoError(t, q.InTransaction(ctx, func(txn *Txn[string]) error {
		var _, ok, err = txn.Peek(ctx)
		require.False(t, ok)
		require.NoError(t, txn.Offer(ctx, "five"))
		return err
	}))
	require.Equal(t, 1, q.count)
}

func TestEntriesAreDurable(t *testing.T) {
	var ctx = context.Background()
	var cfg = sqlstore.Config{Dir: t.TempDir()}

	var q, err = Open[string](cfg)
	require.NoError(t, err)
	for i := 0; i != 3; i++ {
		require.NoError(t, q.Offer(ctx, item(i)))
	}
	_, _, err = q.Poll(ctx)
	require.NoError(t, err)
	q.Dispose()
	q.Dispose() // Idempotent.

	// Operations of a disposed Queue fail.
	require.ErrorIs(t, q.Offer(ctx, "nope"), sqlstore.ErrStorage)

	q = newTestQueue(t, cfg)
	require.Equal(t, 2, q.count)
	require.Equal(t, []string{item(1), item(2)}, iterate(t, q.Iterator()))
}

func TestGobCodec(t *testing.T) {
	type point struct{ X, Y int }

	var ctx = context.Background()
	var q, err = Open(sqlstore.Config{Dir: t.TempDir()}, WithCodec[point](collection.GobCodec[point]{}))
	require.NoError(t, err)
	defer q.Dispose()

	require.NoError(t, q.Offer(ctx, point{1, 2}))
	require.NoError(t, q.Offer(ctx, point{3, 4}))

	ok, err := q.Contains(ctx, point{3, 4})
	require.NoError(t, err)
	require.True(t, ok)

	v, _, err := q.Poll(ctx)
	require.NoError(t, err)
	require.Equal(t, point{1, 2}, v)
}

func TestUndecodableHeadIsNotRemoved(t *testing.T) {
	var ctx = context.Background()
	var b, err = OpenBlocking[string](sqlstore.Config{Dir: t.TempDir()},
		WithCodec[string](rejectingCodec{reject: "bad"}))
	require.NoError(t, err)
	defer b.Dispose()

	require.NoError(t, b.Offer(ctx, "bad"))
	require.NoError(t, b.Offer(ctx, "good"))

	var expectRetained = func() {
		var size, err = b.Queue.Size(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, size)

		size, err = b.Size(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, size)
	}

	_, _, err = b.Poll(ctx)
	require.EqualError(t, err, "entry 1: decoding payload: rejected")
	expectRetained()

	_, err = b.Take(ctx)
	require.Error(t, err)
	expectRetained()

	_, _, err = b.PollTimeout(ctx, time.Millisecond)
	require.Error(t, err)
	expectRetained()

	require.Error(t, b.InTransaction(ctx, func(txn *Txn[string]) error {
		var _, _, err = txn.Poll(ctx)
		return err
	}))
	expectRetained()

	// Once the bad entry is removed, the queue is consumable again.
	removed, err := b.Remove(ctx, "bad")
	require.NoError(t, err)
	require.True(t, removed)

	v, ok, err := b.Poll(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "good", v)
}

func TestMapPayloadsAreMatched(t *testing.T) {
	var ctx = context.Background()
	var q, err = Open[map[string]int](sqlstore.Config{Dir: t.TempDir()})
	require.NoError(t, err)
	defer q.Dispose()

	require.NoError(t, q.Offer(ctx, map[string]int{"one": 1, "two": 2, "three": 3}))

	ok, err := q.Contains(ctx, map[string]int{"three": 3, "two": 2, "one": 1})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = q.Remove(ctx, map[string]int{"two": 2, "one": 1, "three": 3})
	require.NoError(t, err)
	require.True(t, ok)

	empty, err := q.IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)
}

func TestCompactionRetainsRemainingEntries(t *testing.T) {
	var ctx = context.Background()
	var q = newTestQueue(t, sqlstore.Config{Dir: t.TempDir(), TempDir: t.TempDir()})

	require.NoError(t, q.InTransaction(ctx, func(txn *Txn[string]) error {
		for i := 0; i != 1000; i++ {
			if err := txn.Offer(ctx, item(i)); err != nil {
				return err
			}
		}
		return nil
	}))
	for i := 0; i != 900; i++ {
		var v, ok, err = q.Poll(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, item(i), v)
	}
	require.NoError(t, q.Compact(ctx))

	size, err := q.Size(ctx)
	require.NoError(t, err)
	require.Equal(t, 100, size)
	require.Equal(t, 100, q.count)

	var expect []string
	for i := 900; i != 1000; i++ {
		expect = append(expect, item(i))
	}
	require.Equal(t, expect, iterate(t, q.Iterator()))

	// Ids continue to increase beyond every id ever assigned.
	require.NoError(t, q.Offer(ctx, "after"))

	var it = q.Cursor()
	for {
		var v, err = it.Next(ctx)
		require.NoError(t, err)
		if v == "after" {
			break
		}
	}
	require.Equal(t, int64(1001), it.ID())
}

func newTestQueue(t *testing.T, cfg sqlstore.Config) *Queue[string] {
	var q, err = Open[string](cfg)
	require.NoError(t, err)
	t.Cleanup(q.Dispose)
	return q
}

func iterate(t *testing.T, it collection.Iterator[string]) []string {
	var ctx = context.Background()
	var out []string

	for {
		var ok, err = it.HasNext(ctx)
		require.NoError(t, err)
		if !ok {
			return out
		}
		v, err := it.Next(ctx)
		require.NoError(t, err)
		out = append(out, v)
	}
}

func item(i int) string { return fmt.Sprintf("item-%04d", i) }

// rejectingCodec fails to decode the payload |reject|.
type rejectingCodec struct {
	collection.JSONCodec[string]
	reject string
}

func (c rejectingCodec) Decode(b []byte) (string, error) {
	var v, err = c.JSONCodec.Decode(b)
	if err == nil && v == c.reject {
		err = errors.New("rejected")
	}
	return v, err
}
