package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
	"go.pickle.dev/core/sqlstore"
	"go.pickle.dev/core/task"
)

func TestQueueCommands(t *testing.T) {
	var out = setupStore(t)
	var ctx = context.Background()

	var push = new(cmdQueuePush)
	push.Args.Payloads = []string{"one", "two"}
	require.NoError(t, push.run(ctx, nil))
	// Without arguments, payloads are read from the input.
	require.NoError(t, new(cmdQueuePush).run(ctx, strings.NewReader("three\nfour\n")))

	require.NoError(t, new(cmdQueueSize).run(ctx))
	require.Equal(t, "4\n", out.String())

	out.Reset()
	require.NoError(t, new(cmdQueuePeek).run(ctx))
	require.Equal(t, "one\n", out.String())

	out.Reset()
	require.NoError(t, (&cmdQueueList{Limit: 3}).run(ctx))
	require.Contains(t, out.String(), "two")
	require.Contains(t, out.String(), "three")
	require.NotContains(t, out.String(), "four")

	out.Reset()
	require.NoError(t, (&cmdQueuePop{Count: 2}).run(ctx))
	require.Equal(t, "one\ntwo\n", out.String())

	out.Reset()
	require.NoError(t, (&cmdQueuePop{Count: -1}).run(ctx))
	require.Equal(t, "three\nfour\n", out.String())

	// Popping an empty queue waits out the timeout, then outputs nothing.
	out.Reset()
	var started = time.Now()
	require.NoError(t, (&cmdQueuePop{Count: 1, Timeout: 20 * time.Millisecond}).run(ctx))
	require.Empty(t, out.String())
	require.GreaterOrEqual(t, time.Since(started), 20*time.Millisecond)

	require.EqualError(t, new(cmdQueuePeek).run(ctx), "queue is empty")
}

func TestQueueConsumeCommand(t *testing.T) {
	var out = setupStore(t)
	var ctx = context.Background()

	var push = new(cmdQueuePush)
	push.Args.Payloads = []string{"a", "b", "c"}
	require.NoError(t, push.run(ctx, nil))

	var tasks = task.NewGroup(ctx)
	require.EqualError(t, (&cmdQueueConsume{Workers: 0}).run(tasks),
		"invalid --workers (0; expected >= 1)")
	require.NoError(t, (&cmdQueueConsume{Workers: 2, Interval: 10 * time.Millisecond}).run(tasks))

	require.Eventually(t, func() bool {
		return strings.Count(out.String(), "\n") == 3
	}, 5*time.Second, 10*time.Millisecond)

	tasks.Cancel()
	require.NoError(t, tasks.Wait())

	var lines = strings.Fields(out.String())
	require.ElementsMatch(t, []string{"a", "b", "c"}, lines)

	out.Reset()
	require.NoError(t, new(cmdQueueSize).run(ctx))
	require.Equal(t, "0\n", out.String())
}

func TestMapCommands(t *testing.T) {
	var out = setupStore(t)
	var ctx = context.Background()

	var put = func(k, v string) error {
		var cmd = new(cmdMapPut)
		cmd.Args.Key, cmd.Args.Value = k, v
		return cmd.run(ctx)
	}
	require.NoError(t, put("zebra", "stripes"))
	require.NoError(t, put("apple", "red"))
	require.Empty(t, out.String())

	// Overwriting outputs the previous value.
	require.NoError(t, put("apple", "green"))
	require.Equal(t, "red\n", out.String())

	out.Reset()
	var get = new(cmdMapGet)
	get.Args.Key = "apple"
	require.NoError(t, get.run(ctx))
	require.Equal(t, "green\n", out.String())

	out.Reset()
	require.NoError(t, new(cmdMapList).run(ctx))
	var listed = out.String()
	require.Less(t, strings.Index(listed, "apple"), strings.Index(listed, "zebra"))
	require.Contains(t, listed, "stripes")

	out.Reset()
	var remove = new(cmdMapRemove)
	remove.Args.Key = "zebra"
	require.NoError(t, remove.run(ctx))
	require.Equal(t, "stripes\n", out.String())

	require.EqualError(t, remove.run(ctx), `key "zebra" not found`)
	get.Args.Key = "zebra"
	require.EqualError(t, get.run(ctx), `key "zebra" not found`)
}

func TestStoreCommands(t *testing.T) {
	var out = setupStore(t)
	var ctx = context.Background()

	var push = new(cmdQueuePush)
	for i := 0; i != 100; i++ {
		push.Args.Payloads = append(push.Args.Payloads, strings.Repeat("x", 1000))
	}
	require.NoError(t, push.run(ctx, nil))
	require.NoError(t, (&cmdQueuePop{Count: 90}).run(ctx))

	var put = new(cmdMapPut)
	put.Args.Key, put.Args.Value = "key", "value"
	require.NoError(t, put.run(ctx))

	out.Reset()
	require.NoError(t, new(cmdStoreStat).run(ctx))
	require.Contains(t, out.String(), "queue:\t10 entries")
	require.Contains(t, out.String(), "map:\t1 entries")

	out.Reset()
	require.NoError(t, new(cmdStoreCompact).run(ctx))
	require.Contains(t, out.String(), "compacted "+Config.Store.Dir)

	// Contents survive compaction.
	out.Reset()
	require.NoError(t, new(cmdStoreStat).run(ctx))
	require.Contains(t, out.String(), "queue:\t10 entries")
	require.Contains(t, out.String(), "map:\t1 entries")
}

func TestCommandsAreRegistered(t *testing.T) {
	var parser = flags.NewParser(Config, flags.Default)
	require.NoError(t, CommandRegistry.AddCommands("", parser.Command))

	for _, path := range [][]string{
		{"queue", "push"}, {"queue", "pop"}, {"queue", "peek"}, {"queue", "list"},
		{"queue", "size"}, {"queue", "consume"},
		{"map", "put"}, {"map", "get"}, {"map", "remove"}, {"map", "list"},
		{"store", "compact"}, {"store", "stat"},
	} {
		var cmd = parser.Find(path[0])
		require.NotNil(t, cmd, path[0])
		require.NotNil(t, cmd.Find(path[1]), path[1])
	}
}

// setupStore points Config at a new store directory, and captures output.
func setupStore(t *testing.T) *syncBuffer {
	var out = new(syncBuffer)
	var prevCfg, prevOut = Config.Store, stdout

	Config.Store = sqlstore.Config{Dir: t.TempDir(), TempDir: t.TempDir()}
	stdout = out

	t.Cleanup(func() { Config.Store, stdout = prevCfg, prevOut })
	return out
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}
