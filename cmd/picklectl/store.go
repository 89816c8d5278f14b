package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"
	"go.pickle.dev/core/keystore"
	"go.pickle.dev/core/queue"
	"go.pickle.dev/core/sqlstore"
)

type cmdStoreCompact struct{}

type cmdStoreStat struct{}

func init() {
	CommandRegistry.AddCommand("", "store", "Interact with a store directory", "", &struct{}{})

	CommandRegistry.AddCommand("store", "compact", "Compact the store database", `
Compact the SQLite database of the store, by dumping its contents to a
temporary SQL script (see --store.temp-dir and --store.compaction-codec),
re-creating the database, and replaying the script.

Other processes must not use the store while it's compacted.
`, &cmdStoreCompact{})

	CommandRegistry.AddCommand("store", "stat", "Print statistics of the store", `
Print the on-disk size of the store directory, and the number of entries of
its queue and map.
`, &cmdStoreStat{})
}

// storeSchema is the union of the queue and map schemas, so that a single
// handle may address a store holding either or both.
var storeSchema = queue.Schema + keystore.Schema

func (cmd *cmdStoreCompact) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdStoreCompact) run(ctx context.Context) error {
	var h, err = sqlstore.Open(Config.Store, storeSchema)
	if err != nil {
		return err
	}
	defer h.Dispose()

	before, err := h.Size()
	if err != nil {
		return err
	}
	if err = h.Compact(ctx); err != nil {
		return err
	}
	after, err := h.Size()
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "compacted %s: %s => %s\n", h.Dir(),
		humanize.Bytes(uint64(before)), humanize.Bytes(uint64(after)))
	return nil
}

func (cmd *cmdStoreStat) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdStoreStat) run(ctx context.Context) error {
	var h, err = sqlstore.Open(Config.Store, storeSchema)
	if err != nil {
		return err
	}
	defer h.Dispose()

	size, err := h.Size()
	if err != nil {
		return err
	}
	var count = func(table string) (int64, error) {
		var r, err = sqlstore.ExecuteQuery(ctx, h, "SELECT COUNT(*) FROM "+table, nil, sqlstore.ScanInt64)
		return r.Value, err
	}
	queued, err := count("queue")
	if err != nil {
		return err
	}
	mapped, err := count("map")
	if err != nil {
		return err
	}

	log.WithField("path", h.Path()).Debug("read store statistics")
	fmt.Fprintf(stdout, "dir:\t%s\nsize:\t%s\nqueue:\t%s entries\nmap:\t%s entries\n",
		h.Dir(), humanize.Bytes(uint64(size)), humanize.Comma(queued), humanize.Comma(mapped))
	return nil
}

// lockedWriter serializes lines written by concurrent tasks.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) println(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var _, err = fmt.Fprintln(w.w, s)
	return err
}
