package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"go.pickle.dev/core/keystore"
)

type cmdMapPut struct {
	Args struct {
		Key   string `positional-arg-name:"KEY" required:"yes"`
		Value string `positional-arg-name:"VALUE" required:"yes"`
	} `positional-args:"yes"`
}

type cmdMapGet struct {
	Args struct {
		Key string `positional-arg-name:"KEY" required:"yes"`
	} `positional-args:"yes"`
}

type cmdMapRemove struct {
	Args struct {
		Key string `positional-arg-name:"KEY" required:"yes"`
	} `positional-args:"yes"`
}

type cmdMapList struct{}

func init() {
	CommandRegistry.AddCommand("", "map", "Interact with a durable map", `
Interact with the durable key/value map of a store directory. Keys and values
are strings, stored as JSON.
`, &struct{}{})

	CommandRegistry.AddCommand("map", "put", "Set the value of a key", `
Set the value of KEY to VALUE. If KEY had a previous value, it's written to stdout.
`, &cmdMapPut{})

	CommandRegistry.AddCommand("map", "get", "Print the value of a key", "", &cmdMapGet{})
	CommandRegistry.AddCommand("map", "remove", "Remove a key", `
Remove KEY from the map, writing its previous value to stdout.
`, &cmdMapRemove{})

	CommandRegistry.AddCommand("map", "list", "List map entries", `
List entries of the map as a table of key and value, ordered on key.
`, &cmdMapList{})
}

func openMap() (*keystore.Map[string, string], error) {
	return keystore.Open[string, string](Config.Store)
}

func (cmd *cmdMapPut) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdMapPut) run(ctx context.Context) error {
	var m, err = openMap()
	if err != nil {
		return err
	}
	defer m.Dispose()

	prev, existed, err := m.Put(ctx, cmd.Args.Key, cmd.Args.Value)
	if err != nil {
		return err
	} else if existed {
		fmt.Fprintln(stdout, prev)
	}
	return nil
}

func (cmd *cmdMapGet) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdMapGet) run(ctx context.Context) error {
	var m, err = openMap()
	if err != nil {
		return err
	}
	defer m.Dispose()

	v, ok, err := m.Get(ctx, cmd.Args.Key)
	if err != nil {
		return err
	} else if !ok {
		return errors.Errorf("key %q not found", cmd.Args.Key)
	}
	fmt.Fprintln(stdout, v)
	return nil
}

func (cmd *cmdMapRemove) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdMapRemove) run(ctx context.Context) error {
	var m, err = openMap()
	if err != nil {
		return err
	}
	defer m.Dispose()

	prev, existed, err := m.Remove(ctx, cmd.Args.Key)
	if err != nil {
		return err
	} else if !existed {
		return errors.Errorf("key %q not found", cmd.Args.Key)
	}
	fmt.Fprintln(stdout, prev)
	return nil
}

func (cmd *cmdMapList) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdMapList) run(ctx context.Context) error {
	var m, err = openMap()
	if err != nil {
		return err
	}
	defer m.Dispose()

	var entries []keystore.Entry[string, string]
	for it := m.Iterator(); ; {
		if more, err := it.HasNext(ctx); err != nil {
			return err
		} else if !more {
			break
		}
		e, err := it.Next(ctx)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	var table = tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"Key", "Value"})
	for _, e := range entries {
		table.Append([]string{e.Key, e.Value})
	}
	table.Render()
	return nil
}
