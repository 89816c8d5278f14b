package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.pickle.dev/core/queue"
	"go.pickle.dev/core/task"
)

type cmdQueuePush struct {
	Args struct {
		Payloads []string `positional-arg-name:"PAYLOAD" description:"Payloads to push. If none are given, payloads are read from stdin, one per line"`
	} `positional-args:"yes"`
}

type cmdQueuePop struct {
	Count   int           `long:"count" short:"n" default:"1" description:"Maximum number of entries to pop. Negative pops all entries"`
	Timeout time.Duration `long:"timeout" default:"0s" description:"Time to wait for a first entry of an empty queue"`
}

type cmdQueuePeek struct{}

type cmdQueueList struct {
	Limit int `long:"limit" default:"0" description:"Maximum number of entries to list. Zero lists all entries"`
}

type cmdQueueSize struct{}

type cmdQueueConsume struct {
	Workers  int           `long:"workers" default:"1" description:"Number of concurrent consumers"`
	Interval time.Duration `long:"interval" default:"250ms" description:"Consumer polling interval, and back-off after a failure"`
}

func init() {
	CommandRegistry.AddCommand("", "queue", "Interact with a durable queue", `
Interact with the durable FIFO queue of a store directory. Queue payloads are
strings, stored as JSON.
`, &struct{}{})

	CommandRegistry.AddCommand("queue", "push", "Push payloads to the queue tail", `
Push payloads to the tail of the queue. Payloads are given as arguments:

>    picklectl queue push --store.dir=/var/pickle one two three

Or, if no arguments are given, are read from stdin with one payload per line.
`, &cmdQueuePush{})

	CommandRegistry.AddCommand("queue", "pop", "Pop payloads from the queue head", `
Pop up to --count entries from the head of the queue, writing each payload to
stdout on its own line. Use --timeout to wait for an entry of an empty queue.
`, &cmdQueuePop{})

	CommandRegistry.AddCommand("queue", "peek", "Print the queue head", `
Print the payload at the head of the queue without removing it.
`, &cmdQueuePeek{})

	CommandRegistry.AddCommand("queue", "list", "List queue entries", `
List entries of the queue in FIFO order, as a table of entry ID and payload.
`, &cmdQueueList{})

	CommandRegistry.AddCommand("queue", "size", "Print the number of queue entries", "", &cmdQueueSize{})

	CommandRegistry.AddCommand("queue", "consume", "Consume queue entries until signaled", `
Run --workers consumers of the queue, which write each consumed payload to
stdout on its own line. Consumers run until SIGINT or SIGTERM.
`, &cmdQueueConsume{})
}

func openQueue() (*queue.BlockingQueue[string], error) {
	return queue.OpenBlocking[string](Config.Store)
}

func (cmd *cmdQueuePush) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background(), os.Stdin)
}

func (cmd *cmdQueuePush) run(ctx context.Context, in io.Reader) error {
	var q, err = openQueue()
	if err != nil {
		return err
	}
	defer q.Dispose()

	var payloads = cmd.Args.Payloads
	if len(payloads) == 0 {
		var s = bufio.NewScanner(in)
		for s.Scan() {
			payloads = append(payloads, s.Text())
		}
		if err = s.Err(); err != nil {
			return errors.WithMessage(err, "reading stdin")
		}
	}

	for _, p := range payloads {
		if err = q.Put(ctx, p); err != nil {
			return err
		}
	}
	log.WithField("count", len(payloads)).Info("pushed payloads")
	return nil
}

func (cmd *cmdQueuePop) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdQueuePop) run(ctx context.Context) error {
	var q, err = openQueue()
	if err != nil {
		return err
	}
	defer q.Dispose()

	for i := 0; cmd.Count < 0 || i != cmd.Count; i++ {
		var timeout time.Duration
		if i == 0 {
			timeout = cmd.Timeout
		}

		var v, ok, err = q.PollTimeout(ctx, timeout)
		if err != nil {
			return err
		} else if !ok {
			break
		}
		fmt.Fprintln(stdout, v)
	}
	return nil
}

func (cmd *cmdQueuePeek) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdQueuePeek) run(ctx context.Context) error {
	var q, err = openQueue()
	if err != nil {
		return err
	}
	defer q.Dispose()

	v, ok, err := q.Peek(ctx)
	if err != nil {
		return err
	} else if !ok {
		return errors.New("queue is empty")
	}
	fmt.Fprintln(stdout, v)
	return nil
}

func (cmd *cmdQueueList) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdQueueList) run(ctx context.Context) error {
	var q, err = openQueue()
	if err != nil {
		return err
	}
	defer q.Dispose()

	var table = tablewriter.NewWriter(stdout)
	table.SetHeader([]string{"ID", "Payload"})

	var it = q.Cursor()
	for n := 0; cmd.Limit == 0 || n != cmd.Limit; n++ {
		if more, err := it.HasNext(ctx); err != nil {
			return err
		} else if !more {
			break
		}
		v, err := it.Next(ctx)
		if err != nil {
			return err
		}
		table.Append([]string{strconv.FormatInt(it.ID(), 10), v})
	}
	table.Render()
	return nil
}

func (cmd *cmdQueueSize) Execute([]string) error {
	defer startup()()
	return cmd.run(context.Background())
}

func (cmd *cmdQueueSize) run(ctx context.Context) error {
	var q, err = openQueue()
	if err != nil {
		return err
	}
	defer q.Dispose()

	n, err := q.Size(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, n)
	return nil
}

func (cmd *cmdQueueConsume) Execute([]string) error {
	defer startup()()

	var tasks = task.NewGroup(context.Background())
	tasks.CancelOnSignal(syscall.SIGINT, syscall.SIGTERM)

	if err := cmd.run(tasks); err != nil {
		return err
	}
	return errors.Cause(tasks.Wait())
}

// run queues consumers of the queue into the Group, and starts it.
// The queue is disposed when the Group's Context is done.
func (cmd *cmdQueueConsume) run(tasks *task.Group) error {
	if cmd.Workers < 1 {
		return errors.Errorf("invalid --workers (%d; expected >= 1)", cmd.Workers)
	}
	var q, err = openQueue()
	if err != nil {
		return err
	}
	var out = &lockedWriter{w: stdout}

	for i := 0; i != cmd.Workers; i++ {
		var c = queue.NewConsumer(q, func(_ context.Context, v string) error {
			return out.println(v)
		}, cmd.Interval)
		tasks.QueueServer(fmt.Sprintf("consumer %d", i), c)
	}
	tasks.Queue("dispose queue", func() error {
		<-tasks.Context().Done()
		q.Dispose()
		return nil
	})
	tasks.GoRun()

	log.WithFields(log.Fields{
		"dir":     Config.Store.Dir,
		"workers": cmd.Workers,
	}).Info("consuming queue")
	return nil
}
