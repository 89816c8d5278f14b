// Package task runs a set of long-lived tasks, such as queue consumer loops,
// which are started together, cancelled together, and waited on together.
package task

import (
	"context"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Server is a long-lived task which runs until its Context is done.
// queue.Consumer is a Server.
type Server interface {
	Serve(ctx context.Context) error
}

// Group runs queued tasks concurrently. The first task to fail cancels the
// Context of the Group, and with it every other task. Group is not itself
// safe for concurrent use: tasks are queued, then started, then waited on.
type Group struct {
	// Context of tasks, done upon a task failure, a call to Cancel,
	// or cancellation of the parent Context.
	ctx    context.Context
	cancel context.CancelFunc

	eg      *errgroup.Group
	pending []pending
	started bool
}

type pending struct {
	desc string
	fn   func() error
}

// NewGroup returns an empty Group deriving from |ctx|.
func NewGroup(ctx context.Context) *Group {
	ctx, cancel := context.WithCancel(ctx)
	eg, ctx := errgroup.WithContext(ctx)
	return &Group{ctx: ctx, cancel: cancel, eg: eg}
}

// Context returns the Context of the Group.
func (g *Group) Context() context.Context { return g.ctx }

// Cancel the Context of the Group.
func (g *Group) Cancel() { g.cancel() }

// Queue |fn| to run when the Group is started. Errors of |fn| are prefixed
// with |desc|. Queue panics if the Group has already started.
func (g *Group) Queue(desc string, fn func() error) {
	if g.started {
		panic("Queue called after GoRun")
	}
	g.pending = append(g.pending, pending{desc: desc, fn: fn})
}

// QueueServer queues the Server to run with the Context of the Group.
func (g *Group) QueueServer(desc string, s Server) {
	g.Queue(desc, func() error { return s.Serve(g.ctx) })
}

// CancelOnSignal queues a task which cancels the Group upon the first of
// |signals|, or returns when the Group is otherwise cancelled.
func (g *Group) CancelOnSignal(signals ...os.Signal) {
	g.Queue("signal handler", func() error {
		var ch = make(chan os.Signal, 1)
		signal.Notify(ch, signals...)
		defer signal.Stop(ch)

		select {
		case sig := <-ch:
			log.WithField("signal", sig).Info("caught signal; cancelling tasks")
			g.Cancel()
		case <-g.ctx.Done():
		}
		return nil
	})
}

// GoRun starts all queued tasks. It panics if called more than once.
func (g *Group) GoRun() {
	if g.started {
		panic("GoRun already called")
	}
	g.started = true

	for _, p := range g.pending {
		var p = p
		g.eg.Go(func() error { return errors.WithMessage(p.fn(), p.desc) })
	}
	g.pending = nil
}

// Wait for all started tasks to return, and return the first error of a
// task, if any. It panics if GoRun hasn't been called.
func (g *Group) Wait() error {
	if !g.started {
		panic("Wait called before GoRun")
	}
	defer g.cancel()
	return g.eg.Wait()
}
