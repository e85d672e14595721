// Package testutil provides helpers shared by package tests: a running
// registry, a transition recorder and a scripted network transport.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/roach88/storekit/internal/engine"
	"github.com/roach88/storekit/internal/registry"
)

// DefaultTimeout bounds every wait in tests.
const DefaultTimeout = 2 * time.Second

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartRegistry creates a registry with deterministic task IDs and a silent
// logger, runs it in the background and stops it when the test ends.
func StartRegistry(t testing.TB, opts ...registry.Option) *registry.Registry {
	t.Helper()
	opts = append([]registry.Option{
		registry.WithLogger(DiscardLogger()),
		registry.WithIDGenerator(engine.NewSequenceGenerator("task")),
	}, opts...)
	r := registry.New(opts...)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

// Context returns a context cancelled after DefaultTimeout or when the test
// ends.
func Context(t testing.TB) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	t.Cleanup(cancel)
	return ctx
}

// Recorder collects transitions delivered to a registry subscriber.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	mu          sync.Mutex
	transitions []registry.Transition
	stop        func()
}

// Record subscribes a new Recorder to r. It unsubscribes when the test ends.
func Record(t testing.TB, r *registry.Registry) *Recorder {
	t.Helper()
	rec := &Recorder{}
	rec.stop = r.Subscribe(rec.add)
	t.Cleanup(rec.stop)
	return rec
}

func (rec *Recorder) add(tr registry.Transition) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.transitions = append(rec.transitions, tr)
}

// Transitions returns a copy of everything recorded so far.
func (rec *Recorder) Transitions() []registry.Transition {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]registry.Transition, len(rec.transitions))
	copy(out, rec.transitions)
	return out
}

// Actions returns the recorded action names of store, in order.
func (rec *Recorder) Actions(store string) []string {
	var out []string
	for _, tr := range rec.Transitions() {
		if tr.Store == store {
			out = append(out, tr.Action)
		}
	}
	return out
}
