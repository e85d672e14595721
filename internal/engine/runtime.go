package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultMaxSteps is the default maximum number of effects one task may
// yield. This prevents runaway bodies (an accidental infinite loop of plain
// actions never returns control to the loop) from starving every other task.
const DefaultMaxSteps = 10000

// Runtime is the single-writer control runtime.
//
// CRITICAL: All bodies, continuations and Host.Perform calls run on the Run
// goroutine. External callers use Spawn to submit work.
//
// Thread-safety model:
//   - Spawn(): safe from any goroutine
//   - Run(): must be called from exactly one goroutine, once
//   - Stop(): safe from any goroutine
type Runtime struct {
	host     Host
	queue    *eventQueue
	clock    *Clock
	ids      IDGenerator
	logger   *slog.Logger
	maxSteps int

	running  atomic.Bool
	runCtx   context.Context
	inflight atomic.Int64
	active   atomic.Int64
	wg       sync.WaitGroup
}

// Option allows configuration of runtime parameters.
type Option func(*Runtime)

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(rt *Runtime) {
		if logger != nil {
			rt.logger = logger
		}
	}
}

// WithMaxSteps sets the maximum number of effects per task.
// Zero or negative disables the limit.
func WithMaxSteps(maxSteps int) Option {
	return func(rt *Runtime) {
		rt.maxSteps = maxSteps
	}
}

// WithIDGenerator overrides the task ID generator (UUIDv7 by default).
func WithIDGenerator(gen IDGenerator) Option {
	return func(rt *Runtime) {
		if gen != nil {
			rt.ids = gen
		}
	}
}

// WithClock sets a pre-configured transition clock.
func WithClock(clock *Clock) Option {
	return func(rt *Runtime) {
		if clock != nil {
			rt.clock = clock
		}
	}
}

// New creates a Runtime that performs effects through host.
func New(host Host, opts ...Option) *Runtime {
	rt := &Runtime{
		host:     host,
		queue:    newEventQueue(),
		clock:    NewClock(),
		ids:      UUIDv7Generator{},
		logger:   slog.Default(),
		maxSteps: DefaultMaxSteps,
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// SpawnOption configures a spawned task.
type SpawnOption func(*Task)

// OnDone registers a callback invoked on the Run goroutine when the task
// completes, before its Handle is released to waiters.
func OnDone(fn func(value any, err error)) SpawnOption {
	return func(t *Task) {
		t.onDone = fn
	}
}

// Spawn submits a body for execution and returns its handle.
// Thread-safe: may be called from any goroutine, including from inside a
// body or listener running on the loop. The body starts after every event
// already queued.
func (rt *Runtime) Spawn(scope, label string, body Body, opts ...SpawnOption) *Handle {
	t := &Task{
		ID:    rt.ids.Generate(),
		Scope: scope,
		Label: label,
		body:  body,
	}
	t.handle = newHandle(t.ID)
	for _, opt := range opts {
		opt(t)
	}

	if body == nil {
		t.handle.complete(nil, newInvalidStepError(t, "nil body"))
		return t.handle
	}

	rt.active.Add(1)
	if !rt.queue.Enqueue(event{kind: eventStart, task: t}) {
		rt.active.Add(-1)
		t.handle.complete(nil, ErrStopped)
	}
	return t.handle
}

// Run starts the single-writer event loop.
// Blocks until ctx is cancelled or Stop is called.
//
// ERROR HANDLING: a failing body completes its own task with the failure
// and processing continues with the next event ("log and continue").
func (rt *Runtime) Run(ctx context.Context) error {
	if !rt.running.CompareAndSwap(false, true) {
		return errors.New("engine: runtime already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	rt.runCtx = runCtx

	rt.logger.Info("runtime starting")

	for {
		ev, ok := rt.queue.TryDequeue()
		if ok {
			rt.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			rt.logger.Info("runtime stopping: context cancelled")
			rt.shutdown()
			return ctx.Err()

		case <-rt.queue.Wait():
			// The signal channel closes when the queue is closed, which
			// fires this case immediately on every iteration.
			if rt.queue.Closed() && rt.queue.Len() == 0 {
				rt.logger.Info("runtime stopping: queue closed")
				rt.shutdown()
				return nil
			}
		}
	}
}

// Stop gracefully shuts down the runtime. Events already queued are still
// processed; results of async effects arriving afterwards are dropped and
// their tasks fail with ErrStopped.
func (rt *Runtime) Stop() {
	rt.queue.Close()
}

// Clock returns the runtime's transition clock.
func (rt *Runtime) Clock() *Clock {
	return rt.clock
}

// Logger returns the runtime's logger.
func (rt *Runtime) Logger() *slog.Logger {
	return rt.logger
}

// QueueLen returns the number of pending events.
// Useful for monitoring and testing.
func (rt *Runtime) QueueLen() int {
	return rt.queue.Len()
}

// InFlight returns the number of async effects currently running off-loop.
func (rt *Runtime) InFlight() int64 {
	return rt.inflight.Load()
}

// Active returns the number of spawned tasks that have not completed.
func (rt *Runtime) Active() int64 {
	return rt.active.Load()
}

// Idle reports whether every spawned task has completed.
func (rt *Runtime) Idle() bool {
	return rt.active.Load() == 0
}

// WaitAsync blocks until every async effect started so far has returned.
// Used by tests and shutdown paths.
func (rt *Runtime) WaitAsync() {
	rt.wg.Wait()
}

// process routes an event to the task it belongs to.
// CRITICAL: Called only from Run() goroutine.
func (rt *Runtime) process(ev event) {
	t := ev.task
	switch ev.kind {
	case eventStart:
		rt.logger.Debug("task starting",
			"task_id", t.ID,
			"scope", t.Scope,
			"label", t.Label,
		)
		t.step = rt.enter(t, t.body)

	case eventResume:
		next, value, err := ev.next, ev.value, ev.err
		t.step = rt.enter(t, func() Step { return next(value, err) })

	default:
		rt.logger.Error("unknown event kind", "kind", ev.kind)
		return
	}

	rt.advance(t)
}

// advance trampolines t until it completes or suspends on an async effect.
func (rt *Runtime) advance(t *Task) {
	for {
		s := t.step
		if s.done {
			rt.finish(t, s.value, s.err)
			return
		}
		if s.effect == nil || s.next == nil {
			rt.finish(t, nil, newInvalidStepError(t, "step yields no effect or continuation"))
			return
		}

		t.steps++
		if rt.maxSteps > 0 && t.steps > rt.maxSteps {
			rt.logger.Error("max steps exceeded",
				"task_id", t.ID,
				"scope", t.Scope,
				"label", t.Label,
				"limit", rt.maxSteps,
			)
			rt.finish(t, nil, newStepsExceededError(t, rt.maxSteps))
			return
		}

		out := rt.perform(t, s.effect)
		if out.Async != nil {
			rt.suspend(t, s.next, s.effect, out.Async)
			return
		}

		next, value, err := s.next, out.Value, out.Err
		t.step = rt.enter(t, func() Step { return next(value, err) })
	}
}

// suspend runs fn off-loop and enqueues its result as a resume event.
func (rt *Runtime) suspend(t *Task, next Cont, eff Effect, fn func(context.Context) (any, error)) {
	rt.logger.Debug("task suspended",
		"task_id", t.ID,
		"scope", t.Scope,
		"label", t.Label,
		"effect", eff.EffectName(),
	)

	ctx := rt.runCtx
	rt.inflight.Add(1)
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		value, err := rt.callAsync(ctx, t, fn)
		ok := rt.queue.Enqueue(event{kind: eventResume, task: t, next: next, value: value, err: err})
		rt.inflight.Add(-1)
		if !ok {
			rt.logger.Warn("dropping async result: runtime stopped",
				"task_id", t.ID,
				"scope", t.Scope,
				"label", t.Label,
			)
			rt.active.Add(-1)
			t.handle.complete(nil, ErrStopped)
		}
	}()
}

// enter calls fn, converting a panic into a failed step.
func (rt *Runtime) enter(t *Task, fn func() Step) (s Step) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("task panicked", "task_id", t.ID, "scope", t.Scope, "label", t.Label, "panic", r)
			s = Fail(newPanicError(t, r))
		}
	}()
	return fn()
}

// perform asks the host for an outcome, converting a panic into a raised
// failure at the suspension point.
func (rt *Runtime) perform(t *Task, eff Effect) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("effect handler panicked", "task_id", t.ID, "effect", eff.EffectName(), "panic", r)
			out = Throw(newPanicError(t, r))
		}
	}()
	return rt.host.Perform(t, eff)
}

func (rt *Runtime) callAsync(ctx context.Context, t *Task, fn func(context.Context) (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			rt.logger.Error("async effect panicked", "task_id", t.ID, "panic", r)
			value, err = nil, newPanicError(t, r)
		}
	}()
	return fn(ctx)
}

// finish completes t. onDone runs before waiters are released so that
// bookkeeping (e.g. resolution status) is visible to them.
func (rt *Runtime) finish(t *Task, value any, err error) {
	if t.onDone != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					rt.logger.Error("task completion callback panicked", "task_id", t.ID, "panic", r)
				}
			}()
			t.onDone(value, err)
		}()
	}

	if err != nil {
		rt.logger.Debug("task failed",
			"task_id", t.ID,
			"scope", t.Scope,
			"label", t.Label,
			"steps", t.steps,
			"error", err,
		)
	} else {
		rt.logger.Debug("task completed",
			"task_id", t.ID,
			"scope", t.Scope,
			"label", t.Label,
			"steps", t.steps,
		)
	}

	rt.active.Add(-1)
	t.handle.complete(value, err)
}

// shutdown closes the queue and fails every task still waiting to start or
// resume.
func (rt *Runtime) shutdown() {
	rt.queue.Close()
	for _, ev := range rt.queue.Drain() {
		rt.active.Add(-1)
		ev.task.handle.complete(nil, ErrStopped)
	}
}
