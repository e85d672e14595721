package engine

import (
	"context"
	"sync"
)

// Effect is an inspectable description of a requested side effect.
// The runtime never interprets effects itself; it hands them to its Host.
type Effect interface {
	// EffectName identifies the effect in logs and traces.
	EffectName() string
}

// Cont is the continuation of a suspended task. It receives the result of
// the effect the task yielded, or the failure raised at that point.
type Cont func(value any, err error) Step

// Body starts a task and returns its first step.
type Body func() Step

// Step is one unit of progress of a task.
//
// Exactly one of the following holds:
//   - the step is a completion with a value (Return)
//   - the step is a completion with a failure (Fail)
//   - the step yields an effect and a continuation (Yield)
type Step struct {
	effect Effect
	next   Cont
	done   bool
	value  any
	err    error
}

// Return completes a task with value.
func Return(value any) Step {
	return Step{done: true, value: value}
}

// Fail completes a task with err.
func Fail(err error) Step {
	return Step{done: true, err: err}
}

// Yield suspends the task on eff. next receives the effect's result or the
// failure raised by its handler; the body decides whether to recover.
func Yield(eff Effect, next Cont) Step {
	return Step{effect: eff, next: next}
}

// Do is Yield for bodies that do not handle failures themselves: a failure
// raised by eff completes the task with that failure.
func Do(eff Effect, next func(value any) Step) Step {
	return Yield(eff, func(value any, err error) Step {
		if err != nil {
			return Fail(err)
		}
		return next(value)
	})
}

// Sequence yields each effect in order, failing fast, and then continues
// with next. A nil next completes the task with nil.
func Sequence(next func() Step, effects ...Effect) Step {
	if len(effects) == 0 {
		if next == nil {
			return Return(nil)
		}
		return next()
	}
	return Do(effects[0], func(any) Step {
		return Sequence(next, effects[1:]...)
	})
}

// Then runs s to completion and continues with next, which receives s's
// completion value or failure. Effects yielded by s are yielded unchanged,
// so another body can be delegated to inline without spawning a task.
func Then(s Step, next Cont) Step {
	if s.done {
		return next(s.value, s.err)
	}
	if s.next == nil {
		return s
	}
	inner := s.next
	return Step{effect: s.effect, next: func(value any, err error) Step {
		return Then(inner(value, err), next)
	}}
}

// Done reports whether the step completes its task.
func (s Step) Done() bool { return s.done }

// Effect returns the yielded effect, or nil for a completion.
func (s Step) Effect() Effect { return s.effect }

// Result returns the completion value and failure of a completed step.
func (s Step) Result() (any, error) { return s.value, s.err }

// Resume feeds a result into the step's continuation.
// Used by tests that drive bodies by hand.
func (s Step) Resume(value any, err error) Step {
	if s.next == nil {
		return s
	}
	return s.next(value, err)
}

// Task is a running step sequence owned by the runtime.
type Task struct {
	// ID uniquely identifies the task (UUIDv7 in production).
	ID string

	// Scope groups tasks, typically the owning store name.
	Scope string

	// Label names the body, typically the action or resolver name.
	Label string

	body   Body
	step   Step
	steps  int
	handle *Handle
	onDone func(value any, err error)
}

// Outcome is the Host's answer to an effect.
type Outcome struct {
	// Value resumes the task inline when Async is nil.
	Value any

	// Err is raised at the suspension point when Async is nil.
	Err error

	// Async, when set, is run off the loop goroutine. Its result resumes the
	// task on the loop.
	Async func(ctx context.Context) (any, error)
}

// Resume builds an inline outcome carrying value.
func Resume(value any) Outcome { return Outcome{Value: value} }

// Throw builds an inline outcome raising err.
func Throw(err error) Outcome { return Outcome{Err: err} }

// Await builds an async outcome.
func Await(fn func(ctx context.Context) (any, error)) Outcome { return Outcome{Async: fn} }

// Host performs effects for the runtime.
//
// CRITICAL: Perform is called only from the Run goroutine. Implementations
// may mutate shared state inline; anything that blocks must be returned as
// an Async outcome.
type Host interface {
	Perform(t *Task, eff Effect) Outcome
}

// HostFunc adapts a function to Host.
type HostFunc func(t *Task, eff Effect) Outcome

// Perform implements Host.
func (f HostFunc) Perform(t *Task, eff Effect) Outcome { return f(t, eff) }

// Handle is the caller's view of a spawned task.
// Thread-safe: may be observed from any goroutine.
type Handle struct {
	id    string
	done  chan struct{}
	once  sync.Once
	value any
	err   error
}

func newHandle(id string) *Handle {
	return &Handle{id: id, done: make(chan struct{})}
}

// ID returns the task ID.
func (h *Handle) ID() string { return h.id }

// Done is closed when the task completes.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the task completes or ctx is cancelled.
// Cancelling ctx does not cancel the task.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.value, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Finished reports whether the task has completed.
func (h *Handle) Finished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Result returns the completion of a finished task, and nil, nil before.
func (h *Handle) Result() (any, error) {
	if !h.Finished() {
		return nil, nil
	}
	return h.value, h.err
}

func (h *Handle) complete(value any, err error) {
	h.once.Do(func() {
		h.value = value
		h.err = err
		close(h.done)
	})
}
