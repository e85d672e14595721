package registry

import (
	"context"
	"fmt"

	"github.com/roach88/storekit/internal/engine"
)

// Put applies Action through the dispatching store's reducer inline. The
// body resumes with nil.
type Put struct {
	Action Action
}

// EffectName implements engine.Effect.
func (p Put) EffectName() string {
	if p.Action == nil {
		return "put"
	}
	return "put:" + p.Action.ActionType()
}

// Call runs the named control of the dispatching store off-loop. The body
// resumes with the control's result, or its failure at the suspension
// point.
type Call struct {
	Control string
	Params  any
}

// EffectName implements engine.Effect.
func (c Call) EffectName() string { return "call:" + c.Control }

// DispatchTo starts a nested dispatch and resumes with its completion.
// An empty Store targets the dispatching store.
type DispatchTo struct {
	Store  string
	Action string
	Args   []any
}

// EffectName implements engine.Effect.
func (d DispatchTo) EffectName() string { return "dispatch:" + d.Store + "/" + d.Action }

// Emit applies actions in order and completes with nil.
func Emit(actions ...Action) engine.Step {
	effects := make([]engine.Effect, len(actions))
	for i, a := range actions {
		effects[i] = Put{Action: a}
	}
	return engine.Sequence(func() engine.Step { return engine.Return(nil) }, effects...)
}

// ActionFunc adapts an argument parser into an action creator whose body
// applies the parsed action. A parse failure fails the dispatch with a
// ValidationError.
func ActionFunc(name string, parse func(args Args) (Action, error)) ActionCreator {
	return func(_ *Context, args Args) engine.Step {
		a, err := parse(args)
		if err != nil {
			if IsValidation(err) {
				return engine.Fail(err)
			}
			return engine.Fail(&ValidationError{Name: name, Message: "invalid arguments", Err: err})
		}
		return Emit(a)
	}
}

// perform is the runtime host. It resolves effects against the store the
// task was dispatched on.
// CRITICAL: Called only from the runtime goroutine.
func (r *Registry) perform(t *engine.Task, eff engine.Effect) engine.Outcome {
	st, err := r.lookup(t.Scope)
	if err != nil {
		return engine.Throw(err)
	}

	switch e := eff.(type) {
	case Put:
		if err := r.apply(st, e.Action); err != nil {
			return engine.Throw(err)
		}
		return engine.Resume(nil)

	case Call:
		ctrl, ok := st.controls[e.Control]
		if !ok {
			return engine.Throw(&UnknownControlError{Store: st.name, Control: e.Control})
		}
		params := e.Params
		return engine.Await(func(ctx context.Context) (any, error) {
			return ctrl(ctx, params)
		})

	case DispatchTo:
		target := e.Store
		if target == "" {
			target = st.name
		}
		h, err := r.Dispatch(target, e.Action, e.Args...)
		if err != nil {
			return engine.Throw(err)
		}
		return engine.Await(h.Wait)

	default:
		return engine.Throw(fmt.Errorf("registry: unsupported effect %q", eff.EffectName()))
	}
}
