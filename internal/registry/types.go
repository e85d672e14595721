package registry

import (
	"context"
	"fmt"

	"github.com/roach88/storekit/internal/engine"
)

// Action is an immutable value applied through a store's reducer.
// Each store matches its own action types with a type switch.
type Action interface {
	ActionType() string
}

// Args is the argument list of a selector, action creator or resolver.
type Args []any

// At returns the i-th argument, or nil when absent.
func (a Args) At(i int) any {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

// String returns the i-th argument as a string. A missing argument is "".
func (a Args) String(i int) (string, error) {
	v := a.At(i)
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %d: expected string, got %T", i, v)
	}
	return s, nil
}

// Reducer computes the next state. It must be pure and must return state
// unchanged for actions it does not recognise.
type Reducer[S any] func(state S, action Action) S

// Selector derives a value from a state snapshot.
type Selector[S any] func(state S, args Args) (any, error)

// MetaSelector derives a value from a store's framework-owned Meta.
type MetaSelector func(meta Meta, args Args) (any, error)

// SelectFunc reads a selector of any registered store.
type SelectFunc func(store, selector string, args ...any) (any, error)

// RegistrySelector is a selector factory bound to the registry at
// registration time. See CreateRegistrySelector.
type RegistrySelector[S any] func(sel SelectFunc) Selector[S]

// ActionCreator returns the body of a dispatched action.
type ActionCreator func(c *Context, args Args) engine.Step

// Resolver returns the body run the first time a selector is read with a
// given set of arguments.
type Resolver func(c *Context, args Args) engine.Step

// Control performs the side effect behind a Call effect. It runs off the
// runtime goroutine; ctx is cancelled when the runtime shuts down.
type Control func(ctx context.Context, params any) (any, error)

// RegistryControl is a control factory bound to the registry at
// registration time. See CreateRegistryControl.
type RegistryControl func(r *Registry) Control

// Definition describes a store.
//
// All maps are optional. Names share one namespace per kind: a selector, meta
// selector and registry selector may not share a name, and neither may an
// action with a built-in action, nor a control with a registry control.
type Definition[S any] struct {
	Initial   S
	Reducer   Reducer[S]
	Actions   map[string]ActionCreator
	Selectors map[string]Selector[S]

	MetaSelectors     map[string]MetaSelector
	RegistrySelectors map[string]RegistrySelector[S]

	// Resolvers are keyed by the selector they resolve.
	Resolvers map[string]Resolver

	Controls         map[string]Control
	RegistryControls map[string]RegistryControl

	// Equal decides whether a reduced state differs from the previous one.
	// Defaults to reflect.DeepEqual.
	Equal func(a, b S) bool
}

// Transition describes one state-changing step of a store.
type Transition struct {
	// Seq is the registry-wide logical clock value of the transition.
	Seq int64

	Store string

	// Action is the ActionType of the applied action, or one of
	// "startResolution" / "finishResolution".
	Action string
}

// as converts a stored state back to its static type.
func as[S any](v any) S {
	s, _ := v.(S)
	return s
}

func cloneArgs(args []any) []any {
	if len(args) == 0 {
		return nil
	}
	out := make([]any, len(args))
	copy(out, args)
	return out
}
