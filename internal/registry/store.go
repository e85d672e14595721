package registry

import (
	"reflect"
	"sync"
)

// store is the type-erased runtime form of a Definition.
type store struct {
	name string

	mu    sync.Mutex
	state any
	ms    metaState

	reduce func(state any, action Action) any
	equal  func(a, b any) bool

	selectors     map[string]func(state any, args Args) (any, error)
	metaSelectors map[string]MetaSelector
	actions       map[string]ActionCreator
	resolvers     map[string]Resolver
	controls      map[string]Control
}

// snapshot returns the current state and meta.
func (st *store) snapshot() (any, Meta) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state, st.ms.meta
}

// update runs fn under the store mutex.
func (st *store) update(fn func() (bool, error)) (bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return fn()
}

// namespace detects duplicate names within one kind.
type namespace struct {
	store string
	kind  string
	names map[string]bool
}

func newNamespace(store, kind string, reserved ...string) *namespace {
	ns := &namespace{store: store, kind: kind, names: make(map[string]bool)}
	for _, name := range reserved {
		ns.names[name] = true
	}
	return ns
}

func (ns *namespace) claim(name string) error {
	if ns.names[name] {
		return &CollisionError{Store: ns.store, Kind: ns.kind, Name: name}
	}
	ns.names[name] = true
	return nil
}

// buildStore validates def and lowers it to a store bound to r.
func buildStore[S any](r *Registry, name string, def Definition[S]) (*store, error) {
	reducer := def.Reducer
	equal := def.Equal

	st := &store{
		name:  name,
		state: def.Initial,
		ms:    metaState{resolutions: make(map[string]*resolution)},
		reduce: func(state any, action Action) any {
			if reducer == nil {
				return state
			}
			return reducer(as[S](state), action)
		},
		equal: func(a, b any) bool {
			if equal != nil {
				return equal(as[S](a), as[S](b))
			}
			return reflect.DeepEqual(a, b)
		},
		selectors:     make(map[string]func(any, Args) (any, error)),
		metaSelectors: make(map[string]MetaSelector),
		actions:       make(map[string]ActionCreator),
		resolvers:     make(map[string]Resolver),
		controls:      make(map[string]Control),
	}

	selectorNames := newNamespace(name, "selector", BuiltinSelectorNames()...)
	for n, sel := range def.Selectors {
		if err := selectorNames.claim(n); err != nil {
			return nil, err
		}
		st.selectors[n] = func(state any, args Args) (any, error) {
			return sel(as[S](state), args)
		}
	}
	for n, sel := range def.MetaSelectors {
		if err := selectorNames.claim(n); err != nil {
			return nil, err
		}
		st.metaSelectors[n] = sel
	}
	for n, factory := range def.RegistrySelectors {
		if err := selectorNames.claim(n); err != nil {
			return nil, err
		}
		bound := factory(r.Select)
		st.selectors[n] = r.memoize(func(state any, args Args) (any, error) {
			return bound(as[S](state), args)
		})
	}

	for n, resolver := range def.Resolvers {
		if _, ok := st.selectors[n]; !ok {
			return nil, &ValidationError{Store: name, Name: n, Message: "resolver has no matching selector"}
		}
		st.resolvers[n] = resolver
	}

	actionNames := newNamespace(name, "action")
	for n, creator := range builtinActions {
		_ = actionNames.claim(n)
		st.actions[n] = creator
	}
	for n, creator := range def.Actions {
		if err := actionNames.claim(n); err != nil {
			return nil, err
		}
		st.actions[n] = creator
	}

	controlNames := newNamespace(name, "control")
	for n, ctrl := range def.Controls {
		if err := controlNames.claim(n); err != nil {
			return nil, err
		}
		st.controls[n] = ctrl
	}
	for n, factory := range def.RegistryControls {
		if err := controlNames.claim(n); err != nil {
			return nil, err
		}
		st.controls[n] = factory(r)
	}

	return st, nil
}
