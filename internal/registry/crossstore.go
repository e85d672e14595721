package registry

import (
	"sync"

	"github.com/roach88/storekit/internal/canon"
)

// CreateRegistrySelector wraps a selector factory that needs to read other
// stores. The factory is called once at registration with the registry's
// Select, and the selector it returns is registered like a local one.
//
// Results are memoized per (registry transition, arguments): any
// transition in any store invalidates every memoized value. Dependencies
// on other stores are not tracked individually.
func CreateRegistrySelector[S any](factory func(sel SelectFunc) Selector[S]) RegistrySelector[S] {
	return RegistrySelector[S](factory)
}

// CreateRegistryControl wraps a control factory that orchestrates several
// stores. The factory is called once at registration with the registry.
func CreateRegistryControl(factory func(r *Registry) Control) RegistryControl {
	return RegistryControl(factory)
}

type memoEntry struct {
	value any
	err   error
}

// memoize caches fn per arguments until the next registry transition.
// Arguments that cannot be serialized bypass the cache.
func (r *Registry) memoize(fn func(state any, args Args) (any, error)) func(state any, args Args) (any, error) {
	var (
		mu      sync.Mutex
		gen     int64 = -1
		entries       = make(map[string]memoEntry)
	)

	return func(state any, args Args) (any, error) {
		key, err := canon.ArgsKey(args)
		if err != nil {
			return fn(state, args)
		}

		seq := r.rt.Clock().Current()
		mu.Lock()
		if gen == seq {
			if e, ok := entries[key]; ok {
				mu.Unlock()
				return e.value, e.err
			}
		}
		mu.Unlock()

		value, err := fn(state, args)

		mu.Lock()
		defer mu.Unlock()
		switch {
		case seq < gen:
			// Computed against an older generation; do not cache.
		case seq > gen:
			clear(entries)
			gen = seq
			fallthrough
		default:
			entries[key] = memoEntry{value: value, err: err}
		}
		return value, err
	}
}
