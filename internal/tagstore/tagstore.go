// Package tagstore detects whether a tracking tag already exists on external
// pages and caches the answer as a tri-state: unresolved, resolved-absent or
// resolved-present.
//
// State machine: UNRESOLVED -> RESOLVED(absent|tag). RESOLVED is terminal
// until resetExistingTag.
package tagstore

import (
	"context"

	"github.com/roach88/storekit/internal/compose"
	"github.com/roach88/storekit/internal/engine"
	"github.com/roach88/storekit/internal/fetchstore"
	"github.com/roach88/storekit/internal/registry"
)

// Names of the fragment members.
const (
	BaseName = "getExistingTag"

	SelectExistingTag    = "getExistingTag"
	SelectHasExistingTag = "hasExistingTag"

	ActionReceiveExistingTag = "receiveExistingTag"
	ActionResetExistingTag   = "resetExistingTag"
	ActionWaitForExistingTag = "waitForExistingTag"

	controlWait = "waitForExistingTag"
)

// ExistingTag is the cached detection result.
type ExistingTag struct {
	Resolved bool   `json:"resolved"`
	Tag      string `json:"tag,omitempty"`
}

// Present reports whether a tag was found.
func (t ExistingTag) Present() bool { return t.Resolved && t.Tag != "" }

// Scanner finds the tag on external pages. An empty tag means absent.
type Scanner interface {
	Scan(ctx context.Context) (string, error)
}

// ScannerFunc adapts a function to Scanner.
type ScannerFunc func(ctx context.Context) (string, error)

// Scan implements Scanner.
func (f ScannerFunc) Scan(ctx context.Context) (string, error) { return f(ctx) }

// Config binds the fragment to a store state.
type Config[S any] struct {
	// Store is the registry name the combined store is registered under.
	Store string

	Get func(S) ExistingTag
	Set func(S, ExistingTag) S

	Scanner Scanner
}

type receiveTag struct{ Tag string }

func (receiveTag) ActionType() string { return ActionReceiveExistingTag }

type resetTag struct{}

func (resetTag) ActionType() string { return ActionResetExistingTag }

// Fragment builds the existing-tag fragment.
func Fragment[S any](cfg Config[S]) (registry.Definition[S], error) {
	if cfg.Store == "" || cfg.Get == nil || cfg.Set == nil || cfg.Scanner == nil {
		return registry.Definition[S]{}, registry.Invalidf("tagstore", "store, accessors and scanner are required")
	}
	fetchNames := fetchstore.NamesFor(BaseName)

	fetch, err := fetchstore.New(fetchstore.Config[S, struct{}, string]{
		BaseName: BaseName,
		Control: func(ctx context.Context, _ struct{}) (string, error) {
			return cfg.Scanner.Scan(ctx)
		},
		Reducer: func(state S, tag string, _ struct{}) S {
			return cfg.Set(state, ExistingTag{Resolved: true, Tag: tag})
		},
	})
	if err != nil {
		return registry.Definition[S]{}, err
	}

	own := registry.Definition[S]{
		Reducer: func(state S, action registry.Action) S {
			switch a := action.(type) {
			case receiveTag:
				return cfg.Set(state, ExistingTag{Resolved: true, Tag: a.Tag})
			case resetTag:
				return cfg.Set(state, ExistingTag{})
			}
			return state
		},
		Selectors: map[string]registry.Selector[S]{
			// nil while unresolved, "" when absent, otherwise the tag.
			SelectExistingTag: func(state S, _ registry.Args) (any, error) {
				tag := cfg.Get(state)
				if !tag.Resolved {
					return nil, nil
				}
				return tag.Tag, nil
			},
		},
		Resolvers: map[string]registry.Resolver{
			SelectExistingTag: func(c *registry.Context, _ registry.Args) engine.Step {
				if state, ok := c.State().(S); ok && cfg.Get(state).Resolved {
					return engine.Return(nil)
				}
				return engine.Then(c.Invoke(fetchNames.Fetch), func(_ any, err error) engine.Step {
					if err != nil {
						return engine.Fail(err)
					}
					return engine.Return(nil)
				})
			},
		},
		RegistrySelectors: map[string]registry.RegistrySelector[S]{
			// nil while unresolved, otherwise whether a tag exists.
			SelectHasExistingTag: registry.CreateRegistrySelector(func(sel registry.SelectFunc) registry.Selector[S] {
				return func(S, registry.Args) (any, error) {
					v, err := sel(cfg.Store, SelectExistingTag)
					if err != nil || v == nil {
						return nil, err
					}
					return v.(string) != "", nil
				}
			}),
		},
		Actions: map[string]registry.ActionCreator{
			ActionReceiveExistingTag: registry.ActionFunc(ActionReceiveExistingTag, func(args registry.Args) (registry.Action, error) {
				tag, err := args.String(0)
				if err != nil {
					return nil, err
				}
				return receiveTag{Tag: tag}, nil
			}),
			ActionResetExistingTag: func(*registry.Context, registry.Args) engine.Step {
				return registry.Emit(resetTag{}, registry.InvalidateSelector{Selector: SelectExistingTag})
			},
			ActionWaitForExistingTag: func(*registry.Context, registry.Args) engine.Step {
				return engine.Do(registry.Call{Control: controlWait}, engine.Return)
			},
		},
		RegistryControls: map[string]registry.RegistryControl{
			controlWait: registry.CreateRegistryControl(func(r *registry.Registry) registry.Control {
				return waitControl(r, cfg.Store)
			}),
		},
	}

	return compose.Combine(fetch, own)
}

// MustFragment is like Fragment but panics on error.
func MustFragment[S any](cfg Config[S]) registry.Definition[S] {
	def, err := Fragment(cfg)
	if err != nil {
		panic(err)
	}
	return def
}

// watcher is the part of the registry the wait control needs.
type watcher interface {
	Select(store, selector string, args ...any) (any, error)
	Subscribe(fn func(registry.Transition)) func()
}

// waitControl resumes with hasExistingTag once it is defined. When it
// already is, it returns without subscribing; otherwise it subscribes and
// unsubscribes the first time the condition holds.
func waitControl(w watcher, store string) registry.Control {
	return func(ctx context.Context, _ any) (any, error) {
		check := func() (any, bool) {
			v, err := w.Select(store, SelectHasExistingTag)
			return v, err == nil && v != nil
		}
		if v, ok := check(); ok {
			return v, nil
		}

		ready := make(chan any, 1)
		unsubscribe := w.Subscribe(func(registry.Transition) {
			if v, ok := check(); ok {
				select {
				case ready <- v:
				default:
				}
			}
		})
		defer unsubscribe()

		// The tag may have resolved between the first check and Subscribe.
		if v, ok := check(); ok {
			return v, nil
		}
		select {
		case v := <-ready:
			return v, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
