package snapshot

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/storekit/internal/canon"
	"github.com/roach88/storekit/internal/engine"
	"github.com/roach88/storekit/internal/registry"
)

// KeyPrefix prefixes the persisted key of every store snapshot.
const KeyPrefix = "datastore::cache::"

// Fragment member names.
const (
	ActionCreateSnapshot  = "createSnapshot"
	ActionRestoreSnapshot = "restoreSnapshot"

	controlSet    = "setSnapshot"
	controlGet    = "getSnapshot"
	controlDelete = "deleteSnapshot"
)

// Key returns the persisted key of store's snapshot.
func Key(store string) string {
	return KeyPrefix + store
}

type restored[S any] struct {
	State S
}

func (restored[S]) ActionType() string { return ActionRestoreSnapshot }

type setParams struct {
	Key   string
	Value json.RawMessage
}

// Fragment adds snapshot actions to the store registered as store:
//
//   - createSnapshot() persists the whole state and completes with true.
//   - restoreSnapshot(clear?) replaces the state with the persisted one and
//     completes with whether a snapshot existed. The snapshot is deleted
//     after restoring unless clear is false.
func Fragment[S any](store string, p Persister) (registry.Definition[S], error) {
	if store == "" || p == nil {
		return registry.Definition[S]{}, registry.Invalidf("snapshot", "store name and persister are required")
	}
	key := Key(store)

	return registry.Definition[S]{
		Reducer: func(state S, action registry.Action) S {
			if a, ok := action.(restored[S]); ok {
				return a.State
			}
			return state
		},
		Actions: map[string]registry.ActionCreator{
			ActionCreateSnapshot: func(c *registry.Context, _ registry.Args) engine.Step {
				state, _ := c.State().(S)
				value, err := canon.Marshal(state)
				if err != nil {
					return engine.Fail(fmt.Errorf("create snapshot: %w", err))
				}
				return engine.Do(registry.Call{Control: controlSet, Params: setParams{Key: key, Value: value}}, func(any) engine.Step {
					return engine.Return(true)
				})
			},
			ActionRestoreSnapshot: func(_ *registry.Context, args registry.Args) engine.Step {
				clearAfter := true
				if v, ok := args.At(0).(bool); ok {
					clearAfter = v
				}
				return engine.Do(registry.Call{Control: controlGet, Params: key}, func(v any) engine.Step {
					raw, _ := v.(json.RawMessage)
					if raw == nil {
						return engine.Return(false)
					}
					var state S
					if err := json.Unmarshal(raw, &state); err != nil {
						return engine.Fail(fmt.Errorf("restore snapshot: %w", err))
					}
					done := func() engine.Step { return engine.Return(true) }
					if !clearAfter {
						return engine.Sequence(done, registry.Put{Action: restored[S]{State: state}})
					}
					return engine.Sequence(done,
						registry.Put{Action: restored[S]{State: state}},
						registry.Call{Control: controlDelete, Params: key},
					)
				})
			},
		},
		Controls: map[string]registry.Control{
			controlSet: func(ctx context.Context, params any) (any, error) {
				sp, ok := params.(setParams)
				if !ok {
					return nil, registry.Invalidf(controlSet, "unexpected params type %T", params)
				}
				return nil, p.Set(ctx, sp.Key, sp.Value)
			},
			controlGet: func(ctx context.Context, params any) (any, error) {
				raw, ok, err := p.Get(ctx, fmt.Sprint(params))
				if err != nil || !ok {
					return nil, err
				}
				return raw, nil
			},
			controlDelete: func(ctx context.Context, params any) (any, error) {
				return nil, p.Delete(ctx, fmt.Sprint(params))
			},
		},
	}, nil
}

// MustFragment is like Fragment but panics on error.
func MustFragment[S any](store string, p Persister) registry.Definition[S] {
	def, err := Fragment[S](store, p)
	if err != nil {
		panic(err)
	}
	return def
}
