// Package fetchstore builds the standard store fragment for "fetch resource
// R by arguments A": a fetch action, a receive action, the control that
// performs the network operation and an in-flight meta selector.
//
// There are no retries and no de-duplication at this layer. Callers that
// need at-most-once semantics fetch from a resolver.
package fetchstore

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/roach88/storekit/internal/apifetch"
	"github.com/roach88/storekit/internal/engine"
	"github.com/roach88/storekit/internal/registry"
)

// Config describes a fetch fragment.
type Config[S, P, R any] struct {
	// BaseName names the fragment, e.g. "getAccounts". Error records are
	// keyed by (BaseName, args).
	BaseName string

	// ArgsToParams validates the dispatch arguments and builds the control
	// parameters. A failure fails the dispatch and is never stored.
	// Optional: when nil the control receives the zero P.
	ArgsToParams func(args registry.Args) (P, error)

	// Control performs the network operation.
	Control func(ctx context.Context, params P) (R, error)

	// Reducer merges a response into state. Optional.
	Reducer func(state S, response R, params P) S
}

// Names are the generated names of a fragment.
type Names struct {
	Fetch      string
	Receive    string
	IsFetching string
}

// NamesFor returns the names generated for baseName.
func NamesFor(baseName string) Names {
	suffix := upperFirst(baseName)
	return Names{
		Fetch:      "fetch" + suffix,
		Receive:    "receive" + suffix,
		IsFetching: "isFetching" + suffix,
	}
}

// Result is the completion value of the fetch action.
// Exactly one of Response and Error is meaningful.
type Result[R any] struct {
	Response R                     `json:"response,omitempty"`
	Error    *registry.ErrorRecord `json:"error,omitempty"`
}

// Receive carries a response into the fragment's reducer.
type Receive[R, P any] struct {
	Name     string
	Response R
	Params   P
}

// ActionType implements registry.Action.
func (a Receive[R, P]) ActionType() string { return a.Name }

// New builds the fragment described by cfg.
func New[S, P, R any](cfg Config[S, P, R]) (registry.Definition[S], error) {
	if cfg.BaseName == "" {
		return registry.Definition[S]{}, registry.Invalidf("fetchstore", "base name is empty")
	}
	if cfg.Control == nil {
		return registry.Definition[S]{}, registry.Invalidf(cfg.BaseName, "control is nil")
	}
	names := NamesFor(cfg.BaseName)

	return registry.Definition[S]{
		Reducer: func(state S, action registry.Action) S {
			rcv, ok := action.(Receive[R, P])
			if !ok || rcv.Name != names.Receive || cfg.Reducer == nil {
				return state
			}
			return cfg.Reducer(state, rcv.Response, rcv.Params)
		},
		Actions: map[string]registry.ActionCreator{
			names.Fetch:   fetchAction(cfg, names),
			names.Receive: receiveAction[R, P](names),
		},
		MetaSelectors: map[string]registry.MetaSelector{
			names.IsFetching: func(meta registry.Meta, args registry.Args) (any, error) {
				return meta.IsFetching(names.Fetch, args), nil
			},
		},
		Controls: map[string]registry.Control{
			names.Fetch: func(ctx context.Context, params any) (any, error) {
				p, ok := params.(P)
				if !ok && params != nil {
					return nil, registry.Invalidf(names.Fetch, "unexpected params type %T", params)
				}
				response, err := cfg.Control(ctx, p)
				if err != nil {
					return nil, err
				}
				return response, nil
			},
		},
	}, nil
}

// MustNew is like New but panics on error.
// Use for package-level fragment construction.
func MustNew[S, P, R any](cfg Config[S, P, R]) registry.Definition[S] {
	def, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return def
}

// fetchAction validates args, flags the key in flight, calls the control and
// records the outcome. The in-flight flag is always cleared.
func fetchAction[S, P, R any](cfg Config[S, P, R], names Names) registry.ActionCreator {
	return func(_ *registry.Context, args registry.Args) engine.Step {
		var params P
		if cfg.ArgsToParams != nil {
			p, err := cfg.ArgsToParams(args)
			if err != nil {
				if registry.IsValidation(err) {
					return engine.Fail(err)
				}
				return engine.Fail(&registry.ValidationError{Name: names.Fetch, Message: "invalid arguments", Err: err})
			}
			params = p
		}
		keyArgs := []any(args)

		return engine.Do(registry.Put{Action: registry.FetchStarted{Name: names.Fetch, Args: keyArgs}}, func(any) engine.Step {
			return engine.Yield(registry.Call{Control: names.Fetch, Params: params}, func(v any, err error) engine.Step {
				finished := registry.Put{Action: registry.FetchFinished{Name: names.Fetch, Args: keyArgs}}

				if err != nil {
					rec := registry.NewErrorRecord(cfg.BaseName, keyArgs, err)
					return engine.Sequence(
						func() engine.Step { return engine.Return(Result[R]{Error: &rec}) },
						registry.Put{Action: registry.ReceiveError{Record: rec}},
						finished,
					)
				}

				response, _ := v.(R)
				return engine.Sequence(
					func() engine.Step { return engine.Return(Result[R]{Response: response}) },
					registry.Put{Action: Receive[R, P]{Name: names.Receive, Response: response, Params: params}},
					registry.Put{Action: registry.ClearError{Name: cfg.BaseName, Args: keyArgs}},
					finished,
				)
			})
		})
	}
}

// receiveAction applies (response, params) directly, for pre-seeding.
// Values decoded from JSON (scenarios, command lines) are converted to R and
// P through their JSON form.
func receiveAction[R, P any](names Names) registry.ActionCreator {
	return registry.ActionFunc(names.Receive, func(args registry.Args) (registry.Action, error) {
		response, err := coerce[R](args.At(0))
		if err != nil {
			return nil, registry.Invalidf(names.Receive, "unexpected response type %T: %v", args.At(0), err)
		}
		params, err := coerce[P](args.At(1))
		if err != nil {
			return nil, registry.Invalidf(names.Receive, "unexpected params type %T: %v", args.At(1), err)
		}
		return Receive[R, P]{Name: names.Receive, Response: response, Params: params}, nil
	})
}

// coerce returns v as T, decoding it through JSON when it is not already a T.
func coerce[T any](v any) (T, error) {
	if t, ok := v.(T); ok {
		return t, nil
	}
	if v == nil {
		var zero T
		return zero, nil
	}
	return apifetch.Decode[T](v)
}

func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return fmt.Sprintf("%c%s", unicode.ToUpper(r), s[size:])
}
