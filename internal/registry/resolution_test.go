package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/storekit/internal/engine"
)

type accountsState struct {
	Accounts []map[string]any
}

type receiveAccounts struct {
	Accounts []map[string]any
}

func (receiveAccounts) ActionType() string { return "receiveAccounts" }

// accountsDefinition resolves getAccounts through the fetchAccounts control
// and records failures as error records.
func accountsDefinition(resolved *atomic.Int32, fetch Control) Definition[accountsState] {
	return Definition[accountsState]{
		Reducer: func(s accountsState, a Action) accountsState {
			switch a := a.(type) {
			case receiveAccounts:
				s.Accounts = a.Accounts
			}
			return s
		},
		Actions: map[string]ActionCreator{
			"receiveAccounts": ActionFunc("receiveAccounts", func(args Args) (Action, error) {
				list, ok := args.At(0).([]map[string]any)
				if !ok {
					return nil, Invalidf("receiveAccounts", "expected account list, got %T", args.At(0))
				}
				return receiveAccounts{Accounts: list}, nil
			}),
		},
		Selectors: map[string]Selector[accountsState]{
			"getAccounts": func(s accountsState, _ Args) (any, error) {
				if s.Accounts == nil {
					return nil, nil
				}
				return s.Accounts, nil
			},
		},
		Resolvers: map[string]Resolver{
			"getAccounts": func(c *Context, args Args) engine.Step {
				resolved.Add(1)
				if c.State().(accountsState).Accounts != nil {
					return engine.Return(nil)
				}
				return engine.Yield(Call{Control: "fetchAccounts"}, func(v any, err error) engine.Step {
					if err != nil {
						return Emit(ReceiveError{Record: NewErrorRecord("getAccounts", args, err)})
					}
					return Emit(ClearError{Name: "getAccounts", Args: args}, receiveAccounts{Accounts: v.([]map[string]any)})
				})
			},
		},
		Controls: map[string]Control{"fetchAccounts": fetch},
	}
}

// gatedFetch blocks every call until release is closed.
type gatedFetch struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
	result  []map[string]any
	err     error
}

func newGatedFetch(result []map[string]any, err error) *gatedFetch {
	return &gatedFetch{
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  result,
		err:     err,
	}
}

func (g *gatedFetch) control(ctx context.Context, _ any) (any, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

func TestResolve_GetAccountsScenario(t *testing.T) {
	r := newTestRegistry(t)
	var resolved atomic.Int32
	fetch := newGatedFetch([]map[string]any{{"id": 1}}, nil)
	MustRegister(r, "accounts", accountsDefinition(&resolved, fetch.control))

	first, err := r.Select("accounts", "getAccounts")
	require.NoError(t, err)
	assert.Nil(t, first)

	select {
	case <-fetch.started:
	case <-time.After(2 * time.Second):
		t.Fatal("fetch never started")
	}

	second, err := r.Select("accounts", "getAccounts")
	require.NoError(t, err)
	assert.Nil(t, second)
	resolving, _ := r.Select("accounts", SelectIsResolving, "getAccounts")
	assert.Equal(t, true, resolving)
	finished, _ := r.Select("accounts", SelectHasFinishedResolution, "getAccounts")
	assert.Equal(t, false, finished)

	close(fetch.release)
	got, err := r.Resolve(testContext(t), "accounts", "getAccounts")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": 1}}, got)

	finished, _ = r.Select("accounts", SelectHasFinishedResolution, "getAccounts")
	assert.Equal(t, true, finished)
	assert.EqualValues(t, 1, fetch.calls.Load())
	assert.EqualValues(t, 1, resolved.Load())
}

func TestResolve_RoundTripDoesNotFetchAgain(t *testing.T) {
	r := newTestRegistry(t)
	var resolved atomic.Int32
	fetch := newGatedFetch([]map[string]any{{"id": 1}}, nil)
	close(fetch.release)
	MustRegister(r, "accounts", accountsDefinition(&resolved, fetch.control))

	_, err := r.Resolve(testContext(t), "accounts", "getAccounts")
	require.NoError(t, err)
	got, err := r.Resolve(testContext(t), "accounts", "getAccounts")
	require.NoError(t, err)

	assert.Equal(t, []map[string]any{{"id": 1}}, got)
	assert.EqualValues(t, 1, fetch.calls.Load())
}

func TestResolve_PreseededDataShortCircuits(t *testing.T) {
	r := newTestRegistry(t)
	var resolved atomic.Int32
	fetch := newGatedFetch(nil, nil)
	MustRegister(r, "accounts", accountsDefinition(&resolved, fetch.control))

	_, err := r.DispatchWait(testContext(t), "accounts", "receiveAccounts", []map[string]any{{"id": 2}})
	require.NoError(t, err)

	got, err := r.Resolve(testContext(t), "accounts", "getAccounts")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": 2}}, got)
	assert.EqualValues(t, 1, resolved.Load())
	assert.EqualValues(t, 0, fetch.calls.Load())
}

func TestResolve_FailureFinishesWithErrorRecord(t *testing.T) {
	r := newTestRegistry(t)
	var resolved atomic.Int32
	fetch := newGatedFetch(nil, errors.New("service unavailable"))
	close(fetch.release)
	MustRegister(r, "accounts", accountsDefinition(&resolved, fetch.control))

	got, err := r.Resolve(testContext(t), "accounts", "getAccounts")
	require.NoError(t, err)
	assert.Nil(t, got)

	finished, _ := r.Select("accounts", SelectHasFinishedResolution, "getAccounts")
	assert.Equal(t, true, finished)

	recErr, err := r.Select("accounts", SelectErrorForSelector, "getAccounts")
	require.NoError(t, err)
	require.NotNil(t, recErr)
	rec := recErr.(*ErrorRecord)
	assert.Equal(t, "service unavailable", rec.Message)
	assert.Equal(t, CodeUnknownError, rec.Code)

	// Finished but failed: no new fetch on later reads.
	_, _ = r.Select("accounts", "getAccounts")
	assert.EqualValues(t, 1, fetch.calls.Load())
}

func TestResolve_FailingBodyStillFinishes(t *testing.T) {
	r := newTestRegistry(t)
	MustRegister(r, "broken", Definition[accountsState]{
		Selectors: map[string]Selector[accountsState]{
			"get": func(accountsState, Args) (any, error) { return nil, nil },
		},
		Resolvers: map[string]Resolver{
			"get": func(*Context, Args) engine.Step { panic("resolver exploded") },
		},
	})

	_, err := r.Resolve(testContext(t), "broken", "get")
	require.NoError(t, err)

	finished, _ := r.Select("broken", SelectHasFinishedResolution, "get")
	assert.Equal(t, true, finished)
}

func TestResolve_AtMostOnceUnderConcurrentReads(t *testing.T) {
	r := newTestRegistry(t)
	var runs atomic.Int32
	release := make(chan struct{})
	MustRegister(r, "items", Definition[accountsState]{
		Selectors: map[string]Selector[accountsState]{
			"getItems": func(accountsState, Args) (any, error) { return nil, nil },
		},
		Resolvers: map[string]Resolver{
			"getItems": func(*Context, Args) engine.Step {
				runs.Add(1)
				return engine.Do(Call{Control: "wait"}, func(any) engine.Step { return engine.Return(nil) })
			},
		},
		Controls: map[string]Control{
			"wait": func(ctx context.Context, _ any) (any, error) {
				select {
				case <-release:
				case <-ctx.Done():
				}
				return nil, nil
			},
		},
	})

	// Equal serializations: key order and int/float representation differ.
	variants := [][]any{
		{map[string]any{"a": 1, "b": 2}},
		{map[string]any{"b": 2.0, "a": 1.0}},
		{map[string]any{"a": 1, "b": 2}, nil},
	}

	var wg sync.WaitGroup
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Select("items", "getItems", variants[i%len(variants)]...)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	close(release)

	_, err := r.Resolve(testContext(t), "items", "getItems", map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 1, runs.Load())

	// A different key resolves separately.
	_, err = r.Resolve(testContext(t), "items", "getItems", map[string]any{"a": 2})
	require.NoError(t, err)
	assert.EqualValues(t, 2, runs.Load())
}

func TestResolve_InvalidationReruns(t *testing.T) {
	r := newTestRegistry(t)
	var runs atomic.Int32
	MustRegister(r, "items", Definition[accountsState]{
		Selectors: map[string]Selector[accountsState]{
			"getItem":  func(accountsState, Args) (any, error) { return nil, nil },
			"getOther": func(accountsState, Args) (any, error) { return nil, nil },
		},
		Resolvers: map[string]Resolver{
			"getItem": func(*Context, Args) engine.Step {
				runs.Add(1)
				return engine.Return(nil)
			},
			"getOther": func(*Context, Args) engine.Step {
				runs.Add(1)
				return engine.Return(nil)
			},
		},
	})
	ctx := testContext(t)
	resolveAll := func() {
		for _, id := range []int{1, 2} {
			_, err := r.Resolve(ctx, "items", "getItem", id)
			require.NoError(t, err)
		}
		_, err := r.Resolve(ctx, "items", "getOther")
		require.NoError(t, err)
	}

	resolveAll()
	require.EqualValues(t, 3, runs.Load())
	resolveAll()
	require.EqualValues(t, 3, runs.Load())

	_, err := r.DispatchWait(ctx, "items", ActionInvalidateResolution, "getItem", 1)
	require.NoError(t, err)
	started, _ := r.Select("items", SelectHasStartedResolution, "getItem", 2)
	assert.Equal(t, true, started, "other keys keep their records")
	resolveAll()
	assert.EqualValues(t, 4, runs.Load())

	_, err = r.DispatchWait(ctx, "items", ActionInvalidateResolutionForStoreSelector, "getItem")
	require.NoError(t, err)
	resolveAll()
	assert.EqualValues(t, 6, runs.Load())

	_, err = r.DispatchWait(ctx, "items", ActionInvalidateResolutionForStore)
	require.NoError(t, err)
	started, _ = r.Select("items", SelectHasStartedResolution, "getOther")
	assert.Equal(t, false, started)
	resolveAll()
	assert.EqualValues(t, 9, runs.Load())
}

func TestResolve_UnserializableArgs(t *testing.T) {
	r := newTestRegistry(t)
	MustRegister(r, "items", Definition[accountsState]{
		Selectors: map[string]Selector[accountsState]{
			"getItem": func(accountsState, Args) (any, error) { return nil, nil },
		},
		Resolvers: map[string]Resolver{
			"getItem": func(*Context, Args) engine.Step { return engine.Return(nil) },
		},
	})

	_, err := r.Select("items", "getItem", func() {})
	assert.True(t, IsValidation(err))
}

func TestResolve_StoppedRuntime(t *testing.T) {
	r := New()
	MustRegister(r, "items", Definition[accountsState]{
		Selectors: map[string]Selector[accountsState]{
			"getItem": func(accountsState, Args) (any, error) { return nil, nil },
		},
		Resolvers: map[string]Resolver{
			"getItem": func(*Context, Args) engine.Step { return engine.Return(nil) },
		},
	})
	r.Stop()

	_, err := r.Resolve(testContext(t), "items", "getItem")
	assert.ErrorIs(t, err, engine.ErrStopped)
}

func TestSettle_WaitsForResolvers(t *testing.T) {
	r := newTestRegistry(t)
	var resolved atomic.Int32
	fetch := newGatedFetch([]map[string]any{{"id": 7}}, nil)
	MustRegister(r, "accounts", accountsDefinition(&resolved, fetch.control))

	_, err := r.Select("accounts", "getAccounts")
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Settle(short), context.DeadlineExceeded)

	close(fetch.release)
	require.NoError(t, r.Settle(testContext(t)))

	finished, err := r.Select("accounts", SelectHasFinishedResolution, "getAccounts")
	require.NoError(t, err)
	assert.Equal(t, true, finished)
	v, err := r.Select("accounts", "getAccounts")
	require.NoError(t, err)
	assert.Equal(t, []map[string]any{{"id": 7}}, v)
}
