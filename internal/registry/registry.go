package registry

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roach88/storekit/internal/engine"
)

// Registry is the catalogue of stores and owner of their runtime.
//
// Stores are append-only: once registered a store is never replaced.
type Registry struct {
	rt     *engine.Runtime
	logger *slog.Logger

	mu     sync.RWMutex
	stores map[string]*store
	order  []string

	lmu       sync.Mutex
	listeners []listener
	nextID    int
}

type listener struct {
	id int
	fn func(Transition)
}

type options struct {
	logger     *slog.Logger
	engineOpts []engine.Option
}

// Option configures a Registry.
type Option func(*options)

// WithLogger sets the logger for the registry and its runtime.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithIDGenerator sets the task ID generator of the runtime.
func WithIDGenerator(gen engine.IDGenerator) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithIDGenerator(gen))
	}
}

// WithMaxSteps bounds the number of effects a single body may yield.
func WithMaxSteps(maxSteps int) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, engine.WithMaxSteps(maxSteps))
	}
}

// New creates an empty registry. Call Run to start processing.
func New(opts ...Option) *Registry {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Registry{
		logger: o.logger,
		stores: make(map[string]*store),
	}
	engineOpts := append([]engine.Option{engine.WithLogger(o.logger)}, o.engineOpts...)
	r.rt = engine.New(engine.HostFunc(r.perform), engineOpts...)
	return r
}

// Register adds a store under name.
func Register[S any](r *Registry, name string, def Definition[S]) error {
	if name == "" {
		return Invalidf("register", "store name is empty")
	}
	st, err := buildStore(r, name, def)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.stores[name]; exists {
		return &DuplicateStoreError{Store: name}
	}
	r.stores[name] = st
	r.order = append(r.order, name)

	r.logger.Debug("store registered",
		"store", name,
		"selectors", len(st.selectors)+len(st.metaSelectors),
		"actions", len(st.actions),
		"resolvers", len(st.resolvers),
	)
	return nil
}

// MustRegister is like Register but panics on error.
// Use for package-level wiring where a failure is a programming error.
func MustRegister[S any](r *Registry, name string, def Definition[S]) {
	if err := Register(r, name, def); err != nil {
		panic(err)
	}
}

// Run processes dispatched bodies until ctx is cancelled or Stop is called.
func (r *Registry) Run(ctx context.Context) error {
	return r.rt.Run(ctx)
}

// Stop shuts the runtime down after the already queued events.
func (r *Registry) Stop() {
	r.rt.Stop()
}

// Runtime returns the registry's runtime.
func (r *Registry) Runtime() *engine.Runtime {
	return r.rt
}

// Logger returns the registry's logger.
func (r *Registry) Logger() *slog.Logger {
	return r.logger
}

// Stores returns the registered store names in registration order.
func (r *Registry) Stores() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// State returns the current state of a store.
func (r *Registry) State(storeName string) (any, error) {
	st, err := r.lookup(storeName)
	if err != nil {
		return nil, err
	}
	state, _ := st.snapshot()
	return state, nil
}

// Meta returns the current meta snapshot of a store.
func (r *Registry) Meta(storeName string) (Meta, error) {
	st, err := r.lookup(storeName)
	if err != nil {
		return Meta{}, err
	}
	_, meta := st.snapshot()
	return meta, nil
}

// Select evaluates a selector against the current state of a store.
//
// If the selector has a resolver, the first read for a given argument list
// schedules it; the value returned is the one present before the resolver
// ran. Thread-safe.
func (r *Registry) Select(storeName, selector string, args ...any) (any, error) {
	st, err := r.lookup(storeName)
	if err != nil {
		return nil, err
	}
	if fn, ok := builtinSelectors[selector]; ok {
		return fn(st, Args(args))
	}
	if fn, ok := st.metaSelectors[selector]; ok {
		_, meta := st.snapshot()
		return fn(meta, Args(args))
	}
	fn, ok := st.selectors[selector]
	if !ok {
		return nil, &UnknownSelectorError{Store: storeName, Selector: selector}
	}
	if resolver, ok := st.resolvers[selector]; ok {
		if err := r.ensureResolution(st, selector, resolver, args); err != nil {
			return nil, err
		}
	}
	state, _ := st.snapshot()
	return fn(state, Args(args))
}

// Resolve selects, waits for the selector's resolution to finish and
// selects again. Selectors without a resolver return immediately.
func (r *Registry) Resolve(ctx context.Context, storeName, selector string, args ...any) (any, error) {
	if _, err := r.Select(storeName, selector, args...); err != nil {
		return nil, err
	}
	st, err := r.lookup(storeName)
	if err != nil {
		return nil, err
	}
	if res, _ := st.resolution(selector, args); res != nil {
		if err := res.wait(ctx, st); err != nil {
			return nil, fmt.Errorf("resolve %s/%s: %w", storeName, selector, err)
		}
	}
	return r.Select(storeName, selector, args...)
}

// Dispatch starts the body of a store action and returns its handle.
// Thread-safe.
func (r *Registry) Dispatch(storeName, action string, args ...any) (*engine.Handle, error) {
	st, err := r.lookup(storeName)
	if err != nil {
		return nil, err
	}
	creator, ok := st.actions[action]
	if !ok {
		return nil, &UnknownActionError{Store: storeName, Action: action}
	}

	c := r.context(st)
	callArgs := Args(cloneArgs(args))
	return r.rt.Spawn(st.name, action, func() engine.Step {
		return creator(c, callArgs)
	}), nil
}

// DispatchWait dispatches an action and waits for its body to complete.
func (r *Registry) DispatchWait(ctx context.Context, storeName, action string, args ...any) (any, error) {
	h, err := r.Dispatch(storeName, action, args...)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Settle blocks until every dispatched body and resolver has completed, or
// ctx ends. Bodies that spawn further work keep the registry unsettled.
func (r *Registry) Settle(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for !r.rt.Idle() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("settle: %w", ctx.Err())
		}
	}
	return nil
}

// Subscribe registers fn to be called once per state-changing transition,
// in transition order, on the runtime goroutine. The returned function
// unsubscribes; calling it more than once is a no-op.
func (r *Registry) Subscribe(fn func(Transition)) func() {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.nextID++
	id := r.nextID
	r.listeners = append(r.listeners, listener{id: id, fn: fn})

	return func() {
		r.lmu.Lock()
		defer r.lmu.Unlock()
		r.listeners = slices.DeleteFunc(r.listeners, func(l listener) bool {
			return l.id == id
		})
	}
}

// SubscriberCount returns the number of active subscribers.
func (r *Registry) SubscriberCount() int {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	return len(r.listeners)
}

func (r *Registry) lookup(name string) (*store, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.stores[name]
	if !ok {
		return nil, &UnknownStoreError{Store: name}
	}
	return st, nil
}

// apply runs action through the store's reducer, or through the meta
// bookkeeping for framework actions, and notifies subscribers if anything
// changed.
// CRITICAL: Called only from the runtime goroutine.
func (r *Registry) apply(st *store, action Action) error {
	if action == nil {
		return &ValidationError{Store: st.name, Name: "put", Message: "nil action"}
	}

	changed, err := st.update(func() (bool, error) {
		if ma, ok := action.(metaAction); ok {
			return ma.applyMeta(&st.ms)
		}
		prev := st.state
		next := st.reduce(prev, action)
		st.state = next
		return !st.equal(prev, next), nil
	})
	if err != nil {
		if ve, ok := err.(*ValidationError); ok && ve.Store == "" {
			ve.Store = st.name
		}
		return err
	}
	if changed {
		r.emit(st.name, action.ActionType())
	}
	return nil
}

// emit stamps a transition and delivers it to every subscriber.
// CRITICAL: Called only from the runtime goroutine.
func (r *Registry) emit(storeName, action string) {
	tr := Transition{
		Seq:    r.rt.Clock().Next(),
		Store:  storeName,
		Action: action,
	}

	r.lmu.Lock()
	listeners := slices.Clone(r.listeners)
	r.lmu.Unlock()

	for _, l := range listeners {
		r.notify(l, tr)
	}
}

func (r *Registry) notify(l listener, tr Transition) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber panicked",
				"store", tr.Store,
				"action", tr.Action,
				"seq", tr.Seq,
				"panic", rec,
			)
		}
	}()
	l.fn(tr)
}
