package registry

import (
	"log/slog"

	"github.com/roach88/storekit/internal/engine"
)

// Context gives action and resolver bodies read access to their store and
// the registry.
type Context struct {
	r  *Registry
	st *store
}

func (r *Registry) context(st *store) *Context {
	return &Context{r: r, st: st}
}

// Store returns the name of the store the body runs on.
func (c *Context) Store() string { return c.st.name }

// Registry returns the owning registry.
func (c *Context) Registry() *Registry { return c.r }

// Logger returns the registry logger scoped to the store.
func (c *Context) Logger() *slog.Logger { return c.r.logger.With("store", c.st.name) }

// Select reads a selector of the body's own store.
func (c *Context) Select(selector string, args ...any) (any, error) {
	return c.r.Select(c.st.name, selector, args...)
}

// SelectFrom reads a selector of another store.
func (c *Context) SelectFrom(storeName, selector string, args ...any) (any, error) {
	return c.r.Select(storeName, selector, args...)
}

// State returns the current state of the body's own store.
func (c *Context) State() any {
	state, _ := c.st.snapshot()
	return state
}

// Meta returns the current meta snapshot of the body's own store.
func (c *Context) Meta() Meta {
	_, meta := c.st.snapshot()
	return meta
}

// Invoke runs another action of the same store inline, as part of the
// calling body, and returns its first step. Compose the result with
// engine.Then.
func (c *Context) Invoke(action string, args ...any) engine.Step {
	creator, ok := c.st.actions[action]
	if !ok {
		return engine.Fail(&UnknownActionError{Store: c.st.name, Action: action})
	}
	return creator(c, Args(cloneArgs(args)))
}
