package registry

import (
	"context"
	"sync"

	"github.com/roach88/storekit/internal/canon"
	"github.com/roach88/storekit/internal/engine"
)

// ResolutionStatus is the lifecycle of a resolution record.
// It only moves forward; a Done record is replaced only after invalidation.
type ResolutionStatus int

const (
	// StatusPending: the resolver is scheduled but has not started.
	StatusPending ResolutionStatus = iota + 1

	// StatusRunning: the resolver body has started.
	StatusRunning

	// StatusDone: the resolver body completed, successfully or not.
	StatusDone
)

func (s ResolutionStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusDone:
		return "done"
	default:
		return "unknown"
	}
}

// resolution tracks one (selector, args) key. status and handle are guarded
// by the owning store's mutex.
type resolution struct {
	selector string
	args     []any
	status   ResolutionStatus
	handle   *engine.Handle

	done chan struct{}
	once sync.Once
}

func newResolution(selector string, args []any) *resolution {
	return &resolution{
		selector: selector,
		args:     cloneArgs(canon.TrimArgs(args)),
		status:   StatusPending,
		done:     make(chan struct{}),
	}
}

func (res *resolution) release() {
	res.once.Do(func() { close(res.done) })
}

// ensureResolution creates the record for (selector, args) and schedules
// the resolver, unless a record already exists.
func (r *Registry) ensureResolution(st *store, selector string, resolver Resolver, args []any) error {
	key, err := canon.Key(selector, args)
	if err != nil {
		return &ValidationError{Store: st.name, Name: selector, Message: "arguments are not serializable", Err: err}
	}

	st.mu.Lock()
	if _, ok := st.ms.resolutions[key]; ok {
		st.mu.Unlock()
		return nil
	}
	res := newResolution(selector, args)
	st.ms.resolutions[key] = res
	st.mu.Unlock()

	// A new record changes isResolving and hasStartedResolution. Advance the
	// clock so memoized registry selectors recompute; no transition is
	// emitted because Select may run off the loop.
	r.rt.Clock().Next()

	r.logger.Debug("resolution scheduled", "store", st.name, "selector", selector, "key", key)

	c := r.context(st)
	callArgs := Args(cloneArgs(args))
	h := r.rt.Spawn(st.name, selector, func() engine.Step {
		r.startResolution(st, res)
		return resolver(c, callArgs)
	}, engine.OnDone(func(_ any, err error) {
		if err != nil {
			r.logger.Warn("resolver failed",
				"store", st.name,
				"selector", selector,
				"error", err,
			)
		}
		r.finishResolution(st, res)
	}))

	st.mu.Lock()
	res.handle = h
	st.mu.Unlock()
	return nil
}

// startResolution runs on the loop when the resolver body starts.
func (r *Registry) startResolution(st *store, res *resolution) {
	st.mu.Lock()
	res.status = StatusRunning
	st.mu.Unlock()
	r.emit(st.name, "startResolution")
}

// finishResolution runs on the loop when the resolver body completes.
// Failure still finishes the record; failures surface through error records.
func (r *Registry) finishResolution(st *store, res *resolution) {
	st.mu.Lock()
	res.status = StatusDone
	st.mu.Unlock()
	r.emit(st.name, "finishResolution")
	res.release()
}

// resolution returns the current record for (selector, args), if any.
func (st *store) resolution(selector string, args []any) (*resolution, ResolutionStatus) {
	key, err := canon.Key(selector, args)
	if err != nil {
		return nil, 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	res, ok := st.ms.resolutions[key]
	if !ok {
		return nil, 0
	}
	return res, res.status
}

// wait blocks until the record finishes, its task ends without finishing
// it (runtime shutdown), or ctx is cancelled.
func (res *resolution) wait(ctx context.Context, st *store) error {
	st.mu.Lock()
	h := res.handle
	st.mu.Unlock()

	var taskDone <-chan struct{}
	if h != nil {
		taskDone = h.Done()
	}
	select {
	case <-res.done:
		return nil
	case <-taskDone:
		// A completed body releases the record before its handle.
		select {
		case <-res.done:
			return nil
		default:
			return engine.ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}
