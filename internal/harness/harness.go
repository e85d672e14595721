package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/roach88/storekit/internal/apifetch"
	"github.com/roach88/storekit/internal/engine"
	"github.com/roach88/storekit/internal/registry"
	"github.com/roach88/storekit/internal/sitestore"
	"github.com/roach88/storekit/internal/snapshot"
	"github.com/roach88/storekit/internal/testutil"
)

// DefaultStepTimeout bounds each step, including settling.
const DefaultStepTimeout = 5 * time.Second

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the logger of the registry and network client.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithStepTimeout bounds each step.
func WithStepTimeout(d time.Duration) Option {
	return func(h *Harness) {
		if d > 0 {
			h.timeout = d
		}
	}
}

// WithPersister sets the snapshot persister. Defaults to a fresh
// in-memory store per run.
func WithPersister(p snapshot.Persister) Option {
	return func(h *Harness) {
		if p != nil {
			h.persister = p
		}
	}
}

// Harness runs one scenario against a fresh registry.
type Harness struct {
	registry  *registry.Registry
	transport *testutil.FakeTransport
	persister snapshot.Persister
	logger    *slog.Logger
	timeout   time.Duration
	module    string

	mu      sync.Mutex
	pending []TraceEvent
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh registry with a scripted transport.
// Execution flow:
// 1. Script the transport and register the example stores
// 2. Execute setup steps, which must succeed
// 3. Execute steps, checking expectations
// 4. Capture final state and evaluate assertions
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		transport: testutil.NewFakeTransport(),
		persister: snapshot.NewMemoryStore(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout:   DefaultStepTimeout,
		module:    scenario.Module,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.module == "" {
		h.module = DefaultModule
	}

	for i, resp := range scenario.Responses {
		status := resp.Status
		if status == 0 {
			status = http.StatusOK
		}
		if err := h.transport.Respond(resp.Method, resp.Path, status, resp.Body); err != nil {
			return nil, fmt.Errorf("responses[%d]: %w", i, err)
		}
	}

	h.registry = registry.New(
		registry.WithLogger(h.logger),
		registry.WithIDGenerator(engine.NewSequenceGenerator("task")),
	)
	err := sitestore.Register(h.registry, sitestore.Options{
		Slug:      h.module,
		Client:    apifetch.NewClient(h.transport, apifetch.WithLogger(h.logger)),
		TagURLs:   scenario.TagURLs,
		Persister: h.persister,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register stores: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.registry.Run(runCtx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	unsubscribe := h.registry.Subscribe(h.record)
	defer unsubscribe()

	result := NewResult()
	for i, step := range scenario.Setup {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute setup step %d: %w", i, err)
		}
		if n := len(result.Errors); n > 0 {
			return nil, fmt.Errorf("setup step %d: %s", i, result.Errors[n-1])
		}
	}
	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("failed to execute step %d: %w", i, err)
		}
	}

	if err := h.capture(result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario finished",
		"scenario", scenario.Name,
		"pass", result.Pass,
		"transitions", len(result.Transitions()),
	)
	return result, nil
}

// record collects transitions on the runtime goroutine.
func (h *Harness) record(tr registry.Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pending = append(h.pending, TraceEvent{
		Type:   EventTransition,
		Store:  tr.Store,
		Action: tr.Action,
		Seq:    tr.Seq,
	})
}

// flush moves recorded transitions into the trace.
func (h *Harness) flush(result *Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	result.Trace = append(result.Trace, h.pending...)
	h.pending = nil
}

// executeStep runs one step, waits for the registry to settle and checks
// the step expectations. The returned error aborts the run; failed
// expectations are added to result instead.
func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	op, name := step.Op()
	store := step.Store
	if store == "" {
		store = sitestore.StoreName(h.module)
	}
	index := len(result.Trace)
	result.Trace = append(result.Trace, TraceEvent{
		Type:  EventStep,
		Op:    op,
		Store: store,
		Name:  name,
		Args:  step.Args,
	})

	stepCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var value any
	var err error
	switch op {
	case OpSelect:
		value, err = h.registry.Select(store, name, step.Args...)
	case OpResolve:
		value, err = h.registry.Resolve(stepCtx, store, name, step.Args...)
	default:
		value, err = h.registry.DispatchWait(stepCtx, store, name, step.Args...)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	if settleErr := h.registry.Settle(stepCtx); settleErr != nil {
		return fmt.Errorf("%s %s: %w", op, name, settleErr)
	}
	h.flush(result)

	label := fmt.Sprintf("%s %s/%s", op, store, name)
	if err != nil {
		result.Trace[index].Error = err.Error()
		if step.ExpectError == "" {
			result.AddError(fmt.Sprintf("%s: unexpected error: %v", label, err))
		} else if !strings.Contains(err.Error(), step.ExpectError) {
			result.AddError(fmt.Sprintf("%s: error %q does not contain %q", label, err.Error(), step.ExpectError))
		}
		return nil
	}

	normalized, nerr := normalize(value)
	if nerr != nil {
		return fmt.Errorf("%s: result is not JSON: %w", label, nerr)
	}
	result.Trace[index].Result = normalized
	if step.As != "" {
		result.Results[step.As] = normalized
	}
	if step.ExpectError != "" {
		result.AddError(fmt.Sprintf("%s: expected error containing %q, got %v", label, step.ExpectError, normalized))
	}
	if step.Expect != nil && !Contains(normalized, step.Expect) {
		result.AddError(fmt.Sprintf("%s: result %v does not match %v", label, normalized, step.Expect))
	}
	return nil
}

// capture records final states, error records and network calls.
func (h *Harness) capture(result *Result) error {
	for _, name := range h.registry.Stores() {
		state, err := h.registry.State(name)
		if err != nil {
			return err
		}
		if result.State[name], err = normalize(state); err != nil {
			return fmt.Errorf("state of %s is not JSON: %w", name, err)
		}
		meta, err := h.registry.Meta(name)
		if err != nil {
			return err
		}
		if result.Errs[name], err = normalize(meta.Errors()); err != nil {
			return fmt.Errorf("errors of %s are not JSON: %w", name, err)
		}
	}
	for _, call := range h.transport.AllCalls() {
		result.Calls = append(result.Calls, call.Method+" "+call.Path)
	}
	return nil
}
