package harness

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Transitions for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nTransitions:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Store, event.Action)
		}
	}
	return buf.String()
}

// matching returns the transitions of action, narrowed to store when set.
func matching(trace []TraceEvent, store, action string) []TraceEvent {
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Action == action && (store == "" || ev.Store == store) {
			out = append(out, ev)
		}
	}
	return out
}

// assertTraceContains checks that the action occurred at least once.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	if len(matching(trace, assertion.Store, assertion.Action)) > 0 {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("transition %s%s", assertion.Action, storeSuffix(assertion.Store)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that actions first occur in the specified order.
// Actions don't need to be consecutive.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if assertion.Store != "" && ev.Store != assertion.Store {
			continue
		}
		for _, action := range assertion.Actions {
			if ev.Action == action && positions[action] == 0 {
				positions[action] = i + 1
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that the action occurred exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := len(matching(trace, assertion.Store, assertion.Action))
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s%s", assertion.Count, assertion.Action, storeSuffix(assertion.Store)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks that the final state of a store, or the value at
// Path within it, contains Expect.
func assertFinalState(state map[string]any, assertion Assertion) error {
	actual, ok := state[assertion.Store]
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("store %q", assertion.Store),
			Actual:   "store not registered",
		}
	}
	if assertion.Path != "" {
		v, err := lookupPath(actual, assertion.Path)
		if err != nil {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("%s.%s", assertion.Store, assertion.Path),
				Actual:   err.Error(),
			}
		}
		actual = v
	}
	if !Contains(actual, assertion.Expect) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s%s contains %v", assertion.Store, pathSuffix(assertion.Path), assertion.Expect),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

// assertExpr evaluates a boolean expr-lang expression over env.
func assertExpr(env map[string]any, assertion Assertion) error {
	out, err := expr.Eval(assertion.Expr, env)
	if err != nil {
		return &AssertionError{
			Type:     AssertExpr,
			Expected: assertion.Expr,
			Actual:   fmt.Sprintf("evaluation error: %v", err),
		}
	}
	if ok, isBool := out.(bool); !isBool || !ok {
		return &AssertionError{
			Type:     AssertExpr,
			Expected: assertion.Expr,
			Actual:   fmt.Sprintf("%v", out),
		}
	}
	return nil
}

// Env returns the expr environment of a result: results, state,
// store_errors, trace (transitions as {seq, store, action}) and calls.
func (r *Result) Env() map[string]any {
	trace := make([]any, 0, len(r.Trace))
	for _, ev := range r.Transitions() {
		trace = append(trace, map[string]any{
			"seq":    ev.Seq,
			"store":  ev.Store,
			"action": ev.Action,
		})
	}
	calls := make([]any, len(r.Calls))
	for i, c := range r.Calls {
		calls[i] = c
	}
	return map[string]any{
		"results":      r.Results,
		"state":        r.State,
		"store_errors": r.Errs,
		"trace":        trace,
		"calls":        calls,
	}
}

// Contains reports whether actual matches expected. Maps match as subsets,
// slices element-wise with equal length, numbers by value.
func Contains(actual, expected any) bool {
	switch exp := expected.(type) {
	case map[string]any:
		act, ok := actual.(map[string]any)
		if !ok {
			return false
		}
		for k, v := range exp {
			av, ok := act[k]
			if !ok || !Contains(av, v) {
				return false
			}
		}
		return true
	case []any:
		act, ok := actual.([]any)
		if !ok || len(act) != len(exp) {
			return false
		}
		for i := range exp {
			if !Contains(act[i], exp[i]) {
				return false
			}
		}
		return true
	}
	if ef, ok := toFloat(expected); ok {
		af, ok := toFloat(actual)
		return ok && ef == af
	}
	return reflect.DeepEqual(actual, expected)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// lookupPath walks a dotted path through maps and slices.
func lookupPath(v any, path string) (any, error) {
	cur := v
	for _, part := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("no field %q", part)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("no index %q", part)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q", cur, part)
		}
	}
	return cur, nil
}

func storeSuffix(store string) string {
	if store == "" {
		return ""
	}
	return " in " + store
}

func pathSuffix(path string) string {
	if path == "" {
		return ""
	}
	return "." + path
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string
	trace := result.Transitions()
	var env map[string]any

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(trace, assertion)
		case AssertFinalState:
			err = assertFinalState(result.State, assertion)
		case AssertExpr:
			if env == nil {
				env = result.Env()
			}
			err = assertExpr(env, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
