package harness

// Trace event types.
const (
	EventStep       = "step"
	EventTransition = "transition"
)

// TraceEvent is a step the scenario ran or a transition it caused.
type TraceEvent struct {
	Type string `json:"type"`

	// Step fields.
	Op     string `json:"op,omitempty"`
	Name   string `json:"name,omitempty"`
	Args   []any  `json:"args,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// Transition fields.
	Action string `json:"action,omitempty"`
	Seq    int64  `json:"seq,omitempty"`

	Store string `json:"store"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`

	// State holds the final JSON state of every store.
	State map[string]any `json:"state,omitempty"`

	// Results holds step results bound with "as".
	Results map[string]any `json:"results,omitempty"`

	// Errs holds the final error records of every store.
	Errs map[string]any `json:"store_errors,omitempty"`

	// Calls lists the network calls made, as "METHOD path".
	Calls []string `json:"calls,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		State:   make(map[string]any),
		Results: make(map[string]any),
		Errs:    make(map[string]any),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Transitions returns the transition events in order.
func (r *Result) Transitions() []TraceEvent {
	var out []TraceEvent
	for _, ev := range r.Trace {
		if ev.Type == EventTransition {
			out = append(out, ev)
		}
	}
	return out
}
