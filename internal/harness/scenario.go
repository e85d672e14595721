package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// Scenario drives the example stores through steps and asserts on the
// outcome.
type Scenario struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`

	// Module is the module slug. Defaults to DefaultModule.
	Module string `yaml:"module,omitempty" json:"module,omitempty"`

	// TagURLs are the pages scanned for an existing tag.
	TagURLs []string `yaml:"tag_urls,omitempty" json:"tag_urls,omitempty"`

	// Responses script the network. Replies for the same route are served
	// in order; the last one repeats.
	Responses []Response `yaml:"responses,omitempty" json:"responses,omitempty"`

	// Setup steps establish state and must succeed.
	Setup []Step `yaml:"setup,omitempty" json:"setup,omitempty"`

	Steps      []Step      `yaml:"steps" json:"steps"`
	Assertions []Assertion `yaml:"assertions" json:"assertions"`
}

// DefaultModule is the module slug used when a scenario names none.
const DefaultModule = "analytics"

// Response is a scripted network reply.
type Response struct {
	Method string `yaml:"method" json:"method"`
	Path   string `yaml:"path" json:"path"`

	// Status defaults to 200.
	Status int `yaml:"status,omitempty" json:"status,omitempty"`

	// Body is sent as is when it is a string and JSON-encoded otherwise.
	Body any `yaml:"body,omitempty" json:"body,omitempty"`
}

// Step runs exactly one of Select, Resolve or Dispatch.
type Step struct {
	Select   string `yaml:"select,omitempty" json:"select,omitempty"`
	Resolve  string `yaml:"resolve,omitempty" json:"resolve,omitempty"`
	Dispatch string `yaml:"dispatch,omitempty" json:"dispatch,omitempty"`

	// Store defaults to the module store.
	Store string `yaml:"store,omitempty" json:"store,omitempty"`
	Args  []any  `yaml:"args,omitempty" json:"args,omitempty"`

	// Expect is matched against the step result. Maps match as subsets.
	Expect any `yaml:"expect,omitempty" json:"expect,omitempty"`

	// ExpectError requires the step to fail with an error containing it.
	ExpectError string `yaml:"expect_error,omitempty" json:"expect_error,omitempty"`

	// As binds the result under results.<as> for expr assertions.
	As string `yaml:"as,omitempty" json:"as,omitempty"`
}

// Step operations.
const (
	OpSelect   = "select"
	OpResolve  = "resolve"
	OpDispatch = "dispatch"
)

// Op returns the operation and the selector or action name.
func (s Step) Op() (op, name string) {
	switch {
	case s.Select != "":
		return OpSelect, s.Select
	case s.Resolve != "":
		return OpResolve, s.Resolve
	default:
		return OpDispatch, s.Dispatch
	}
}

// Assertion validates the trace or the final state.
type Assertion struct {
	Type string `yaml:"type" json:"type"`

	// Store narrows trace assertions and names the final_state store.
	Store string `yaml:"store,omitempty" json:"store,omitempty"`

	Action  string   `yaml:"action,omitempty" json:"action,omitempty"`
	Actions []string `yaml:"actions,omitempty" json:"actions,omitempty"`
	Count   int      `yaml:"count,omitempty" json:"count,omitempty"`

	// Path is a dotted path into the final state.
	Path   string `yaml:"path,omitempty" json:"path,omitempty"`
	Expect any    `yaml:"expect,omitempty" json:"expect,omitempty"`

	Expr string `yaml:"expr,omitempty" json:"expr,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertExpr          = "expr"
)

// LoadScenario reads a scenario file. Files ending in .cue are evaluated
// with CUE; anything else is parsed as YAML.
// Unknown fields are rejected in both formats.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		return ParseCUE(data, path)
	}
	return ParseYAML(data)
}

// ParseYAML parses and validates a YAML scenario.
func ParseYAML(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return finish(&scenario)
}

// ParseCUE evaluates a CUE scenario. The value must be concrete.
func ParseCUE(data []byte, filename string) (*Scenario, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile CUE: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("scenario is not concrete: %w", err)
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to export CUE: %w", err)
	}

	var scenario Scenario
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to decode CUE scenario: %w", err)
	}
	return finish(&scenario)
}

// finish normalizes free-form values to their JSON shapes and validates.
func finish(s *Scenario) (*Scenario, error) {
	if s.Module == "" {
		s.Module = DefaultModule
	}
	for _, steps := range [][]Step{s.Setup, s.Steps} {
		for i := range steps {
			args, err := normalize(steps[i].Args)
			if err != nil {
				return nil, fmt.Errorf("invalid scenario: args: %w", err)
			}
			steps[i].Args, _ = args.([]any)
			if steps[i].Expect, err = normalize(steps[i].Expect); err != nil {
				return nil, fmt.Errorf("invalid scenario: expect: %w", err)
			}
		}
	}
	for i := range s.Assertions {
		var err error
		if s.Assertions[i].Expect, err = normalize(s.Assertions[i].Expect); err != nil {
			return nil, fmt.Errorf("invalid scenario: expect: %w", err)
		}
	}

	if err := validateScenario(s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return s, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, r := range s.Responses {
		if r.Method == "" || r.Path == "" {
			return fmt.Errorf("responses[%d]: method and path are required", i)
		}
		if r.Status != 0 && (r.Status < 100 || r.Status > 599) {
			return fmt.Errorf("responses[%d]: invalid status %d", i, r.Status)
		}
	}
	for i, step := range s.Setup {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	n := 0
	for _, name := range []string{step.Select, step.Resolve, step.Dispatch} {
		if name != "" {
			n++
		}
	}
	if n != 1 {
		return fmt.Errorf("exactly one of select, resolve or dispatch is required")
	}
	if step.Expect != nil && step.ExpectError != "" {
		return fmt.Errorf("expect and expect_error are exclusive")
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Store == "" {
			return fmt.Errorf("assertions[%d]: store is required for final_state", index)
		}
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertExpr:
		if a.Expr == "" {
			return fmt.Errorf("assertions[%d]: expr is required for expr", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// normalize converts v to the shapes encoding/json decodes into: nil,
// bool, float64, string, []any and map[string]any.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
