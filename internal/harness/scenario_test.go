package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_YAML(t *testing.T) {
	path := writeFile(t, "s.yaml", `
name: minimal
description: "A minimal scenario"
responses:
  - method: GET
    path: modules/analytics/data/accounts
    body: [{id: 1}]
steps:
  - resolve: getAccounts
    expect: [{id: 1}]
assertions:
  - type: trace_count
    action: finishResolution
    count: 1
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, DefaultModule, s.Module)
	require.Len(t, s.Steps, 1)
	op, name := s.Steps[0].Op()
	assert.Equal(t, OpResolve, op)
	assert.Equal(t, "getAccounts", name)
	// Numbers take their JSON shape.
	assert.Equal(t, []any{map[string]any{"id": float64(1)}}, s.Steps[0].Expect)
}

func TestLoadScenario_CUE(t *testing.T) {
	path := writeFile(t, "s.cue", `
name:        "cue_scenario"
description: "Scenarios can be written in CUE"
module:      "tagmanager"
_store:      "modules/tagmanager"
steps: [{select: "getSettings", store: _store, args: [1, "two"]}]
assertions: []
`)
	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "tagmanager", s.Module)
	require.Len(t, s.Steps, 1)
	assert.Equal(t, "modules/tagmanager", s.Steps[0].Store)
	assert.Equal(t, []any{float64(1), "two"}, s.Steps[0].Args)
}

func TestLoadScenario_CUEMustBeConcrete(t *testing.T) {
	path := writeFile(t, "s.cue", `
name: string
description: "x"
steps: [{select: "getSettings"}]
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not concrete")
}

func TestLoadScenario_CUERejectsUnknownFields(t *testing.T) {
	path := writeFile(t, "s.cue", `
name: "x"
description: "x"
stepz: []
steps: [{select: "getSettings"}]
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stepz")
}

func TestLoadScenario_FileNotFound(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseYAML_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown field",
			yaml:    "name: x\ndescription: x\nstep: []\n",
			wantErr: "field step not found",
		},
		{
			name:    "missing name",
			yaml:    "description: x\nsteps: [{select: a}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: x\nsteps: [{select: a}]\n",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: x\ndescription: x\n",
			wantErr: "steps list is required",
		},
		{
			name:    "two operations",
			yaml:    "name: x\ndescription: x\nsteps: [{select: a, dispatch: b}]\n",
			wantErr: "steps[0]: exactly one of select, resolve or dispatch",
		},
		{
			name:    "no operation in setup",
			yaml:    "name: x\ndescription: x\nsetup: [{store: s}]\nsteps: [{select: a}]\n",
			wantErr: "setup[0]: exactly one",
		},
		{
			name:    "expect and expect_error",
			yaml:    "name: x\ndescription: x\nsteps: [{select: a, expect: 1, expect_error: boom}]\n",
			wantErr: "exclusive",
		},
		{
			name:    "response without path",
			yaml:    "name: x\ndescription: x\nresponses: [{method: GET}]\nsteps: [{select: a}]\n",
			wantErr: "responses[0]: method and path are required",
		},
		{
			name:    "bad status",
			yaml:    "name: x\ndescription: x\nresponses: [{method: GET, path: p, status: 42}]\nsteps: [{select: a}]\n",
			wantErr: "invalid status 42",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: x\ndescription: x\nsteps: [{select: a}]\nassertions: [{type: vibes}]\n",
			wantErr: `unknown assertion type "vibes"`,
		},
		{
			name:    "trace_order without actions",
			yaml:    "name: x\ndescription: x\nsteps: [{select: a}]\nassertions: [{type: trace_order}]\n",
			wantErr: "actions list is required",
		},
		{
			name:    "negative count",
			yaml:    "name: x\ndescription: x\nsteps: [{select: a}]\nassertions: [{type: trace_count, action: a, count: -1}]\n",
			wantErr: "count must be non-negative",
		},
		{
			name:    "final_state without store",
			yaml:    "name: x\ndescription: x\nsteps: [{select: a}]\nassertions: [{type: final_state, expect: {a: 1}}]\n",
			wantErr: "store is required",
		},
		{
			name:    "final_state without expect",
			yaml:    "name: x\ndescription: x\nsteps: [{select: a}]\nassertions: [{type: final_state, store: s}]\n",
			wantErr: "expect is required",
		},
		{
			name:    "expr without expression",
			yaml:    "name: x\ndescription: x\nsteps: [{select: a}]\nassertions: [{type: expr}]\n",
			wantErr: "expr is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFindScenarios(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.yaml", "a.cue", "notes.md", "c.yml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".hidden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden", "d.yaml"), []byte("x"), 0o644))

	files, err := FindScenarios(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.cue"),
		filepath.Join(dir, "b.yaml"),
		filepath.Join(dir, "c.yml"),
	}, files)

	single, err := FindScenarios(filepath.Join(dir, "b.yaml"))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = FindScenarios(filepath.Join(dir, "nope"))
	var notFound *ScenarioNotFoundError
	assert.ErrorAs(t, err, &notFound)
}
