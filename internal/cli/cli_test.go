package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

// isolate points the configuration at a fresh database.
func isolate(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "storekit.db")
	t.Setenv("STOREKIT_DB", db)
	for _, key := range []string{"STOREKIT_API_BASE", "STOREKIT_MODULE", "STOREKIT_LOG_LEVEL", "STOREKIT_FETCH_TIMEOUT"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	return db
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "storekit", cmd.Use)

	for _, name := range []string{"run", "resolve", "snapshot"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "run", scenarioDir, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestRootCommand_InvalidLogLevel(t *testing.T) {
	isolate(t)
	t.Setenv("STOREKIT_LOG_LEVEL", "loud")
	_, _, err := execute(t, "snapshot", "list")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	wrapped := WrapExitError(ExitCommandError, "open", errors.New("denied"))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
	assert.Equal(t, "open: denied", wrapped.Error())
	assert.ErrorIs(t, wrapped, wrapped.Err)
}

func TestOutputFormatter(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}
	require.NoError(t, f.Success(map[string]any{"b": 1, "a": "x"}))
	require.NoError(t, f.Success("plain"))
	require.NoError(t, f.Error("E1", "broken", nil))
	assert.Equal(t, "{\"a\":\"x\",\"b\":1}\nplain\nError [E1]: broken\n", buf.String())

	buf.Reset()
	f.Format = "json"
	require.NoError(t, f.Error("E2", "bad", map[string]any{"k": "v"}))
	var resp Response
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E2", resp.Error.Code)
}

func TestRunCommand_Passes(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "run", scenarioDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ site_info")
	assert.Contains(t, out, "Summary: 5 passed, 0 failed, 5 total")
}

func TestRunCommand_JSONAndFilter(t *testing.T) {
	isolate(t)
	out, _, err := execute(t, "run", scenarioDir, "--filter", "settings_*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Passed)
}

func TestRunCommand_Failures(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
name: bad
description: "Fails its expectation"
steps:
  - select: hasErrors
    expect: true
`), 0o644))

	out, _, err := execute(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ bad")
	assert.Contains(t, out, "does not match")

	_, _, err = execute(t, "run", filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_Golden(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	data, err := os.ReadFile(filepath.Join(scenarioDir, "site_info.yaml"))
	require.NoError(t, err)
	file := filepath.Join(dir, "site_info.yaml")
	require.NoError(t, os.WriteFile(file, data, 0o644))

	_, _, err = execute(t, "run", file, "--update")
	require.NoError(t, err)
	golden, err := os.ReadFile(filepath.Join(dir, "golden", "site_info.golden"))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"site_info"`)

	_, _, err = execute(t, "run", file)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "site_info.golden"), []byte("{}"), 0o644))
	out, _, err := execute(t, "run", file)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestSnapshotCommands(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, "snapshot", "set", `{"settings":{"propertyID":"1"}}`)
	require.NoError(t, err)
	assert.Equal(t, "datastore::cache::modules/analytics\n", out)

	out, _, err = execute(t, "snapshot", "get")
	require.NoError(t, err)
	assert.JSONEq(t, `{"settings":{"propertyID":"1"}}`, out)

	out, _, err = execute(t, "snapshot", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "datastore::cache::modules/analytics\tv1\t")

	_, _, err = execute(t, "snapshot", "set", `{nope`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "snapshot", "delete")
	require.NoError(t, err)
	_, _, err = execute(t, "snapshot", "get")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no snapshot")
}

func TestResolveCommand(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/wp-json/modules/analytics/data/accounts":
			_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "1", "name": "Main"}})
		default:
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]any{"code": "internal_error", "message": "down"})
		}
	}))
	defer srv.Close()
	api := srv.URL + "/wp-json/"

	out, _, err := execute(t, "resolve", "getAccounts", "--api", api, "--save", "--format", "json")
	require.NoError(t, err)
	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, []any{map[string]any{"id": "1", "name": "Main"}}, resp.Data)

	out, _, err = execute(t, "snapshot", "get")
	require.NoError(t, err)
	assert.Contains(t, out, `"accounts":[{"id":"1","name":"Main"}]`)

	out, _, err = execute(t, "resolve", "getSettings", "--api", api)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "resolution_failed")
}

func TestResolveCommand_RequiresAPIBase(t *testing.T) {
	isolate(t)
	_, _, err := execute(t, "resolve", "getAccounts")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no API base URL")
}

func TestParseArgs(t *testing.T) {
	assert.Equal(t, []any{float64(1), "propertyID", true, map[string]any{"a": "b"}},
		parseArgs([]string{"1", "propertyID", "true", `{"a":"b"}`}))
}
