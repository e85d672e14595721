package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScenarioNotFoundError is returned when a scenario path does not exist.
type ScenarioNotFoundError struct {
	Path string
}

// Error implements the error interface.
func (e *ScenarioNotFoundError) Error() string {
	return fmt.Sprintf("scenario path %q does not exist", e.Path)
}

// IsScenarioFile reports whether path has a scenario extension.
func IsScenarioFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".cue":
		return true
	}
	return false
}

// FindScenarios returns the scenario files under path, sorted. A file path
// is returned as is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &ScenarioNotFoundError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if IsScenarioFile(p) {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	sort.Strings(files)
	return files, nil
}

// FileResult is the outcome of one scenario file.
type FileResult struct {
	Path     string
	Scenario *Scenario
	Result   *Result
	Err      error
}

// Passed reports whether the file loaded, ran and passed.
func (f FileResult) Passed() bool {
	return f.Err == nil && f.Result != nil && f.Result.Pass
}

// RunFiles loads and runs every scenario under path. A file that fails to
// load or run is reported in its FileResult and does not stop the others.
func RunFiles(ctx context.Context, path string, opts ...Option) ([]FileResult, error) {
	files, err := FindScenarios(path)
	if err != nil {
		return nil, err
	}
	out := make([]FileResult, 0, len(files))
	for _, file := range files {
		fr := FileResult{Path: file}
		fr.Scenario, fr.Err = LoadScenario(file)
		if fr.Err == nil {
			fr.Result, fr.Err = Run(ctx, fr.Scenario, opts...)
		}
		out = append(out, fr)
	}
	return out, nil
}
