package harness

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteOptions configures RunSuite.
type SuiteOptions struct {
	// GoldenDir holds {scenario name}.golden trace snapshots. When empty,
	// scenarios are judged by their assertions alone.
	GoldenDir string

	// Update rewrites the golden files instead of comparing against them.
	Update bool
}

// SuiteResult contains results from running a set of scenario files.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Scenarios      []ScenarioResult  `json:"scenarios"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioResult is the result of one scenario file.
type ScenarioResult struct {
	Name          string   `json:"name"`
	Path          string   `json:"path"`
	Pass          bool     `json:"pass"`
	GoldenUpdated bool     `json:"golden_updated,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

// ScenarioFailure represents a scenario that did not pass.
type ScenarioFailure struct {
	Scenario     string `json:"scenario,omitempty"`
	ScenarioPath string `json:"scenario_path"`
	Error        string `json:"error"`
}

// FindScenarios returns the .yaml and .yml files directly in dir, sorted.
func FindScenarios(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RunSuite loads and runs every scenario file in paths and returns a
// summary of results.
//
// For each scenario file:
// 1. Load the scenario
// 2. Run it via Run
// 3. Compare or rewrite its golden trace when opts.GoldenDir is set
// 4. Collect and report results
//
// A cancelled ctx stops the suite before the next scenario.
func RunSuite(ctx context.Context, paths []string, opts SuiteOptions) (*SuiteResult, error) {
	result := &SuiteResult{Scenarios: []ScenarioResult{}}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.TotalScenarios++

		sr := runSuiteScenario(path, opts)
		result.Scenarios = append(result.Scenarios, sr)
		if sr.Pass {
			result.Passed++
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, ScenarioFailure{
			Scenario:     sr.Name,
			ScenarioPath: path,
			Error:        strings.Join(sr.Errors, "; "),
		})
	}

	return result, nil
}

func runSuiteScenario(path string, opts SuiteOptions) ScenarioResult {
	sr := ScenarioResult{Path: path}

	scenario, err := LoadScenario(path)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return sr
	}
	sr.Name = scenario.Name

	runResult, err := Run(scenario)
	if err != nil {
		sr.Errors = []string{fmt.Sprintf("scenario execution failed: %v", err)}
		return sr
	}

	if opts.GoldenDir != "" {
		updated, err := checkGolden(opts, scenario.Name, runResult)
		if err != nil {
			sr.Errors = []string{err.Error()}
			return sr
		}
		sr.GoldenUpdated = updated
	}

	if !runResult.Pass {
		sr.Errors = []string{fmt.Sprintf("scenario assertions failed: %s", strings.Join(runResult.Errors, "; "))}
		return sr
	}
	sr.Pass = true
	return sr
}

// checkGolden compares the trace with its golden file, or rewrites the
// file in update mode. A missing golden file is not an error; the
// scenario is then judged by its assertions alone.
func checkGolden(opts SuiteOptions, name string, result *Result) (bool, error) {
	data, err := MarshalSnapshot(name, result.Trace)
	if err != nil {
		return false, fmt.Errorf("failed to marshal trace: %w", err)
	}
	goldenPath := filepath.Join(opts.GoldenDir, name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(goldenPath, data, 0o644); err != nil {
			return false, fmt.Errorf("failed to write golden file: %w", err)
		}
		return true, nil
	}

	golden, err := os.ReadFile(goldenPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(golden, data) {
		return false, fmt.Errorf("trace does not match golden file %s (run with --update to regenerate)", goldenPath)
	}
	return false, nil
}
