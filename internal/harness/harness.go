package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/715d/bcverify/pkg/bcverify"
	"github.com/715d/bcverify/pkg/jvmtype"
)

// TestHarness manages test execution.
type TestHarness struct {
	// root is the root directory for test data
	root string
}

// NewHarness creates a new test harness.
func NewHarness(root string) *TestHarness {
	return &TestHarness{root: root}
}

// ConfigurationResult represents the result of running a single configuration.
type ConfigurationResult struct {
	// Configuration is the configuration that was run.
	Configuration Configuration

	// Results is the raw output of the checker.
	Results []bcverify.Result

	// Success indicates if this configuration passed.
	Success bool

	// Message provides a summary of the result for this configuration.
	Message string

	// Details provides detailed information about failures for this configuration.
	Details []string
}

// TestResult represents the result of running a test case.
type TestResult struct {
	// TestCase is the test case that was run.
	TestCase *TestCase

	// ConfigurationResults contains results for each configuration.
	ConfigurationResults []ConfigurationResult

	// Success indicates if the test passed (all configurations passed)
	Success bool

	// Message provides a summary of the result.
	Message string
}

// Run verifies the test case program under each of its configurations.
func (h *TestHarness) Run(t *testing.T, tc *TestCase) *TestResult {
	t.Helper()
	require.NotEmpty(t, tc.Configurations, "%s: no configurations", tc.Dir)

	res := &TestResult{TestCase: tc, Success: true}
	var failures strings.Builder
	for _, cfg := range tc.Configurations {
		cr := h.runConfiguration(t, tc, cfg)
		res.ConfigurationResults = append(res.ConfigurationResults, *cr)
		if cr.Success {
			continue
		}
		res.Success = false
		fmt.Fprintf(&failures, "\n[%s] %s", cfg.Name, cr.Message)
		for _, d := range cr.Details {
			fmt.Fprintf(&failures, "\n  %s", d)
		}
	}

	if res.Success {
		res.Message = fmt.Sprintf("%d configurations passed", len(tc.Configurations))
	} else {
		res.Message = "configurations failed:" + failures.String()
	}
	return res
}

// runConfiguration verifies the test case program under one configuration.
func (h *TestHarness) runConfiguration(t *testing.T, tc *TestCase, cfg Configuration) *ConfigurationResult {
	t.Helper()
	f := LoadProgram(t, h.root, tc)

	checker := bcverify.NewChecker(bcverify.Options{Strict: cfg.Strict, CollectAll: cfg.All})
	results, err := checker.Check(t.Context(), f)
	if err != nil {
		for _, expectedErr := range cfg.ExpectedErrors {
			if strings.Contains(err.Error(), expectedErr) {
				return &ConfigurationResult{
					Configuration: cfg,
					Success:       true,
					Message:       fmt.Sprintf("Got expected error: %v", err),
				}
			}
		}
		require.NoError(t, err)
	}
	if len(cfg.ExpectedErrors) > 0 {
		return &ConfigurationResult{
			Configuration: cfg,
			Results:       results,
			Message:       "Expected an error, got results",
			Details:       cfg.ExpectedErrors,
		}
	}

	cfgResult := &ConfigurationResult{Configuration: cfg, Results: results}
	if err := validateExpectedMethods(cfg.Expected); err != nil {
		cfgResult.Message = fmt.Sprintf("Invalid expected.yaml: %v", err)
		cfgResult.Details = []string{err.Error()}
		return cfgResult
	}
	validateResults(cfgResult, cfg.Expected, results)
	return cfgResult
}

// validateExpectedMethods validates that expected methods have required fields
func validateExpectedMethods(expected []ExpectedMethod) error {
	for i, exp := range expected {
		if strings.TrimSpace(exp.Method) == "" {
			return fmt.Errorf("expected method at index %d has empty or missing 'method' field", i)
		}
		if exp.Suppressed && exp.Reason == "" {
			return fmt.Errorf("expected method %s is suppressed but has no reason", exp.Method)
		}
	}
	return nil
}

func validateResults(cfgResult *ConfigurationResult, expected []ExpectedMethod, actual []bcverify.Result) {
	expectedMap := make(map[string]ExpectedMethod)
	for _, e := range expected {
		expectedMap[e.Method] = e
	}

	actualMap := make(map[string]bcverify.Result)
	for _, a := range actual {
		actualMap[a.Method] = a
	}

	var details []string
	var missing, unexpected []string
	for key := range expectedMap {
		if _, found := actualMap[key]; !found {
			missing = append(missing, key)
		}
	}
	for key := range actualMap {
		if _, found := expectedMap[key]; !found {
			unexpected = append(unexpected, key)
		}
	}

	// Sort for consistent output.
	sort.Strings(missing)
	sort.Strings(unexpected)
	for _, m := range missing {
		details = append(details, "Method not in program: "+m)
	}
	for _, u := range unexpected {
		details = append(details, "Method has no expectation: "+u)
	}

	keys := make([]string, 0, len(expectedMap))
	for key := range expectedMap {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		act, found := actualMap[key]
		if !found {
			continue
		}
		details = append(details, compareMethod(expectedMap[key], act)...)
	}

	success := len(details) == 0
	var message string
	if success {
		message = fmt.Sprintf("All %d methods matched", len(expected))
	} else {
		message = fmt.Sprintf("Test failed: %d missing, %d unexpected, %d mismatches",
			len(missing), len(unexpected), len(details)-len(missing)-len(unexpected))
	}

	cfgResult.Success = success
	cfgResult.Message = message
	cfgResult.Details = details
}

// compareMethod returns one line per difference between exp and act.
func compareMethod(exp ExpectedMethod, act bcverify.Result) []string {
	var details []string
	switch {
	case exp.Reason == "" && act.Err != nil:
		details = append(details, fmt.Sprintf("%s: should verify, got %q", exp.Method, act.Err))
	case exp.Reason != "" && act.Err == nil:
		details = append(details, fmt.Sprintf("%s: should fail with %q at offset %d", exp.Method, exp.Reason, exp.Offset))
	case exp.Reason != "":
		if act.Err.Reason != exp.Reason || act.Err.Offset != exp.Offset {
			details = append(details, fmt.Sprintf("%s: expected %q at offset %d, got %q",
				exp.Method, exp.Reason, exp.Offset, act.Err))
		}
		if act.Suppressed != exp.Suppressed {
			details = append(details, fmt.Sprintf("%s: suppressed = %v, want %v", exp.Method, act.Suppressed, exp.Suppressed))
		}
	}

	details = append(details, compareTable(exp.Method, "stack", exp.Stacks, act.Stacks)...)
	details = append(details, compareTable(exp.Method, "locals", exp.Locals, act.Locals)...)
	return details
}

func compareTable(method, what string, expected map[int][]string, actual [][]jvmtype.Type) []string {
	offsets := make([]int, 0, len(expected))
	for off := range expected {
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)

	var details []string
	for _, off := range offsets {
		if off < 0 || off >= len(actual) || actual[off] == nil {
			details = append(details, fmt.Sprintf("%s: no %s types recorded at %d", method, what, off))
			continue
		}
		if diff := cmp.Diff(expected[off], jvmtype.Strings(actual[off]), cmpopts.EquateEmpty()); diff != "" {
			details = append(details, fmt.Sprintf("%s: %s types at %d (-want +got):\n%s", method, what, off, diff))
		}
	}
	return details
}
