package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stellarlinkco/call-eval/internal/store"
)

const sampleSuiteYAML = `suite: billing-support
agent:
  system_prompt: You are a billing support agent.
cases:
  - id: refund
    name: Refund request
    scenario: Caller disputes a double charge.
    criteria:
      - criterion: Agent offers a refund
        type: must_pass
`

func chdirWithSuites(t *testing.T) {
	t.Helper()

	dir := t.TempDir()
	suitesPath := filepath.Join(dir, defaultSuitesDir)
	if err := os.MkdirAll(suitesPath, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(suitesPath, "billing.yaml"), []byte(sampleSuiteYAML), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(cwd) })
}

func TestResolveSuite_ByName(t *testing.T) {
	chdirWithSuites(t)

	suite, err := resolveSuite(&runOptions{suiteName: "Billing-Support"})
	if err != nil {
		t.Fatalf("resolveSuite: %v", err)
	}
	if suite.Suite != "billing-support" {
		t.Errorf("suite = %q, want billing-support", suite.Suite)
	}
}

func TestResolveSuite_ByFile(t *testing.T) {
	chdirWithSuites(t)

	suite, err := resolveSuite(&runOptions{file: filepath.Join(defaultSuitesDir, "billing.yaml")})
	if err != nil {
		t.Fatalf("resolveSuite: %v", err)
	}
	if len(suite.Cases) != 1 {
		t.Errorf("cases = %d, want 1", len(suite.Cases))
	}
}

func TestResolveSuite_Errors(t *testing.T) {
	chdirWithSuites(t)

	if _, err := resolveSuite(&runOptions{}); err == nil {
		t.Error("expected error with no suite or file")
	}
	if _, err := resolveSuite(&runOptions{suiteName: "nonexistent"}); err == nil {
		t.Error("expected error for unknown suite")
	}
}

func TestRunPassed(t *testing.T) {
	if runPassed(nil) {
		t.Error("nil run is not a pass")
	}
	if !runPassed(&store.RunRecord{PassedCases: 2}) {
		t.Error("clean run should pass")
	}
	if runPassed(&store.RunRecord{PassedCases: 2, FailedCases: 1}) {
		t.Error("failed cases should fail the run")
	}
	if runPassed(&store.RunRecord{PassedCases: 2, ErroredCases: 1}) {
		t.Error("errored cases should fail the run")
	}
}

func TestNewRootCmd_Commands(t *testing.T) {
	root := newRootCmd()
	want := map[string]bool{"run": false, "list": false, "history": false, "show": false}
	for _, sub := range root.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("missing %q subcommand", name)
		}
	}
}
