package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NSvoltage/bcce/internal/artifact"
	"github.com/NSvoltage/bcce/internal/config"
	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/executor"
	"github.com/NSvoltage/bcce/internal/logging"
)

func newTestRunner(t *testing.T) (*Runner, string) {
	t.Helper()
	artifactsRoot := t.TempDir()
	cfg := &config.Config{
		Log:       config.LogConfig{Level: "info", Format: "json"},
		Agent:     config.AgentConfig{Path: "claude", KillGraceSeconds: 5},
		Artifacts: config.ArtifactsConfig{Root: artifactsRoot},
	}
	logger := logging.NewNop()
	return New(cfg, executor.DefaultRegistry(logger), logger), artifactsRoot
}

func commandWorkflow(steps ...core.StepDefinition) *core.WorkflowDefinition {
	return &core.WorkflowDefinition{
		Version:  "1.0",
		Workflow: "test",
		Model:    "anthropic.claude-sonnet",
		Steps:    steps,
	}
}

func cmdStep(id, command string) core.StepDefinition {
	return core.StepDefinition{ID: id, Type: core.StepTypeCommand, Command: command}
}

func TestRunCompletesCommandWorkflow(t *testing.T) {
	runner, artifactsRoot := newTestRunner(t)
	wf := commandWorkflow(cmdStep("one", "echo first"), cmdStep("two", "echo second"))

	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Failed() {
		t.Fatalf("run failed: %s", outcome.State.Error)
	}
	if outcome.State.Status != core.RunStatusCompleted {
		t.Errorf("status = %s, want completed", outcome.State.Status)
	}
	if len(outcome.State.StepResults) != 2 {
		t.Errorf("expected 2 step results, got %d", len(outcome.State.StepResults))
	}

	// State is the on-disk source of truth: reload and compare.
	store, err := artifact.OpenStore(artifactsRoot, outcome.RunID)
	if err != nil {
		t.Fatalf("reopening store: %v", err)
	}
	persisted, err := store.LoadState()
	if err != nil {
		t.Fatalf("loading state: %v", err)
	}
	if persisted.Status != core.RunStatusCompleted || len(persisted.StepResults) != 2 {
		t.Errorf("persisted state out of sync: %+v", persisted)
	}
}

func TestRunHaltsOnBlockingFailure(t *testing.T) {
	runner, artifactsRoot := newTestRunner(t)
	wf := commandWorkflow(
		cmdStep("ok", "echo fine"),
		cmdStep("boom", "exit 1"),
		cmdStep("never", "echo unreachable"),
	)
	workDir := t.TempDir()

	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: workDir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Failed() {
		t.Fatal("expected failed outcome")
	}
	if !strings.Contains(outcome.State.Error, "boom") {
		t.Errorf("error should name the failed step: %q", outcome.State.Error)
	}
	if len(outcome.State.StepResults) != 2 {
		t.Errorf("expected 2 results (ok, boom), got %d", len(outcome.State.StepResults))
	}
	wantHint := "bcce resume " + string(outcome.RunID) + " --from boom"
	if outcome.ResumeHint != wantHint {
		t.Errorf("resume hint = %q, want %q", outcome.ResumeHint, wantHint)
	}

	store, _ := artifact.OpenStore(artifactsRoot, outcome.RunID)
	persisted, err := store.LoadState()
	if err != nil {
		t.Fatalf("loading state: %v", err)
	}
	if persisted.Status != core.RunStatusFailed {
		t.Errorf("persisted status = %s, want failed", persisted.Status)
	}
}

func TestRunContinuesOnNonBlockingFailure(t *testing.T) {
	runner, _ := newTestRunner(t)
	flaky := cmdStep("flaky", "exit 1")
	flaky.OnError = core.OnErrorContinue
	wf := commandWorkflow(flaky, cmdStep("after", "echo still here"))

	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Failed() {
		t.Fatalf("run should complete despite non-blocking failure: %s", outcome.State.Error)
	}
	results := outcome.State.StepResults
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Status != core.StepStatusFailed || !results[0].NonBlocking {
		t.Errorf("flaky result = %+v", results[0])
	}
	if results[1].Status != core.StepStatusCompleted {
		t.Errorf("after result = %+v", results[1])
	}
}

func TestResumeSkipsCompletedSteps(t *testing.T) {
	runner, artifactsRoot := newTestRunner(t)
	workDir := t.TempDir()
	wf := commandWorkflow(
		cmdStep("first", "echo once >> log.txt"),
		cmdStep("gate", "test -f unlock"),
		cmdStep("last", "echo done >> log.txt"),
	)

	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: workDir})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if !outcome.Failed() {
		t.Fatal("expected first run to halt at gate")
	}

	// Unblock the gate, then resume from the failed step.
	if err := os.WriteFile(filepath.Join(workDir, "unlock"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	resumed, err := runner.Resume(context.Background(), artifactsRoot, outcome.RunID, "gate", RunOptions{WorkDir: workDir})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Failed() {
		t.Fatalf("resume failed: %s", resumed.State.Error)
	}
	if len(resumed.State.StepResults) != 3 {
		t.Errorf("expected 3 results after resume, got %d", len(resumed.State.StepResults))
	}

	// "first" must not have re-executed: exactly one line in log.txt
	// from it.
	log, err := os.ReadFile(filepath.Join(workDir, "log.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Count(string(log), "once"); got != 1 {
		t.Errorf("step before resume point re-executed: %d occurrences", got)
	}
	if !strings.Contains(string(log), "done") {
		t.Error("step after resume point did not run")
	}
}

func TestResumeDefaultsToFailedStep(t *testing.T) {
	runner, artifactsRoot := newTestRunner(t)
	workDir := t.TempDir()
	wf := commandWorkflow(cmdStep("gate", "test -f unlock"))

	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: workDir})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Failed() {
		t.Fatal("expected halt")
	}

	if err := os.WriteFile(filepath.Join(workDir, "unlock"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	resumed, err := runner.Resume(context.Background(), artifactsRoot, outcome.RunID, "", RunOptions{WorkDir: workDir})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Failed() {
		t.Fatalf("resume failed: %s", resumed.State.Error)
	}
}

func TestResumeUnknownRun(t *testing.T) {
	runner, artifactsRoot := newTestRunner(t)
	_, err := runner.Resume(context.Background(), artifactsRoot, core.RunID("run-0-deadbeef"), "", RunOptions{})
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
	if !core.IsCategory(err, core.ErrCatResume) {
		t.Errorf("expected resume category, got %v", core.GetCategory(err))
	}
}

func TestResumeUnknownStep(t *testing.T) {
	runner, artifactsRoot := newTestRunner(t)
	wf := commandWorkflow(cmdStep("only", "echo hi"))
	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	_, err = runner.Resume(context.Background(), artifactsRoot, outcome.RunID, "ghost", RunOptions{})
	if err == nil {
		t.Fatal("expected error for unknown step")
	}
	if !core.IsCategory(err, core.ErrCatResume) {
		t.Errorf("expected resume category, got %v", core.GetCategory(err))
	}
	if !strings.Contains(err.Error(), "only") {
		t.Errorf("error should list known steps: %v", err)
	}
}

func TestResumeCompletedRunNeedsExplicitStep(t *testing.T) {
	runner, artifactsRoot := newTestRunner(t)
	wf := commandWorkflow(cmdStep("only", "echo hi"))
	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := runner.Resume(context.Background(), artifactsRoot, outcome.RunID, "", RunOptions{}); err == nil {
		t.Fatal("expected error resuming a completed run without --from")
	}

	// With an explicit step, re-execution is allowed.
	resumed, err := runner.Resume(context.Background(), artifactsRoot, outcome.RunID, "only", RunOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("explicit resume: %v", err)
	}
	if resumed.Failed() {
		t.Errorf("explicit resume failed: %s", resumed.State.Error)
	}
}

func TestWorkflowMaxRuntimeHaltsBetweenSteps(t *testing.T) {
	artifactsRoot := t.TempDir()
	cfg := &config.Config{
		Agent:     config.AgentConfig{Path: "claude"},
		Artifacts: config.ArtifactsConfig{Root: artifactsRoot},
	}
	logger := logging.NewNop()

	// Each clock reading advances one simulated minute, so the 30s
	// budget is exhausted after the first step.
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Minute)
		return now
	}
	runner := New(cfg, executor.DefaultRegistry(logger), logger, WithClock(clock))

	wf := commandWorkflow(cmdStep("one", "echo a"), cmdStep("two", "echo b"))
	wf.Limits.MaxRuntimeSeconds = 30

	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Failed() {
		t.Fatal("expected max-runtime halt")
	}
	if !strings.Contains(outcome.State.Error, "max runtime") {
		t.Errorf("error = %q", outcome.State.Error)
	}
	if len(outcome.State.StepResults) > 1 {
		t.Errorf("deadline should not cut a step mid-flight but stop before the next; got %d results",
			len(outcome.State.StepResults))
	}
}

func TestRunCancelledContext(t *testing.T) {
	runner, _ := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wf := commandWorkflow(cmdStep("one", "echo a"))
	outcome, err := runner.Run(ctx, wf, RunOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !outcome.Failed() || !strings.Contains(outcome.State.Error, "cancelled") {
		t.Errorf("expected cancelled failure, got %+v", outcome.State)
	}
}

func TestRunExpandsWorkflowEnv(t *testing.T) {
	runner, artifactsRoot := newTestRunner(t)
	t.Setenv("BCCE_TEST_TARGET", "world")

	wf := commandWorkflow(cmdStep("greet", "echo hello $GREETING"))
	wf.Env = map[string]string{"GREETING": "${BCCE_TEST_TARGET}"}

	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if outcome.Failed() {
		t.Fatalf("run failed: %s", outcome.State.Error)
	}
	if got := outcome.State.WorkflowSnapshot.Env["GREETING"]; got != "world" {
		t.Errorf("snapshot env not expanded: %q", got)
	}

	store, _ := artifact.OpenStore(artifactsRoot, outcome.RunID)
	out, err := store.ReadText("greet", artifact.OutputFile)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !strings.Contains(out, "hello world") {
		t.Errorf("expanded env not visible to command: %q", out)
	}
}

func TestRunExpandsModelPlaceholder(t *testing.T) {
	runner, _ := newTestRunner(t)
	t.Setenv("BEDROCK_MODEL_ID", "anthropic.claude-real")

	wf := commandWorkflow(cmdStep("noop", "true"))
	wf.Model = "${BEDROCK_MODEL_ID}"

	outcome, err := runner.Run(context.Background(), wf, RunOptions{WorkDir: t.TempDir()})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	// The snapshot feeds RunContext.Model, which becomes the agent's
	// BEDROCK_MODEL_ID; a literal placeholder here would clobber a
	// correctly-set parent variable.
	if got := outcome.State.WorkflowSnapshot.Model; got != "anthropic.claude-real" {
		t.Errorf("model placeholder not expanded: %q", got)
	}
}

func TestPlanListsSteps(t *testing.T) {
	approve := false
	wf := commandWorkflow(
		core.StepDefinition{ID: "collect", Type: core.StepTypePrompt, Prompt: "x"},
		cmdStep("verify", "go test ./..."),
		core.StepDefinition{ID: "apply", Type: core.StepTypeApplyDiff, Approve: &approve, DiffFrom: "collect"},
	)
	wf.Limits.MaxRuntimeSeconds = 900

	plan := Plan(wf)
	for _, want := range []string{
		"Workflow: test",
		"Max runtime: 900s",
		"1. collect [prompt]",
		"2. verify [command]",
		"3. apply [apply_diff]",
		"blocked pending approval",
	} {
		if !strings.Contains(plan, want) {
			t.Errorf("plan missing %q:\n%s", want, plan)
		}
	}
}
