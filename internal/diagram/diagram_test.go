package diagram

import (
	"strings"
	"testing"

	"github.com/NSvoltage/bcce/internal/core"
)

func threeStepWorkflow() *core.WorkflowDefinition {
	return &core.WorkflowDefinition{
		Version:  "1.0",
		Workflow: "bugfix",
		Model:    "anthropic.claude-sonnet",
		Steps: []core.StepDefinition{
			{ID: "collect", Type: core.StepTypePrompt, Prompt: "gather context"},
			{ID: "fix", Type: core.StepTypeAgent, Prompt: "fix it"},
			{ID: "verify", Type: core.StepTypeCommand, Command: "go test ./...", OnError: core.OnErrorContinue},
		},
	}
}

func TestMermaidNodesAndEdges(t *testing.T) {
	out := Mermaid(threeStepWorkflow())

	if !strings.Contains(out, "flowchart TD") {
		t.Error("missing flowchart header")
	}
	for _, node := range []string{"s_collect", "s_fix", "s_verify"} {
		if !strings.Contains(out, node+"[") {
			t.Errorf("missing node %s", node)
		}
	}
	for _, edge := range []string{
		"s_collect --> s_fix",
		"s_fix --> s_verify",
	} {
		if !strings.Contains(out, edge) {
			t.Errorf("missing edge %q", edge)
		}
	}
}

func TestMermaidLinearCounts(t *testing.T) {
	out := Mermaid(threeStepWorkflow())

	if got := strings.Count(out, "[\""); got != 3 {
		t.Errorf("node count = %d, want 3:\n%s", got, out)
	}
	if got := strings.Count(out, " --> "); got != 2 {
		t.Errorf("sequential edge count = %d, want 2:\n%s", got, out)
	}
}

func TestMermaidAnnotatesTypes(t *testing.T) {
	out := Mermaid(threeStepWorkflow())
	for _, label := range []string{"(prompt)", "(agent)", "(command)"} {
		if !strings.Contains(out, label) {
			t.Errorf("missing type annotation %s", label)
		}
	}
	if !strings.Contains(out, "on_error: continue") {
		t.Error("missing on_error annotation")
	}
}

func TestMermaidDeterministic(t *testing.T) {
	wf := threeStepWorkflow()
	if Mermaid(wf) != Mermaid(wf) {
		t.Error("rendering is not deterministic")
	}
}

func TestMermaidDiffEdge(t *testing.T) {
	wf := threeStepWorkflow()
	wf.Steps = append(wf.Steps, core.StepDefinition{
		ID: "apply", Type: core.StepTypeApplyDiff, DiffFrom: "fix",
	})
	out := Mermaid(wf)
	if !strings.Contains(out, "s_fix -.->|diff| s_apply") {
		t.Errorf("missing diff provenance edge:\n%s", out)
	}
}

func TestMermaidSanitizesIDs(t *testing.T) {
	wf := &core.WorkflowDefinition{
		Version: "1.0", Workflow: "w", Model: "m",
		Steps: []core.StepDefinition{
			{ID: "run-tests.v2", Type: core.StepTypeCommand, Command: "true"},
		},
	}
	out := Mermaid(wf)
	if !strings.Contains(out, "s_run_tests_v2") {
		t.Errorf("id not sanitized:\n%s", out)
	}
}
