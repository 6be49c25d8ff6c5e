package engine

import (
	"fmt"
	"strings"

	"github.com/NSvoltage/bcce/internal/core"
)

// Plan renders the execution plan for a validated workflow without
// creating a run or spawning anything.
func Plan(wf *core.WorkflowDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow: %s (version %s)\n", wf.Workflow, wf.Version)
	fmt.Fprintf(&b, "Model:    %s\n", wf.Model)
	if len(wf.Guardrails) > 0 {
		fmt.Fprintf(&b, "Guardrails: %s\n", strings.Join(wf.Guardrails, ", "))
	}
	if wf.Limits.MaxRuntimeSeconds > 0 {
		fmt.Fprintf(&b, "Max runtime: %ds\n", wf.Limits.MaxRuntimeSeconds)
	}
	fmt.Fprintf(&b, "Steps (%d):\n", len(wf.Steps))

	for i := range wf.Steps {
		step := &wf.Steps[i]
		fmt.Fprintf(&b, "  %d. %s [%s]", i+1, step.ID, step.Type)
		var notes []string
		if step.Policy != nil && step.Type == core.StepTypeAgent {
			notes = append(notes, fmt.Sprintf("timeout %ds", step.Policy.Timeout()),
				fmt.Sprintf("max_files %d", step.Policy.FileQuota()),
				fmt.Sprintf("max_edits %d", step.Policy.EditQuota()))
		}
		if step.Type == core.StepTypeCommand {
			notes = append(notes, fmt.Sprintf("command %q", step.Command))
			if step.ContinueOnError() {
				notes = append(notes, "on_error continue")
			}
		}
		if step.Type == core.StepTypeApplyDiff {
			if step.DiffFrom != "" {
				notes = append(notes, fmt.Sprintf("diff from %q", step.DiffFrom))
			} else {
				notes = append(notes, "diff from preceding agent step")
			}
			if step.Approve == nil || !*step.Approve {
				notes = append(notes, "blocked pending approval")
			}
		}
		if len(notes) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(notes, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}
