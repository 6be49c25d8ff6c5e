// Package diagram renders a workflow definition as a Mermaid flowchart.
// Rendering is pure: same definition in, same text out.
package diagram

import (
	"fmt"
	"strings"

	"github.com/NSvoltage/bcce/internal/core"
)

// Mermaid renders the workflow as a top-down flowchart. Each step becomes
// a node labeled with its id and type; edges follow declared order, so an
// n-step workflow renders n nodes and n-1 sequential edges.
func Mermaid(wf *core.WorkflowDefinition) string {
	var b strings.Builder
	fmt.Fprintf(&b, "---\ntitle: %s\n---\n", wf.Workflow)
	b.WriteString("flowchart TD\n")

	for i := range wf.Steps {
		step := &wf.Steps[i]
		fmt.Fprintf(&b, "    %s[\"%s\"]\n", nodeID(step.ID), nodeLabel(step))
	}

	for i := 1; i < len(wf.Steps); i++ {
		fmt.Fprintf(&b, "    %s --> %s\n", nodeID(wf.Steps[i-1].ID), nodeID(wf.Steps[i].ID))
	}

	for i := range wf.Steps {
		step := &wf.Steps[i]
		if step.Type != core.StepTypeApplyDiff {
			continue
		}
		if src := diffSource(wf, i); src != "" {
			fmt.Fprintf(&b, "    %s -.->|diff| %s\n", nodeID(src), nodeID(step.ID))
		}
	}
	return b.String()
}

// diffSource resolves an apply_diff step's source: an explicit diff_from,
// or the nearest preceding agent step.
func diffSource(wf *core.WorkflowDefinition, i int) string {
	if from := wf.Steps[i].DiffFrom; from != "" {
		return from
	}
	for j := i - 1; j >= 0; j-- {
		if wf.Steps[j].Type == core.StepTypeAgent {
			return wf.Steps[j].ID
		}
	}
	return ""
}

// nodeLabel builds the display label for a step node.
func nodeLabel(step *core.StepDefinition) string {
	label := fmt.Sprintf("%s<br/>(%s)", escape(step.ID), step.Type)
	if step.Type == core.StepTypeCommand && step.ContinueOnError() {
		label += "<br/>on_error: continue"
	}
	return label
}

// nodeID makes a step id safe as a Mermaid node identifier.
func nodeID(id string) string {
	r := strings.NewReplacer("-", "_", ".", "_", " ", "_")
	return "s_" + r.Replace(id)
}

// escape neutralizes characters Mermaid treats as markup.
func escape(s string) string {
	r := strings.NewReplacer("\"", "&quot;", "[", "&#91;", "]", "&#93;")
	return r.Replace(s)
}
