package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/NSvoltage/bcce/internal/artifact"
	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/logging"
)

// ApplyDiffExecutor applies a unified diff produced by an earlier agent
// step to the workspace. Application is all-or-nothing: every target is
// backed up first and all writes are rolled back if any of them fails.
type ApplyDiffExecutor struct {
	logger *logging.Logger
}

// NewApplyDiffExecutor creates an apply_diff executor.
func NewApplyDiffExecutor(logger *logging.Logger) *ApplyDiffExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ApplyDiffExecutor{logger: logger}
}

// applyDiffMetrics is the metrics.json payload for an apply_diff step.
type applyDiffMetrics struct {
	FilesChanged int `json:"files_changed"`
	LinesAdded   int `json:"lines_added"`
	LinesRemoved int `json:"lines_removed"`
	EditDistance int `json:"edit_distance"`
}

// precedingAgentStepID returns the id of the closest agent step declared
// before this one. Used when diff_from is omitted.
func precedingAgentStepID(step *core.StepDefinition, wf *core.WorkflowDefinition) string {
	idx := wf.StepIndex(step.ID)
	for i := idx - 1; i >= 0; i-- {
		if wf.Steps[i].Type == core.StepTypeAgent {
			return wf.Steps[i].ID
		}
	}
	return ""
}

// plannedChange is one file's application, computed before any write.
type plannedChange struct {
	rel      string
	abs      string
	existed  bool
	original string
	modified string
	delete   bool
}

// Execute applies the diff from the source step's output. A step without
// explicit approval is blocked, halting the run with a human-actionable
// message rather than an error.
func (a *ApplyDiffExecutor) Execute(ctx context.Context, step *core.StepDefinition, runCtx *RunContext) (*core.StepResult, error) {
	clock := runCtx.Clock()
	start := clock()

	diffFrom := step.DiffFrom
	if diffFrom == "" {
		diffFrom = precedingAgentStepID(step, runCtx.Workflow)
		if diffFrom == "" {
			return failedResult(step.ID, start, clock(),
				fmt.Sprintf("step %q has no diff_from and no preceding agent step", step.ID),
				step.ContinueOnError()), nil
		}
	}

	if step.Approve == nil || !*step.Approve {
		msg := fmt.Sprintf("blocked pending approval: set approve: true on step %q to apply the diff from %q", step.ID, diffFrom)
		if _, err := runCtx.Store.WriteText(step.ID, artifact.OutputFile, msg+"\n"); err != nil {
			return nil, err
		}
		return failedResult(step.ID, start, clock(), msg, false), nil
	}

	source, err := runCtx.Store.ReadText(diffFrom, artifact.OutputFile)
	if err != nil {
		return failedResult(step.ID, start, clock(),
			fmt.Sprintf("no output recorded for source step %q", diffFrom),
			step.ContinueOnError()), nil
	}

	diffs, err := parseUnifiedDiff(source)
	if err != nil {
		return failedResult(step.ID, start, clock(), err.Error(), step.ContinueOnError()), nil
	}
	if len(diffs) == 0 {
		return failedResult(step.ID, start, clock(),
			fmt.Sprintf("no unified diff found in output of step %q", diffFrom),
			step.ContinueOnError()), nil
	}

	changes, err := a.plan(diffs, runCtx.WorkDir)
	if err != nil {
		return failedResult(step.ID, start, clock(), err.Error(), step.ContinueOnError()), nil
	}

	stepDir, err := runCtx.Store.StepDir(step.ID)
	if err != nil {
		return nil, err
	}
	backupDir := filepath.Join(stepDir, "backups")
	if err := a.backup(changes, backupDir); err != nil {
		return nil, core.ErrArtifact("backing up apply_diff targets").WithCause(err)
	}

	if err := a.write(changes); err != nil {
		a.restore(changes, backupDir)
		return failedResult(step.ID, start, clock(),
			"apply failed, workspace restored: "+err.Error(),
			step.ContinueOnError()), nil
	}

	metrics, summary := a.summarize(changes)
	outPath, werr := runCtx.Store.WriteText(step.ID, artifact.OutputFile, summary)
	if werr != nil {
		return nil, werr
	}
	if _, werr := runCtx.Store.WriteJSON(step.ID, artifact.MetricsFile, metrics); werr != nil {
		return nil, werr
	}
	a.logger.Info("diff applied", "step", step.ID, "files", metrics.FilesChanged)
	return completedResult(step.ID, start, clock(), outPath), nil
}

// plan computes every file's modified content in memory. Nothing touches
// the workspace until the whole diff is known to apply cleanly.
func (a *ApplyDiffExecutor) plan(diffs []fileDiff, workDir string) ([]plannedChange, error) {
	changes := make([]plannedChange, 0, len(diffs))
	for i := range diffs {
		d := &diffs[i]
		rel := d.target()
		abs, err := resolveWorkspacePath(workDir, rel)
		if err != nil {
			return nil, err
		}

		var original string
		existed := false
		if data, rerr := os.ReadFile(abs); rerr == nil {
			original = string(data)
			existed = true
		} else if !d.isCreate() {
			return nil, core.ErrValidation(core.CodeDiffMalformed,
				fmt.Sprintf("diff targets missing file %s", rel))
		}

		change := plannedChange{rel: rel, abs: abs, existed: existed, original: original, delete: d.isDelete()}
		if !d.isDelete() {
			modified, aerr := applyFileDiff(original, d)
			if aerr != nil {
				return nil, aerr
			}
			change.modified = modified
		}
		changes = append(changes, change)
	}
	return changes, nil
}

// backup copies every pre-existing target into the step's backup
// directory before the first write.
func (a *ApplyDiffExecutor) backup(changes []plannedChange, backupDir string) error {
	for _, c := range changes {
		if !c.existed {
			continue
		}
		dst := filepath.Join(backupDir, c.rel)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, []byte(c.original), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// write applies all planned changes to the workspace.
func (a *ApplyDiffExecutor) write(changes []plannedChange) error {
	for _, c := range changes {
		if c.delete {
			if err := os.Remove(c.abs); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(c.abs), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(c.abs, []byte(c.modified), 0o644); err != nil {
			return err
		}
	}
	return nil
}

// restore puts every target back the way it was. Created files are
// removed; modified and deleted files come back from the backups.
func (a *ApplyDiffExecutor) restore(changes []plannedChange, backupDir string) {
	for _, c := range changes {
		if !c.existed {
			_ = os.Remove(c.abs)
			continue
		}
		src := filepath.Join(backupDir, c.rel)
		if data, err := os.ReadFile(src); err == nil {
			_ = os.WriteFile(c.abs, data, 0o644)
		}
	}
}

// summarize builds the metrics and the human-readable summary for the
// step output.
func (a *ApplyDiffExecutor) summarize(changes []plannedChange) (applyDiffMetrics, string) {
	dmp := diffmatchpatch.New()
	var m applyDiffMetrics
	var b strings.Builder
	b.WriteString("# Applied diff\n\n")

	for _, c := range changes {
		m.FilesChanged++
		diffs := dmp.DiffMain(c.original, c.modified, true)
		m.EditDistance += dmp.DiffLevenshtein(diffs)

		added := countLines(c.modified) - countLines(c.original)
		switch {
		case c.delete:
			m.LinesRemoved += countLines(c.original)
			fmt.Fprintf(&b, "- deleted %s\n", c.rel)
		case !c.existed:
			m.LinesAdded += countLines(c.modified)
			fmt.Fprintf(&b, "- created %s (%d lines)\n", c.rel, countLines(c.modified))
		default:
			if added > 0 {
				m.LinesAdded += added
			} else {
				m.LinesRemoved += -added
			}
			fmt.Fprintf(&b, "- modified %s\n", c.rel)
		}
	}
	return m, b.String()
}

// countLines counts newline-delimited lines in content.
func countLines(content string) int {
	if content == "" {
		return 0
	}
	return strings.Count(content, "\n") + 1
}
