package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/NSvoltage/bcce/internal/artifact"
	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/logging"
)

// PromptExecutor renders a static prompt, inlining any declared input
// files. It is read-only context preparation: the rendered text is stored
// as the step output and forwarded to the next agent invocation. Prompt
// steps carry no policy and consume no quotas.
type PromptExecutor struct {
	logger *logging.Logger
}

// NewPromptExecutor creates a prompt executor.
func NewPromptExecutor(logger *logging.Logger) *PromptExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &PromptExecutor{logger: logger}
}

// Execute renders the prompt with its input files and persists the
// result. A missing input file fails the step with an actionable message.
func (p *PromptExecutor) Execute(ctx context.Context, step *core.StepDefinition, runCtx *RunContext) (*core.StepResult, error) {
	clock := runCtx.Clock()
	start := clock()

	var b strings.Builder
	b.WriteString(step.Prompt)
	for _, f := range step.InputFiles {
		content, err := readWorkspaceFile(runCtx.WorkDir, f)
		if err != nil {
			return failedResult(step.ID, start, clock(),
				fmt.Sprintf("input file %s: %v", f, err),
				step.ContinueOnError()), nil
		}
		fmt.Fprintf(&b, "\n\n## File: %s\n\n```\n%s\n```\n", f, content)
	}

	outPath, err := runCtx.Store.WriteText(step.ID, artifact.OutputFile, b.String())
	if err != nil {
		return nil, err
	}
	p.logger.Debug("prompt rendered", "step", step.ID, "input_files", len(step.InputFiles))
	return completedResult(step.ID, start, clock(), outPath), nil
}
