package executor

import (
	"context"

	"github.com/NSvoltage/bcce/internal/artifact"
	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/logging"
)

// CustomExecutor handles the reserved "custom" step type. It has no
// built-in behavior: the step is recorded as skipped so runs containing
// custom steps stay resumable and auditable.
type CustomExecutor struct {
	logger *logging.Logger
}

// NewCustomExecutor creates a custom-step executor.
func NewCustomExecutor(logger *logging.Logger) *CustomExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CustomExecutor{logger: logger}
}

// Execute records the step as skipped.
func (c *CustomExecutor) Execute(ctx context.Context, step *core.StepDefinition, runCtx *RunContext) (*core.StepResult, error) {
	clock := runCtx.Clock()
	start := clock()
	outPath, err := runCtx.Store.WriteText(step.ID, artifact.OutputFile,
		"custom step has no built-in behavior; skipped\n")
	if err != nil {
		return nil, err
	}
	c.logger.Info("custom step skipped", "step", step.ID)
	return &core.StepResult{
		StepID:    step.ID,
		Status:    core.StepStatusSkipped,
		StartTime: start,
		EndTime:   clock(),
		OutputRef: outPath,
	}, nil
}
