package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NSvoltage/bcce/internal/artifact"
	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/logging"
	"github.com/NSvoltage/bcce/internal/policy"
)

// defaultCommandTimeout bounds command steps that declare no timeout.
const defaultCommandTimeout = 300 * time.Second

// CommandExecutor runs a single shell command with its own timeout.
// When the step carries a policy, the command is gated against its
// allowlist before it runs; the step type itself is the author's
// explicit declaration otherwise.
type CommandExecutor struct {
	logger *logging.Logger
}

// NewCommandExecutor creates a command executor.
func NewCommandExecutor(logger *logging.Logger) *CommandExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CommandExecutor{logger: logger}
}

// commandMetrics is the metrics.json payload for a command step.
type commandMetrics struct {
	ExitCode   int    `json:"exit_code"`
	TimedOut   bool   `json:"timed_out"`
	DurationMS int64  `json:"duration_ms"`
	Command    string `json:"command"`
}

// Execute runs the step command and captures its combined output.
func (c *CommandExecutor) Execute(ctx context.Context, step *core.StepDefinition, runCtx *RunContext) (*core.StepResult, error) {
	clock := runCtx.Clock()
	start := clock()

	if step.Policy != nil {
		enforcer := policy.NewEnforcer(*step.Policy)
		if d := enforcer.CheckCommand(step.Command); !d.Allowed {
			if _, err := runCtx.Store.WriteText(step.ID, artifact.OutputFile,
				fmt.Sprintf("[policy] command denied: %s\n", d.Reason)); err != nil {
				return nil, err
			}
			return failedResult(step.ID, start, clock(),
				"command denied: "+d.Reason, step.ContinueOnError()), nil
		}
	}

	timeout := defaultCommandTimeout
	if step.TimeoutSeconds > 0 {
		timeout = time.Duration(step.TimeoutSeconds) * time.Second
	}

	env := make(map[string]string, len(runCtx.Workflow.Env)+len(runCtx.Env))
	for k, v := range runCtx.Workflow.Env {
		env[k] = v
	}
	for k, v := range runCtx.Env {
		env[k] = v
	}

	var output []byte
	var mu sync.Mutex
	proc := &subprocess{
		bin:     "sh",
		args:    []string{"-c", step.Command},
		dir:     runCtx.WorkDir,
		env:     env,
		timeout: timeout,
		logger:  runCtx.Logger,
		onLine: func(stream, line string) {
			mu.Lock()
			output = append(output, line...)
			output = append(output, '\n')
			mu.Unlock()
		},
	}
	res, err := proc.run(ctx)
	if err != nil {
		return nil, err
	}
	end := clock()

	outPath, werr := runCtx.Store.WriteText(step.ID, artifact.OutputFile, string(output))
	if werr != nil {
		return nil, werr
	}
	metrics := commandMetrics{
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		DurationMS: res.Duration.Milliseconds(),
		Command:    step.Command,
	}
	if _, werr := runCtx.Store.WriteJSON(step.ID, artifact.MetricsFile, metrics); werr != nil {
		return nil, werr
	}

	exitCode := res.ExitCode
	switch {
	case res.TimedOut:
		r := failedResult(step.ID, start, end,
			fmt.Sprintf("command timed out after %s", timeout), step.ContinueOnError())
		r.TimedOut = true
		r.ExitCode = &exitCode
		r.OutputRef = outPath
		return r, nil
	case res.ExitCode != 0:
		r := failedResult(step.ID, start, end,
			fmt.Sprintf("command exited with code %d", res.ExitCode), step.ContinueOnError())
		r.ExitCode = &exitCode
		r.OutputRef = outPath
		return r, nil
	default:
		r := completedResult(step.ID, start, end, outPath)
		r.ExitCode = &exitCode
		return r, nil
	}
}
