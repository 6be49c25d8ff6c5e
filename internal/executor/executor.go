// Package executor contains one implementation per step type. Executors
// turn a step definition into a StepResult: ordinary step failure
// (non-zero exit, timeout, policy denial) is a normal result, never an
// error. Only programmer or environment errors are returned as errors.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/NSvoltage/bcce/internal/artifact"
	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/logging"
)

// RunContext carries everything an executor may need for one step. It is
// assembled once per run by the engine and shared read-only.
type RunContext struct {
	RunID      core.RunID
	Workflow   *core.WorkflowDefinition
	WorkDir    string
	Store      *artifact.Store
	Logger     *logging.Logger
	Model      string
	Region     string
	Guardrails []string
	Env        map[string]string

	// AgentBin is the coding agent executable, resolved from config.
	// It is assumed present on PATH; the runner never installs it.
	AgentBin string

	// Now is the clock used for step timing and deadlines. Injected so
	// timeout-vs-exit races are deterministically testable.
	Now func() time.Time
}

// Clock returns the context clock, defaulting to the wall clock.
func (rc *RunContext) Clock() func() time.Time {
	if rc.Now != nil {
		return rc.Now
	}
	return time.Now
}

// StepExecutor is the common contract all step types implement.
type StepExecutor interface {
	Execute(ctx context.Context, step *core.StepDefinition, runCtx *RunContext) (*core.StepResult, error)
}

// Registry resolves executors by step type, keeping the step set
// extensible without touching the orchestrator.
type Registry struct {
	executors map[core.StepType]StepExecutor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[core.StepType]StepExecutor)}
}

// Register binds an executor to a step type.
func (r *Registry) Register(t core.StepType, e StepExecutor) {
	r.executors[t] = e
}

// Resolve returns the executor for a step type.
func (r *Registry) Resolve(t core.StepType) (StepExecutor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, core.ErrExecution("NO_EXECUTOR", fmt.Sprintf("no executor registered for step type %q", t))
	}
	return e, nil
}

// DefaultRegistry returns a registry with all built-in step types bound.
func DefaultRegistry(logger *logging.Logger) *Registry {
	r := NewRegistry()
	r.Register(core.StepTypePrompt, NewPromptExecutor(logger))
	r.Register(core.StepTypeAgent, NewAgentExecutor(logger))
	r.Register(core.StepTypeCommand, NewCommandExecutor(logger))
	r.Register(core.StepTypeApplyDiff, NewApplyDiffExecutor(logger))
	r.Register(core.StepTypeCustom, NewCustomExecutor(logger))
	return r
}

// completedResult builds a completed StepResult with timing.
func completedResult(stepID string, start, end time.Time, outputRef string) *core.StepResult {
	return &core.StepResult{
		StepID:    stepID,
		Status:    core.StepStatusCompleted,
		StartTime: start,
		EndTime:   end,
		OutputRef: outputRef,
	}
}

// failedResult builds a failed StepResult with timing and message.
func failedResult(stepID string, start, end time.Time, msg string, nonBlocking bool) *core.StepResult {
	return &core.StepResult{
		StepID:       stepID,
		Status:       core.StepStatusFailed,
		StartTime:    start,
		EndTime:      end,
		ErrorMessage: msg,
		NonBlocking:  nonBlocking,
	}
}
