// Package engine drives workflow runs: one step at a time, state
// persisted after every step, so a crash or failure at step N never
// costs the artifacts of steps 1..N-1.
package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/NSvoltage/bcce/internal/artifact"
	"github.com/NSvoltage/bcce/internal/config"
	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/executor"
	"github.com/NSvoltage/bcce/internal/history"
	"github.com/NSvoltage/bcce/internal/logging"
)

// Runner executes workflows serially.
type Runner struct {
	cfg      *config.Config
	registry *executor.Registry
	index    *history.Index
	logger   *logging.Logger
	now      func() time.Time
}

// Option customizes a Runner.
type Option func(*Runner)

// WithClock injects the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIndex attaches the run history index. Indexing is best-effort:
// failures are logged, never fatal to the run.
func WithIndex(idx *history.Index) Option {
	return func(r *Runner) { r.index = idx }
}

// New creates a runner.
func New(cfg *config.Config, registry *executor.Registry, logger *logging.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Runner{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunOptions carries per-invocation settings.
type RunOptions struct {
	WorkDir string
	// Env entries override the workflow env block for the agent
	// subprocess.
	Env map[string]string
}

// Outcome is the result of a run or resume.
type Outcome struct {
	RunID        core.RunID
	State        *core.RunState
	ArtifactsDir string
	// ResumeHint is the exact invocation that picks the run back up. It
	// is set only when the run halted on a blocking failure.
	ResumeHint string
}

// Failed reports whether the run ended in failure.
func (o *Outcome) Failed() bool {
	return o.State != nil && o.State.Status == core.RunStatusFailed
}

// Run executes a validated workflow from the first step.
func (r *Runner) Run(ctx context.Context, wf *core.WorkflowDefinition, opts RunOptions) (*Outcome, error) {
	runID := core.NewRunID(r.now())
	store, err := artifact.NewStore(r.artifactsRoot(wf), runID)
	if err != nil {
		return nil, err
	}

	// Env expansion happens exactly once, here: the snapshot stores the
	// expanded values so a resume on another day sees the same env. The
	// model identifier may itself be a ${VAR} placeholder.
	snapshot := *wf
	snapshot.Env = expandEnv(wf.Env)
	snapshot.Model = os.Expand(wf.Model, os.Getenv)

	state := core.NewRunState(runID, snapshot, r.now())
	if err := state.Start(); err != nil {
		return nil, err
	}
	if err := store.SaveState(state); err != nil {
		return nil, err
	}
	r.logger.Info("run started",
		"run_id", runID, "workflow", wf.Workflow, "steps", len(wf.Steps))

	return r.loop(ctx, state, store, opts)
}

// Resume reopens an existing run and re-executes from the given step, or
// from the failed step when fromStep is empty. Steps before the resume
// point are never re-executed.
func (r *Runner) Resume(ctx context.Context, artifactsRoot string, runID core.RunID, fromStep string, opts RunOptions) (*Outcome, error) {
	store, err := artifact.OpenStore(artifactsRoot, runID)
	if err != nil {
		return nil, err
	}
	state, err := store.LoadState()
	if err != nil {
		return nil, err
	}

	if fromStep == "" {
		fromStep = state.FailedStepID()
		if fromStep == "" {
			if state.Status == core.RunStatusCompleted {
				return nil, core.ErrResume(core.CodeInvalidState,
					fmt.Sprintf("run %s already completed; use --from to re-execute a step", runID))
			}
			// Interrupted mid-run with no recorded failure: pick up at
			// the first unexecuted step.
			if state.CurrentStepIndex >= len(state.WorkflowSnapshot.Steps) {
				return nil, core.ErrResume(core.CodeInvalidState,
					fmt.Sprintf("run %s has no step to resume from", runID))
			}
			fromStep = state.WorkflowSnapshot.Steps[state.CurrentStepIndex].ID
		}
	}

	if err := state.TruncateFrom(fromStep); err != nil {
		return nil, err
	}
	if err := store.SaveState(state); err != nil {
		return nil, err
	}
	r.logger.Info("run resumed", "run_id", runID, "from_step", fromStep)

	return r.loop(ctx, state, store, opts)
}

// loop runs steps from the state's current index until completion, a
// blocking failure, cancellation, or the workflow deadline.
func (r *Runner) loop(ctx context.Context, state *core.RunState, store *artifact.Store, opts RunOptions) (*Outcome, error) {
	wf := &state.WorkflowSnapshot
	outcome := &Outcome{
		RunID:        state.RunID,
		State:        state,
		ArtifactsDir: store.RunDir(),
	}
	runCtx := &executor.RunContext{
		RunID:      state.RunID,
		Workflow:   wf,
		WorkDir:    opts.WorkDir,
		Store:      store,
		Logger:     r.logger.WithRun(string(state.RunID)),
		Model:      wf.Model,
		Region:     r.cfg.AWS.Region,
		Guardrails: wf.Guardrails,
		Env:        opts.Env,
		AgentBin:   r.cfg.Agent.Path,
		Now:        r.now,
	}

	for state.CurrentStepIndex < len(wf.Steps) {
		if err := ctx.Err(); err != nil {
			return r.halt(outcome, state, store, "run cancelled")
		}
		// The workflow deadline is soft: it is checked between steps and
		// never interrupts a step in flight.
		if max := wf.Limits.MaxRuntimeSeconds; max > 0 {
			if state.Elapsed(r.now()) >= time.Duration(max)*time.Second {
				return r.halt(outcome, state, store,
					fmt.Sprintf("workflow exceeded max runtime of %ds", max))
			}
		}

		step := &wf.Steps[state.CurrentStepIndex]
		exec, err := r.registry.Resolve(step.Type)
		if err != nil {
			return nil, err
		}

		stepLogger := r.logger.WithRun(string(state.RunID)).WithStep(step.ID)
		stepLogger.Info("step started", "type", step.Type)

		result, err := exec.Execute(ctx, step, runCtx)
		if err != nil {
			// Infrastructure failure: artifacts could not be persisted
			// or the executor itself broke. Record and surface it.
			state.Fail(err.Error(), r.now())
			if serr := store.SaveState(state); serr != nil {
				r.logger.Error("saving state after failure", "error", serr)
			}
			r.updateIndex(ctx, state, store)
			return outcome, err
		}

		halted := state.RecordStep(*result)
		if err := store.SaveState(state); err != nil {
			return outcome, err
		}
		r.updateIndex(ctx, state, store)

		switch {
		case halted:
			stepLogger.Error("step failed", "message", result.ErrorMessage)
			return r.halt(outcome, state, store,
				fmt.Sprintf("step %q failed: %s", result.StepID, result.ErrorMessage))
		case result.Failed():
			stepLogger.Warn("step failed, continuing", "message", result.ErrorMessage)
		default:
			stepLogger.Info("step finished", "status", result.Status)
		}
	}

	if err := state.Complete(r.now()); err != nil {
		return outcome, err
	}
	if err := store.SaveState(state); err != nil {
		return outcome, err
	}
	r.updateIndex(ctx, state, store)
	r.logger.Info("run completed", "run_id", state.RunID, "elapsed", state.Elapsed(r.now()))
	return outcome, nil
}

// halt marks the run failed, persists, and attaches the resume hint.
func (r *Runner) halt(outcome *Outcome, state *core.RunState, store *artifact.Store, reason string) (*Outcome, error) {
	state.Fail(reason, r.now())
	if err := store.SaveState(state); err != nil {
		return outcome, err
	}
	r.updateIndex(context.Background(), state, store)

	from := state.FailedStepID()
	if from == "" && state.CurrentStepIndex < len(state.WorkflowSnapshot.Steps) {
		from = state.WorkflowSnapshot.Steps[state.CurrentStepIndex].ID
	}
	if from != "" {
		outcome.ResumeHint = fmt.Sprintf("bcce resume %s --from %s", state.RunID, from)
	}
	r.logger.Error("run failed", "run_id", state.RunID, "reason", reason)
	return outcome, nil
}

// updateIndex refreshes the run's row in the history index.
func (r *Runner) updateIndex(ctx context.Context, state *core.RunState, store *artifact.Store) {
	if r.index == nil {
		return
	}
	if err := r.index.Upsert(ctx, history.FromState(state, store.RunDir())); err != nil {
		r.logger.Warn("updating run index", "error", err)
	}
}

// expandEnv substitutes ${VAR} references in workflow env values from
// the parent environment.
func expandEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return env
	}
	expanded := make(map[string]string, len(env))
	for k, v := range env {
		expanded[k] = os.Expand(v, os.Getenv)
	}
	return expanded
}

// artifactsRoot resolves where run directories live: the workflow's
// limits.artifacts_dir wins over runner config.
func (r *Runner) artifactsRoot(wf *core.WorkflowDefinition) string {
	if wf.Limits.ArtifactsDir != "" {
		return wf.Limits.ArtifactsDir
	}
	return r.cfg.Artifacts.Root
}
