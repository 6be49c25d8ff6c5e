package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RunID uniquely identifies one execution attempt of a workflow.
type RunID string

// NewRunID generates a run id that sorts chronologically by directory name.
func NewRunID(now time.Time) RunID {
	return RunID(fmt.Sprintf("run-%d-%s", now.Unix(), uuid.NewString()[:8]))
}

// RunStatus represents the state machine position of a run.
type RunStatus string

const (
	RunStatusInitialized RunStatus = "initialized"
	RunStatusRunning     RunStatus = "running"
	RunStatusCompleted   RunStatus = "completed"
	RunStatusFailed      RunStatus = "failed"
)

// StepStatus is the recorded outcome of a single step.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// StepResult is the durable record of one step execution. Ordinary step
// failure (non-zero exit, timeout, policy denial) is a StepResult, never
// an error from the executor.
type StepResult struct {
	StepID       string     `json:"step_id"`
	Status       StepStatus `json:"status"`
	ExitCode     *int       `json:"exit_code,omitempty"`
	TimedOut     bool       `json:"timed_out,omitempty"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	OutputRef    string     `json:"output_ref,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	// NonBlocking is set when the step failed but its on_error policy
	// lets the run proceed.
	NonBlocking bool `json:"non_blocking,omitempty"`
}

// Failed reports whether the step result records a failure.
func (r *StepResult) Failed() bool {
	return r.Status == StepStatusFailed
}

// RunState is the canonical, durable state of a run. It is mutated only
// through the methods below and persisted after every step.
type RunState struct {
	RunID            RunID              `json:"run_id"`
	WorkflowSnapshot WorkflowDefinition `json:"workflow_snapshot"`
	CurrentStepIndex int                `json:"current_step_index"`
	Status           RunStatus          `json:"status"`
	StepResults      []StepResult       `json:"step_results"`
	StartTime        time.Time          `json:"start_time"`
	EndTime          *time.Time         `json:"end_time,omitempty"`
	Error            string             `json:"error,omitempty"`
}

// NewRunState creates the initial state for a fresh run. The workflow is
// snapshotted so later edits to the source file cannot change a run's
// semantics mid-flight or across resume.
func NewRunState(id RunID, def WorkflowDefinition, now time.Time) *RunState {
	return &RunState{
		RunID:            id,
		WorkflowSnapshot: def,
		CurrentStepIndex: 0,
		Status:           RunStatusInitialized,
		StepResults:      make([]StepResult, 0, len(def.Steps)),
		StartTime:        now,
	}
}

// Start transitions the run into running.
func (s *RunState) Start() error {
	if s.Status != RunStatusInitialized && s.Status != RunStatusFailed {
		return ErrState(CodeInvalidState,
			fmt.Sprintf("cannot start run in %s state", s.Status))
	}
	s.Status = RunStatusRunning
	return nil
}

// RecordStep appends a step result and advances the index. The decision to
// halt is made by the caller from the returned halt flag; the state itself
// only records what happened.
func (s *RunState) RecordStep(result StepResult) (halt bool) {
	s.StepResults = append(s.StepResults, result)
	s.CurrentStepIndex++
	return result.Failed() && !result.NonBlocking
}

// Complete marks the run completed.
func (s *RunState) Complete(now time.Time) error {
	if s.Status != RunStatusRunning {
		return ErrState(CodeInvalidState,
			fmt.Sprintf("cannot complete run in %s state", s.Status))
	}
	s.Status = RunStatusCompleted
	s.EndTime = &now
	return nil
}

// Fail marks the run failed with a reason.
func (s *RunState) Fail(reason string, now time.Time) {
	s.Status = RunStatusFailed
	s.Error = reason
	s.EndTime = &now
}

// IsTerminal reports whether the run reached a final state.
func (s *RunState) IsTerminal() bool {
	return s.Status == RunStatusCompleted || s.Status == RunStatusFailed
}

// FailedStepID returns the id of the most recent blocking failure, if any.
func (s *RunState) FailedStepID() string {
	for i := len(s.StepResults) - 1; i >= 0; i-- {
		r := s.StepResults[i]
		if r.Failed() && !r.NonBlocking {
			return r.StepID
		}
	}
	return ""
}

// TruncateFrom prepares the state for resume at the named step: results
// from that step onward are discarded, the index is rewound, and the run
// re-enters running. Earlier results are kept untouched, guaranteeing
// completed steps are never re-executed implicitly.
func (s *RunState) TruncateFrom(stepID string) error {
	idx := s.WorkflowSnapshot.StepIndex(stepID)
	if idx < 0 {
		known := make([]string, 0, len(s.WorkflowSnapshot.Steps))
		for _, st := range s.WorkflowSnapshot.Steps {
			known = append(known, st.ID)
		}
		return ErrResume(CodeStepNotFound,
			fmt.Sprintf("step %q not in run %s (steps: %s)", stepID, s.RunID, strings.Join(known, ", ")))
	}

	kept := s.StepResults[:0]
	for _, r := range s.StepResults {
		if s.WorkflowSnapshot.StepIndex(r.StepID) < idx {
			kept = append(kept, r)
		}
	}
	s.StepResults = kept
	s.CurrentStepIndex = idx
	s.Status = RunStatusRunning
	s.EndTime = nil
	s.Error = ""
	return nil
}

// Elapsed returns how long the run has been executing.
func (s *RunState) Elapsed(now time.Time) time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return now.Sub(s.StartTime)
}
