package core

import "fmt"

// StepType identifies the executor responsible for a step.
type StepType string

const (
	StepTypePrompt    StepType = "prompt"
	StepTypeAgent     StepType = "agent"
	StepTypeCommand   StepType = "command"
	StepTypeApplyDiff StepType = "apply_diff"
	StepTypeCustom    StepType = "custom"
)

// ValidStepType checks if a step type is recognized.
func ValidStepType(t StepType) bool {
	switch t {
	case StepTypePrompt, StepTypeAgent, StepTypeCommand, StepTypeApplyDiff, StepTypeCustom:
		return true
	default:
		return false
	}
}

// OnError controls whether a failed step halts the run.
type OnError string

const (
	OnErrorFail     OnError = "fail"
	OnErrorContinue OnError = "continue"
)

// Policy is the mandatory execution constraint set for agent steps.
// All five fields must be present; there are no defaults. The numeric
// fields are pointers so an omitted field is distinguishable from a
// legitimate zero quota.
type Policy struct {
	TimeoutSeconds *int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxFiles       *int     `yaml:"max_files" json:"max_files"`
	MaxEdits       *int     `yaml:"max_edits" json:"max_edits"`
	AllowedPaths   []string `yaml:"allowed_paths" json:"allowed_paths"`
	CmdAllowlist   []string `yaml:"cmd_allowlist" json:"cmd_allowlist"`
}

// Timeout returns the step deadline in seconds. It must only be called on
// a validated policy.
func (p *Policy) Timeout() int { return *p.TimeoutSeconds }

// FileQuota returns the maximum number of file reads.
func (p *Policy) FileQuota() int { return *p.MaxFiles }

// EditQuota returns the maximum number of edits.
func (p *Policy) EditQuota() int { return *p.MaxEdits }

// Policy bounds.
const (
	PolicyMinTimeoutSeconds = 1
	PolicyMaxTimeoutSeconds = 3600
	PolicyMaxFiles          = 1000
	PolicyMaxEdits          = 100
)

// StepDefinition is one declared unit of workflow work. It is a tagged
// union over Type; only the fields for that type are meaningful.
type StepDefinition struct {
	ID   string   `yaml:"id" json:"id"`
	Type StepType `yaml:"type" json:"type"`

	// prompt / agent
	Prompt     string   `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	InputFiles []string `yaml:"input_files,omitempty" json:"input_files,omitempty"`

	// agent
	Policy *Policy `yaml:"policy,omitempty" json:"policy,omitempty"`

	// command
	Command        string  `yaml:"command,omitempty" json:"command,omitempty"`
	OnError        OnError `yaml:"on_error,omitempty" json:"on_error,omitempty"`
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`

	// apply_diff
	Approve  *bool  `yaml:"approve,omitempty" json:"approve,omitempty"`
	DiffFrom string `yaml:"diff_from,omitempty" json:"diff_from,omitempty"`
}

// ContinueOnError reports whether a failure of this step lets the run proceed.
func (s *StepDefinition) ContinueOnError() bool {
	return s.OnError == OnErrorContinue
}

// RuntimeLimits bounds a whole run.
type RuntimeLimits struct {
	MaxRuntimeSeconds int    `yaml:"max_runtime_seconds" json:"max_runtime_seconds"`
	ArtifactsDir      string `yaml:"artifacts_dir" json:"artifacts_dir"`
}

// WorkflowDefinition is a parsed, versioned workflow document.
type WorkflowDefinition struct {
	Version    string            `yaml:"version" json:"version"`
	Workflow   string            `yaml:"workflow" json:"workflow"`
	Model      string            `yaml:"model" json:"model"`
	Guardrails []string          `yaml:"guardrails,omitempty" json:"guardrails,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Limits     RuntimeLimits     `yaml:"limits,omitempty" json:"limits,omitempty"`
	Steps      []StepDefinition  `yaml:"steps" json:"steps"`
}

// Step returns the step with the given id.
func (w *WorkflowDefinition) Step(id string) (*StepDefinition, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// StepIndex returns the position of a step id in declared order, or -1.
func (w *WorkflowDefinition) StepIndex(id string) int {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return i
		}
	}
	return -1
}

// Validate checks the structural invariants that hold for any workflow,
// regardless of how it was produced. The schema validator performs the
// full check set; this guards programmatic construction.
func (w *WorkflowDefinition) Validate() error {
	if len(w.Steps) == 0 {
		return ErrValidation("NO_STEPS", "workflow must declare at least one step")
	}
	seen := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if s.ID == "" {
			return ErrValidation("STEP_ID_REQUIRED", "every step requires an id")
		}
		if seen[s.ID] {
			return ErrValidation("DUPLICATE_STEP_ID", fmt.Sprintf("duplicate step id: %s", s.ID))
		}
		seen[s.ID] = true
	}
	return nil
}
