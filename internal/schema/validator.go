// Package schema validates workflow documents before any execution.
// Checks run in a fixed order: YAML syntax, schema conformance (required
// fields, enums, numeric ranges), then semantic rules the schema cannot
// express. A workflow is returned only when every check passes.
package schema

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/NSvoltage/bcce/internal/core"
)

// SupportedVersions lists accepted workflow schema versions.
var SupportedVersions = []string{"1.0"}

// stepIDRe constrains step ids to names safe as artifact directory
// entries: no path separators, dots, or leading punctuation.
var stepIDRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*$`)

// Violation is one validation failure with enough location context for an
// author to fix it.
type Violation struct {
	Location string
	Message  string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Location, v.Message)
}

// Violations collects validation failures.
type Violations []Violation

func (vs Violations) Error() string {
	msgs := make([]string, len(vs))
	for i, v := range vs {
		msgs[i] = v.String()
	}
	return strings.Join(msgs, "; ")
}

// Validator parses and validates raw workflow text.
type Validator struct {
	violations Violations
}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Parse validates raw workflow text and returns a fully valid typed
// definition, or the violation list. It never returns a partially valid
// workflow.
func (v *Validator) Parse(raw []byte) (*core.WorkflowDefinition, Violations) {
	v.violations = nil

	// Syntax. Strict decoding rejects unknown fields so typos in policy
	// keys cannot silently weaken a step's constraints.
	var def core.WorkflowDefinition
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		v.add("workflow", fmt.Sprintf("invalid YAML: %v", err))
		return nil, v.violations
	}

	v.checkSchema(&def)
	if len(v.violations) > 0 {
		return nil, v.violations
	}

	v.checkSemantics(&def)
	if len(v.violations) > 0 {
		return nil, v.violations
	}

	return &def, nil
}

func (v *Validator) add(location, message string) {
	v.violations = append(v.violations, Violation{Location: location, Message: message})
}

// checkSchema verifies required fields, enums and numeric ranges.
func (v *Validator) checkSchema(def *core.WorkflowDefinition) {
	if def.Version == "" {
		v.add("version", "required")
	} else if !supportedVersion(def.Version) {
		v.add("version", fmt.Sprintf("unsupported version %q (supported: %s)",
			def.Version, strings.Join(SupportedVersions, ", ")))
	}

	if def.Workflow == "" {
		v.add("workflow", "workflow name required")
	}
	if def.Model == "" {
		v.add("model", "model identifier required (may be an ${ENV_VAR} placeholder)")
	}
	if def.Limits.MaxRuntimeSeconds < 0 {
		v.add("limits.max_runtime_seconds", "must be non-negative")
	}

	if len(def.Steps) == 0 {
		v.add("steps", "at least one step required")
		return
	}

	for i := range def.Steps {
		v.checkStep(i, &def.Steps[i])
	}
}

func (v *Validator) checkStep(i int, step *core.StepDefinition) {
	loc := fmt.Sprintf("steps[%d]", i)
	if step.ID != "" {
		loc = fmt.Sprintf("steps[%d] (%s)", i, step.ID)
	}

	if step.ID == "" {
		v.add(loc, "id required")
	} else if !stepIDRe.MatchString(step.ID) {
		v.add(loc+".id", "must match [a-zA-Z0-9][a-zA-Z0-9_-]* (step ids name artifact directories)")
	}
	if step.Type == "" {
		v.add(loc, "type required")
		return
	}
	if !core.ValidStepType(step.Type) {
		v.add(loc, fmt.Sprintf("unknown type %q", step.Type))
		return
	}

	if step.OnError != "" && step.OnError != core.OnErrorFail && step.OnError != core.OnErrorContinue {
		v.add(loc+".on_error", fmt.Sprintf("must be %q or %q", core.OnErrorFail, core.OnErrorContinue))
	}
	if step.TimeoutSeconds < 0 {
		v.add(loc+".timeout_seconds", "must be non-negative")
	}

	switch step.Type {
	case core.StepTypePrompt:
		if step.Prompt == "" {
			v.add(loc+".prompt", "prompt steps require a prompt")
		}
	case core.StepTypeCommand:
		if step.Command == "" {
			v.add(loc+".command", "command steps require a command")
		}
	case core.StepTypeApplyDiff:
		if step.Approve == nil {
			v.add(loc+".approve", "apply_diff steps require an explicit approve boolean")
		}
	}
}

// checkSemantics verifies rules not expressible in schema: unique step
// ids, complete policies on agent steps, and cross-step references.
func (v *Validator) checkSemantics(def *core.WorkflowDefinition) {
	seen := make(map[string]bool, len(def.Steps))
	for i := range def.Steps {
		step := &def.Steps[i]
		loc := fmt.Sprintf("steps[%d] (%s)", i, step.ID)

		if seen[step.ID] {
			v.add(loc, fmt.Sprintf("duplicate step id %q", step.ID))
		}
		seen[step.ID] = true

		if step.Type == core.StepTypeAgent {
			v.checkPolicy(loc, step)
		}
		if step.Type == core.StepTypeApplyDiff {
			if step.DiffFrom == "" {
				if !hasPrecedingAgentStep(def, i) {
					v.add(loc+".diff_from", "omitted and no agent step precedes this one")
				}
			} else {
				src := def.StepIndex(step.DiffFrom)
				switch {
				case src < 0:
					v.add(loc+".diff_from", fmt.Sprintf("references unknown step %q", step.DiffFrom))
				case src >= i:
					v.add(loc+".diff_from", fmt.Sprintf("must reference a preceding step, %q does not precede", step.DiffFrom))
				case def.Steps[src].Type != core.StepTypeAgent:
					v.add(loc+".diff_from", fmt.Sprintf("step %q is not an agent step", step.DiffFrom))
				}
			}
		}
	}
}

// hasPrecedingAgentStep reports whether any step before index i is an
// agent step.
func hasPrecedingAgentStep(def *core.WorkflowDefinition, i int) bool {
	for j := 0; j < i; j++ {
		if def.Steps[j].Type == core.StepTypeAgent {
			return true
		}
	}
	return false
}

// checkPolicy enforces the complete-policy rule for agent steps. This is a
// semantic check rather than a schema default so an author can never
// silently omit a security constraint.
func (v *Validator) checkPolicy(loc string, step *core.StepDefinition) {
	p := step.Policy
	if p == nil {
		v.add(loc+".policy", "agent steps require a complete policy (timeout_seconds, max_files, max_edits, allowed_paths, cmd_allowlist)")
		return
	}

	switch {
	case p.TimeoutSeconds == nil:
		v.add(loc+".policy.timeout_seconds", "required")
	case *p.TimeoutSeconds < core.PolicyMinTimeoutSeconds || *p.TimeoutSeconds > core.PolicyMaxTimeoutSeconds:
		v.add(loc+".policy.timeout_seconds",
			fmt.Sprintf("must be in [%d, %d]", core.PolicyMinTimeoutSeconds, core.PolicyMaxTimeoutSeconds))
	}
	switch {
	case p.MaxFiles == nil:
		v.add(loc+".policy.max_files", "required")
	case *p.MaxFiles < 0 || *p.MaxFiles > core.PolicyMaxFiles:
		v.add(loc+".policy.max_files", fmt.Sprintf("must be in [0, %d]", core.PolicyMaxFiles))
	}
	switch {
	case p.MaxEdits == nil:
		v.add(loc+".policy.max_edits", "required")
	case *p.MaxEdits < 0 || *p.MaxEdits > core.PolicyMaxEdits:
		v.add(loc+".policy.max_edits", fmt.Sprintf("must be in [0, %d]", core.PolicyMaxEdits))
	}
	if p.AllowedPaths == nil {
		v.add(loc+".policy.allowed_paths", "required (empty list denies all paths)")
	}
	if p.CmdAllowlist == nil {
		v.add(loc+".policy.cmd_allowlist", "required (empty list denies all commands)")
	}
}

func supportedVersion(version string) bool {
	for _, v := range SupportedVersions {
		if v == version {
			return true
		}
	}
	return false
}
