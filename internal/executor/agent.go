package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/NSvoltage/bcce/internal/artifact"
	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/logging"
	"github.com/NSvoltage/bcce/internal/policy"
)

// AgentExecutor drives the coding agent subprocess for one step. The
// agent never receives credentials from the runner beyond what the
// parent environment already carries; the workflow contributes only
// model routing and guardrail variables.
type AgentExecutor struct {
	logger *logging.Logger
}

// NewAgentExecutor creates an agent executor.
func NewAgentExecutor(logger *logging.Logger) *AgentExecutor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AgentExecutor{logger: logger}
}

// agentMetrics is the metrics.json payload for an agent step.
type agentMetrics struct {
	ExitCode   int             `json:"exit_code"`
	TimedOut   bool            `json:"timed_out"`
	DurationMS int64           `json:"duration_ms"`
	Counters   policy.Counters `json:"counters"`
}

// Execute spawns the agent under the step's policy, streams its output
// into the transcript, and records enforcement counters. The enforcer is
// an in-process soft limit: it gates the input files the runner hands
// over and audits the operations the agent announces on its stream.
func (a *AgentExecutor) Execute(ctx context.Context, step *core.StepDefinition, runCtx *RunContext) (*core.StepResult, error) {
	clock := runCtx.Clock()
	start := clock()

	enforcer := policy.NewEnforcer(*step.Policy)
	if _, err := runCtx.Store.WriteJSON(step.ID, artifact.PolicyFile, step.Policy); err != nil {
		return nil, err
	}

	var transcript strings.Builder
	transcript.WriteString(fmt.Sprintf("# Step %s (agent)\n\n", step.ID))

	prompt := a.composePrompt(step, runCtx, enforcer, &transcript)

	var output strings.Builder
	var mu sync.Mutex
	proc := &subprocess{
		bin:     runCtx.AgentBin,
		args:    []string{"--print"},
		dir:     runCtx.WorkDir,
		stdin:   prompt,
		env:     a.buildEnv(step, runCtx),
		timeout: time.Duration(step.Policy.Timeout()) * time.Second,
		logger:  runCtx.Logger,
		onLine: func(stream, line string) {
			mu.Lock()
			defer mu.Unlock()
			if stream == "stdout" {
				output.WriteString(line)
				output.WriteByte('\n')
			}
			transcript.WriteString(line)
			transcript.WriteByte('\n')
			if intent, ok := observeToolLine(line); ok {
				a.auditIntent(enforcer, intent, &transcript)
			}
		},
	}

	res, err := proc.run(ctx)
	if err != nil {
		return nil, err
	}
	end := clock()

	outPath, werr := runCtx.Store.WriteText(step.ID, artifact.OutputFile, output.String())
	if werr != nil {
		return nil, werr
	}
	if _, werr := runCtx.Store.WriteText(step.ID, artifact.TranscriptFile, transcript.String()); werr != nil {
		return nil, werr
	}
	metrics := agentMetrics{
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		DurationMS: res.Duration.Milliseconds(),
		Counters:   enforcer.Snapshot(),
	}
	if _, werr := runCtx.Store.WriteJSON(step.ID, artifact.MetricsFile, metrics); werr != nil {
		return nil, werr
	}

	exitCode := res.ExitCode
	switch {
	case res.TimedOut:
		r := failedResult(step.ID, start, end,
			fmt.Sprintf("agent timed out after %ds", step.Policy.Timeout()),
			step.ContinueOnError())
		r.TimedOut = true
		r.ExitCode = &exitCode
		r.OutputRef = outPath
		return r, nil
	case res.ExitCode != 0:
		r := failedResult(step.ID, start, end,
			fmt.Sprintf("agent exited with code %d", res.ExitCode),
			step.ContinueOnError())
		r.ExitCode = &exitCode
		r.OutputRef = outPath
		return r, nil
	default:
		r := completedResult(step.ID, start, end, outPath)
		r.ExitCode = &exitCode
		return r, nil
	}
}

// composePrompt assembles the agent's stdin from the step prompt, the
// policy-gated input files, and the output of the nearest preceding
// prompt step.
func (a *AgentExecutor) composePrompt(step *core.StepDefinition, runCtx *RunContext, enforcer *policy.Enforcer, transcript *strings.Builder) string {
	var b strings.Builder
	b.WriteString(step.Prompt)

	if ctxText := a.precedingPromptOutput(step, runCtx); ctxText != "" {
		b.WriteString("\n\n## Context\n\n")
		b.WriteString(ctxText)
	}

	for _, f := range step.InputFiles {
		if d := enforcer.CheckRead(f); !d.Allowed {
			fmt.Fprintf(transcript, "\n[policy] read denied: %s\n", d.Reason)
			continue
		}
		content, err := readWorkspaceFile(runCtx.WorkDir, f)
		if err != nil {
			fmt.Fprintf(transcript, "\n[input] %s unreadable: %v\n", f, err)
			continue
		}
		fmt.Fprintf(&b, "\n\n## File: %s\n\n```\n%s\n```\n", f, content)
	}
	return b.String()
}

// precedingPromptOutput returns the stored output of the closest prompt
// step declared before this one, if any.
func (a *AgentExecutor) precedingPromptOutput(step *core.StepDefinition, runCtx *RunContext) string {
	idx := runCtx.Workflow.StepIndex(step.ID)
	for i := idx - 1; i >= 0; i-- {
		prev := &runCtx.Workflow.Steps[i]
		if prev.Type != core.StepTypePrompt {
			continue
		}
		out, err := runCtx.Store.ReadText(prev.ID, artifact.OutputFile)
		if err != nil {
			return ""
		}
		return out
	}
	return ""
}

// auditIntent runs an announced agent operation past the enforcer and
// records the decision in the transcript.
func (a *AgentExecutor) auditIntent(enforcer *policy.Enforcer, intent toolIntent, transcript *strings.Builder) {
	var d policy.Decision
	switch intent.Kind {
	case "read":
		d = enforcer.CheckRead(intent.Arg)
	case "edit":
		d = enforcer.CheckEdit(intent.Arg)
	case "command":
		d = enforcer.CheckCommand(intent.Arg)
	}
	if !d.Allowed {
		fmt.Fprintf(transcript, "[policy] %s denied: %s\n", intent.Kind, d.Reason)
		a.logger.Warn("policy denial", "kind", intent.Kind, "arg", intent.Arg, "reason", d.Reason)
	}
}

// buildEnv assembles the agent subprocess environment: Bedrock routing,
// guardrails, run identity, then the workflow env block and any runner
// overrides on top.
func (a *AgentExecutor) buildEnv(step *core.StepDefinition, runCtx *RunContext) map[string]string {
	env := map[string]string{
		"CLAUDE_CODE_USE_BEDROCK": "1",
		"BEDROCK_MODEL_ID":        runCtx.Model,
		"BCCE_RUN_ID":             string(runCtx.RunID),
		"BCCE_STEP_ID":            step.ID,
	}
	if runCtx.Region != "" {
		env["AWS_REGION"] = runCtx.Region
	}
	if len(runCtx.Guardrails) > 0 {
		env["BCCE_GUARDRAILS"] = strings.Join(runCtx.Guardrails, ",")
	}
	for k, v := range runCtx.Workflow.Env {
		env[k] = v
	}
	for k, v := range runCtx.Env {
		env[k] = v
	}
	return env
}
