package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args and captured output.
// Flag variables are reset first: cobra keeps their values across
// Execute calls.
func executeCommand(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cfgFile = ""
	artifactsRoot = ""
	runDryRun = false
	runWorkDir = "."
	resumeFrom = ""
	resumeWorkDir = "."
	diagramOutput = ""
	doctorJSON = false
	listLimit = 20

	var outBuf, errBuf bytes.Buffer
	rootCmd.SetOut(&outBuf)
	rootCmd.SetErr(&errBuf)
	rootCmd.SetArgs(args)
	err = rootCmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

const validWorkflowYAML = `version: "1.0"
workflow: smoke
model: anthropic.claude-sonnet
steps:
  - id: first
    type: command
    command: "echo first step"
  - id: second
    type: command
    command: "echo second step"
`

func writeWorkflow(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateCommandAcceptsValidWorkflow(t *testing.T) {
	path := writeWorkflow(t, validWorkflowYAML)

	stdout, _, err := executeCommand(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "valid")
	assert.Contains(t, stdout, "smoke")
}

func TestValidateCommandReportsViolations(t *testing.T) {
	path := writeWorkflow(t, `version: "1.0"
workflow: broken
steps:
  - id: fix
    type: agent
    prompt: "do it"
`)

	_, stderr, err := executeCommand(t, "validate", path)
	require.Error(t, err)

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitFailure, ee.code)
	assert.Contains(t, stderr, "model")
	assert.Contains(t, stderr, "policy")
}

func TestValidateCommandMissingFile(t *testing.T) {
	_, _, err := executeCommand(t, "validate", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitFailure, ee.code)
}

func TestRunDryRunPrintsPlanWithoutArtifacts(t *testing.T) {
	path := writeWorkflow(t, validWorkflowYAML)
	artifacts := filepath.Join(t.TempDir(), "runs")

	stdout, _, err := executeCommand(t, "run", path,
		"--dry-run", "--artifacts-dir", artifacts)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Workflow: smoke")
	assert.Contains(t, stdout, "1. first [command]")
	assert.Contains(t, stdout, "2. second [command]")

	_, statErr := os.Stat(artifacts)
	assert.True(t, os.IsNotExist(statErr), "dry run must not create artifacts")
}

func TestRunExecutesWorkflow(t *testing.T) {
	path := writeWorkflow(t, validWorkflowYAML)
	artifacts := t.TempDir()

	stdout, _, err := executeCommand(t, "run", path,
		"--artifacts-dir", artifacts, "--workdir", t.TempDir(), "--log-format", "json")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Status:    completed")

	entries, err := os.ReadDir(artifacts)
	require.NoError(t, err)
	var runDirs int
	for _, e := range entries {
		if e.IsDir() {
			runDirs++
		}
	}
	assert.Equal(t, 1, runDirs, "expected exactly one run directory")

	// The run shows up in list output.
	stdout, _, err = executeCommand(t, "list", "--artifacts-dir", artifacts)
	require.NoError(t, err)
	assert.Contains(t, stdout, "smoke")
	assert.Contains(t, stdout, "completed")
}

func TestRunFailureMapsToExitOne(t *testing.T) {
	path := writeWorkflow(t, `version: "1.0"
workflow: failing
model: anthropic.claude-sonnet
steps:
  - id: boom
    type: command
    command: "exit 1"
`)
	artifacts := t.TempDir()

	stdout, _, err := executeCommand(t, "run", path,
		"--artifacts-dir", artifacts, "--workdir", t.TempDir(), "--log-format", "json")
	require.Error(t, err)

	var ee *exitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, exitFailure, ee.code)
	assert.Contains(t, err.Error(), "boom")
	assert.Contains(t, stdout, "Resume:    bcce resume ")
	assert.Contains(t, stdout, "--from boom")
}

func TestDiagramCommand(t *testing.T) {
	path := writeWorkflow(t, validWorkflowYAML)

	stdout, _, err := executeCommand(t, "diagram", path)
	require.NoError(t, err)
	assert.Contains(t, stdout, "flowchart TD")
	assert.Contains(t, stdout, "s_first")
	assert.Contains(t, stdout, "s_second")
}

func TestDiagramCommandWritesFile(t *testing.T) {
	path := writeWorkflow(t, validWorkflowYAML)
	outPath := filepath.Join(t.TempDir(), "flow.mmd")

	_, _, err := executeCommand(t, "diagram", path, "-o", outPath)
	require.NoError(t, err)

	content, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "flowchart TD")
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	stdout, _, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1.2.3")
	assert.Contains(t, stdout, "abc123")
}
