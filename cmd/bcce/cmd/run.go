package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/NSvoltage/bcce/internal/config"
	"github.com/NSvoltage/bcce/internal/engine"
	"github.com/NSvoltage/bcce/internal/executor"
	"github.com/NSvoltage/bcce/internal/history"
	"github.com/NSvoltage/bcce/internal/logging"
)

var (
	runDryRun  bool
	runWorkDir string
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a workflow",
	Long: `Run validates the workflow, then executes its steps strictly in
declared order. State is persisted after every step; a failed run prints
the exact resume invocation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := loadWorkflow(args[0], cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		if runDryRun {
			fmt.Fprint(cmd.OutOrStdout(), engine.Plan(wf))
			return nil
		}

		cfg, err := loadConfig()
		if err != nil {
			return asExit(err)
		}
		logger := newLogger(cfg)

		runner, cleanup := buildRunner(cfg, logger)
		defer cleanup()

		outcome, err := runner.Run(cmd.Context(), wf, engine.RunOptions{WorkDir: runWorkDir})
		if err != nil {
			return asExit(err)
		}
		return reportOutcome(cmd, outcome)
	},
}

// buildRunner wires the runner with the history index. A broken index is
// not fatal: runs proceed unindexed.
func buildRunner(cfg *config.Config, logger *logging.Logger) (*engine.Runner, func()) {
	var opts []engine.Option
	cleanup := func() {}

	idx, err := history.Open(filepath.Join(cfg.Artifacts.Root, cfg.Artifacts.IndexFile))
	if err != nil {
		logger.Warn("run index unavailable", "error", err)
	} else {
		opts = append(opts, engine.WithIndex(idx))
		cleanup = func() { _ = idx.Close() }
	}

	return engine.New(cfg, executor.DefaultRegistry(logger), logger, opts...), cleanup
}

// reportOutcome prints the run summary and maps a failed run to exit 1.
func reportOutcome(cmd *cobra.Command, outcome *engine.Outcome) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:       %s\n", outcome.RunID)
	fmt.Fprintf(out, "Status:    %s\n", outcome.State.Status)
	fmt.Fprintf(out, "Artifacts: %s\n", outcome.ArtifactsDir)

	if outcome.Failed() {
		if outcome.ResumeHint != "" {
			fmt.Fprintf(out, "Resume:    %s\n", outcome.ResumeHint)
		}
		return &exitError{code: exitFailure,
			err: fmt.Errorf("run %s failed: %s", outcome.RunID, outcome.State.Error)}
	}
	return nil
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false,
		"validate and print the execution plan without running anything")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", ".",
		"workspace directory steps operate in")
	rootCmd.AddCommand(runCmd)
}
