package cmd

import (
	"github.com/spf13/cobra"

	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/engine"
)

var (
	resumeFrom    string
	resumeWorkDir string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume a failed run",
	Long: `Resume reopens an existing run and re-executes from the failed step,
or from the step given with --from. Steps before the resume point keep
their recorded results and are never re-executed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return asExit(err)
		}
		logger := newLogger(cfg)

		runner, cleanup := buildRunner(cfg, logger)
		defer cleanup()

		outcome, err := runner.Resume(cmd.Context(), cfg.Artifacts.Root,
			core.RunID(args[0]), resumeFrom, engine.RunOptions{WorkDir: resumeWorkDir})
		if err != nil {
			return asExit(err)
		}
		return reportOutcome(cmd, outcome)
	},
}

func init() {
	resumeCmd.Flags().StringVar(&resumeFrom, "from", "",
		"step id to resume from (default: the failed step)")
	resumeCmd.Flags().StringVar(&resumeWorkDir, "workdir", ".",
		"workspace directory steps operate in")
	rootCmd.AddCommand(resumeCmd)
}
