package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml>",
	Short: "Validate a workflow file",
	Long: `Validate checks a workflow file in three passes: YAML syntax, schema
(required fields, enums, policy completeness) and semantics (unique step
ids, diff_from references). All problems are reported at once.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := loadWorkflow(args[0], cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (workflow %q, %d steps)\n",
			args[0], wf.Workflow, len(wf.Steps))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
