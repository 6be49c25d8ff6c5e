package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/NSvoltage/bcce/internal/diagram"
)

var diagramOutput string

var diagramCmd = &cobra.Command{
	Use:   "diagram <workflow.yaml>",
	Short: "Render a workflow as a Mermaid flowchart",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := loadWorkflow(args[0], cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		rendered := diagram.Mermaid(wf)
		if diagramOutput == "" {
			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		}
		if err := os.WriteFile(diagramOutput, []byte(rendered), 0o644); err != nil {
			return asExit(fmt.Errorf("writing diagram: %w", err))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "diagram written to %s\n", diagramOutput)
		return nil
	},
}

func init() {
	diagramCmd.Flags().StringVarP(&diagramOutput, "output", "o", "",
		"write the diagram to a file instead of stdout")
	rootCmd.AddCommand(diagramCmd)
}
