package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/NSvoltage/bcce/internal/core"
	"github.com/NSvoltage/bcce/internal/schema"
)

// loadWorkflow reads and fully validates a workflow file. Validation
// failures are reported all at once and mapped to the validation exit
// code.
func loadWorkflow(path string, errOut io.Writer) (*core.WorkflowDefinition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &exitError{code: exitFailure,
			err: fmt.Errorf("reading workflow %s: %w", path, err)}
	}

	wf, violations := schema.NewValidator().Parse(raw)
	if len(violations) > 0 {
		fmt.Fprintf(errOut, "%s: %d validation problem(s)\n", path, len(violations))
		for _, v := range violations {
			fmt.Fprintf(errOut, "  - %s: %s\n", v.Location, v.Message)
		}
		return nil, &exitError{code: exitFailure, err: violations}
	}
	return wf, nil
}

// asExit wraps an engine or store error with the failure exit code
// unless it already carries one.
func asExit(err error) error {
	var ee *exitError
	if errors.As(err, &ee) {
		return err
	}
	return &exitError{code: exitFailure, err: err}
}
