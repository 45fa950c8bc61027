package cmd

import (
	"errors"
	"fmt"
	"io"

	"stagego/runner"
)

// ExitError carries the process exit code out of a command. Message, when
// set, is printed to stderr before exiting.
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// loadDefinition loads a pipeline, turning load and validation failures into
// exit code 2 with every problem listed on w.
func loadDefinition(w io.Writer, path string) (*runner.PipelineDefinition, error) {
	def, err := runner.LoadConfig(path)
	if err == nil {
		return def, nil
	}

	var invalid *runner.ValidationError
	if errors.As(err, &invalid) {
		fmt.Fprintf(w, "❌ %s is invalid:\n", path)
		for _, p := range invalid.Problems {
			fmt.Fprintf(w, "  - %s\n", p)
		}
		return nil, &ExitError{Code: runner.ExitInvalid}
	}
	return nil, &ExitError{Code: runner.ExitInvalid, Message: err.Error()}
}
