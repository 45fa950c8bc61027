package runner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPipeline is wrapped by every *ValidationError.
	ErrInvalidPipeline = errors.New("invalid pipeline")

	// ErrArtifactNotFound is returned when resolving a name nothing has published.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrRunStarted is returned when a prepared run is executed a second time.
	ErrRunStarted = errors.New("run already started")
)

// ValidationError lists every problem found in a pipeline definition, in
// definition order.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Problems) == 0 {
		return ErrInvalidPipeline.Error()
	}
	return fmt.Sprintf("%s: %s", ErrInvalidPipeline, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPipeline }

// StepLaunchError means the external operation could not be started at all.
// It aborts the run instead of being recorded as an ordinary step failure.
type StepLaunchError struct {
	Stage string
	Step  string
	Err   error
}

func (e *StepLaunchError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("step '%s' could not be launched: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("stage '%s' step '%s' could not be launched: %v", e.Stage, e.Step, e.Err)
}

func (e *StepLaunchError) Unwrap() error { return e.Err }

func launchError(step string, err error) error {
	return &StepLaunchError{Step: step, Err: err}
}
