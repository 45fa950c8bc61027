package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"
)

// StepRequest carries everything an executor needs to run one step.
type StepRequest struct {
	Stage     string
	Step      StepDefinition
	Env       Environment
	Dir       string
	Artifacts ArtifactResolver
	Stdout    io.Writer
	Stderr    io.Writer
}

// ArtifactResolver looks up artifacts published earlier in the run.
type ArtifactResolver interface {
	ResolveArtifact(name string) (ArtifactRef, error)
}

// StepExecutor is one way of invoking an external tool. Execute returns the
// exit code; a non-nil error means the tool could not be launched at all and
// should be a *StepLaunchError.
type StepExecutor interface {
	Validate(step StepDefinition) error
	Execute(ctx context.Context, req StepRequest) (int, error)
}

// ArtifactConsumer is implemented by executors that read artifacts named in
// their options, so validation can check those references too.
type ArtifactConsumer interface {
	ConsumedArtifacts(step StepDefinition) []string
}

// Registry maps `uses` names to executors.
type Registry struct {
	executors map[string]StepExecutor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]StepExecutor)}
}

// DefaultRegistry returns a registry holding the built-in executors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("shell", ShellExecutor{})
	r.Register("exec", ExecExecutor{})
	r.Register("upload", UploadExecutor{})
	r.Register("deploy", DeployExecutor{})
	return r
}

// Register adds or replaces an executor.
func (r *Registry) Register(name string, e StepExecutor) {
	r.executors[name] = e
}

// Lookup returns the executor registered under name.
func (r *Registry) Lookup(name string) (StepExecutor, bool) {
	e, ok := r.executors[name]
	return e, ok
}

// Names lists registered executors, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeOptions decodes a step's free-form `with` map into a typed options
// struct. Unknown keys are rejected.
func decodeOptions(with map[string]any, out any) error {
	if len(with) == 0 {
		return nil
	}
	data, err := yaml.Marshal(with)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	return nil
}
