package runner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PipelineDefinition is the loaded, validated form of a pipeline file.
// It is never mutated once loaded.
type PipelineDefinition struct {
	Name      string             `yaml:"name" json:"name"`
	Env       map[string]string  `yaml:"env,omitempty" json:"env,omitempty"`
	EnvFile   string             `yaml:"env_file,omitempty" json:"env_file,omitempty"`
	Retention string             `yaml:"retention,omitempty" json:"retention,omitempty"` // "none" (default) or "always"
	Artifacts []ExternalArtifact `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Schedules []Schedule         `yaml:"schedules,omitempty" json:"schedules,omitempty"`
	Stages    []StageDefinition  `yaml:"stages" json:"stages"`

	// BaseDir is the directory of the config file; relative paths resolve against it.
	BaseDir string `yaml:"-" json:"-"`
}

// ExternalArtifact is an artifact supplied to the run rather than produced by a stage.
type ExternalArtifact struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// Schedule triggers a run either at a wall-clock time or at a fixed interval.
type Schedule struct {
	At    string `yaml:"at,omitempty" json:"at,omitempty"`       // "HH:MM"
	Every string `yaml:"every,omitempty" json:"every,omitempty"` // "30m", "1h30m"
}

// StageDefinition is a named, ordered group of steps sharing one outcome.
type StageDefinition struct {
	Name              string            `yaml:"name" json:"name"`
	When              *StageCondition   `yaml:"when,omitempty" json:"when,omitempty"`
	ContinueOnFailure bool              `yaml:"continue_on_failure,omitempty" json:"continue_on_failure,omitempty"`
	Inputs            []string          `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs           []ArtifactOutput  `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Env               map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Steps             []StepDefinition  `yaml:"steps" json:"steps"`
}

// ArtifactOutput declares a file a stage publishes when it succeeds.
type ArtifactOutput struct {
	Name string `yaml:"name" json:"name"`
	Path string `yaml:"path" json:"path"`
}

// StepDefinition is one external operation.
type StepDefinition struct {
	Name    string            `yaml:"name" json:"name"`
	Uses    string            `yaml:"uses,omitempty" json:"uses,omitempty"`
	Run     string            `yaml:"run,omitempty" json:"run,omitempty"`
	Command string            `yaml:"command,omitempty" json:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Dir     string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Timeout string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	With    map[string]any    `yaml:"with,omitempty" json:"with,omitempty"`
}

// Executor returns the name of the executor variant that runs the step.
func (s StepDefinition) Executor() string {
	switch {
	case s.Uses != "":
		return s.Uses
	case s.Command != "":
		return "exec"
	default:
		return "shell"
	}
}

// TimeoutDuration returns the parsed timeout, or zero when the step is unbounded.
// Validation guarantees the value parses.
func (s StepDefinition) TimeoutDuration() time.Duration {
	if s.Timeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(s.Timeout)
	return d
}

// Describe returns the command line shown in logs and stored with the step.
func (s StepDefinition) Describe() string {
	switch s.Executor() {
	case "shell":
		return s.Run
	case "exec":
		return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
	default:
		return "uses: " + s.Uses
	}
}

// LoadConfig reads a pipeline file, picking the format by extension, and
// validates it. Files ending in .hcl are decoded as HCL, everything else as YAML.
func LoadConfig(path string) (*PipelineDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline config: %w", err)
	}

	var def *PipelineDefinition
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		def, err = ParseHCL(path, data)
	} else {
		def, err = ParseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}
	def.BaseDir = filepath.Dir(absPath)
	if def.Name == "" {
		def.Name = filepath.Base(def.BaseDir)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// ParseYAML decodes a YAML pipeline definition without validating it.
// Unknown keys are rejected.
func ParseYAML(data []byte) (*PipelineDefinition, error) {
	var def PipelineDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}
	return &def, nil
}

// resolvePath joins p onto the definition's base directory unless p is absolute.
func (d *PipelineDefinition) resolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(d.BaseDir, p)
}
