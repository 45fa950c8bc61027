package runner

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Validate checks the definition against the built-in executors.
func (d *PipelineDefinition) Validate() error {
	return d.ValidateWith(DefaultRegistry())
}

// ValidateWith checks the definition against the given executors. It reports
// every problem it finds, in definition order, and never modifies d.
func (d *PipelineDefinition) ValidateWith(reg *Registry) error {
	var problems []string
	addf := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if len(d.Stages) == 0 {
		addf("pipeline must define at least one stage")
	}
	switch d.Retention {
	case "", RetainNone, RetainAlways:
	default:
		addf("retention must be %q or %q, got %q", RetainNone, RetainAlways, d.Retention)
	}

	// artifacts available to each stage, growing as stages declare outputs
	available := make(map[string]bool)
	for i, a := range d.Artifacts {
		switch {
		case a.Name == "":
			addf("artifact %d: name is required", i+1)
		case a.Path == "":
			addf("artifact %s: path is required", a.Name)
		case available[a.Name]:
			addf("duplicate external artifact: %s", a.Name)
		}
		available[a.Name] = true
	}

	for i, s := range d.Schedules {
		if err := s.validate(); err != nil {
			addf("schedule %d: %v", i+1, err)
		}
	}

	seen := make(map[string]bool)
	for i, stage := range d.Stages {
		name := stage.Name
		if name == "" {
			addf("stage %d: name is required", i+1)
			name = fmt.Sprintf("#%d", i+1)
		} else if seen[name] {
			addf("duplicate stage name: %s", name)
		}
		seen[name] = true

		if stage.When != nil {
			switch stage.When.Status {
			case "", WhenSuccess, WhenFailure, WhenAlways:
			default:
				addf("stage %s: when.status must be success, failure or always, got %q", name, stage.When.Status)
			}
			for _, pattern := range []string{stage.When.Branch, stage.When.Tag} {
				if _, err := path.Match(pattern, ""); err != nil {
					addf("stage %s: invalid pattern %q", name, pattern)
				}
			}
		}

		for _, in := range stage.Inputs {
			if !available[in] {
				addf("stage %s: input artifact %s is not produced by an earlier stage", name, in)
			}
		}

		if len(stage.Steps) == 0 {
			addf("stage %s: at least one step is required", name)
		}
		stepNames := make(map[string]bool)
		for j, step := range stage.Steps {
			stepName := step.Name
			if stepName == "" {
				stepName = fmt.Sprintf("#%d", j+1)
			} else if stepNames[stepName] {
				addf("stage %s: duplicate step name: %s", name, stepName)
			}
			stepNames[stepName] = true

			for _, p := range step.validate(reg, available) {
				addf("stage %s step %s: %s", name, stepName, p)
			}
		}

		outputs := make(map[string]bool)
		for _, out := range stage.Outputs {
			switch {
			case out.Name == "":
				addf("stage %s: output name is required", name)
			case out.Path == "":
				addf("stage %s: output %s: path is required", name, out.Name)
			case outputs[out.Name]:
				addf("stage %s: duplicate output: %s", name, out.Name)
			}
			outputs[out.Name] = true
		}
		// outputs become visible to later stages only
		for out := range outputs {
			available[out] = true
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func (s StepDefinition) validate(reg *Registry, available map[string]bool) []string {
	var problems []string

	set := 0
	for _, v := range []string{s.Run, s.Command, s.Uses} {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		problems = append(problems, "one of run, command or uses is required")
	}

	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		switch {
		case err != nil:
			problems = append(problems, fmt.Sprintf("invalid timeout %q", s.Timeout))
		case d <= 0:
			problems = append(problems, fmt.Sprintf("timeout must be positive, got %s", s.Timeout))
		}
	}

	if set == 0 {
		return problems
	}
	exe, ok := reg.Lookup(s.Executor())
	if !ok {
		return append(problems, fmt.Sprintf("unknown executor %q (available: %s)", s.Executor(), strings.Join(reg.Names(), ", ")))
	}
	if err := exe.Validate(s); err != nil {
		problems = append(problems, err.Error())
	}
	if consumer, ok := exe.(ArtifactConsumer); ok {
		for _, name := range consumer.ConsumedArtifacts(s) {
			if !available[name] {
				problems = append(problems, fmt.Sprintf("artifact %s is not produced by an earlier stage", name))
			}
		}
	}
	return problems
}
