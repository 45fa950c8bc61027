package runner

import (
	"path"
)

// Condition statuses for `when.status`.
const (
	WhenSuccess = "success"
	WhenFailure = "failure"
	WhenAlways  = "always"
)

// StageCondition decides whether a stage runs. Every set field must match.
type StageCondition struct {
	Branch string            `yaml:"branch,omitempty" json:"branch,omitempty"` // glob, e.g. "release/*"
	Tag    string            `yaml:"tag,omitempty" json:"tag,omitempty"`       // glob; requires a tag
	Status string            `yaml:"status,omitempty" json:"status,omitempty"` // success (default), failure, always
	Env    map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// status returns the effective status filter.
func (c *StageCondition) status() string {
	if c == nil || c.Status == "" {
		return WhenSuccess
	}
	return c.Status
}

// RunsAfterFailure reports whether the stage still runs once the pipeline
// has failed.
func (c *StageCondition) RunsAfterFailure() bool {
	s := c.status()
	return s == WhenFailure || s == WhenAlways
}

// Allows evaluates the condition against the run so far.
func (c *StageCondition) Allows(rc *RunContext) bool {
	switch c.status() {
	case WhenSuccess:
		if rc.Failed() {
			return false
		}
	case WhenFailure:
		if !rc.Failed() {
			return false
		}
	}
	if c == nil {
		return true
	}

	if c.Branch != "" && !globMatch(c.Branch, rc.Branch) {
		return false
	}
	if c.Tag != "" && (rc.Tag == "" || !globMatch(c.Tag, rc.Tag)) {
		return false
	}
	for k, want := range c.Env {
		if rc.Env[k] != want {
			return false
		}
	}
	return true
}

func globMatch(pattern, value string) bool {
	ok, err := path.Match(pattern, value)
	return err == nil && ok
}
