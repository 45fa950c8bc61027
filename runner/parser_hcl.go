package runner

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"
)

// hclPipeline mirrors PipelineDefinition in HCL block form:
//
//	name = "webapp"
//	artifact "settings" { path = "ci/settings.xml" }
//	stage "compile" {
//	  step "build" { run = "mvn -B package" }
//	  output "war" { path = "target/app.war" }
//	}
//
// HCL interpolates ${...} itself, so shell variables must be written $${VAR}.
// Process environment variables are available as env.NAME.
type hclPipeline struct {
	Name      string            `hcl:"name,optional"`
	Env       map[string]string `hcl:"env,optional"`
	EnvFile   string            `hcl:"env_file,optional"`
	Retention string            `hcl:"retention,optional"`
	Artifacts []hclArtifact     `hcl:"artifact,block"`
	Schedules []hclSchedule     `hcl:"schedule,block"`
	Stages    []hclStage        `hcl:"stage,block"`
}

type hclArtifact struct {
	Name string `hcl:"name,label"`
	Path string `hcl:"path"`
}

type hclSchedule struct {
	At    string `hcl:"at,optional"`
	Every string `hcl:"every,optional"`
}

type hclCondition struct {
	Branch string            `hcl:"branch,optional"`
	Tag    string            `hcl:"tag,optional"`
	Status string            `hcl:"status,optional"`
	Env    map[string]string `hcl:"env,optional"`
}

type hclStage struct {
	Name              string            `hcl:"name,label"`
	When              *hclCondition     `hcl:"when,block"`
	ContinueOnFailure bool              `hcl:"continue_on_failure,optional"`
	Inputs            []string          `hcl:"inputs,optional"`
	Outputs           []hclArtifact     `hcl:"output,block"`
	Env               map[string]string `hcl:"env,optional"`
	Steps             []hclStep         `hcl:"step,block"`
}

type hclStep struct {
	Name    string            `hcl:"name,label"`
	Uses    string            `hcl:"uses,optional"`
	Run     string            `hcl:"run,optional"`
	Command string            `hcl:"command,optional"`
	Args    []string          `hcl:"args,optional"`
	Env     map[string]string `hcl:"env,optional"`
	Dir     string            `hcl:"dir,optional"`
	Timeout string            `hcl:"timeout,optional"`
	With    cty.Value         `hcl:"with,optional"`
}

// ParseHCL decodes an HCL pipeline definition without validating it.
func ParseHCL(filename string, data []byte) (*PipelineDefinition, error) {
	var doc hclPipeline
	if err := hclsimple.Decode(filename, data, hclEvalContext(), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline config: %w", err)
	}

	def := &PipelineDefinition{
		Name:      doc.Name,
		Env:       doc.Env,
		EnvFile:   doc.EnvFile,
		Retention: doc.Retention,
	}
	for _, a := range doc.Artifacts {
		def.Artifacts = append(def.Artifacts, ExternalArtifact{Name: a.Name, Path: a.Path})
	}
	for _, s := range doc.Schedules {
		def.Schedules = append(def.Schedules, Schedule{At: s.At, Every: s.Every})
	}

	for _, hs := range doc.Stages {
		stage := StageDefinition{
			Name:              hs.Name,
			ContinueOnFailure: hs.ContinueOnFailure,
			Inputs:            hs.Inputs,
			Env:               hs.Env,
		}
		if hs.When != nil {
			stage.When = &StageCondition{
				Branch: hs.When.Branch,
				Tag:    hs.When.Tag,
				Status: hs.When.Status,
				Env:    hs.When.Env,
			}
		}
		for _, o := range hs.Outputs {
			stage.Outputs = append(stage.Outputs, ArtifactOutput{Name: o.Name, Path: o.Path})
		}
		for _, st := range hs.Steps {
			with, err := ctyToOptions(st.With)
			if err != nil {
				return nil, fmt.Errorf("stage %q step %q: %w", hs.Name, st.Name, err)
			}
			stage.Steps = append(stage.Steps, StepDefinition{
				Name:    st.Name,
				Uses:    st.Uses,
				Run:     st.Run,
				Command: st.Command,
				Args:    st.Args,
				Env:     st.Env,
				Dir:     st.Dir,
				Timeout: st.Timeout,
				With:    with,
			})
		}
		def.Stages = append(def.Stages, stage)
	}

	return def, nil
}

func hclEvalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !isHCLIdent(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(vars)},
	}
}

// isHCLIdent reports whether name can be referenced as env.NAME.
func isHCLIdent(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// ctyToOptions converts a step's `with` object into the same plain map
// shape yaml.v3 produces, so executors decode options identically for both formats.
func ctyToOptions(v cty.Value) (map[string]any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return nil, fmt.Errorf("with must be an object, got %s", v.Type().FriendlyName())
	}
	out, err := ctyToGo(v)
	if err != nil {
		return nil, err
	}
	return out.(map[string]any), nil
}

func ctyToGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is not known at load time")
	}

	ty := v.Type()
	switch {
	case ty.Equals(cty.String):
		return v.AsString(), nil
	case ty.Equals(cty.Bool):
		return v.True(), nil
	case ty.Equals(cty.Number):
		bf := v.AsBigFloat()
		if bf.IsInt() {
			i, _ := bf.Int64()
			return int(i), nil
		}
		f, _ := bf.Float64()
		return f, nil
	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]any)
		for k, ev := range v.AsValueMap() {
			gv, err := ctyToGo(ev)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = gv
		}
		return m, nil
	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		var list []any
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			gv, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			list = append(list, gv)
		}
		return list, nil
	}
	return nil, fmt.Errorf("unsupported value type %s", ty.FriendlyName())
}
