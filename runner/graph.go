package runner

import "fmt"

// Graph is the validated execution plan of a pipeline together with the
// run's artifact namespace.
type Graph struct {
	def       *PipelineDefinition
	stages    []StageDefinition
	artifacts *ArtifactNamespace
}

// NewGraph validates def against reg and binds it to a namespace.
func NewGraph(def *PipelineDefinition, reg *Registry, ns *ArtifactNamespace) (*Graph, error) {
	if err := def.ValidateWith(reg); err != nil {
		return nil, err
	}
	stages := make([]StageDefinition, len(def.Stages))
	copy(stages, def.Stages)
	return &Graph{def: def, stages: stages, artifacts: ns}, nil
}

// Plan returns the stages in execution order. The core is branch-free, so
// this is declaration order.
func (g *Graph) Plan() []StageDefinition {
	return append([]StageDefinition(nil), g.stages...)
}

// ResolveArtifact returns the artifact currently published under name.
func (g *Graph) ResolveArtifact(name string) (ArtifactRef, error) {
	return g.artifacts.Resolve(name)
}

// publishExternal publishes the artifacts supplied with the definition.
func (g *Graph) publishExternal() error {
	for _, a := range g.def.Artifacts {
		if _, err := g.artifacts.Publish("", a.Name, g.def.resolvePath(a.Path)); err != nil {
			return fmt.Errorf("failed to publish external artifact: %w", err)
		}
	}
	return nil
}

// publishOutputs publishes a succeeded stage's declared outputs relative to
// the pipeline directory.
func (g *Graph) publishOutputs(stage StageDefinition) ([]string, error) {
	names := make([]string, 0, len(stage.Outputs))
	for _, out := range stage.Outputs {
		if _, err := g.artifacts.Publish(stage.Name, out.Name, g.def.resolvePath(out.Path)); err != nil {
			return names, err
		}
		names = append(names, out.Name)
	}
	return names, nil
}
