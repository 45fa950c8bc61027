package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stagego/runner"
)

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config]",
		Short: "Check a pipeline definition without running it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := findConfig(args)
			if err != nil {
				return err
			}
			def, err := loadDefinition(cmd.ErrOrStderr(), configPath)
			if err != nil {
				return err
			}

			steps := 0
			for _, stage := range def.Stages {
				steps += len(stage.Steps)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✅ %s: %d stage(s), %d step(s)\n", def.Name, len(def.Stages), steps)
			return nil
		},
	}
}

func newPlanCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "plan [config]",
		Short: "Print the stages a run would execute, in order",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := findConfig(args)
			if err != nil {
				return err
			}
			def, err := loadDefinition(cmd.ErrOrStderr(), configPath)
			if err != nil {
				return err
			}
			graph, err := runner.NewGraph(def, runner.DefaultRegistry(), nil)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(graph.Plan())
			}

			fmt.Fprintf(w, "🚀 Pipeline: %s\n", def.Name)
			for i, stage := range graph.Plan() {
				fmt.Fprintf(w, "\n%d. 📦 %s%s\n", i+1, stage.Name, describeStage(stage))
				for _, step := range stage.Steps {
					line := fmt.Sprintf("   → %s: %s", step.Name, step.Describe())
					if step.Timeout != "" {
						line += fmt.Sprintf(" (timeout %s)", step.Timeout)
					}
					fmt.Fprintln(w, line)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the plan as JSON")
	return cmd
}

func describeStage(stage runner.StageDefinition) string {
	var notes []string
	if w := stage.When; w != nil {
		if w.Status != "" {
			notes = append(notes, "when "+w.Status)
		}
		if w.Branch != "" {
			notes = append(notes, "branch "+w.Branch)
		}
		if w.Tag != "" {
			notes = append(notes, "tag "+w.Tag)
		}
	}
	if stage.ContinueOnFailure {
		notes = append(notes, "advisory")
	}
	if len(stage.Inputs) > 0 {
		notes = append(notes, "in: "+strings.Join(stage.Inputs, ", "))
	}
	if len(stage.Outputs) > 0 {
		names := make([]string, len(stage.Outputs))
		for i, out := range stage.Outputs {
			names[i] = out.Name
		}
		notes = append(notes, "out: "+strings.Join(names, ", "))
	}
	if len(notes) == 0 {
		return ""
	}
	return " [" + strings.Join(notes, "; ") + "]"
}
