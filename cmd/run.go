package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"stagego/runner"
)

type runFlags struct {
	branch  string
	tag     string
	report  string
	json    bool
	noStore bool
	quiet   bool
}

func newRunCommand(settings *Settings) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [config]",
		Short: "Run a pipeline",
		Long: `Runs every stage of the pipeline in order and exits with the run's status:
0 succeeded, 1 failed, 2 invalid pipeline, 124 a step timed out, 130 aborted.
Interrupting the command aborts the run.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := findConfig(args)
			if err != nil {
				return err
			}
			def, err := loadDefinition(cmd.ErrOrStderr(), configPath)
			if err != nil {
				return err
			}

			opts := runner.RunPipelineOptions{
				StreamToTerminal: !flags.quiet && !flags.json,
				Stdout:           cmd.OutOrStdout(),
				Stderr:           cmd.ErrOrStderr(),
				Logger:           settings.Logger(),
				OutputLimit:      settings.OutputLimit,
				ArtifactDir:      settings.ArtifactDir(),
				ConfigPath:       configPath,
				Branch:           flags.branch,
				Tag:              flags.tag,
			}
			if !flags.noStore {
				store, err := settings.OpenStore()
				if err != nil {
					return err
				}
				defer store.Close()
				opts.Storage = store
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, runErr := runner.NewController(opts).RunPipeline(ctx, def)
			if report == nil {
				return runErr
			}
			if runErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "💥 %v\n", runErr)
			}

			if flags.report != "" {
				if err := writeReport(flags.report, report); err != nil {
					return err
				}
			}
			if flags.json {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return err
				}
			} else {
				printSummary(cmd, report)
			}

			if code := report.ExitCode(); code != runner.ExitSucceeded {
				return &ExitError{Code: code}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.branch, "branch", "", "branch name for stage conditions")
	cmd.Flags().StringVar(&flags.tag, "tag", "", "tag name for stage conditions")
	cmd.Flags().StringVar(&flags.report, "report", "", "write the JSON run report to this file")
	cmd.Flags().BoolVar(&flags.json, "json", false, "print the JSON run report instead of progress")
	cmd.Flags().BoolVar(&flags.noStore, "no-store", false, "do not record the run in the history database")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "do not stream step output")

	return cmd
}

func writeReport(path string, report *runner.RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func printSummary(cmd *cobra.Command, report *runner.RunReport) {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	for _, stage := range report.Stages {
		line := fmt.Sprintf("  %-20s %-10s", stage.Name, stage.Status)
		switch {
		case stage.Status == runner.StageSkipped:
			line += " (" + stage.SkipReason + ")"
		case stage.Status == runner.StageFailed:
			line += fmt.Sprintf(" (%s at %s)", stage.Reason, stage.FailedStep)
		default:
			line += " " + stage.Duration.Round(time.Millisecond).String()
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "\n📊 Run ID: %d | Status: %s | Duration: %s\n", report.RunID, report.Status, report.Duration.Round(time.Millisecond))

	if failed := report.FailedStage(); failed != nil && failed.OutputTail != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "\n--- output of %s/%s ---\n%s", failed.Name, failed.FailedStep, failed.OutputTail)
	}
}
