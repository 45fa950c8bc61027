// Package cmd implements the stagego command line.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the stagego command tree.
func NewRootCommand() *cobra.Command {
	settings := LoadSettings()
	slog.SetDefault(settings.Logger())

	root := &cobra.Command{
		Use:   "stagego",
		Short: "Run staged build pipelines",
		Long: `StageGo runs a pipeline's stages in order, passing artifacts from stage to
stage, and records every run in a local history database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCommand(&settings))
	root.AddCommand(newValidateCommand())
	root.AddCommand(newPlanCommand())
	root.AddCommand(newRunsCommand(&settings))
	root.AddCommand(newServeCommand(&settings))

	return root
}

// Execute runs the command line.
func Execute() error {
	return NewRootCommand().Execute()
}
