package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stagego/api"
	"stagego/runner"
	"stagego/runner/storage"
)

func newRunsCommand(settings *Settings) *cobra.Command {
	var limit int
	var project string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := settings.OpenStore()
			if err != nil {
				return err
			}
			defer store.Close()

			var runs []*storage.Run
			if project != "" {
				runs, err = store.GetProjectRuns(project, limit)
			} else {
				runs, err = store.GetRuns(limit)
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPIPELINE\tPROJECT\tBRANCH\tSTARTED\tDURATION")
			for _, run := range runs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.Status, run.Pipeline, orDash(run.ProjectName), orDash(run.Branch),
					run.StartedAt.Local().Format("2006-01-02 15:04:05"), orDash(deref(run.Duration)))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.Flags().StringVar(&project, "project", "", "only show runs of this project")

	cmd.AddCommand(newRunsShowCommand(settings))
	return cmd
}

func newRunsShowCommand(settings *Settings) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded run with its stages and steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid run ID %q", args[0])
			}

			store, err := settings.OpenStore()
			if err != nil {
				return err
			}
			defer store.Close()

			details, err := api.LoadRunDetails(store, id)
			if errors.Is(err, storage.ErrNotFound) {
				return &ExitError{Code: runner.ExitFailed, Message: fmt.Sprintf("run %d not found", id)}
			}
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(details)
			}
			printRunDetails(cmd.OutOrStdout(), details)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	return cmd
}

func printRunDetails(out io.Writer, d *api.RunDetails) {
	run := d.Run
	fmt.Fprintf(out, "Run %d  %s  %s\n", run.ID, run.Pipeline, run.Status)
	if run.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", run.Error)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "\nSTAGE\tSTATUS\tREASON\tEXIT\tDURATION")
	for _, st := range d.Stages {
		exit := "-"
		if st.ExitCode != nil {
			exit = strconv.Itoa(*st.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", st.Name, st.Status, orDash(st.Reason), exit, orDash(deref(st.Duration)))
	}
	w.Flush()

	for _, step := range d.Steps {
		fmt.Fprintf(out, "\n→ %s/%s [%s] %s\n", step.Stage, step.Name, step.Status, step.Command)
		if step.Output != "" {
			fmt.Fprint(out, step.Output)
		}
	}

	if len(d.Artifacts) > 0 {
		fmt.Fprintln(out, "\nArtifacts:")
		for _, a := range d.Artifacts {
			fmt.Fprintf(out, "  %s (%s, %d bytes) sha256:%s\n", a.Name, a.Stage, a.Size, a.Checksum)
		}
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
