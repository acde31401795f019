package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/internal/state"
)

type statusOptions struct {
	format string
	steps  bool
}

func newStatusCmd() *cobra.Command {
	var opts statusOptions

	cmd := &cobra.Command{
		Use:   "status <document-id>",
		Short: "Show workflow status for a document",
		Long: `List the ingestion workflows recorded for a document, most recent
first. With --steps, print each workflow's per-step lifecycle too.

Examples:
  docuflow status doc-7f3a
  docuflow status doc-7f3a --steps --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.steps, "steps", false, "Include per-step detail")

	return cmd
}

type workflowReport struct {
	*state.Workflow
	Steps map[state.StepName]state.StepRecord `json:"steps,omitempty"`
}

func runStatus(ctx context.Context, cmd *cobra.Command, documentID string, opts statusOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{stateStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	workflows, err := a.state.ListWorkflows(ctx, documentID)
	if err != nil {
		return err
	}

	reports := make([]workflowReport, 0, len(workflows))
	for _, wf := range workflows {
		rep := workflowReport{Workflow: wf}
		if opts.steps {
			steps, err := a.state.GetSteps(ctx, wf.WorkflowID)
			if err != nil {
				return err
			}
			rep.Steps = steps
		}
		reports = append(reports, rep)
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(reports)
	}

	if len(reports) == 0 {
		fmt.Fprintf(out, "no workflows for document %s\n", documentID)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WORKFLOW\tSTATUS\tFILE\tSTARTED\tERROR")
	for _, rep := range reports {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			rep.WorkflowID, rep.Status, rep.FileName,
			rep.StartedAt.Format(time.RFC3339), rep.Error)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if opts.steps {
		for _, rep := range reports {
			fmt.Fprintf(out, "\nsteps for %s:\n", rep.WorkflowID)
			printSteps(out, rep.Steps)
		}
	}
	return nil
}

func printSteps(out io.Writer, steps map[state.StepName]state.StepRecord) {
	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, string(name))
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "  STEP\tSTATE\tERROR")
	for _, name := range names {
		rec := steps[state.StepName(name)]
		fmt.Fprintf(w, "  %s\t%s\t%s\n", name, rec.State, rec.Error)
	}
	_ = w.Flush()
}
