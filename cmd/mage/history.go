package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/randr97/mage-ai/internal/config"
	"github.com/randr97/mage-ai/internal/history"
)

type historyOptions struct {
	pipelineID string
	runID      string
	limit      int
}

func newHistoryCmd(root *rootFlags) *cobra.Command {
	opts := historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.pipelineID, "pipeline", "", "Only show runs of this pipeline")
	cmd.Flags().StringVar(&opts.runID, "run", "", "Show the block attempts of one run")
	cmd.Flags().IntVar(&opts.limit, "limit", 20, "Maximum number of runs to show")

	return cmd
}

func runHistory(cmd *cobra.Command, root *rootFlags, opts historyOptions) error {
	settings, err := config.Load(root.project)
	if err != nil {
		return err
	}
	hist, err := history.Open(settings.HistoryDB)
	if err != nil {
		return err
	}
	defer hist.Close()

	out := cmd.OutOrStdout()
	if opts.runID != "" {
		blocks, err := hist.BlockRuns(opts.runID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "BLOCK\tSTATUS\tDURATION\tERROR")
		for _, b := range blocks {
			errText := "-"
			if b.ErrorMessage != "" {
				errText = b.ErrorKind + ": " + b.ErrorMessage
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.BlockID, b.Status, b.Duration.Round(time.Millisecond), errText)
		}
		return w.Flush()
	}

	runs, err := hist.RecentRuns(opts.pipelineID, opts.limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No recorded runs.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tPIPELINE\tTRIGGER\tSTATUS\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.RunID, r.PipelineID, r.Trigger, r.Status, r.StartedAt.Format(time.RFC3339))
	}
	return w.Flush()
}
