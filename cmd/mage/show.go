package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randr97/mage-ai/internal/pipeline"
)

func newShowCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <pipeline>",
		Short: "Show a pipeline's blocks, edges, and statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(cmd, root, args[0])
		},
	}
	return cmd
}

func runShow(cmd *cobra.Command, root *rootFlags, pipelineID string) error {
	p, err := pipeline.Load(root.project, pipelineID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if p.Name != "" {
		fmt.Fprintf(out, "%s (%s)\n", p.Name, p.UUID)
	} else {
		fmt.Fprintln(out, p.UUID)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BLOCK\tTYPE\tSTATUS\tUPSTREAM")
	for _, b := range p.Blocks {
		upstream := strings.Join(b.UpstreamIDs, ", ")
		if upstream == "" {
			upstream = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.UUID, b.Kind, b.Status, upstream)
	}
	return w.Flush()
}
