package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randr97/mage-ai/internal/pipeline"
)

type listOptions struct {
	jsonOutput bool
}

func newListCmd(root *rootFlags) *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the pipelines in the project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")

	return cmd
}

type pipelineListing struct {
	UUID   string `json:"uuid"`
	Name   string `json:"name,omitempty"`
	Blocks int    `json:"blocks"`
}

func runList(cmd *cobra.Command, root *rootFlags, opts *listOptions) error {
	ids, err := pipeline.List(root.project)
	if err != nil {
		return err
	}

	listings := make([]pipelineListing, 0, len(ids))
	for _, id := range ids {
		p, err := pipeline.Load(root.project, id)
		if err != nil {
			return err
		}
		listings = append(listings, pipelineListing{UUID: p.UUID, Name: p.Name, Blocks: len(p.Blocks)})
	}

	out := cmd.OutOrStdout()
	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	}

	if len(listings) == 0 {
		fmt.Fprintln(out, "No pipelines found. Create one with 'mage create pipeline <name>'.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "UUID\tNAME\tBLOCKS")
	for _, l := range listings {
		fmt.Fprintf(w, "%s\t%s\t%d\n", l.UUID, l.Name, l.Blocks)
	}
	return w.Flush()
}
