package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/randr97/mage-ai/internal/pipeline"
)

func newCreateCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create pipelines and blocks",
	}
	cmd.AddCommand(newCreatePipelineCmd(root))
	cmd.AddCommand(newCreateBlockCmd(root))
	return cmd
}

func newCreatePipelineCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline <name>",
		Short: "Create an empty pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			id := pipeline.CleanName(name)
			if id == "" {
				return fmt.Errorf("pipeline name %q reduces to an empty id", name)
			}
			p := pipeline.New(id, name)
			if err := p.Save(root.project); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created pipeline %s\n", id)
			return nil
		},
	}
}

type createBlockOptions struct {
	pipelineID string
	kind       string
	upstream   []string
}

func newCreateBlockCmd(root *rootFlags) *cobra.Command {
	opts := createBlockOptions{}

	cmd := &cobra.Command{
		Use:   "block <name>",
		Short: "Scaffold a block and attach it to a pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateBlock(cmd, root, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.pipelineID, "pipeline", "", "Pipeline to attach the block to")
	cmd.MarkFlagRequired("pipeline") //nolint:errcheck
	cmd.Flags().StringVar(&opts.kind, "type", string(pipeline.KindTransformer), "Block type")
	cmd.Flags().StringSliceVar(&opts.upstream, "upstream", nil, "Upstream block ids, in input order")

	return cmd
}

func runCreateBlock(cmd *cobra.Command, root *rootFlags, name string, opts createBlockOptions) error {
	kind := pipeline.BlockKind(opts.kind)
	p, err := pipeline.Load(root.project, opts.pipelineID)
	if err != nil {
		return err
	}

	id, err := pipeline.Scaffold(root.project, name, kind)
	if err != nil {
		return err
	}

	block := &pipeline.Block{
		UUID:        id,
		Name:        name,
		Kind:        kind,
		UpstreamIDs: opts.upstream,
	}
	if err := p.AddBlock(block); err != nil {
		return err
	}
	if err := p.Save(root.project); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created %s block %s in pipeline %s\n", kind, id, p.UUID)
	return nil
}
