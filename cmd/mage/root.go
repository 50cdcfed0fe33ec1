package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	project string
	verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "mage",
		Short:         "Mage runs data pipelines as DAGs of isolated blocks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.project, "project", "p", ".", "Path to the project directory")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newListCmd(flags))
	cmd.AddCommand(newShowCmd(flags))
	cmd.AddCommand(newCreateCmd(flags))
	cmd.AddCommand(newHistoryCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
