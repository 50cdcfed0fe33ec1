package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/randr97/mage-ai/internal/config"
	"github.com/randr97/mage-ai/internal/events"
	"github.com/randr97/mage-ai/internal/history"
	"github.com/randr97/mage-ai/internal/logger"
	"github.com/randr97/mage-ai/internal/orchestrator"
	"github.com/randr97/mage-ai/internal/pipeline"
	"github.com/randr97/mage-ai/internal/runtime"
	"github.com/randr97/mage-ai/internal/status"
	"github.com/randr97/mage-ai/internal/varstore"
)

type runOptions struct {
	pipelineID string
	blockID    string
	upstream   bool
	downstream bool
	restart    bool
	failFast   bool
}

func newRunCmd(root *rootFlags) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a pipeline or a single block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.pipelineID, "pipeline", "", "Pipeline to run")
	cmd.MarkFlagRequired("pipeline") //nolint:errcheck
	cmd.Flags().StringVar(&opts.blockID, "block", "", "Run only this block")
	cmd.Flags().BoolVar(&opts.upstream, "upstream", false, "Also run the block's upstream dependencies")
	cmd.Flags().BoolVar(&opts.downstream, "downstream", false, "Also run the block's downstream dependents")
	cmd.Flags().BoolVar(&opts.restart, "restart", false, "Interrupt a conflicting in-flight run instead of failing")
	cmd.Flags().BoolVar(&opts.failFast, "fail-fast", false, "Stop dispatching new blocks after the first failure")

	return cmd
}

func runRun(cmd *cobra.Command, root *rootFlags, opts runOptions) error {
	settings, err := config.Load(root.project)
	if err != nil {
		return err
	}

	level := settings.LogLevel
	if root.verbose {
		level = "debug"
	}
	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	log, err := logger.New(logger.Options{Level: level, HumanReadable: interactive})
	if err != nil {
		return err
	}

	hist, err := history.Open(settings.HistoryDB)
	if err != nil {
		return err
	}
	defer hist.Close()

	o := orchestrator.New(orchestrator.Options{
		ProjectRoot: root.project,
		Runtime: runtime.NewProcessRuntime(runtime.ProcessOptions{
			Command:     settings.Interpreter,
			GracePeriod: settings.GracePeriod,
			Logger:      log,
		}),
		Store:          varstore.New(root.project),
		History:        hist,
		Logger:         log,
		MaxConcurrency: settings.Concurrency,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runOpts := orchestrator.RunOptions{
		Upstream:   opts.upstream,
		Downstream: opts.downstream,
		FailFast:   opts.failFast,
	}
	if opts.restart {
		runOpts.OnConflict = orchestrator.ConflictRestart
	}

	var handle *orchestrator.Handle
	if opts.blockID == "" {
		handle, err = o.RunPipeline(ctx, opts.pipelineID, runOpts)
	} else {
		handle, err = o.RunBlock(ctx, opts.pipelineID, opts.blockID, runOpts)
	}
	if err != nil {
		return err
	}

	streamEvents(cmd, handle, interactive)
	final := handle.Wait()

	p, err := pipeline.Load(root.project, opts.pipelineID)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), renderRunReport(handle.RunID, p, final, interactive))

	if final != status.Succeeded {
		return fmt.Errorf("run %s finished with status %s", handle.RunID, final)
	}
	return nil
}

// streamEvents relays the live feed to the terminal until the run closes
// it. Completion events are left to the final report.
func streamEvents(cmd *cobra.Command, handle *orchestrator.Handle, interactive bool) {
	out := cmd.OutOrStdout()
	for ev := range handle.Events() {
		switch ev.Kind {
		case events.KindOutput:
			fmt.Fprintf(out, "%s %s\n", renderBlockTag(ev.BlockID, interactive), ev.Text)
		case events.KindError:
			detail := ""
			if ev.Error != nil {
				detail = ev.Error.Message
			}
			fmt.Fprintf(out, "%s %s\n", renderBlockTag(ev.BlockID, interactive), renderError(detail, interactive))
		}
	}
}
