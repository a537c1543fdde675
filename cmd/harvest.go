package cmd

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/harvester/internal/app"
	"github.com/JakeFAU/harvester/internal/orchestrator"
)

type harvestOptions struct {
	limit   int
	delayMS int
	resume  bool
	dryRun  bool
	input   string
}

// newHarvestCmd creates the 'harvest' subcommand.
func newHarvestCmd() *cobra.Command {
	opts := &harvestOptions{}
	cmd := &cobra.Command{
		Use:   "harvest <source>",
		Short: "Harvests a configured source",
		Long: `Loads the source's work set, skips items already in its checkpoint when --resume
is given, and fetches the rest one paced request at a time. Interrupting the run
is safe: the checkpoint is saved before the process exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHarvestCommand(cmd, args[0], opts)
		},
	}
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "maximum number of items to process this run (0 = all)")
	cmd.Flags().IntVar(&opts.delayMS, "delay", -1, "minimum gap between requests in milliseconds (overrides pipeline.request_delay)")
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "continue from the saved checkpoint")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the work set without fetching")
	cmd.Flags().StringVar(&opts.input, "input", "", "work-set file (overrides the source's input)")
	return cmd
}

func runHarvestCommand(cmd *cobra.Command, name string, opts *harvestOptions) (err error) {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger().With(zap.String("source", name))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOpts := app.RunOptions{
		Source: name,
		Input:  opts.input,
		Limit:  opts.limit,
		Resume: opts.resume,
		DryRun: opts.dryRun,
	}
	if opts.delayMS >= 0 {
		delay := time.Duration(opts.delayMS) * time.Millisecond
		runOpts.Delay = &delay
	}

	run, err := appInstance.PrepareRun(ctx, runOpts)
	if err != nil {
		return err
	}

	// A panic past this point leaves the last saved checkpoint in place; report it and exit
	// cleanly so --resume can continue.
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Fatal error during harvest",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			confirmCheckpoint(context.WithoutCancel(ctx), run, logger)
			err = nil
		}
	}()

	if run.Server != nil && !opts.dryRun {
		addr := appInstance.Config().Metrics.Addr
		go func() {
			if serveErr := run.Server.ListenAndServe(ctx, addr); serveErr != nil {
				logger.Warn("Status server stopped", zap.Error(serveErr))
			}
		}()
	}

	summary, err := run.Execute(ctx)
	if err != nil {
		return fmt.Errorf("run harvest: %w", err)
	}
	printSummary(cmd.OutOrStdout(), summary, opts.dryRun)
	return nil
}

func confirmCheckpoint(ctx context.Context, run *app.Run, logger *zap.Logger) {
	record, err := run.Store.Load(ctx)
	if err != nil {
		logger.Error("Checkpoint could not be confirmed", zap.Error(err))
		return
	}
	logger.Info("Checkpoint confirmed; rerun with --resume to continue",
		zap.Int("processed", record.Len()),
	)
}

func printSummary(w io.Writer, s orchestrator.Summary, dryRun bool) {
	if dryRun {
		fmt.Fprintf(w, "source:    %s\n", s.Source)
		fmt.Fprintf(w, "total:     %d\n", s.Total)
		fmt.Fprintf(w, "remaining: %d\n", s.Remaining)
		fmt.Fprintf(w, "planned:   %d\n", len(s.Planned))
		ids := make([]string, len(s.Planned))
		for i, item := range s.Planned {
			ids[i] = item.ID
		}
		if len(ids) > 0 {
			fmt.Fprintln(w, strings.Join(ids, "\n"))
		}
		return
	}
	state := "incomplete"
	switch {
	case s.Interrupted:
		state = "interrupted"
	case s.Complete:
		state = "complete"
	}
	fmt.Fprintf(w, "source:     %s (%s)\n", s.Source, state)
	fmt.Fprintf(w, "run:        %s\n", s.RunID)
	fmt.Fprintf(w, "processed:  %d (succeeded %d, not found %d, failed %d)\n", s.Processed, s.Succeeded, s.NotFound, s.Failed)
	fmt.Fprintf(w, "retries:    %d\n", s.Retries)
	fmt.Fprintf(w, "pauses:     %d\n", s.Pauses)
	fmt.Fprintf(w, "checkpoint: %d of %d\n", s.Record.Processed(), s.Total)
	fmt.Fprintf(w, "elapsed:    %s\n", s.Elapsed.Round(time.Millisecond))
	for _, a := range s.Artifacts {
		fmt.Fprintf(w, "artifact:   %s\n", a.URI)
	}
}
