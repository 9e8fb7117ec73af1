package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dupereap/dupereap/internal/config"
	"github.com/dupereap/dupereap/internal/finder"
	"github.com/dupereap/dupereap/internal/logging"
	"github.com/dupereap/dupereap/internal/planner"
	"github.com/dupereap/dupereap/internal/reaper"
	"github.com/dupereap/dupereap/internal/types"
)

var log = logging.L("cli")

// reapOptions holds CLI flags for the reap command.
type reapOptions struct {
	yes     bool
	dryRun  bool
	verbose bool
	sets    []int
}

// reapRecord is everything the reap command decided and did.
type reapRecord struct {
	strategy  planner.Strategy
	decisions []planner.Decision
	result    *reaper.Result // nil until the reaper has run
	freeSpace spaceChange
}

func newReapCmd(root *rootOptions) *cobra.Command {
	ro := &reapOptions{}
	out := &outputOptions{}

	cmd := &cobra.Command{
		Use:   "reap [paths...]",
		Short: "Delete redundant copies, keeping one file per duplicate set",
		Long: `Scans like 'scan', picks one keeper per duplicate set with --strategy, and
prints the plan. Nothing is deleted unless --yes is given.

Strategies:
  first     earliest in discovery order (earlier paths on the command line win)
  oldest    smallest modification time
  newest    largest modification time
  shortest  shortest path
  longest   longest path
Ties always go to the earlier file in discovery order.

Use --set to approve only some sets, by the numbers shown in the plan:
  dupereap reap /photos --set 2 --set 5 --yes

Use --dry-run to run every safety check without deleting anything.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(out.format); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			return runReap(cmd, cfg, args, ro, out, !root.noProgress)
		},
	}

	addScanFlags(cmd.Flags())
	cmd.Flags().StringP("strategy", "s", config.Default().Strategy,
		"Keeper selection: "+strings.Join(planner.Strategies(), ", "))
	cmd.Flags().BoolVarP(&ro.yes, "yes", "y", false, "Delete without further confirmation")
	cmd.Flags().BoolVarP(&ro.dryRun, "dry-run", "n", false, "Check every planned deletion but remove nothing")
	cmd.Flags().BoolVarP(&ro.verbose, "verbose", "v", false, "List every deleted file")
	cmd.Flags().IntSliceVar(&ro.sets, "set", nil, "Approve only this set number (repeatable)")
	addOutputFlags(cmd.Flags(), out)
	return cmd
}

// runReap plans, and with --yes or --dry-run executes, the deletions.
func runReap(cmd *cobra.Command, cfg *config.Config, paths []string, ro *reapOptions, out *outputOptions, showProgress bool) error {
	ctx := cmd.Context()
	strategy, err := cfg.RetentionStrategy()
	if err != nil {
		return err
	}

	report, err := runFind(ctx, cfg, paths, showProgress)
	if err != nil {
		return err
	}
	decisions, err := report.Plan(strategy, ro.sets)
	if err != nil {
		return err
	}
	rec := &reapRecord{strategy: strategy, decisions: decisions}

	if !ro.yes && !ro.dryRun {
		if err := writePlan(cmd.OutOrStdout(), out.format, report, rec); err != nil {
			return err
		}
		if len(decisions) > 0 {
			fmt.Fprintln(cmd.ErrOrStderr(), "Nothing deleted. Re-run with --yes to delete, or --dry-run to check each file.")
		}
		return maybeExport(cmd, out, report, rec)
	}

	rec.freeSpace.Before = freeSpace(report.Roots)

	errCh := make(chan error, 100)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for err := range errCh {
			var pe *types.PathError
			if errors.As(err, &pe) {
				log.Warn("not deleted", logging.KeyPath, pe.Path, logging.KeyError, pe.Err)
			}
		}
	}()
	result, runErr := reaper.New(decisions, ro.dryRun, showProgress, errCh).Run(ctx)
	close(errCh)
	<-drained

	rec.result = &result
	rec.freeSpace.After = freeSpace(report.Roots)

	if err := writeReap(cmd.OutOrStdout(), out.format, report, rec, ro.verbose); err != nil {
		return err
	}
	if err := maybeExport(cmd, out, report, rec); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if result.Failed > 0 {
		return fmt.Errorf("%d of %d planned deletions failed", result.Failed, result.Failed+result.Deleted)
	}
	return nil
}

func maybeExport(cmd *cobra.Command, out *outputOptions, report *finder.Report, rec *reapRecord) error {
	if out.dbPath == "" {
		return nil
	}
	return exportReport(cmd.Context(), out.dbPath, report, rec)
}
