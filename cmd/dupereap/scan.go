package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dupereap/dupereap/internal/cache"
	"github.com/dupereap/dupereap/internal/config"
	"github.com/dupereap/dupereap/internal/export"
	"github.com/dupereap/dupereap/internal/finder"
	"github.com/dupereap/dupereap/internal/hasher"
)

// outputOptions holds flags that control how a report is written.
type outputOptions struct {
	format string
	dbPath string
}

// addScanFlags registers the configuration keys a scan reads. Flags are only
// defaults here; config.Load decides precedence against file and env.
func addScanFlags(fs *pflag.FlagSet) {
	d := config.Default()
	fs.StringP("min-size", "m", d.MinSize, "Minimum file size (e.g., 100, 1K, 10M, 1GiB)")
	fs.StringP("algorithm", "a", d.Algorithm, "Digest algorithm (see 'dupereap algorithms')")
	fs.Bool("partial", d.Partial, "Compare a prefix digest before hashing whole files")
	fs.String("partial-size", d.PartialSize, "Prefix window for --partial")
	fs.IntP("workers", "w", d.Workers, "Number of parallel workers")
	fs.StringSliceP("exclude", "e", nil, "Glob patterns to exclude (matched against base names)")
	fs.Bool("hardlinks", d.Hardlinks, "Recognize hardlinks (off: every path is its own file)")
	fs.String("cache", d.Cache, "Path to digest cache file (enables caching)")
}

func addOutputFlags(fs *pflag.FlagSet, out *outputOptions) {
	fs.StringVarP(&out.format, "format", "f", "text", "Output format: "+strings.Join(formats, ", "))
	fs.StringVar(&out.dbPath, "db", "", "Also write the results to a SQLite database at this path")
}

func newScanCmd(root *rootOptions) *cobra.Command {
	out := &outputOptions{}

	cmd := &cobra.Command{
		Use:   "scan [paths...]",
		Short: "Report duplicate files without changing anything",
		Long: `Walks the given paths and reports sets of files with identical content.

Files are grouped by size, then by content digest. Paths that are already
hardlinks of each other are reported separately, since they use no extra space.
Earlier paths on the command line come first in discovery order.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(out.format); err != nil {
				return err
			}
			cfg, err := loadConfig(cmd, root)
			if err != nil {
				return err
			}
			report, err := runFind(cmd.Context(), cfg, args, !root.noProgress)
			if err != nil {
				return err
			}
			if err := maybeExport(cmd, out, report, nil); err != nil {
				return err
			}
			return writeReport(cmd.OutOrStdout(), out.format, report)
		},
	}

	addScanFlags(cmd.Flags())
	addOutputFlags(cmd.Flags(), out)
	return cmd
}

// runFind opens the optional digest cache and runs the detection pipeline.
func runFind(ctx context.Context, cfg *config.Config, paths []string, showProgress bool) (*finder.Report, error) {
	opts, err := cfg.Options(paths, showProgress)
	if err != nil {
		return nil, err
	}

	digestCache, err := cache.Open(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = digestCache.Close() }()

	return finder.Find(ctx, opts, digestCache)
}

// exportReport writes the report, and the reap results when present, to a
// fresh SQLite database.
func exportReport(ctx context.Context, path string, report *finder.Report, reaped *reapRecord) error {
	e, err := export.Create(path)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer e.Close()

	if err := e.WriteReport(ctx, report); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if reaped == nil {
		return nil
	}
	if err := e.WritePlan(ctx, reaped.strategy, reaped.decisions); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if reaped.result != nil {
		if err := e.WriteOutcomes(ctx, *reaped.result); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}
	return nil
}

func newAlgorithmsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "algorithms",
		Short: "List supported digest algorithms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := cmd.OutOrStdout()
			for _, name := range hasher.Names() {
				alg, err := hasher.Lookup(name)
				if err != nil {
					return err
				}
				marker := ""
				if name == hasher.Default {
					marker = " (default)"
				}
				fmt.Fprintf(w, "%-12s %4d bits%s\n", name, alg.Size*8, marker)
			}
			return nil
		},
	}
}
