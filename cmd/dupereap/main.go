package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dupereap/dupereap/internal/config"
	"github.com/dupereap/dupereap/internal/logging"
	"github.com/dupereap/dupereap/internal/progress"
)

var (
	version = "dev"
	commit  = "none"
)

// rootOptions holds flags shared by every subcommand.
type rootOptions struct {
	configFile string
	noProgress bool
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	defaults := config.Default()

	root := &cobra.Command{
		Use:           "dupereap",
		Short:         "Find duplicate files and reclaim the space they waste",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "Config file (default: dupereap.yaml in the user config dir or .)")
	pf.String("log-level", defaults.LogLevel, "Log level: debug, info, warn, error")
	pf.String("log-format", defaults.LogFormat, "Log format: text or json")
	pf.BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")

	root.AddCommand(newScanCmd(opts), newReapCmd(opts), newAlgorithmsCmd())
	return root
}

// loadConfig merges file, environment and the command's flags, then
// configures logging.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, cmd.ErrOrStderr())
	progress.Output = cmd.ErrOrStderr()
	return cfg, nil
}
