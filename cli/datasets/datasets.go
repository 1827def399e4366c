package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/datasets/internal/cli"
)

var (
	configPath   string
	verbose      bool
	dataRoot     string
	outputFormat string
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}

	cancel()
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "datasets",
		Short: "Download, verify and cache sample datasets",
		Long: `datasets fetches sample datasets into a local cache:
- downloads from mirror URLs with checksum verification
- unpacks archives safely into a per-dataset directory
- reuses the cache across runs and processes`,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: user config dir)")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&dataRoot, "data-root", "", "data root directory (default: $DATASETS_DATA_ROOT or user cache dir)")
	cmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "", "output format (text, json)")

	// Set up CLI pkg variables
	cli.ConfigPath = &configPath
	cli.Verbose = &verbose
	cli.DataRoot = &dataRoot
	cli.OutputFormat = &outputFormat

	cmd.AddCommand(
		cli.NewGetCmd(),
		cli.NewFetchCmd(),
		cli.NewPathCmd(),
		cli.NewListCmd(),
		cli.NewCacheCmd(),
		cli.NewConfigCmd(),
		cli.NewVersionCmd(),
	)

	return cmd
}
