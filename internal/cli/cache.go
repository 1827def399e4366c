package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/glorpus-work/datasets/internal/logger"
	"github.com/glorpus-work/datasets/pkg/cache"
	"github.com/glorpus-work/datasets/pkg/layout"
)

// NewCacheCmd creates the cache command with subcommands
func NewCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the dataset cache",
		Long:  "Clean, show information about, and locate the dataset cache",
	}

	cmd.AddCommand(
		newCacheCleanCmd(),
		newCacheInfoCmd(),
		newCacheDirCmd(),
	)

	return cmd
}

func newCacheCleanCmd() *cobra.Command {
	var (
		downloads bool
		extracts  bool
		prefix    string
	)

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Clean the dataset cache",
		Long: `Remove cached datasets to free up disk space.

Without --downloads or --extracts both are removed. Datasets that are being
prepared by another process are waited for.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCacheClean(cmd, downloads, extracts, prefix)
		},
	}

	cmd.Flags().BoolVar(&downloads, "downloads", false, "Clean only downloaded artifacts")
	cmd.Flags().BoolVar(&extracts, "extracts", false, "Clean only extracted files")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Clean only this dataset prefix")

	return cmd
}

func newCacheInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show cache information",
		Long:  "Display sizes and cached datasets of the data root",
		Args:  cobra.NoArgs,
		RunE:  runCacheInfo,
	}
}

func newCacheDirCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dir",
		Short: "Show the data root path",
		Long:  "Display the path to the data root",
		Args:  cobra.NoArgs,
		RunE:  runCacheDir,
	}
}

func newCacheManager() (*cache.DefaultManager, bool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, false, err
	}
	resolver, err := layout.NewResolver(dataRoot(cfg))
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve data root: %w", err)
	}
	return cache.NewManager(resolver.DefaultRoot(), cfg.Settings.LockTimeout), jsonOutput(cfg), nil
}

func runCacheClean(cmd *cobra.Command, downloads, extracts bool, prefix string) error {
	mgr, asJSON, err := newCacheManager()
	if err != nil {
		return err
	}

	if asJSON {
		result, err := mgr.Clean(cmd.Context(), cache.CleanOptions{Downloads: downloads, Extracts: extracts, Prefix: prefix})
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), result)
	}

	msg, err := cache.NewCacheOperation(mgr).Clean(cmd.Context(), downloads, extracts, prefix)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), msg)
	logger.Success("Cache cleaning completed", logger.Fields{"root": mgr.GetDirectory()})
	return nil
}

func runCacheInfo(cmd *cobra.Command, _ []string) error {
	mgr, asJSON, err := newCacheManager()
	if err != nil {
		return err
	}

	if asJSON {
		info, err := mgr.GetInfo()
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), info)
	}

	msg, err := cache.NewCacheOperation(mgr).GetInfo()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func runCacheDir(cmd *cobra.Command, _ []string) error {
	mgr, _, err := newCacheManager()
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), cache.NewCacheOperation(mgr).GetDirectory())
	return nil
}
