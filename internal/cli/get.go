package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewGetCmd creates the get command.
func NewGetCmd() *cobra.Command {
	var (
		dryRun bool
		jobs   int
	)

	cmd := &cobra.Command{
		Use:   "get NAME...",
		Short: "Download and prepare datasets",
		Long: `Make the named catalog datasets ready for use.

Datasets already present and verified in the cache are not downloaded again.
Several datasets are prepared in parallel, up to --jobs at a time.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd, args, dryRun, jobs)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only report which datasets would be downloaded")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Datasets prepared at once (default: max_concurrent)")

	return cmd
}

func runGet(cmd *cobra.Command, names []string, dryRun bool, jobs int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	orch, _, err := eng.orchestrator()
	if err != nil {
		return err
	}

	opts := eng.options()
	if jobs > 0 {
		opts.Concurrency = jobs
	}

	if dryRun {
		statuses, err := orch.Status(names, opts)
		if err != nil {
			return err
		}
		return printDatasets(cmd.OutOrStdout(), jsonOutput(cfg), statusViews(statuses))
	}

	prepared, err := orch.Prepare(cmd.Context(), names, opts)
	if err != nil {
		return err
	}

	views := make([]datasetView, 0, len(prepared))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		ds, ok := prepared[name]
		if !ok {
			return fmt.Errorf("dataset %s was not prepared", name)
		}
		views = append(views, newDatasetView(name, ds, true))
	}
	return printDatasets(cmd.OutOrStdout(), jsonOutput(cfg), views)
}
