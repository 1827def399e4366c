package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewListCmd creates the list command.
func NewListCmd() *cobra.Command {
	var readyOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog datasets",
		Long: `List every dataset in the catalog with its cache status.

A dataset is "ready" when its artifact is present and verified and, for
extracted datasets, its extracted files are complete.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runList(cmd, readyOnly)
		},
	}

	cmd.Flags().BoolVar(&readyOnly, "ready", false, "Only list datasets that are ready")

	return cmd
}

type listView struct {
	datasetView
	Description string `json:"description,omitempty"`
}

func runList(cmd *cobra.Command, readyOnly bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	orch, cat, err := eng.orchestrator()
	if err != nil {
		return err
	}

	statuses, err := orch.Status(cat.Names(), eng.options())
	if err != nil {
		return err
	}

	views := make([]listView, 0, len(statuses))
	for _, s := range statuses {
		if readyOnly && !s.Ready {
			continue
		}
		entry, err := cat.Lookup(s.Name)
		if err != nil {
			return err
		}
		views = append(views, listView{
			datasetView: newDatasetView(s.Name, s.Dataset, s.Ready),
			Description: entry.Description,
		})
	}

	out := cmd.OutOrStdout()
	if jsonOutput(cfg) {
		return printJSON(out, views)
	}

	if len(views) == 0 {
		_, _ = fmt.Fprintln(out, "No datasets found")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATUS\tPREFIX\tDESCRIPTION")
	for _, v := range views {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", v.Name, readyLabel(v.Ready), v.Prefix, truncate(v.Description, MaxDescriptionLength))
	}
	return tw.Flush()
}
