package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewPathCmd creates the path command.
func NewPathCmd() *cobra.Command {
	var keys bool

	cmd := &cobra.Command{
		Use:   "path NAME [KEY]",
		Short: "Print where a dataset's files live",
		Long: `Print the base directory of a catalog dataset, or the path(s) behind one of its
named accessors. No network access is done; use "get" to download the dataset.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 2 {
				key = args[1]
			}
			return runPath(cmd, args[0], key, keys)
		},
	}

	cmd.Flags().BoolVar(&keys, "keys", false, "List the accessor keys of the dataset")

	return cmd
}

func runPath(cmd *cobra.Command, name, key string, keys bool) error {
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

	statuses, err := orch.Status([]string{name}, eng.options())
	if err != nil {
		return err
	}
	ds := statuses[0].Dataset
	out := cmd.OutOrStdout()

	switch {
	case keys:
		for _, k := range ds.Keys() {
			_, _ = fmt.Fprintln(out, k)
		}
	case key == "":
		_, _ = fmt.Fprintln(out, ds.BaseDir())
	case ds.IsList(key):
		paths, err := ds.Paths(key)
		if err != nil {
			return err
		}
		for _, p := range paths {
			_, _ = fmt.Fprintln(out, p)
		}
	default:
		p, err := ds.Path(key)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, p)
	}
	return nil
}
