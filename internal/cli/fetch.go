package cli

import (
	"github.com/spf13/cobra"

	"github.com/glorpus-work/datasets/pkg/model"
)

// NewFetchCmd creates the fetch command for datasets outside the catalog.
func NewFetchCmd() *cobra.Command {
	var desc model.Descriptor

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download a dataset described on the command line",
		Long: `Download, verify and optionally extract an artifact that is not in the catalog.

--url may be repeated; later URLs are mirrors tried when earlier ones fail.
The checksum may carry an algorithm prefix, e.g. md5:0123... or sha256:abcd...`,
		Example: `  datasets fetch --prefix Bunny \
    --url https://example.com/BunnyMesh.ply \
    --checksum sha256:5f2e...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFetch(cmd, desc)
		},
	}

	cmd.Flags().StringVar(&desc.Prefix, "prefix", "", "Directory name of the dataset below the data root")
	cmd.Flags().StringArrayVar(&desc.URLs, "url", nil, "Artifact URL (repeat for mirrors)")
	cmd.Flags().StringVar(&desc.Checksum, "checksum", "", "Expected checksum, optionally prefixed with the algorithm")
	cmd.Flags().BoolVar(&desc.Extract, "extract", false, "Unpack the artifact into the extract directory")
	cmd.Flags().BoolVar(&desc.Copy, "copy", false, "Copy the artifact into the extract directory without unpacking")
	cmd.Flags().StringVar(&desc.Filename, "filename", "", "Artifact file name (default: last URL path segment)")
	cmd.Flags().StringSliceVar(&desc.Files, "files", nil, "Files that must exist after extraction")
	cmd.Flags().BoolVar(&desc.SkipVerify, "insecure-skip-verify", false, "Accept the artifact without a checksum")
	_ = cmd.MarkFlagRequired("prefix")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

func runFetch(cmd *cobra.Command, desc model.Descriptor) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}

	ds, err := eng.gate.EnsureReady(cmd.Context(), desc)
	if err != nil {
		return err
	}
	return printDatasets(cmd.OutOrStdout(), jsonOutput(cfg), []datasetView{newDatasetView("", ds, true)})
}
