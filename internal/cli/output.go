package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/glorpus-work/datasets/pkg/dataset"
	"github.com/glorpus-work/datasets/pkg/orchestrator"
)

// datasetView is the JSON shape of a resolved dataset.
type datasetView struct {
	Name        string         `json:"name,omitempty"`
	Prefix      string         `json:"prefix"`
	Ready       bool           `json:"ready"`
	BaseDir     string         `json:"base_dir"`
	Artifact    string         `json:"artifact"`
	DownloadDir string         `json:"download_dir"`
	ExtractDir  string         `json:"extract_dir"`
	Paths       map[string]any `json:"paths,omitempty"`
}

func newDatasetView(name string, ds *dataset.Dataset, ready bool) datasetView {
	v := datasetView{
		Name:        name,
		Prefix:      ds.Prefix(),
		Ready:       ready,
		BaseDir:     ds.BaseDir(),
		Artifact:    ds.ArtifactPath(),
		DownloadDir: ds.DownloadDir(),
		ExtractDir:  ds.ExtractDir(),
	}
	for _, key := range ds.Keys() {
		if v.Paths == nil {
			v.Paths = make(map[string]any)
		}
		if ds.IsList(key) {
			v.Paths[key], _ = ds.Paths(key)
		} else {
			v.Paths[key], _ = ds.Path(key)
		}
	}
	return v
}

func statusViews(statuses []orchestrator.Status) []datasetView {
	views := make([]datasetView, 0, len(statuses))
	for _, s := range statuses {
		views = append(views, newDatasetView(s.Name, s.Dataset, s.Ready))
	}
	return views
}

// printDatasets writes views as JSON or as a NAME/STATUS/PATH table.
func printDatasets(w io.Writer, asJSON bool, views []datasetView) error {
	if asJSON {
		return printJSON(w, views)
	}

	tw := tabwriter.NewWriter(w, 0, 0, TabWidth, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NAME\tSTATUS\tPATH")
	for _, v := range views {
		name := v.Name
		if name == "" {
			name = v.Prefix
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", name, readyLabel(v.Ready), v.BaseDir)
	}
	return tw.Flush()
}

func readyLabel(ready bool) string {
	if ready {
		return "ready"
	}
	return "missing"
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
