//go:generate mockgen -destination=./mocks/orchestrator.go -package=mocks . Catalog

package orchestrator

import (
	"github.com/glorpus-work/datasets/pkg/dataset"
	"github.com/glorpus-work/datasets/pkg/model"
)

// Catalog is the subset of the catalog used by the orchestrator.
type Catalog interface {
	Descriptor(name, dataRoot string) (model.Descriptor, error)
	Bind(name string, ds *dataset.Dataset) (*dataset.Dataset, error)
}

// Orchestrator prepares named datasets from a catalog through a gate.
type Orchestrator struct {
	Catalog Catalog
	Gate    dataset.Gate
	Hooks   Hooks // Hooks for progress and event notifications
}

// Event represents a simple progress notification.
type Event struct {
	Phase string // resolving|planning|preparing|ready|done|error
	ID    string // dataset name
	Msg   string
}

// Hooks carries callbacks for progress events.
type Hooks struct {
	OnEvent func(Event)
}

// Options control orchestrator execution.
type Options struct {
	DataRoot    string // overrides the root of every descriptor when set
	Concurrency int    // datasets prepared at once; <= 0 means one
	DryRun      bool   // only report what would be prepared
}

// Status is the cache state of one named dataset.
type Status struct {
	Name    string
	Dataset *dataset.Dataset
	Ready   bool
}
