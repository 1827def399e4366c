package dataset

import (
	"context"

	"github.com/glorpus-work/datasets/pkg/model"
)

// Phase is a state of the acquisition pipeline.
type Phase string

const (
	PhaseChecking   Phase = "checking"
	PhaseFetching   Phase = "fetching"
	PhaseVerifying  Phase = "verifying"
	PhaseExtracting Phase = "extracting"
	PhaseReady      Phase = "ready"
	PhaseFailed     Phase = "failed"
)

// Event reports a pipeline transition for one prefix.
type Event struct {
	Phase  Phase
	Prefix string
	Msg    string
	Err    error
}

// Hooks receives pipeline events. OnEvent may be called from several
// goroutines when datasets are prepared concurrently.
type Hooks struct {
	OnEvent func(Event)
}

// Gate makes datasets ready.
//
//go:generate mockgen -source=types.go -destination=./mocks/types.go -package=mocks
type Gate interface {
	// EnsureReady returns the dataset once it is verified and materialised,
	// doing network and disk work only when the cache is not yet satisfied.
	EnsureReady(ctx context.Context, desc model.Descriptor) (*Dataset, error)

	// Inspect resolves the dataset without doing any work and reports whether
	// the cache is already satisfied.
	Inspect(desc model.Descriptor) (*Dataset, bool, error)
}
