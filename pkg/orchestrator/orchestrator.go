package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/glorpus-work/datasets/pkg/dataset"
	"github.com/glorpus-work/datasets/pkg/errors"
	"github.com/glorpus-work/datasets/pkg/model"
)

func emit(h Hooks, e Event) {
	if h.OnEvent != nil {
		h.OnEvent(e)
	}
}

// Prepare makes every named dataset ready and returns them keyed by name.
// All names are resolved before any download starts; the first failure
// cancels the remaining work.
func (o *Orchestrator) Prepare(ctx context.Context, names []string, opts Options) (map[string]*dataset.Dataset, error) {
	if o.Catalog == nil || o.Gate == nil {
		return nil, fmt.Errorf("orchestrator is not configured")
	}

	plan, err := o.plan(names, opts)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		for _, s := range plan {
			_, ready, err := o.Gate.Inspect(s.desc)
			if err != nil {
				return nil, errors.Wrapf(err, "dataset %s", s.name)
			}
			msg := "would fetch"
			if ready {
				msg = "cached"
			}
			emit(o.Hooks, Event{Phase: "planning", ID: s.name, Msg: msg})
		}
		emit(o.Hooks, Event{Phase: "done", Msg: "dry-run"})
		return map[string]*dataset.Dataset{}, nil
	}

	limit := opts.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var mu sync.Mutex
	out := make(map[string]*dataset.Dataset, len(plan))
	for _, s := range plan {
		g.Go(func() error {
			emit(o.Hooks, Event{Phase: "preparing", ID: s.name, Msg: s.desc.Prefix})
			ds, err := o.Gate.EnsureReady(gctx, s.desc)
			if err != nil {
				emit(o.Hooks, Event{Phase: "error", ID: s.name, Msg: err.Error()})
				return errors.Wrapf(err, "dataset %s", s.name)
			}
			bound, err := o.Catalog.Bind(s.name, ds)
			if err != nil {
				return err
			}
			emit(o.Hooks, Event{Phase: "ready", ID: s.name, Msg: bound.BaseDir()})

			mu.Lock()
			out[s.name] = bound
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	emit(o.Hooks, Event{Phase: "done"})
	return out, nil
}

// Status reports the cache state of each named dataset without network access.
func (o *Orchestrator) Status(names []string, opts Options) ([]Status, error) {
	if o.Catalog == nil || o.Gate == nil {
		return nil, fmt.Errorf("orchestrator is not configured")
	}
	plan, err := o.plan(names, opts)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(plan))
	for _, s := range plan {
		ds, ready, err := o.Gate.Inspect(s.desc)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset %s", s.name)
		}
		bound, err := o.Catalog.Bind(s.name, ds)
		if err != nil {
			return nil, err
		}
		out = append(out, Status{Name: s.name, Dataset: bound, Ready: ready})
	}
	return out, nil
}

type step struct {
	name string
	desc model.Descriptor
}

// plan resolves names to descriptors, dropping duplicates and keeping order.
func (o *Orchestrator) plan(names []string, opts Options) ([]step, error) {
	seen := make(map[string]bool, len(names))
	plan := make([]step, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		emit(o.Hooks, Event{Phase: "resolving", ID: name})
		desc, err := o.Catalog.Descriptor(name, opts.DataRoot)
		if err != nil {
			return nil, err
		}
		plan = append(plan, step{name: name, desc: desc})
	}
	return plan, nil
}
