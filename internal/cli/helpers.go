package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/glorpus-work/datasets/internal/logger"
	"github.com/glorpus-work/datasets/pkg/archive"
	"github.com/glorpus-work/datasets/pkg/catalog"
	"github.com/glorpus-work/datasets/pkg/config"
	"github.com/glorpus-work/datasets/pkg/dataset"
	"github.com/glorpus-work/datasets/pkg/download"
	"github.com/glorpus-work/datasets/pkg/layout"
	"github.com/glorpus-work/datasets/pkg/orchestrator"
	"github.com/glorpus-work/datasets/pkg/verify"
)

// These variables will be set by the main package
var (
	ConfigPath   *string
	Verbose      *bool
	DataRoot     *string
	OutputFormat *string
)

// engine bundles the collaborators every dataset command needs.
type engine struct {
	cfg      *config.Config
	resolver *layout.Resolver
	gate     *dataset.CacheGate
}

// loadConfig loads the config file and initialises logging from it and the
// global flags. The returned config is what is on disk; flag overrides are
// applied by dataRoot and outputFormat.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Settings.LogLevel
	if Verbose != nil && *Verbose {
		level = "debug"
	}
	logger.InitLogger(level, logger.OutputFormat(outputFormat(cfg)))

	return cfg, nil
}

func getConfigPath() string {
	if ConfigPath != nil && *ConfigPath != "" {
		return *ConfigPath
	}
	return config.GetDefaultConfigPath()
}

// dataRoot returns the data root with --data-root taking precedence over
// the environment and the config file.
func dataRoot(cfg *config.Config) string {
	if DataRoot != nil && *DataRoot != "" {
		return *DataRoot
	}
	return cfg.DataRoot()
}

func outputFormat(cfg *config.Config) string {
	if OutputFormat != nil && *OutputFormat != "" {
		return *OutputFormat
	}
	return cfg.Settings.OutputFormat
}

func jsonOutput(cfg *config.Config) bool {
	return outputFormat(cfg) == "json"
}

// newEngine wires the fetcher, verifier and extractor into a cache gate.
func newEngine(cfg *config.Config) (*engine, error) {
	resolver, err := layout.NewResolver(dataRoot(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data root: %w", err)
	}

	verifier, err := verify.NewVerifier(cfg.Settings.ChecksumAlgorithm)
	if err != nil {
		return nil, err
	}

	fetcher := download.NewFetcher(cfg.Settings.HTTPTimeout, cfg.Settings.UserAgent,
		download.WithProgress(newProgressLogger().report))

	gate := dataset.NewGate(resolver, fetcher, verifier, archive.NewManager(),
		dataset.WithLockTimeout(cfg.Settings.LockTimeout),
		dataset.WithHooks(dataset.Hooks{OnEvent: logGateEvent}),
	)

	return &engine{cfg: cfg, resolver: resolver, gate: gate}, nil
}

// orchestrator loads the catalog and returns an orchestrator over it.
func (e *engine) orchestrator() (*orchestrator.Orchestrator, *catalog.Catalog, error) {
	cat, err := catalog.Load(e.cfg.CatalogPath())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	return &orchestrator.Orchestrator{
		Catalog: cat,
		Gate:    e.gate,
		Hooks:   orchestrator.Hooks{OnEvent: logOrchestratorEvent},
	}, cat, nil
}

// options builds orchestrator options. An explicit --data-root also
// overrides roots recorded in catalog entries.
func (e *engine) options() orchestrator.Options {
	opts := orchestrator.Options{Concurrency: e.cfg.Settings.MaxConcurrent}
	if DataRoot != nil && *DataRoot != "" {
		opts.DataRoot = e.resolver.DefaultRoot()
	}
	return opts
}

func logGateEvent(e dataset.Event) {
	fields := logger.Fields{"prefix": e.Prefix, "phase": string(e.Phase)}
	if e.Err != nil {
		fields["error"] = e.Err.Error()
	}
	logger.Debug(e.Msg, fields)
}

func logOrchestratorEvent(e orchestrator.Event) {
	logger.Debug("Orchestrator event", logger.Fields{"phase": e.Phase, "dataset": e.ID, "msg": e.Msg})
}

// progressLogger reports download progress at debug level in steps of
// progressStep bytes.
type progressLogger struct {
	mu   sync.Mutex
	next map[string]int64
}

func newProgressLogger() *progressLogger {
	return &progressLogger{next: make(map[string]int64)}
}

func (p *progressLogger) report(url string, written, total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if written < p.next[url] && written != total {
		return
	}
	p.next[url] = written + progressStep

	fields := logger.Fields{"url": url, "written": humanize.IBytes(uint64(written))}
	if total > 0 {
		fields["total"] = humanize.IBytes(uint64(total))
	}
	logger.Debug("Downloading", fields)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
