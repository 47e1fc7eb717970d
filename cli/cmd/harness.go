package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	lodelib "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/lhrunner/adapter"
	redisadapter "github.com/pithecene-io/lhrunner/adapter/redis"
	"github.com/pithecene-io/lhrunner/adapter/webhook"
	"github.com/pithecene-io/lhrunner/backend"
	"github.com/pithecene-io/lhrunner/backend/extension"
	"github.com/pithecene-io/lhrunner/backend/master"
	"github.com/pithecene-io/lhrunner/backend/npx"
	"github.com/pithecene-io/lhrunner/backend/psi"
	"github.com/pithecene-io/lhrunner/cli/config"
	"github.com/pithecene-io/lhrunner/cursor"
	"github.com/pithecene-io/lhrunner/lode"
	"github.com/pithecene-io/lhrunner/log"
	"github.com/pithecene-io/lhrunner/metrics"
	"github.com/pithecene-io/lhrunner/pipeline"
	"github.com/pithecene-io/lhrunner/report"
	"github.com/pithecene-io/lhrunner/runtime"
	"github.com/pithecene-io/lhrunner/tracker"
)

// Exit codes.
const (
	exitSuccess = 0
	exitConfig  = 1
	exitStorage = 2
)

// Collector modes.
const (
	modeDryRun = "dry-run"
	modeLive   = "live"
)

// loadConfig loads the config file named by --config and applies flag
// overrides. Returns a cli.Exit error with exitConfig on failure.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cli.Exit(fmt.Sprintf("config: %v", err), exitConfig)
	}
	if d := c.Duration("timeout"); d > 0 {
		cfg.Timeout = config.Duration{Duration: d}
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfig)
	}
	return cfg, nil
}

// exitCode maps a failure to a process exit code. Storage failures are
// fatal (exitStorage); everything else is exitConfig.
func exitCode(err error) int {
	var se *lode.StorageError
	if errors.As(err, &se) || errors.Is(err, cursor.ErrCorrupt) {
		return exitStorage
	}
	return exitConfig
}

func newLogger(dryRun bool) *log.Logger {
	logger := log.NewLogger(log.Context{})
	if dryRun {
		logger.Info("dry run: tracker writes and cursor saves are logged only", nil)
	}
	return logger
}

func collectorMode(dryRun bool) string {
	if dryRun {
		return modeDryRun
	}
	return modeLive
}

// harness holds the components shared by run and poll.
type harness struct {
	config     *config.Config
	dryRun     bool
	logger     *log.Logger
	collector  *metrics.Collector
	dispatcher *runtime.Dispatcher
	dir        *report.Dir
	assembler  *report.Assembler
	adapter    adapter.Adapter
	history    *lode.History
	closers    []io.Closer
}

// newHarness builds the backend registry, dispatcher, report workspace,
// assembler and optional completion adapter. issueURL may be nil.
func newHarness(ctx context.Context, cfg *config.Config, dryRun bool, logger *log.Logger, issueURL func(int) string) (*harness, error) {
	storage := cfg.Reports.Storage
	collector := metrics.NewCollector(collectorMode(dryRun), storage.Backend, "")

	reportsDir, err := filepath.Abs(cfg.Reports.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve reports dir: %w", err)
	}

	backends, err := buildBackends(cfg.Backends, reportsDir, collector, logger)
	if err != nil {
		return nil, err
	}
	registry := backend.NewRegistry(logger.Named("registry"), collector, backends...)

	factory, err := reportStoreFactory(ctx, storage)
	if err != nil {
		return nil, fmt.Errorf("report store: %w", err)
	}
	history, err := lode.NewHistory(factory, collector)
	if err != nil {
		return nil, fmt.Errorf("run history: %w", err)
	}

	h := &harness{
		config:    cfg,
		dryRun:    dryRun,
		logger:    logger,
		collector: collector,
		dispatcher: runtime.NewDispatcher(registry, runtime.DispatcherConfig{
			Timeout:   cfg.Timeout.Duration,
			Logger:    logger,
			Collector: collector,
		}),
		dir: report.NewDir(reportsDir),
		assembler: report.NewAssembler(report.Config{
			Factory:   factory,
			Prefix:    cfg.Reports.Prefix,
			PublicURL: cfg.Reports.PublicURL,
			IssueURL:  issueURL,
			Logger:    logger.Named("report"),
			Collector: collector,
		}),
		history: history,
	}

	h.adapter, err = buildAdapter(cfg.Adapter)
	if err != nil {
		return nil, err
	}
	if h.adapter != nil {
		h.closers = append(h.closers, h.adapter)
	}
	return h, nil
}

// pipeline returns a pipeline posting notifications through notifier.
func (h *harness) pipeline(notifier pipeline.Notifier) (*pipeline.Pipeline, error) {
	return pipeline.New(pipeline.Config{
		Dispatcher: h.dispatcher,
		Dir:        h.dir,
		Assembler:  h.assembler,
		Notifier:   notifier,
		Adapter:    h.adapter,
		History:    h.history,
		DryRun:     h.dryRun,
		Logger:     h.logger,
		Collector:  h.collector,
	})
}

// recordMetrics appends the collector snapshot to the run history.
// Failures are logged only.
func (h *harness) recordMetrics(ctx context.Context) {
	if err := h.history.RecordMetrics(ctx, h.collector.Snapshot(), time.Now()); err != nil {
		h.logger.Warn("poll metrics not recorded", map[string]any{"error": err.Error()})
	}
}

func (h *harness) addCloser(c io.Closer) {
	h.closers = append(h.closers, c)
}

// Close releases adapters, tracker and cursor clients.
func (h *harness) Close() {
	for _, c := range h.closers {
		if err := c.Close(); err != nil {
			h.logger.Warn("close failed", map[string]any{"error": err.Error()})
		}
	}
	_ = h.logger.Sync()
}

// reportStoreFactory opens the store bundles and run history live on.
func reportStoreFactory(ctx context.Context, storage config.StorageConfig) (lodelib.StoreFactory, error) {
	return lode.NewStoreFactory(ctx, lode.Config{
		Backend:      storage.Backend,
		Path:         storage.Path,
		Region:       storage.Region,
		Endpoint:     storage.Endpoint,
		UsePathStyle: storage.S3PathStyle,
	})
}

// buildBackends constructs the configured backends in order, skipping
// disabled entries.
func buildBackends(entries []config.BackendConfig, reportsDir string, collector *metrics.Collector, logger *log.Logger) ([]backend.Backend, error) {
	var out []backend.Backend
	for i, e := range entries {
		if e.Disabled {
			continue
		}
		switch backend.Kind(e.Kind) {
		case backend.KindCLI:
			out = append(out, npx.New(npx.Config{
				Versions:    e.Versions,
				ReportsDir:  reportsDir,
				ChromeFlags: e.ChromeFlags,
			}))
		case backend.KindMaster:
			out = append(out, master.New(master.Config{
				Checkout:   e.Checkout,
				Repository: e.Repository,
				ReportsDir: reportsDir,
				Node:       e.Node,
			}))
		case backend.KindPSI:
			key, err := config.ResolveSecret(e.Key, config.PSIKeyEnv, config.PSIKeyFile)
			if err != nil {
				return nil, fmt.Errorf("backends[%d]: %w", i, err)
			}
			if key == "" {
				logger.Warn("psi backend has no API key", map[string]any{"env": config.PSIKeyEnv})
			}
			out = append(out, psi.New(psi.Config{
				Key:        key,
				Strategy:   e.Strategy,
				Endpoint:   e.Endpoint,
				ReportsDir: reportsDir,
			}))
		case backend.KindExtension:
			out = append(out, extension.New(extension.Config{
				WorkDir:    e.WorkDir,
				ReportsDir: reportsDir,
				Node:       e.Node,
				ChromePath: e.ChromePath,
				Collector:  collector,
			}))
		default:
			return nil, fmt.Errorf("backends[%d]: unknown kind %q", i, e.Kind)
		}
	}
	return out, nil
}

// buildCursorStore returns the configured cursor store, wrapped for dry
// run. The closer is nil for file stores.
func buildCursorStore(cfg config.StateConfig, dryRun bool, logger *log.Logger) (cursor.Store, io.Closer, error) {
	var (
		store  cursor.Store
		closer io.Closer
	)
	switch cfg.Backend {
	case "redis":
		rs, err := cursor.NewRedisStore(cursor.RedisConfig{URL: cfg.RedisURL, Key: cfg.Key})
		if err != nil {
			return nil, nil, err
		}
		store, closer = rs, rs
	default:
		store = cursor.NewFileStore(cfg.Path)
	}
	if dryRun {
		store = cursor.NewDryRun(store, logger.Named("cursor"))
	}
	return store, closer, nil
}

// buildTracker returns the tracker client, wrapped for dry run, and the
// underlying GitHub client for issue links and shutdown.
func buildTracker(cfg *config.Config, dryRun bool, logger *log.Logger) (tracker.Client, *tracker.GitHub, error) {
	token, err := config.ResolveSecret(cfg.Repo.Token, config.TokenEnv, config.TokenFile)
	if err != nil {
		return nil, nil, err
	}
	if token == "" && !dryRun {
		return nil, nil, fmt.Errorf("a tracker token is required for real runs (set %s or ~/%s)",
			config.TokenEnv, config.TokenFile)
	}
	gh, err := tracker.New(tracker.Config{
		Owner:  cfg.Repo.Owner,
		Repo:   cfg.Repo.Name,
		Token:  token,
		APIURL: cfg.Repo.APIURL,
	})
	if err != nil {
		return nil, nil, err
	}
	if dryRun {
		return tracker.NewDryRun(gh, logger.Named("tracker"), cfg.DryRunIssue), gh, nil
	}
	return gh, gh, nil
}

// buildAdapter returns the configured completion adapter, or nil.
func buildAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := func(def int) int {
		if cfg.Retries == nil {
			return def
		}
		return *cfg.Retries
	}
	timeout := cfg.Timeout.Duration

	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		a, err := webhook.New(webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: timeout,
			Retries: retries(webhook.DefaultRetries),
		})
		if err != nil {
			return nil, fmt.Errorf("adapter: %w", err)
		}
		return a, nil
	case "redis":
		a, err := redisadapter.New(redisadapter.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: timeout,
			Retries: retries(redisadapter.DefaultRetries),
		})
		if err != nil {
			return nil, fmt.Errorf("adapter: %w", err)
		}
		return a, nil
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Type)
	}
}
