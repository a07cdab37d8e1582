package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/sift/internal/config"
	"github.com/standardbeagle/sift/internal/debug"
	"github.com/standardbeagle/sift/internal/fileservice"
	"github.com/standardbeagle/sift/internal/matcher"
	"github.com/standardbeagle/sift/internal/metrics"
	"github.com/standardbeagle/sift/internal/search"
)

// engine bundles the components every command needs.
type engine struct {
	cfg     *config.Config
	scanner *fileservice.Scanner
	files   *fileservice.Service
	matcher *matcher.Matcher
	orch    *search.Orchestrator
	metrics *metrics.Collector

	metricsServer *http.Server
}

// loadConfig loads the configuration and applies CLI flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	root := c.String("root")
	if root != "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve root path %q: %w", root, err)
		}
		root = abs
	}

	cfg, err := config.LoadWithRoot(c.String("config"), root)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if root != "" {
		cfg.Project.Root = root
	}
	if include := c.StringSlice("include"); len(include) > 0 {
		cfg.Include = include
	}
	if exclude := c.StringSlice("exclude"); len(exclude) > 0 {
		cfg.Exclude = append(cfg.Exclude, exclude...)
	}
	if addr := c.String("metrics-addr"); addr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = addr
	}
	if c.IsSet("concurrency") {
		cfg.Search.Concurrency = c.Int("concurrency")
	}

	if err := config.NewValidator().ValidateAndSetDefaults(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newEngine(cfg *config.Config) *engine {
	e := &engine{
		cfg:     cfg,
		scanner: fileservice.NewScanner(cfg),
		files:   fileservice.NewService(cfg.Project.Root, fileservice.WithMaxFileSize(cfg.Search.MaxFileSize)),
	}
	var matcherOpts []matcher.Option
	if cfg.Search.RegexCacheSize > 0 {
		matcherOpts = append(matcherOpts, matcher.WithRegexCacheSize(cfg.Search.RegexCacheSize))
	}
	e.matcher = matcher.New(matcherOpts...)

	opts := search.OptionsFromConfig(cfg)
	if cfg.Metrics.Enabled {
		e.metrics = metrics.New()
		opts = append(opts, search.WithObserver(e.metrics))
	}

	e.orch = search.New(search.Deps{
		Enumerator: e.scanner,
		Reader:     e.files,
		Matcher:    e.matcher,
		Refiner:    matcher.NewRefiner(e.matcher),
		Hasher:     e.files,
	}, opts...)

	if e.metrics != nil {
		e.metrics.WatchCache(e.orch)
		e.metrics.WatchRegexCache(e.matcher.RegexStats)
	}
	return e
}

// serveMetrics exposes /metrics when metrics are enabled.
func (e *engine) serveMetrics() error {
	if e.metrics == nil {
		return nil
	}
	ln, err := net.Listen("tcp", e.cfg.Metrics.Address)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.metrics.Handler())
	e.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := e.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Warning: metrics server error: %v", err)
		}
	}()
	debug.Printf("serving metrics on http://%s/metrics\n", ln.Addr())
	return nil
}

func (e *engine) Close() {
	if e.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.metricsServer.Shutdown(ctx)
	}
	e.orch.Close()
	e.matcher.Close()
}
