package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/standardbeagle/sift/internal/debug"
	"github.com/standardbeagle/sift/internal/mcp"
	"github.com/standardbeagle/sift/internal/watch"
)

func mcpCommand(c *cli.Context) error {
	// stdout carries the protocol
	debug.SetMCPMode(true)

	cfg, err := loadConfig(c)
	if err != nil {
		return debug.Fatal("failed to load config: %v", err)
	}
	if c.Bool("watch") {
		cfg.Watch.Enabled = true
	}

	e := newEngine(cfg)
	defer e.Close()
	if err := e.serveMetrics(); err != nil {
		return debug.Fatal("%v", err)
	}

	watcher, err := watch.New(cfg, e.scanner, e.orch)
	if err != nil {
		return debug.Fatal("failed to create file watcher: %v", err)
	}
	if err := watcher.Start(); err != nil {
		debug.LogMCP("file watching unavailable: %v", err)
	}
	defer watcher.Stop()

	server := mcp.NewServer(mcp.Deps{
		Orchestrator: e.orch,
		Files:        e.files,
		Matcher:      e.matcher,
		Watcher:      watcher,
	})
	defer server.Shutdown()

	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	debug.LogMCP("serving %s", cfg.Project.Root)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
