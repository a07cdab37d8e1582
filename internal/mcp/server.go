// Package mcp exposes the search orchestrator as Model Context Protocol
// tools over stdio.
package mcp

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	siftdebug "github.com/standardbeagle/sift/internal/debug"
	"github.com/standardbeagle/sift/internal/fileservice"
	"github.com/standardbeagle/sift/internal/matcher"
	"github.com/standardbeagle/sift/internal/search"
	"github.com/standardbeagle/sift/internal/version"
	"github.com/standardbeagle/sift/internal/watch"
)

// Deps are the components a Server drives. Orchestrator and Files are
// required.
type Deps struct {
	Orchestrator *search.Orchestrator
	Files        *fileservice.Service
	Matcher      *matcher.Matcher // optional, reported by cache_status
	Watcher      *watch.Watcher   // optional, reported by cache_status
}

// Server serves the search tools. At most one run is tracked at a time,
// mirroring the orchestrator.
type Server struct {
	orch    *search.Orchestrator
	files   *fileservice.Service
	matcher *matcher.Matcher
	watcher *watch.Watcher
	server  *mcp.Server

	mu      sync.Mutex
	tracker *tracker
}

// NewServer creates a server and registers its tools.
func NewServer(deps Deps) *Server {
	s := &Server{
		orch:    deps.Orchestrator,
		files:   deps.Files,
		matcher: deps.Matcher,
		watcher: deps.Watcher,
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "sift-mcp-server",
		Version: version.Version,
	}, nil)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name: "search",
		Description: "Search every file under the project root. Refining a previous query (typing more characters) " +
			"reuses cached results instead of rescanning. Starting a search supersedes the previous one.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"pattern": {
					Type:        "string",
					Description: "Text, regular expression or tree-sitter query to find",
				},
				"mode": {
					Type:        "string",
					Description: "Pattern language: text (default), regex or structural",
					Enum:        []any{"text", "regex", "structural"},
				},
				"case_sensitive": {
					Type:        "boolean",
					Description: "Match case exactly",
				},
				"whole_word": {
					Type:        "boolean",
					Description: "Only match whole words",
				},
				"include": {
					Type:        "string",
					Description: "Comma-separated globs a file must match",
				},
				"exclude": {
					Type:        "string",
					Description: "Comma-separated globs that drop files",
				},
				"file": {
					Type:        "string",
					Description: "Search only this file (relative to the root or absolute)",
				},
				"wait": {
					Type:        "boolean",
					Description: "Wait for the run to finish (default true). With false, poll with 'status'.",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of files in the response (default 100)",
				},
			},
			Required: []string{"pattern"},
		},
	}, s.handleSearch)

	s.server.AddTool(&mcp.Tool{
		Name:        "status",
		Description: "Report the progress and results of the current search run.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"max_results": {
					Type:        "integer",
					Description: "Maximum number of files in the response (default 100)",
				},
			},
		},
	}, s.handleStatus)

	s.server.AddTool(&mcp.Tool{
		Name:        "stop",
		Description: "Stop the current search run. Results found so far are kept and reported.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleStop)

	s.server.AddTool(&mcp.Tool{
		Name:        "abort",
		Description: "Abort the current search run. Its partial results are discarded.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleAbort)

	s.server.AddTool(&mcp.Tool{
		Name:        "cache_status",
		Description: "Report the shape of the result cache, regex cache and file watcher.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleCacheStatus)

	s.server.AddTool(&mcp.Tool{
		Name:        "reset_cache",
		Description: "Drop every cached search result. The next search scans from scratch.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleResetCache)

	s.server.AddTool(&mcp.Tool{
		Name:        "open_buffer",
		Description: "Search the given unsaved content instead of the file on disk.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file":    {Type: "string", Description: "File path (relative to the root or absolute)"},
				"content": {Type: "string", Description: "Buffer content"},
			},
			Required: []string{"file", "content"},
		},
	}, s.handleOpenBuffer)

	s.server.AddTool(&mcp.Tool{
		Name:        "close_buffer",
		Description: "Search the file on disk again instead of a previously opened buffer.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"file": {Type: "string", Description: "File path (relative to the root or absolute)"},
			},
			Required: []string{"file"},
		},
	}, s.handleCloseBuffer)
}

// Start serves requests over stdio until ctx is cancelled or the client
// disconnects.
func (s *Server) Start(ctx context.Context) error {
	siftdebug.LogMCP("starting MCP server with stdio transport")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Shutdown aborts the tracked run and waits for its collector to exit.
func (s *Server) Shutdown() {
	s.orch.Abort()
	s.mu.Lock()
	t := s.tracker
	s.mu.Unlock()
	if t != nil {
		<-t.done
	}
	siftdebug.LogMCP("MCP server shut down")
}

// recoverFromPanic runs handler and turns a panic into an error result.
func (s *Server) recoverFromPanic(operation string, handler func() (*mcp.CallToolResult, error)) (result *mcp.CallToolResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			siftdebug.LogMCP("PANIC RECOVERED in %s: %v\n%s", operation, r, debug.Stack())
			siftdebug.LogMCP("Memory stats - Alloc: %d KB, Sys: %d KB, NumGC: %d", m.Alloc/1024, m.Sys/1024, m.NumGC)
			result, err = createErrorResponse(operation, errPanic{value: r})
		}
	}()

	result, err = handler()
	if err != nil {
		siftdebug.LogMCP("Error in %s: %v", operation, err)
		return createErrorResponse(operation, err)
	}
	return result, nil
}
