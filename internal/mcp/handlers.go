package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/sift/internal/debug"
	"github.com/standardbeagle/sift/internal/types"
)

// DefaultMaxResults caps the files listed in a search response.
const DefaultMaxResults = 100

var errNoRun = errors.New("no search has been started")

// SearchParams are the arguments of the search tool.
type SearchParams struct {
	Pattern       string `json:"pattern"`
	Mode          string `json:"mode,omitempty"`
	CaseSensitive bool   `json:"case_sensitive,omitempty"`
	WholeWord     bool   `json:"whole_word,omitempty"`
	Include       string `json:"include,omitempty"`
	Exclude       string `json:"exclude,omitempty"`
	File          string `json:"file,omitempty"`
	Wait          *bool  `json:"wait,omitempty"`
	MaxResults    int    `json:"max_results,omitempty"`
}

// StatusParams are the arguments of the status tool.
type StatusParams struct {
	MaxResults int `json:"max_results,omitempty"`
}

// BufferParams are the arguments of open_buffer and close_buffer.
type BufferParams struct {
	File    string `json:"file"`
	Content string `json:"content,omitempty"`
}

func maxResults(n int) int {
	if n <= 0 {
		return DefaultMaxResults
	}
	return n
}

func decode(req *mcp.CallToolRequest, v any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, v); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

// resolveFile converts a root-relative or absolute path to a file id.
func (s *Server) resolveFile(p string) (types.FileID, error) {
	if filepath.IsAbs(p) {
		return s.files.FileID(p)
	}
	rel := path.Clean(filepath.ToSlash(p))
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%q is not a file under the project root", p)
	}
	return types.FileID(rel), nil
}

func (s *Server) queryFrom(params SearchParams) (types.QueryParams, error) {
	mode, err := types.ParseSearchMode(params.Mode)
	if err != nil {
		return types.QueryParams{}, err
	}
	q := types.QueryParams{
		FindText:  params.Pattern,
		MatchCase: params.CaseSensitive,
		WholeWord: params.WholeWord,
		Include:   params.Include,
		Exclude:   params.Exclude,
		Mode:      mode,
	}
	if params.File != "" {
		id, err := s.resolveFile(params.File)
		if err != nil {
			return types.QueryParams{}, err
		}
		q.Scope = types.ScopeCurrentFile
		q.ActiveFile = id
	}
	return q, nil
}

func (s *Server) current() *tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("search", func() (*mcp.CallToolResult, error) {
		var params SearchParams
		if err := decode(req, &params); err != nil {
			return nil, err
		}
		if params.Pattern == "" {
			return nil, errors.New("'pattern' parameter is required")
		}
		q, err := s.queryFrom(params)
		if err != nil {
			return nil, err
		}

		// Runs outlive the call that started them.
		s.mu.Lock()
		r, err := s.orch.Search(context.Background(), q)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		t := track(r)
		s.tracker = t
		s.mu.Unlock()
		debug.LogMCP("search %s started run %s (%s)", q, r.ID(), r.Origin())

		if params.Wait == nil || *params.Wait {
			select {
			case <-t.done:
			case <-ctx.Done():
				r.Stop()
				<-t.done
			}
		}
		return createJSONResponse(t.snapshot(maxResults(params.MaxResults)))
	})
}

func (s *Server) handleStatus(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("status", func() (*mcp.CallToolResult, error) {
		var params StatusParams
		if err := decode(req, &params); err != nil {
			return nil, err
		}
		t := s.current()
		if t == nil {
			return nil, errNoRun
		}
		return createJSONResponse(t.snapshot(maxResults(params.MaxResults)))
	})
}

func (s *Server) handleStop(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("stop", func() (*mcp.CallToolResult, error) {
		t := s.current()
		if t == nil {
			return nil, errNoRun
		}
		t.run.Stop()
		<-t.done
		return createJSONResponse(t.snapshot(DefaultMaxResults))
	})
}

func (s *Server) handleAbort(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("abort", func() (*mcp.CallToolResult, error) {
		t := s.current()
		if t == nil {
			return nil, errNoRun
		}
		s.orch.Abort()
		<-t.done
		return createJSONResponse(t.snapshot(DefaultMaxResults))
	})
}

func (s *Server) handleCacheStatus(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("cache_status", func() (*mcp.CallToolResult, error) {
		resp := CacheStatusResponse{Tree: s.orch.CacheStats()}
		if s.matcher != nil {
			stats := s.matcher.RegexStats()
			resp.Regex = &stats
		}
		if s.watcher != nil {
			stats := s.watcher.Stats()
			resp.Watcher = &stats
		}
		if r := s.orch.Active(); r != nil && !r.State().Terminal() {
			resp.Active = r.ID()
		}
		return createJSONResponse(resp)
	})
}

func (s *Server) handleResetCache(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("reset_cache", func() (*mcp.CallToolResult, error) {
		s.orch.ResetCache()
		return createJSONResponse(CacheStatusResponse{Tree: s.orch.CacheStats()})
	})
}

func (s *Server) handleOpenBuffer(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("open_buffer", func() (*mcp.CallToolResult, error) {
		var params BufferParams
		if err := decode(req, &params); err != nil {
			return nil, err
		}
		id, err := s.resolveFile(params.File)
		if err != nil {
			return nil, err
		}
		s.files.OpenBuffer(id, []byte(params.Content))
		return createJSONResponse(BufferResponse{
			File:        string(id),
			Open:        true,
			Invalidated: s.orch.InvalidateFile(id),
		})
	})
}

func (s *Server) handleCloseBuffer(_ context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.recoverFromPanic("close_buffer", func() (*mcp.CallToolResult, error) {
		var params BufferParams
		if err := decode(req, &params); err != nil {
			return nil, err
		}
		id, err := s.resolveFile(params.File)
		if err != nil {
			return nil, err
		}
		s.files.CloseBuffer(id)
		return createJSONResponse(BufferResponse{
			File:        string(id),
			Invalidated: s.orch.InvalidateFile(id),
		})
	})
}
