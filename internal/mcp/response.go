package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/sift/internal/cache"
	"github.com/standardbeagle/sift/internal/matcher"
	"github.com/standardbeagle/sift/internal/types"
	"github.com/standardbeagle/sift/internal/watch"
)

// SearchResponse describes one search run.
type SearchResponse struct {
	RunID      string        `json:"run_id"`
	Query      string        `json:"query"`
	Origin     string        `json:"origin"` // fresh, reused or narrowed
	State      string        `json:"state"`
	Finished   bool          `json:"finished"`
	Completed  int           `json:"completed"`
	Total      int           `json:"total"`
	MatchCount int           `json:"match_count"`
	FileCount  int           `json:"file_count"`
	Files      []FileMatches `json:"files"`
	Truncated  bool          `json:"truncated,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// FileMatches lists the matches of one file.
type FileMatches struct {
	File    string  `json:"file"`
	Matches []Match `json:"matches,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// Match is a single match with the text of its line.
type Match struct {
	Line   int    `json:"line"`
	Column int    `json:"column"`
	Length int    `json:"length"`
	Text   string `json:"text,omitempty"`
}

// CacheStatusResponse reports the caches and the watcher.
type CacheStatusResponse struct {
	Tree    cache.Stats         `json:"tree"`
	Regex   *matcher.CacheStats `json:"regex,omitempty"`
	Watcher *watch.Stats        `json:"watcher,omitempty"`
	Active  string              `json:"active_run,omitempty"`
}

// BufferResponse acknowledges open_buffer and close_buffer.
type BufferResponse struct {
	File        string `json:"file"`
	Open        bool   `json:"open"`
	Invalidated bool   `json:"invalidated"`
}

func fileMatches(res types.FileResult) FileMatches {
	fm := FileMatches{File: string(res.FileID)}
	if res.Err != nil {
		fm.Error = res.Err.Error()
		return fm
	}
	fm.Matches = make([]Match, 0, len(res.Matches))
	for _, m := range res.Matches {
		match := Match{Line: m.Line, Column: m.Column, Length: m.End - m.Start}
		if lt, ok := res.LineFor(m.Line); ok {
			match.Text = lt.Text
		}
		fm.Matches = append(fm.Matches, match)
	}
	return fm
}

type errPanic struct {
	value any
}

func (e errPanic) Error() string {
	return fmt.Sprintf("internal error: %v", e.value)
}

// createJSONResponse creates a standardized JSON response for MCP tools
func createJSONResponse(data interface{}) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(content)},
		},
	}, nil
}

// createErrorResponse creates a standardized error response for MCP tools.
// Tool errors are reported in the result with IsError set, not as protocol
// errors.
func createErrorResponse(operation string, err error) (*mcp.CallToolResult, error) {
	errorData := map[string]interface{}{
		"success":   false,
		"error":     err.Error(),
		"operation": operation,
	}

	response, marshalErr := createJSONResponse(errorData)
	if marshalErr != nil {
		return nil, marshalErr
	}
	response.IsError = true
	return response, nil
}
