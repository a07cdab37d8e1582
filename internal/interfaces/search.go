// Package interfaces defines the collaborator boundaries of the search core.
// The orchestrator and cache tree depend only on these interfaces, so file
// access and pattern languages can be replaced without touching them.
package interfaces

import (
	"context"

	"github.com/standardbeagle/sift/internal/types"
)

// FileEnumerator lists the candidate files of a global search.
// include and exclude are comma-separated glob lists taken verbatim from the query.
type FileEnumerator interface {
	ListFiles(ctx context.Context, include, exclude string) ([]types.FileID, error)
}

// FileReader returns the current content of a file, preferring open editor
// buffers over disk.
type FileReader interface {
	ReadFile(ctx context.Context, id types.FileID) ([]byte, error)
}

// Matcher finds the occurrences of a query in one file's content.
// Ranges are returned in ascending offset order.
type Matcher interface {
	Match(id types.FileID, content []byte, params types.QueryParams) ([]types.MatchRange, error)

	// Supports reports whether the file can be searched in params.Mode,
	// e.g. structural search needs a grammar for the file type.
	Supports(id types.FileID, params types.QueryParams) bool
}

// Refiner decides whether a refined query can be answered from a broader
// query's results and derives those results.
type Refiner interface {
	// CanNarrow reports whether every match of child lies on a line already
	// recorded for parent, so narrowing parent's results is exact.
	CanNarrow(parent, child types.QueryParams) bool

	// Narrow re-applies child to the stored lines of a parent result.
	Narrow(result types.FileResult, child types.QueryParams) types.FileResult
}

// ContentHasher reports content changes of files read through a FileReader.
type ContentHasher interface {
	// Changed reports whether id's content differs from the last read, and
	// whether id was read before at all.
	Changed(id types.FileID) (changed bool, seen bool)
}

// PatternValidator is implemented by matchers that can reject a query before
// any file is read, such as a regex that does not compile.
type PatternValidator interface {
	Validate(params types.QueryParams) error
}
