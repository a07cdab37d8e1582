package fileservice

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/standardbeagle/sift/internal/config"
	"github.com/standardbeagle/sift/internal/debug"
	"github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/types"
)

// Scanner enumerates candidate files under a root directory.
type Scanner struct {
	root             string
	include          []string
	exclude          []string
	respectGitignore bool
	followSymlinks   bool
	binaryDetector   *BinaryDetector
}

// NewScanner creates a scanner from the project configuration.
func NewScanner(cfg *config.Config) *Scanner {
	root := cfg.Project.Root
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	return &Scanner{
		root:             root,
		include:          normalizeGlobs(cfg.Include),
		exclude:          normalizeGlobs(cfg.Exclude),
		respectGitignore: cfg.Search.RespectGitignore,
		followSymlinks:   cfg.Search.FollowSymlinks,
		binaryDetector:   NewBinaryDetector(),
	}
}

// Root returns the absolute root directory.
func (s *Scanner) Root() string {
	return s.root
}

// Excluded reports whether the configured exclude globs drop the
// root-relative slash path rel.
func (s *Scanner) Excluded(rel string) bool {
	return matchAny(s.exclude, rel)
}

// filters is the effective filter set of one enumeration.
type filters struct {
	include      []string // config includes; empty admits everything
	queryInclude []string // query includes; empty admits everything
	exclude      []string // config and query excludes
	gitignore    *config.GitignoreParser
}

// SplitGlobs splits a comma-separated glob list.
func SplitGlobs(list string) []string {
	var out []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeGlobs expands user globs into doublestar patterns over
// slash-separated paths relative to the root:
//   - a pattern without a slash matches a name at any depth
//   - a leading slash anchors the pattern at the root
//   - every pattern also matches everything below a matching directory
func normalizeGlobs(patterns []string) []string {
	var out []string
	for _, p := range patterns {
		p = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(p)), "./")
		if p == "" {
			continue
		}
		switch {
		case strings.HasPrefix(p, "/"):
			p = strings.TrimPrefix(p, "/")
		case !strings.Contains(strings.TrimSuffix(p, "/"), "/"):
			p = "**/" + p
		}
		p = strings.TrimSuffix(p, "/")
		out = append(out, p)
		if !strings.HasSuffix(p, "/**") {
			out = append(out, p+"/**")
		}
	}
	return out
}

func matchAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// ListFiles returns the sorted ids of every file under the root admitted by
// the configured and the given comma-separated include/exclude globs.
func (s *Scanner) ListFiles(ctx context.Context, include, exclude string) ([]types.FileID, error) {
	for _, p := range append(SplitGlobs(include), SplitGlobs(exclude)...) {
		if !doublestar.ValidatePattern(p) {
			return nil, errors.NewEnumerationError(s.root, errors.NewConfigError("pattern", p, doublestar.ErrBadPattern)).
				WithFilters(include, exclude)
		}
	}

	f := &filters{
		include:      s.include,
		queryInclude: normalizeGlobs(SplitGlobs(include)),
		exclude:      append(append([]string(nil), s.exclude...), normalizeGlobs(SplitGlobs(exclude))...),
	}
	if s.respectGitignore {
		f.gitignore = config.NewGitignoreParser()
	}

	start := s.root
	if real, err := filepath.EvalSymlinks(start); err == nil {
		start = real
	}
	w := &walker{scanner: s, filters: f, visited: make(map[string]bool)}
	if err := w.walk(ctx, start, ""); err != nil {
		return nil, errors.NewEnumerationError(s.root, err).WithFilters(include, exclude)
	}

	sort.Slice(w.files, func(i, j int) bool { return w.files[i] < w.files[j] })
	debug.LogScan("enumerated %d files under %s (include %q, exclude %q)", len(w.files), s.root, include, exclude)
	return w.files, nil
}

type walker struct {
	scanner *Scanner
	filters *filters
	visited map[string]bool // real paths of walked directories
	files   []types.FileID
}

// walk visits dir, whose path relative to the root is rel.
func (w *walker) walk(ctx context.Context, dir, rel string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == dir {
				return err
			}
			debug.LogScan("skipping %s: %v", p, err)
			return nil
		}

		relPath := rel
		if p != dir {
			sub, err := filepath.Rel(dir, p)
			if err != nil {
				return nil
			}
			relPath = path.Join(rel, filepath.ToSlash(sub))
		}

		if d.IsDir() {
			return w.enterDir(p, relPath)
		}

		if d.Type()&fs.ModeSymlink != 0 {
			if !w.scanner.followSymlinks {
				return nil
			}
			target, err := os.Stat(p)
			if err != nil {
				debug.LogScan("skipping broken symlink %s", p)
				return nil
			}
			if target.IsDir() {
				real, err := filepath.EvalSymlinks(p)
				if err != nil {
					return nil
				}
				return w.walk(ctx, real, relPath)
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		if w.admitFile(p, relPath) {
			w.files = append(w.files, types.FileID(relPath))
		}
		return nil
	})
}

func (w *walker) enterDir(p, relPath string) error {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		debug.LogScan("skipping unresolvable directory %s: %v", p, err)
		return filepath.SkipDir
	}
	if w.visited[real] {
		debug.LogScan("cycle detected, skipping already visited: %s -> %s", p, real)
		return filepath.SkipDir
	}
	w.visited[real] = true

	if relPath != "" {
		if matchAny(w.filters.exclude, relPath) || matchAny(w.filters.exclude, relPath+"/") {
			return filepath.SkipDir
		}
		if w.filters.gitignore != nil && w.filters.gitignore.ShouldIgnore(relPath, true) {
			return filepath.SkipDir
		}
	}
	if w.filters.gitignore != nil {
		if err := w.filters.gitignore.LoadGitignoreDir(w.scanner.root, relPath); err != nil {
			log.Printf("Warning: failed to load .gitignore in %q: %v", relPath, err)
		}
	}
	return nil
}

func (w *walker) admitFile(p, relPath string) bool {
	f := w.filters
	if matchAny(f.exclude, relPath) {
		return false
	}
	if len(f.include) > 0 && !matchAny(f.include, relPath) {
		return false
	}
	if len(f.queryInclude) > 0 && !matchAny(f.queryInclude, relPath) {
		return false
	}
	if f.gitignore != nil && f.gitignore.ShouldIgnore(relPath, false) {
		return false
	}
	return !w.scanner.binaryDetector.IsBinaryFile(p)
}
