package config

import (
	"bufio"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// GitignoreParser handles parsing and matching .gitignore files.
// Rules from nested .gitignore files apply below the directory that holds them.
type GitignoreParser struct {
	mu    sync.RWMutex
	rules []GitignorePattern
}

type GitignorePattern struct {
	Pattern   string // pattern text with modifiers removed
	Negate    bool
	Directory bool
	Absolute  bool

	base string // directory of the owning .gitignore, relative to the root
	glob string // doublestar glob matched against paths relative to base
}

// NewGitignoreParser creates a new gitignore parser
func NewGitignoreParser() *GitignoreParser {
	return &GitignoreParser{}
}

// LoadGitignore loads patterns from the .gitignore file in rootPath
func (gp *GitignoreParser) LoadGitignore(rootPath string) error {
	return gp.LoadGitignoreDir(rootPath, "")
}

// LoadGitignoreDir loads rootPath/relDir/.gitignore, scoping its rules to relDir.
// A missing file is not an error.
func (gp *GitignoreParser) LoadGitignoreDir(rootPath, relDir string) error {
	file, err := os.Open(filepath.Join(rootPath, filepath.FromSlash(relDir), ".gitignore"))
	if err != nil {
		return nil
	}
	defer file.Close()

	return gp.readPatterns(file, filepath.ToSlash(relDir))
}

func (gp *GitignoreParser) readPatterns(r io.Reader, base string) error {
	base = strings.Trim(base, "/")
	if base == "." {
		base = ""
	}

	var parsed []GitignorePattern
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if p, ok := parsePattern(line, base); ok {
			parsed = append(parsed, p)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	gp.mu.Lock()
	gp.rules = append(gp.rules, parsed...)
	gp.mu.Unlock()
	return nil
}

// AddPattern adds a single root-level pattern
func (gp *GitignoreParser) AddPattern(line string) {
	p, ok := parsePattern(strings.TrimSpace(line), "")
	if !ok {
		return
	}
	gp.mu.Lock()
	gp.rules = append(gp.rules, p)
	gp.mu.Unlock()
}

// PatternCount returns the number of loaded rules
func (gp *GitignoreParser) PatternCount() int {
	gp.mu.RLock()
	defer gp.mu.RUnlock()
	return len(gp.rules)
}

func parsePattern(line, base string) (GitignorePattern, bool) {
	p := GitignorePattern{base: base}

	if strings.HasPrefix(line, `\#`) || strings.HasPrefix(line, `\!`) {
		line = line[1:]
	} else if strings.HasPrefix(line, "!") {
		p.Negate = true
		line = line[1:]
	}

	if strings.HasSuffix(line, "/") {
		p.Directory = true
		line = strings.TrimRight(line, "/")
	}

	// A slash anywhere but the end anchors the pattern to its .gitignore
	if strings.HasPrefix(line, "/") {
		p.Absolute = true
		line = strings.TrimLeft(line, "/")
	} else if strings.Contains(line, "/") {
		p.Absolute = true
	}

	if line == "" {
		return p, false
	}

	p.Pattern = line
	if p.Absolute {
		p.glob = line
	} else {
		p.glob = "**/" + line
	}
	return p, true
}

// ShouldIgnore checks if a slash-separated path relative to the root is ignored.
// A path inside an ignored directory is ignored regardless of negations.
func (gp *GitignoreParser) ShouldIgnore(p string, isDir bool) bool {
	p = strings.Trim(filepath.ToSlash(p), "/")
	if p == "" || p == "." {
		return false
	}

	gp.mu.RLock()
	defer gp.mu.RUnlock()
	if len(gp.rules) == 0 {
		return false
	}

	for dir := path.Dir(p); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if gp.matchLocked(dir, true) {
			return true
		}
	}
	return gp.matchLocked(p, isDir)
}

// matchLocked applies the rules in order; the last matching rule wins.
func (gp *GitignoreParser) matchLocked(p string, isDir bool) bool {
	ignored := false
	for _, rule := range gp.rules {
		if rule.Directory && !isDir {
			continue
		}
		rel := p
		if rule.base != "" {
			if !strings.HasPrefix(p, rule.base+"/") {
				continue
			}
			rel = p[len(rule.base)+1:]
		}
		if ok, _ := doublestar.Match(rule.glob, rel); ok {
			ignored = !rule.Negate
		}
	}
	return ignored
}
