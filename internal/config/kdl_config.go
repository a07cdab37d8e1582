package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	kdl "github.com/sblinch/kdl-go"
	"github.com/sblinch/kdl-go/document"
)

// LoadKDL loads dir/.sift.kdl. It returns nil, nil when the file does not exist.
func LoadKDL(dir string) (*Config, error) {
	kdlPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(kdlPath); os.IsNotExist(err) {
		return nil, nil
	}
	return LoadKDLFile(kdlPath, dir)
}

// LoadKDLFile loads an explicit config file. A relative project root inside the
// file is resolved against the directory that holds it; without one, dir is used.
func LoadKDLFile(path, dir string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg, err := parseKDL(string(content), absOrSelf(dir))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if cfg.Project.Root != "" && !filepath.IsAbs(cfg.Project.Root) {
		cfg.Project.Root = filepath.Clean(filepath.Join(filepath.Dir(absOrSelf(path)), cfg.Project.Root))
	}

	cfg.EnrichExclusionsWithBuildArtifacts()
	return cfg, nil
}

func absOrSelf(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// parseKDL overlays the KDL document on the defaults for root
func parseKDL(content string, root string) (*Config, error) {
	cfg := Default(root)

	doc, err := kdl.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse KDL config: %w", err)
	}

	for _, n := range doc.Nodes {
		switch nodeName(n) {
		case "project":
			for _, cn := range n.Children { // project { root "." name "foo" }
				assignSimpleString(cn, "root", func(v string) { cfg.Project.Root = v })
				assignSimpleString(cn, "name", func(v string) { cfg.Project.Name = v })
			}
		case "search":
			parseSearchSection(cfg, n)
		case "watch":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Watch.Enabled = b
					}
				case "debounce_ms":
					if v, ok := firstIntArg(cn); ok {
						cfg.Watch.DebounceMs = v
					}
				}
			}
		case "metrics":
			for _, cn := range n.Children {
				switch nodeName(cn) {
				case "enabled":
					if b, ok := firstBoolArg(cn); ok {
						cfg.Metrics.Enabled = b
					}
				case "address":
					if s, ok := firstStringArg(cn); ok {
						cfg.Metrics.Address = s
					}
				}
			}
		case "include":
			cfg.Include = append(cfg.Include, collectStringArgs(n)...)
		case "exclude":
			// An exclude block replaces the built-in exclusions
			cfg.Exclude = collectStringArgs(n)
		default:
			log.Printf("WARNING: unknown node '%s' in KDL config", nodeName(n))
		}
	}

	return cfg, nil
}

func parseSearchSection(cfg *Config, n *document.Node) {
	for _, cn := range n.Children {
		switch nodeName(cn) {
		case "concurrency":
			if v, ok := firstIntArg(cn); ok {
				cfg.Search.Concurrency = v
			}
		case "event_buffer":
			if v, ok := firstIntArg(cn); ok {
				cfg.Search.EventBuffer = v
			}
		case "reuse_partial":
			if b, ok := firstBoolArg(cn); ok {
				cfg.Search.ReusePartial = b
			}
		case "max_file_size":
			if v, ok := firstIntArg(cn); ok {
				cfg.Search.MaxFileSize = int64(v)
			}
			if s, ok := firstStringArg(cn); ok {
				if sz, err := parseSize(s); err == nil {
					cfg.Search.MaxFileSize = sz
				} else {
					log.Printf("WARNING: invalid max_file_size %q in KDL config: %v", s, err)
				}
			}
		case "respect_gitignore":
			if b, ok := firstBoolArg(cn); ok {
				cfg.Search.RespectGitignore = b
			}
		case "follow_symlinks":
			if b, ok := firstBoolArg(cn); ok {
				cfg.Search.FollowSymlinks = b
			}
		case "regex_cache_size":
			if v, ok := firstIntArg(cn); ok {
				cfg.Search.RegexCacheSize = v
			}
		}
	}
}

// Helper functions over the kdl-go document model
func nodeName(n *document.Node) string {
	if n == nil || n.Name == nil {
		return ""
	}
	return n.Name.NodeNameString()
}

func firstIntArg(n *document.Node) (int, bool) {
	if len(n.Arguments) == 0 {
		return 0, false
	}
	switch v := n.Arguments[0].Value.(type) {
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func firstStringArg(n *document.Node) (string, bool) {
	if len(n.Arguments) == 0 {
		return "", false
	}
	if s, ok := n.Arguments[0].Value.(string); ok {
		return s, true
	}
	return "", false
}

func firstBoolArg(n *document.Node) (bool, bool) {
	if len(n.Arguments) == 0 {
		return false, false
	}
	if b, ok := n.Arguments[0].Value.(bool); ok {
		return b, true
	}
	return false, false
}

// collectStringArgs reads inline arguments (exclude "a" "b") or, failing that,
// a block of children (exclude { "a"; "b" }) whose node names are the values.
func collectStringArgs(n *document.Node) []string {
	if n == nil {
		return nil
	}
	out := make([]string, 0, len(n.Arguments))
	for _, a := range n.Arguments {
		if s, ok := a.Value.(string); ok {
			out = append(out, s)
		}
	}

	if len(out) == 0 && len(n.Children) > 0 {
		for _, child := range n.Children {
			if s, ok := firstStringArg(child); ok {
				out = append(out, s)
			} else if child.Name != nil {
				if s, ok := child.Name.Value.(string); ok {
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func assignSimpleString(n *document.Node, target string, set func(string)) {
	if nodeName(n) == target {
		if s, ok := firstStringArg(n); ok {
			set(s)
		}
	}
}

// parseSize handles size strings like "10MB", "500KB", "1GB"
func parseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	var multiplier int64 = 1
	numStr := s
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier, numStr = 1024*1024*1024, strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier, numStr = 1024*1024, strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier, numStr = 1024, strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		numStr = strings.TrimSuffix(s, "B")
	}

	num, err := strconv.ParseInt(strings.TrimSpace(numStr), 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

func getDefaultExclusions() []string {
	return []string{
		// VCS metadata
		"**/.git/**",
		"**/.hg/**",
		"**/.svn/**",

		// Package managers & dependencies
		"**/node_modules/**",
		"**/vendor/**",
		"**/bower_components/**",
		"**/.venv/**",
		"**/venv/**",
		"**/site-packages/**",
		"**/.gradle/**",

		// Build artifacts & output
		"**/dist/**",
		"**/build/**",
		"**/out/**",
		"**/target/**",
		"**/obj/**",
		"**/*.min.js",
		"**/*.min.css",
		"**/*.bundle.js",
		"**/*.chunk.js",
		"**/*.map",

		// Caches
		"**/__pycache__/**",
		"**/.cache/**",
		"**/.next/**",
		"**/.nuxt/**",
		"**/.pytest_cache/**",
		"**/.mypy_cache/**",
		"**/coverage/**",

		// Editor temp files
		"**/*.swp",
		"**/*.swo",
		"**/*~",

		// OS files
		"**/.DS_Store",
		"**/Thumbs.db",

		// Lock files are large and rarely useful to search
		"**/package-lock.json",
		"**/yarn.lock",
		"**/pnpm-lock.yaml",
	}
}
