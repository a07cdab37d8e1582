package config

import (
	"os"
	"runtime"

	"github.com/standardbeagle/sift/internal/types"
)

// ConfigFileName is the name of the project and global configuration file
const ConfigFileName = ".sift.kdl"

type Config struct {
	Version int
	Project Project
	Search  Search
	Watch   Watch
	Metrics Metrics
	Include []string
	Exclude []string
}

type Project struct {
	Root string
	Name string
}

type Search struct {
	Concurrency      int   // Maximum number of files scanned at once
	EventBuffer      int   // Buffer size of a run's event channel
	ReusePartial     bool  // Allow stopped (incomplete) runs to serve later queries
	MaxFileSize      int64 // Files above this size are reported as scan errors
	RespectGitignore bool  // Process .gitignore files for additional exclusions
	FollowSymlinks   bool
	RegexCacheSize   int // Compiled patterns kept; 0 selects the matcher default
}

type Watch struct {
	Enabled    bool // Invalidate the cache tree when files change on disk
	DebounceMs int  // Debounce time for file change events
}

type Metrics struct {
	Enabled bool
	Address string // Listen address of the /metrics endpoint, e.g. ":9090"
}

// Default returns the built-in configuration rooted at root.
func Default(root string) *Config {
	return &Config{
		Version: 1,
		Project: Project{Root: root},
		Search: Search{
			Concurrency:      defaultConcurrency(),
			EventBuffer:      types.DefaultEventBuffer,
			ReusePartial:     false,
			MaxFileSize:      types.DefaultMaxFileSize,
			RespectGitignore: true,
			FollowSymlinks:   false,
		},
		Watch: Watch{
			Enabled:    false,
			DebounceMs: 300,
		},
		Metrics: Metrics{
			Enabled: false,
			Address: ":9090",
		},
		Include: []string{},
		Exclude: getDefaultExclusions(),
	}
}

func defaultConcurrency() int {
	n := runtime.NumCPU()
	if n > types.DefaultConcurrency {
		return types.DefaultConcurrency
	}
	return max(1, n)
}

func Load(path string) (*Config, error) {
	return LoadWithRoot(path, "")
}

// LoadWithRoot loads ~/.sift.kdl and the project .sift.kdl and merges them.
// When path is non-empty it names the project config file directly.
func LoadWithRoot(path string, rootDir string) (*Config, error) {
	searchDir := "."
	if rootDir != "" {
		searchDir = rootDir
	}

	// Step 1: global base config
	var baseConfig *Config
	if homeDir, err := os.UserHomeDir(); err == nil {
		if globalCfg, err := LoadKDL(homeDir); err == nil && globalCfg != nil {
			baseConfig = globalCfg
		}
	}

	// Step 2: project config
	var projectConfig *Config
	var err error
	if path != "" {
		projectConfig, err = LoadKDLFile(path, searchDir)
	} else {
		projectConfig, err = LoadKDL(searchDir)
	}
	if err != nil {
		return nil, err
	}

	// Step 3: merge (project overrides base, base exclusions preserved)
	switch {
	case baseConfig != nil && projectConfig != nil:
		return mergeConfigs(baseConfig, projectConfig), nil
	case projectConfig != nil:
		return projectConfig, nil
	case baseConfig != nil:
		baseConfig.Project.Root = absOrSelf(searchDir)
		baseConfig.EnrichExclusionsWithBuildArtifacts()
		return baseConfig, nil
	}

	cfg := Default(absOrSelf(searchDir))
	cfg.EnrichExclusionsWithBuildArtifacts()
	return cfg, nil
}

// mergeConfigs merges a base config with a project config
// Project config takes precedence, but base exclusions are preserved
func mergeConfigs(base, project *Config) *Config {
	merged := *project

	if len(base.Exclude) > 0 {
		combined := make([]string, 0, len(base.Exclude)+len(project.Exclude))
		combined = append(combined, base.Exclude...)
		combined = append(combined, project.Exclude...)
		merged.Exclude = DeduplicatePatterns(combined)
	}

	// Inclusions: project overrides base completely if specified
	if len(project.Include) == 0 && len(base.Include) > 0 {
		merged.Include = base.Include
	}

	return &merged
}

// EnrichExclusionsWithBuildArtifacts detects build output directories from language configs
// and adds them to the exclusion list
func (c *Config) EnrichExclusionsWithBuildArtifacts() {
	if c.Project.Root == "" {
		return
	}

	detected := NewBuildArtifactDetector(c.Project.Root).DetectOutputDirectories()
	if len(detected) > 0 {
		c.Exclude = DeduplicatePatterns(append(c.Exclude, detected...))
	}
}
