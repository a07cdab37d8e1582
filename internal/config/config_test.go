package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sifterrors "github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/types"
)

func TestParseKDL_Defaults(t *testing.T) {
	cfg, err := parseKDL("", "/repo")
	require.NoError(t, err)

	assert.Equal(t, "/repo", cfg.Project.Root)
	assert.Equal(t, types.DefaultEventBuffer, cfg.Search.EventBuffer)
	assert.Equal(t, int64(types.DefaultMaxFileSize), cfg.Search.MaxFileSize)
	assert.False(t, cfg.Search.ReusePartial)
	assert.True(t, cfg.Search.RespectGitignore)
	assert.GreaterOrEqual(t, cfg.Search.Concurrency, 1)
	assert.Contains(t, cfg.Exclude, "**/.git/**")
}

func TestParseKDL_AllSections(t *testing.T) {
	content := `
project {
    root "."
    name "demo"
}
search {
    concurrency 4
    event_buffer 32
    reuse_partial true
    max_file_size "2MB"
    respect_gitignore false
    follow_symlinks true
    regex_cache_size 64
}
watch {
    enabled true
    debounce_ms 150
}
metrics {
    enabled true
    address "127.0.0.1:9100"
}
include "**/*.go" "**/*.md"
exclude "**/gen/**"
`
	cfg, err := parseKDL(content, "/repo")
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Project.Name)
	assert.Equal(t, ".", cfg.Project.Root)
	assert.Equal(t, 4, cfg.Search.Concurrency)
	assert.Equal(t, 32, cfg.Search.EventBuffer)
	assert.True(t, cfg.Search.ReusePartial)
	assert.Equal(t, int64(2*1024*1024), cfg.Search.MaxFileSize)
	assert.False(t, cfg.Search.RespectGitignore)
	assert.True(t, cfg.Search.FollowSymlinks)
	assert.Equal(t, 64, cfg.Search.RegexCacheSize)
	assert.True(t, cfg.Watch.Enabled)
	assert.Equal(t, 150, cfg.Watch.DebounceMs)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Address)
	assert.Equal(t, []string{"**/*.go", "**/*.md"}, cfg.Include)
	assert.Equal(t, []string{"**/gen/**"}, cfg.Exclude, "exclude block replaces defaults")
}

func TestParseKDL_ExcludeBlock(t *testing.T) {
	content := `
exclude {
    "**/a/**"
    "**/b/**"
}
`
	cfg, err := parseKDL(content, "/repo")
	require.NoError(t, err)
	assert.Equal(t, []string{"**/a/**", "**/b/**"}, cfg.Exclude)
}

func TestParseKDL_Invalid(t *testing.T) {
	_, err := parseKDL(`search {`, "/repo")
	assert.Error(t, err)
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"10", 10},
		{"10B", 10},
		{"4KB", 4096},
		{"3mb", 3 * 1024 * 1024},
		{"1GB", 1024 * 1024 * 1024},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseSize("lots")
	assert.Error(t, err)
}

func TestLoadWithRoot_ProjectOverridesGlobal(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	require.NoError(t, os.WriteFile(filepath.Join(home, ConfigFileName), []byte(`
search {
    concurrency 2
}
exclude "**/global/**"
include "**/*.txt"
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(project, ConfigFileName), []byte(`
search {
    concurrency 6
}
exclude "**/local/**"
`), 0644))

	cfg, err := LoadWithRoot("", project)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Search.Concurrency)
	assert.Contains(t, cfg.Exclude, "**/global/**")
	assert.Contains(t, cfg.Exclude, "**/local/**")
	assert.Equal(t, []string{"**/*.txt"}, cfg.Include, "base include survives when project has none")

	abs, _ := filepath.Abs(project)
	assert.Equal(t, abs, cfg.Project.Root)
}

func TestLoadWithRoot_NoFiles(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USERPROFILE", os.Getenv("HOME"))
	project := t.TempDir()

	cfg, err := LoadWithRoot("", project)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	abs, _ := filepath.Abs(project)
	assert.Equal(t, abs, cfg.Project.Root)
	assert.NotEmpty(t, cfg.Exclude)
}

func TestLoadWithRoot_ExplicitFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USERPROFILE", os.Getenv("HOME"))
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.kdl")
	require.NoError(t, os.WriteFile(path, []byte(`search { event_buffer 7; }`), 0644))

	cfg, err := LoadWithRoot(path, dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.EventBuffer)

	_, err = LoadWithRoot(filepath.Join(dir, "missing.kdl"), dir)
	assert.Error(t, err)
}

func TestMergeConfigs(t *testing.T) {
	base := &Config{
		Include: []string{"*.go"},
		Exclude: []string{"**/node_modules/**", "**/vendor/**"},
	}
	project := &Config{
		Search:  Search{Concurrency: 3},
		Exclude: []string{"**/node_modules/**", "**/dist/**"},
	}

	merged := mergeConfigs(base, project)
	assert.Equal(t, []string{"**/node_modules/**", "**/vendor/**", "**/dist/**"}, merged.Exclude)
	assert.Equal(t, []string{"*.go"}, merged.Include)
	assert.Equal(t, 3, merged.Search.Concurrency)

	project.Include = []string{"*.py"}
	merged = mergeConfigs(base, project)
	assert.Equal(t, []string{"*.py"}, merged.Include)
}

func TestValidator(t *testing.T) {
	t.Run("defaults fill zero values", func(t *testing.T) {
		cfg := &Config{Project: Project{Root: "/repo"}, Include: []string{" *.go ", ""}}
		require.NoError(t, ValidateConfig(cfg))
		assert.GreaterOrEqual(t, cfg.Search.Concurrency, 1)
		assert.Equal(t, types.DefaultEventBuffer, cfg.Search.EventBuffer)
		assert.Equal(t, int64(types.DefaultMaxFileSize), cfg.Search.MaxFileSize)
		assert.Equal(t, []string{"*.go"}, cfg.Include)
	})

	tests := []struct {
		name  string
		mut   func(*Config)
		field string
	}{
		{"empty root", func(c *Config) { c.Project.Root = "" }, "project.root"},
		{"too much concurrency", func(c *Config) { c.Search.Concurrency = MaxConcurrency + 1 }, "search.concurrency"},
		{"negative buffer", func(c *Config) { c.Search.EventBuffer = -1 }, "search.event_buffer"},
		{"huge files", func(c *Config) { c.Search.MaxFileSize = MaxFileSizeCap + 1 }, "search.max_file_size"},
		{"negative regex cache", func(c *Config) { c.Search.RegexCacheSize = -1 }, "search.regex_cache_size"},
		{"negative debounce", func(c *Config) { c.Watch.DebounceMs = -5 }, "watch.debounce_ms"},
		{"metrics without address", func(c *Config) { c.Metrics = Metrics{Enabled: true} }, "metrics.address"},
		{"bad glob", func(c *Config) { c.Exclude = []string{"[abc"} }, "pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("/repo")
			tt.mut(cfg)
			err := ValidateConfig(cfg)
			require.Error(t, err)

			var cfgErr *sifterrors.ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestBuildArtifactDetector(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(`
[package]
name = "demo"

[build]
target-dir = "rust-out"
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pyproject.toml"), []byte(`
[tool.poetry.build]
target-dir = "py-out"
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tsconfig.json"), []byte(`{"compilerOptions": {"outDir": "./lib"}}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"scripts": {"build": "tsc --outDir lib"}}`), 0644))

	patterns := NewBuildArtifactDetector(dir).DetectOutputDirectories()
	assert.ElementsMatch(t, []string{"**/rust-out/**", "**/py-out/**", "**/lib/**"}, patterns)
}

func TestBuildArtifactDetector_Empty(t *testing.T) {
	assert.Empty(t, NewBuildArtifactDetector(t.TempDir()).DetectOutputDirectories())
}
