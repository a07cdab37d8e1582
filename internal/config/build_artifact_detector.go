// Build artifact detection from language-specific manifests.
// package.json, tsconfig.json, Cargo.toml and pyproject.toml may name custom
// output directories that should never be searched.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// BuildArtifactDetector finds language-specific build output directories
type BuildArtifactDetector struct {
	projectRoot string
}

// NewBuildArtifactDetector creates a new build artifact detector
func NewBuildArtifactDetector(projectRoot string) *BuildArtifactDetector {
	return &BuildArtifactDetector{projectRoot: projectRoot}
}

type cargoManifest struct {
	Build struct {
		TargetDir string `toml:"target-dir"`
	} `toml:"build"`
	Profile map[string]struct {
		TargetDir string `toml:"target-dir"`
	} `toml:"profile"`
}

type pyprojectManifest struct {
	Tool struct {
		Poetry struct {
			Build struct {
				TargetDir string `toml:"target-dir"`
			} `toml:"build"`
		} `toml:"poetry"`
		Setuptools struct {
			BuildDir string `toml:"build-dir"`
		} `toml:"setuptools"`
	} `toml:"tool"`
}

type packageManifest struct {
	Scripts map[string]string `json:"scripts"`
	Build   struct {
		OutDir string `json:"outDir"`
	} `json:"build"`
}

type tsconfigManifest struct {
	CompilerOptions struct {
		OutDir string `json:"outDir"`
	} `json:"compilerOptions"`
}

// DetectOutputDirectories returns exclusion globs such as "**/dist/**"
func (bad *BuildArtifactDetector) DetectOutputDirectories() []string {
	var dirs []string
	dirs = append(dirs, bad.detectJavaScriptOutputs()...)
	dirs = append(dirs, bad.detectRustOutputs()...)
	dirs = append(dirs, bad.detectPythonOutputs()...)

	patterns := make([]string, 0, len(dirs))
	for _, d := range dirs {
		d = strings.Trim(filepath.ToSlash(strings.TrimSpace(d)), "/")
		d = strings.TrimPrefix(d, "./")
		if d == "" || d == "." || strings.HasPrefix(d, "..") {
			continue
		}
		patterns = append(patterns, "**/"+d+"/**")
	}
	return DeduplicatePatterns(patterns)
}

func (bad *BuildArtifactDetector) read(name string) ([]byte, bool) {
	data, err := os.ReadFile(filepath.Join(bad.projectRoot, name))
	return data, err == nil
}

func (bad *BuildArtifactDetector) detectJavaScriptOutputs() []string {
	var dirs []string

	if data, ok := bad.read("package.json"); ok {
		var pkg packageManifest
		if json.Unmarshal(data, &pkg) == nil {
			for _, script := range pkg.Scripts {
				parts := strings.Fields(script)
				for i, part := range parts {
					if (part == "--outDir" || part == "-outDir") && i+1 < len(parts) {
						dirs = append(dirs, strings.Trim(parts[i+1], `"'`))
					}
				}
			}
			if pkg.Build.OutDir != "" {
				dirs = append(dirs, pkg.Build.OutDir)
			}
		}
	}

	if data, ok := bad.read("tsconfig.json"); ok {
		var ts tsconfigManifest
		if json.Unmarshal(data, &ts) == nil && ts.CompilerOptions.OutDir != "" {
			dirs = append(dirs, ts.CompilerOptions.OutDir)
		}
	}

	return dirs
}

func (bad *BuildArtifactDetector) detectRustOutputs() []string {
	data, ok := bad.read("Cargo.toml")
	if !ok {
		return nil
	}
	var cargo cargoManifest
	if toml.Unmarshal(data, &cargo) != nil {
		return nil
	}

	var dirs []string
	if cargo.Build.TargetDir != "" {
		dirs = append(dirs, cargo.Build.TargetDir)
	}
	for _, profile := range cargo.Profile {
		if profile.TargetDir != "" {
			dirs = append(dirs, profile.TargetDir)
		}
	}
	return dirs
}

func (bad *BuildArtifactDetector) detectPythonOutputs() []string {
	data, ok := bad.read("pyproject.toml")
	if !ok {
		return nil
	}
	var py pyprojectManifest
	if toml.Unmarshal(data, &py) != nil {
		return nil
	}

	var dirs []string
	if d := py.Tool.Poetry.Build.TargetDir; d != "" {
		dirs = append(dirs, d)
	}
	if d := py.Tool.Setuptools.BuildDir; d != "" {
		dirs = append(dirs, d)
	}
	return dirs
}

// DeduplicatePatterns removes duplicate patterns, keeping first occurrences in order
func DeduplicatePatterns(patterns []string) []string {
	seen := make(map[string]bool, len(patterns))
	result := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if !seen[pattern] {
			seen[pattern] = true
			result = append(result, pattern)
		}
	}
	return result
}
