// Package pathutil provides utilities for converting between absolute paths
// and root-relative file ids.
//
// sift identifies files by slash-separated paths relative to the project
// root. User input and user-facing output may use absolute or OS paths; this
// package is the conversion layer between the two.
package pathutil

import (
	"path/filepath"
	"strings"

	"github.com/standardbeagle/sift/internal/types"
)

// ToRelative converts an absolute path to relative based on a root directory.
// Falls back to the original path if conversion fails or path is already relative.
//
// Examples:
//   - ToRelative("/home/user/project/src/main.go", "/home/user/project") → "src/main.go"
//   - ToRelative("/other/location/file.go", "/home/user/project") → "/other/location/file.go" (outside root)
//   - ToRelative("src/main.go", "/home/user/project") → "src/main.go" (already relative)
func ToRelative(absPath, rootDir string) string {
	if absPath == "" || rootDir == "" {
		return absPath
	}
	if !filepath.IsAbs(absPath) {
		return absPath
	}

	absPath = filepath.Clean(absPath)
	rootDir = filepath.Clean(rootDir)

	relPath, err := filepath.Rel(rootDir, absPath)
	if err != nil {
		// e.g. different drives on Windows
		return absPath
	}
	if outside(relPath) {
		return absPath
	}
	return relPath
}

// ToFileID converts an absolute path under rootDir to a file id. It reports
// false for paths outside the root and for the root itself.
func ToFileID(absPath, rootDir string) (types.FileID, bool) {
	relPath, err := filepath.Rel(filepath.Clean(rootDir), filepath.Clean(absPath))
	if err != nil || relPath == "." || outside(relPath) {
		return "", false
	}
	return types.FileID(filepath.ToSlash(relPath)), true
}

// FromFileID returns the OS path of id under rootDir.
func FromFileID(id types.FileID, rootDir string) string {
	return filepath.Join(rootDir, filepath.FromSlash(string(id)))
}

// Display renders id for output: the root-relative slash path, or the
// absolute OS path when absolute is set.
func Display(id types.FileID, rootDir string, absolute bool) string {
	if absolute {
		return FromFileID(id, rootDir)
	}
	return string(id)
}

func outside(relPath string) bool {
	return relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator))
}
