// Package fileservice is the only component that touches the filesystem. It
// reads file content for scanning (open editor buffers first, then disk) and
// enumerates candidate files under the project root.
package fileservice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/standardbeagle/sift/internal/debug"
	"github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/types"
	"github.com/standardbeagle/sift/pkg/pathutil"
)

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMaxFileSize sets the largest file ReadFile will return.
func WithMaxFileSize(n int64) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.maxFileSize = n
		}
	}
}

// Service reads files relative to a root directory. An open buffer overrides
// the file on disk until it is closed. The xxhash of the content last
// returned for every file is remembered so callers can detect changes.
type Service struct {
	root        string
	maxFileSize int64

	mu      sync.RWMutex
	buffers map[types.FileID][]byte
	hashes  map[types.FileID]uint64
}

// NewService creates a file service rooted at root.
func NewService(root string, opts ...ServiceOption) *Service {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}
	s := &Service{
		root:        root,
		maxFileSize: types.DefaultMaxFileSize,
		buffers:     make(map[types.FileID][]byte),
		hashes:      make(map[types.FileID]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the absolute root directory.
func (s *Service) Root() string {
	return s.root
}

// Path returns the absolute path of a file.
func (s *Service) Path(id types.FileID) string {
	return pathutil.FromFileID(id, s.root)
}

// FileID converts a path (absolute, or relative to the working directory)
// into the id of a file under the root.
func (s *Service) FileID(path string) (types.FileID, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	id, ok := pathutil.ToFileID(abs, s.root)
	if !ok {
		return "", fmt.Errorf("%s is not a file under %s", path, s.root)
	}
	return id, nil
}

// OpenBuffer makes content the visible content of id. The slice is copied.
func (s *Service) OpenBuffer(id types.FileID, content []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers[id] = append([]byte(nil), content...)
}

// CloseBuffer reverts id to its content on disk.
func (s *Service) CloseBuffer(id types.FileID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, id)
}

// HasBuffer reports whether id has an open buffer.
func (s *Service) HasBuffer(id types.FileID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.buffers[id]
	return ok
}

// ReadFile returns the current content of id. Files larger than the size
// limit fail with an error wrapping errors.ErrFileTooLarge.
func (s *Service) ReadFile(ctx context.Context, id types.FileID) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content, err := s.load(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.hashes[id] = xxhash.Sum64(content)
	s.mu.Unlock()
	return content, nil
}

func (s *Service) load(id types.FileID) ([]byte, error) {
	s.mu.RLock()
	buf, ok := s.buffers[id]
	s.mu.RUnlock()
	if ok {
		return buf, nil
	}

	path := s.Path(id)
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.NewFileError("stat", path, err)
	}
	if info.IsDir() {
		return nil, errors.NewFileError("read", path, fmt.Errorf("is a directory"))
	}
	if info.Size() > s.maxFileSize {
		return nil, errors.NewFileError("read", path,
			fmt.Errorf("%w (%d bytes, limit %d)", errors.ErrFileTooLarge, info.Size(), s.maxFileSize))
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewFileError("read", path, err)
	}
	return content, nil
}

// Hash returns the hash of the content last returned for id.
func (s *Service) Hash(id types.FileID) (uint64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[id]
	return h, ok
}

// Changed reports whether id's current content differs from the content last
// returned by ReadFile. seen is false for files never read. A changed file is
// forgotten until it is read again.
func (s *Service) Changed(id types.FileID) (changed, seen bool) {
	s.mu.RLock()
	old, seen := s.hashes[id]
	s.mu.RUnlock()
	if !seen {
		return false, false
	}

	content, err := s.load(id)
	changed = err != nil || xxhash.Sum64(content) != old
	if changed {
		s.mu.Lock()
		delete(s.hashes, id)
		s.mu.Unlock()
		debug.LogScan("content of %s changed", id)
	}
	return changed, true
}
