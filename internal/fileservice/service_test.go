package fileservice

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sifterrors "github.com/standardbeagle/sift/internal/errors"
	"github.com/standardbeagle/sift/internal/types"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestService_ReadFile(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"src/a.go": "package a\n"})
	svc := NewService(root)

	content, err := svc.ReadFile(context.Background(), "src/a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n", string(content))

	_, ok := svc.Hash("src/a.go")
	assert.True(t, ok)
}

func TestService_ReadFileErrors(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"big.txt": "0123456789abcdef"})
	svc := NewService(root, WithMaxFileSize(8))

	_, err := svc.ReadFile(context.Background(), "big.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, sifterrors.ErrFileTooLarge)
	var fileErr *sifterrors.FileError
	require.True(t, errors.As(err, &fileErr))
	assert.Equal(t, sifterrors.ErrorTypeFileTooLarge, fileErr.Type)

	_, err = svc.ReadFile(context.Background(), "missing.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.ReadFile(ctx, "big.txt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestService_BufferOverlay(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.txt": "disk"})
	svc := NewService(root)

	original := []byte("buffer")
	svc.OpenBuffer("a.txt", original)
	original[0] = 'X'
	assert.True(t, svc.HasBuffer("a.txt"))

	content, err := svc.ReadFile(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "buffer", string(content), "buffers are copied")

	// unsaved buffers need not exist on disk
	svc.OpenBuffer("new.txt", []byte("unsaved"))
	content, err = svc.ReadFile(context.Background(), "new.txt")
	require.NoError(t, err)
	assert.Equal(t, "unsaved", string(content))

	svc.CloseBuffer("a.txt")
	content, err = svc.ReadFile(context.Background(), "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "disk", string(content))
}

func TestService_Changed(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"a.txt": "one"})
	svc := NewService(root)

	changed, seen := svc.Changed("a.txt")
	assert.False(t, changed)
	assert.False(t, seen, "never read")

	_, err := svc.ReadFile(context.Background(), "a.txt")
	require.NoError(t, err)

	changed, seen = svc.Changed("a.txt")
	assert.False(t, changed)
	assert.True(t, seen)

	writeFiles(t, root, map[string]string{"a.txt": "two"})
	changed, seen = svc.Changed("a.txt")
	assert.True(t, changed)
	assert.True(t, seen)

	_, seen = svc.Changed("a.txt")
	assert.False(t, seen, "a changed file is forgotten until read again")

	_, err = svc.ReadFile(context.Background(), "a.txt")
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "a.txt")))
	changed, _ = svc.Changed("a.txt")
	assert.True(t, changed, "deleted files count as changed")
}

func TestService_FileID(t *testing.T) {
	root := t.TempDir()
	svc := NewService(root)

	id, err := svc.FileID(filepath.Join(root, "src", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, types.FileID("src/main.go"), id)
	assert.Equal(t, filepath.Join(svc.Root(), "src", "main.go"), svc.Path(id))

	_, err = svc.FileID(filepath.Dir(root))
	assert.Error(t, err)
}
