// Package fsbackend persists tables as plain directories:
// <root>/<tableName>/.metadata plus one file per partition. It runs on
// an afero filesystem so tests can swap in an in-memory one.
package fsbackend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
)

const (
	defaultFileMode = os.FileMode(0o644)
	defaultDirMode  = os.FileMode(0o755)
)

func init() {
	_ = storage.Register("fs", func(destination string) (storage.Backend, error) {
		return New(afero.NewOsFs(), destination)
	})
}

// FS is the filesystem storage backend.
type FS struct {
	fs       afero.Fs
	basePath string
}

// New returns a filesystem backend rooted at basePath, creating the
// root if needed.
func New(fs afero.Fs, basePath string) (*FS, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("fsbackend: failed to validate path %s: %w", basePath, err)
	}
	if err := fs.MkdirAll(abs, defaultDirMode); err != nil {
		return nil, fmt.Errorf("fsbackend: failed to create directory %s: %w", abs, err)
	}
	return &FS{fs: fs, basePath: abs}, nil
}

func (f *FS) tablePath(table string) (string, error) {
	path := filepath.Join(f.basePath, table)
	if !strings.HasPrefix(path, f.basePath) {
		return "", fmt.Errorf("fsbackend: table name integrity check failed: %s", table)
	}
	return path, nil
}

func (f *FS) filePath(table, fileName string) (string, error) {
	tablePath, err := f.tablePath(table)
	if err != nil {
		return "", err
	}
	path := filepath.Join(tablePath, fileName)
	if filepath.Dir(path) != tablePath {
		return "", fmt.Errorf("fsbackend: file name integrity check failed: %s", fileName)
	}
	return path, nil
}

// ListTables returns the table directories under the root.
func (f *FS) ListTables(context.Context) ([]string, error) {
	entries, err := afero.ReadDir(f.fs, f.basePath)
	if err != nil {
		return nil, fmt.Errorf("fsbackend: failed to list %s: %w", f.basePath, err)
	}
	var tables []string
	for _, entry := range entries {
		if entry.IsDir() {
			tables = append(tables, entry.Name())
		}
	}
	return tables, nil
}

// CreateTableFolder creates the table directory.
func (f *FS) CreateTableFolder(_ context.Context, table string) error {
	path, err := f.tablePath(table)
	if err != nil {
		return err
	}
	return f.fs.MkdirAll(path, defaultDirMode)
}

// DeleteTableFolder removes the table directory with all its files.
func (f *FS) DeleteTableFolder(_ context.Context, table string) error {
	path, err := f.tablePath(table)
	if err != nil {
		return err
	}
	return f.fs.RemoveAll(path)
}

// SaveFile writes the file, creating the table directory if needed.
func (f *FS) SaveFile(_ context.Context, table, fileName string, content []byte) error {
	tablePath, err := f.tablePath(table)
	if err != nil {
		return err
	}
	if err := f.fs.MkdirAll(tablePath, defaultDirMode); err != nil {
		return fmt.Errorf("fsbackend: failed to create directory %s: %w", tablePath, err)
	}
	path, err := f.filePath(table, fileName)
	if err != nil {
		return err
	}
	return afero.WriteFile(f.fs, path, content, defaultFileMode)
}

// DeleteFile removes the file; a missing file is not an error.
func (f *FS) DeleteFile(_ context.Context, table, fileName string) error {
	path, err := f.filePath(table, fileName)
	if err != nil {
		return err
	}
	if err := f.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("fsbackend: failed to remove %s: %w", path, err)
	}
	return nil
}

// LoadFile reads the file content, or storage.ErrNotFound.
func (f *FS) LoadFile(_ context.Context, table, fileName string) ([]byte, error) {
	path, err := f.filePath(table, fileName)
	if err != nil {
		return nil, err
	}
	content, err := afero.ReadFile(f.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("fsbackend: failed to read %s: %w", path, err)
	}
	return content, nil
}

// ListFiles returns the file names of the table directory.
func (f *FS) ListFiles(_ context.Context, table string) ([]string, error) {
	path, err := f.tablePath(table)
	if err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(f.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fsbackend: failed to list %s: %w", path, err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			files = append(files, entry.Name())
		}
	}
	return files, nil
}
