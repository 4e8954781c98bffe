// Package memory provides an in-memory storage backend, used by tests
// and as the fallback when persistence is disabled.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
)

func init() {
	_ = storage.Register("memory", func(string) (storage.Backend, error) {
		return New(), nil
	})
}

// Memory storage backend.
type Memory struct {
	mu     sync.RWMutex
	tables map[string]map[string][]byte
}

// New returns an empty in-memory backend.
func New() *Memory {
	return &Memory{tables: make(map[string]map[string][]byte)}
}

// ListTables returns all table folders, ordered.
func (m *Memory) ListTables(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// CreateTableFolder creates the folder if it is missing.
func (m *Memory) CreateTableFolder(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[table]; !ok {
		m.tables[table] = make(map[string][]byte)
	}
	return nil
}

// DeleteTableFolder removes the folder with all its files.
func (m *Memory) DeleteTableFolder(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tables, table)
	return nil
}

// SaveFile stores the file, creating the folder if needed.
func (m *Memory) SaveFile(_ context.Context, table, fileName string, content []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, ok := m.tables[table]
	if !ok {
		files = make(map[string][]byte)
		m.tables[table] = files
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	files[fileName] = stored
	return nil
}

// DeleteFile removes the file if present.
func (m *Memory) DeleteFile(_ context.Context, table, fileName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if files, ok := m.tables[table]; ok {
		delete(files, fileName)
	}
	return nil
}

// LoadFile returns the file content, or storage.ErrNotFound.
func (m *Memory) LoadFile(_ context.Context, table, fileName string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files, ok := m.tables[table]
	if !ok {
		return nil, storage.ErrNotFound
	}
	content, ok := files[fileName]
	if !ok {
		return nil, storage.ErrNotFound
	}
	result := make([]byte, len(content))
	copy(result, content)
	return result, nil
}

// ListFiles returns the file names of a table folder, ordered.
func (m *Memory) ListFiles(_ context.Context, table string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files, ok := m.tables[table]
	if !ok {
		return nil, nil
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
