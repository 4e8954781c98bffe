// Package storage defines the persistence backend contract: a flat
// namespace of table folders, each holding a metadata file and one
// file per partition. Implementations register themselves with the
// factory registry and are picked by the persistence destination.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MetadataFileName is the per-table attributes file.
const MetadataFileName = ".metadata"

// ErrNotFound is returned by LoadFile for missing files.
var ErrNotFound = errors.New("storage: file not found")

// Backend is the persistence backend contract.
type Backend interface {
	ListTables(ctx context.Context) ([]string, error)
	CreateTableFolder(ctx context.Context, table string) error
	DeleteTableFolder(ctx context.Context, table string) error

	SaveFile(ctx context.Context, table, fileName string, content []byte) error
	DeleteFile(ctx context.Context, table, fileName string) error
	LoadFile(ctx context.Context, table, fileName string) ([]byte, error)
	ListFiles(ctx context.Context, table string) ([]string, error)
}

// A Factory creates a backend of its type for a destination.
type Factory func(destination string) (Backend, error)

var (
	backends     = make(map[string]Factory)
	backendsLock sync.Mutex
)

// Register registers a new backend type.
func Register(name string, factory Factory) error {
	backendsLock.Lock()
	defer backendsLock.Unlock()

	if _, ok := backends[name]; ok {
		return errors.New("factory for this backend type already exists")
	}
	backends[name] = factory
	return nil
}

// Create starts a backend of the given type at the destination.
func Create(name, destination string) (Backend, error) {
	backendsLock.Lock()
	defer backendsLock.Unlock()

	factory, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("storage backend of this type (%s) does not exist", name)
	}
	return factory(destination)
}
