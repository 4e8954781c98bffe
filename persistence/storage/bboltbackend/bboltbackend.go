// Package bboltbackend persists tables into a single bbolt database
// file: one bucket per table, file names as keys.
package bboltbackend

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
)

func init() {
	_ = storage.Register("bbolt", func(destination string) (storage.Backend, error) {
		return New(destination)
	})
}

// BBolt storage backend.
type BBolt struct {
	db *bbolt.DB
}

// New opens (creating if needed) the bbolt database at path.
func New(path string) (*BBolt, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bboltbackend: failed to open %s: %w", path, err)
	}
	return &BBolt{db: db}, nil
}

// Close releases the database handle.
func (b *BBolt) Close() error {
	return b.db.Close()
}

// ListTables returns all table buckets.
func (b *BBolt) ListTables(context.Context) ([]string, error) {
	var tables []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			tables = append(tables, string(name))
			return nil
		})
	})
	return tables, err
}

// CreateTableFolder creates the table bucket.
func (b *BBolt) CreateTableFolder(_ context.Context, table string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(table))
		return err
	})
}

// DeleteTableFolder removes the table bucket with all its files.
func (b *BBolt) DeleteTableFolder(_ context.Context, table string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		err := tx.DeleteBucket([]byte(table))
		if err == bbolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// SaveFile stores the file, creating the bucket if needed.
func (b *BBolt) SaveFile(_ context.Context, table, fileName string, content []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(table))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(fileName), content)
	})
}

// DeleteFile removes the file if present.
func (b *BBolt) DeleteFile(_ context.Context, table, fileName string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(fileName))
	})
}

// LoadFile returns the file content, or storage.ErrNotFound.
func (b *BBolt) LoadFile(_ context.Context, table, fileName string) ([]byte, error) {
	var content []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return storage.ErrNotFound
		}
		value := bucket.Get([]byte(fileName))
		if value == nil {
			return storage.ErrNotFound
		}
		content = make([]byte, len(value))
		copy(content, value)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// ListFiles returns the file names of the table bucket.
func (b *BBolt) ListFiles(_ context.Context, table string) ([]string, error) {
	var files []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(table))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(key, _ []byte) error {
			files = append(files, string(key))
			return nil
		})
	})
	return files, err
}
