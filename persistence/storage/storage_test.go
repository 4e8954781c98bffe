package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/fsbackend"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/memory"
)

// backendContract drives any backend through the full contract.
func backendContract(t *testing.T, b storage.Backend) {
	ctx := context.Background()

	tables, err := b.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)

	require.NoError(t, b.CreateTableFolder(ctx, "my-table"))
	require.NoError(t, b.SaveFile(ctx, "my-table", ".metadata", []byte(`{"Persist":true}`)))
	require.NoError(t, b.SaveFile(ctx, "my-table", "cGsx", []byte(`[{"a":1}]`)))

	tables, err = b.ListTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"my-table"}, tables)

	files, err := b.ListFiles(ctx, "my-table")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".metadata", "cGsx"}, files)

	content, err := b.LoadFile(ctx, "my-table", "cGsx")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[{"a":1}]`), content)

	// Overwrite.
	require.NoError(t, b.SaveFile(ctx, "my-table", "cGsx", []byte(`[]`)))
	content, err = b.LoadFile(ctx, "my-table", "cGsx")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), content)

	_, err = b.LoadFile(ctx, "my-table", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.DeleteFile(ctx, "my-table", "cGsx"))
	_, err = b.LoadFile(ctx, "my-table", "cGsx")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, b.DeleteTableFolder(ctx, "my-table"))
	tables, err = b.ListTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

func TestMemoryBackend(t *testing.T) {
	backendContract(t, memory.New())
}

func TestFSBackend(t *testing.T) {
	fs, err := fsbackend.New(afero.NewMemMapFs(), "/data")
	require.NoError(t, err)
	backendContract(t, fs)
}

func TestCompressedBackend(t *testing.T) {
	inner := memory.New()
	b := storage.WithCompression(inner)
	ctx := context.Background()

	payload := []byte(`[{"PartitionKey":"p","RowKey":"r"}]`)
	require.NoError(t, b.SaveFile(ctx, "my-table", "f", payload))

	// Stored compressed, loaded transparently.
	stored, err := inner.LoadFile(ctx, "my-table", "f")
	require.NoError(t, err)
	assert.NotEqual(t, payload, stored)
	assert.Equal(t, byte(0x1f), stored[0])

	loaded, err := b.LoadFile(ctx, "my-table", "f")
	require.NoError(t, err)
	assert.Equal(t, payload, loaded)

	// Plain files written before compression still load.
	require.NoError(t, inner.SaveFile(ctx, "my-table", "plain", payload))
	loaded, err = b.LoadFile(ctx, "my-table", "plain")
	require.NoError(t, err)
	assert.Equal(t, payload, loaded)
}

// flaky fails a fixed number of times before succeeding.
type flaky struct {
	storage.Backend
	failures int
	calls    int
}

func (f *flaky) SaveFile(ctx context.Context, table, fileName string, content []byte) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("transient")
	}
	return f.Backend.SaveFile(ctx, table, fileName, content)
}

func TestRetryBackend(t *testing.T) {
	inner := &flaky{Backend: memory.New(), failures: 2}
	b := storage.WithRetry(inner, time.Millisecond, 3)
	ctx := context.Background()

	require.NoError(t, b.SaveFile(ctx, "my-table", "f", []byte("x")))
	assert.Equal(t, 3, inner.calls)

	// Exhausted attempts surface the error.
	inner2 := &flaky{Backend: memory.New(), failures: 10}
	b2 := storage.WithRetry(inner2, time.Millisecond, 2)
	assert.Error(t, b2.SaveFile(ctx, "my-table", "f", []byte("x")))

	// Not-found is terminal, not retried.
	_, err := b.LoadFile(ctx, "my-table", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFactoryRegistry(t *testing.T) {
	b, err := storage.Create("memory", "")
	require.NoError(t, err)
	require.NotNil(t, b)

	_, err = storage.Create("no-such-backend", "")
	assert.Error(t, err)
}
