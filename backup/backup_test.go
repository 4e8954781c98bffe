package backup

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/memory"
)

func seedBackend(t *testing.T) *memory.Memory {
	t.Helper()
	ctx := context.Background()
	backend := memory.New()
	require.NoError(t, backend.CreateTableFolder(ctx, "orders"))
	require.NoError(t, backend.SaveFile(ctx, "orders", ".metadata", []byte(`{"Persist":true}`)))
	require.NoError(t, backend.SaveFile(ctx, "orders", "cDE=", []byte(`[{"PartitionKey":"p1","RowKey":"r1"}]`)))
	require.NoError(t, backend.CreateTableFolder(ctx, "prices"))
	require.NoError(t, backend.SaveFile(ctx, "prices", ".metadata", []byte(`{"Persist":false}`)))
	return backend
}

func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	source := seedBackend(t)

	var buf bytes.Buffer
	require.NoError(t, WriteArchive(ctx, source, &buf))

	target := memory.New()
	// Pre-existing content in an archived table is replaced.
	require.NoError(t, target.CreateTableFolder(ctx, "orders"))
	require.NoError(t, target.SaveFile(ctx, "orders", "stale", []byte("x")))
	// A table not in the archive survives.
	require.NoError(t, target.CreateTableFolder(ctx, "keep-me"))

	require.NoError(t, RestoreArchive(ctx, target, bytes.NewReader(buf.Bytes()), int64(buf.Len())))

	tables, err := target.ListTables(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orders", "prices", "keep-me"}, tables)

	files, err := target.ListFiles(ctx, "orders")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{".metadata", "cDE="}, files)

	content, err := target.LoadFile(ctx, "orders", "cDE=")
	require.NoError(t, err)
	assert.Equal(t, `[{"PartitionKey":"p1","RowKey":"r1"}]`, string(content))
}

func TestManagerPrunes(t *testing.T) {
	ctx := context.Background()
	m := &Manager{
		Backend: seedBackend(t),
		Folder:  t.TempDir(),
		MaxKeep: 2,
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		require.NoError(t, m.RunOnce(ctx, base.Add(time.Duration(i)*time.Hour)))
	}

	names, err := m.List()
	require.NoError(t, err)
	require.Len(t, names, 2)
	assert.Equal(t, "backup-20260301-150000.zip", names[0])
	assert.Equal(t, "backup-20260301-140000.zip", names[1])
}

func TestManagerRestoreByName(t *testing.T) {
	ctx := context.Background()
	m := &Manager{Backend: seedBackend(t), Folder: t.TempDir(), MaxKeep: 5}
	require.NoError(t, m.RunOnce(ctx, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	names, err := m.List()
	require.NoError(t, err)
	require.Len(t, names, 1)

	m.Backend = memory.New()
	require.NoError(t, m.Restore(ctx, names[0]))
	tables, err := m.Backend.ListTables(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"orders", "prices"}, tables)

	assert.Error(t, m.Restore(ctx, "../evil.zip"))
}
