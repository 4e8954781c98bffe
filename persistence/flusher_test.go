package persistence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/entity"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage/memory"
)

func testRow(pk, rk string, ts int64) *db.Row {
	return db.NewRow(&entity.Parsed{
		PartitionKey: pk,
		RowKey:       rk,
		TimeStamp:    ts,
		Raw: []byte(fmt.Sprintf(
			`{"PartitionKey":%q,"RowKey":%q,"TimeStamp":%q}`, pk, rk, fmt.Sprint(ts))),
	})
}

func newTestFlusher(t *testing.T) (*Flusher, *db.Database, storage.Backend) {
	t.Helper()
	database := db.New()
	backend := memory.New()
	flusher := &Flusher{
		DB:           database,
		Planner:      NewPlanner(),
		Backend:      backend,
		RetryBackoff: time.Second,
	}
	return flusher, database, backend
}

func mustTable(t *testing.T, database *db.Database, name string, persist bool) *db.Table {
	t.Helper()
	attributes := db.DefaultAttributes(1)
	attributes.Persist = persist
	table, _, err := database.CreateTableIfMissing(name, attributes, 1)
	require.NoError(t, err)
	return table
}

func TestFlusherBurstWritesPartitionOnce(t *testing.T) {
	flusher, database, backend := newTestFlusher(t)
	table := mustTable(t, database, "orders", true)

	rows := make(map[string][]*db.Row, 1)
	for i := 0; i < 101; i++ {
		rk := fmt.Sprintf("row-%03d", i)
		rows["client-1"] = append(rows["client-1"], testRow("client-1", rk, int64(i)))
		flusher.Planner.MarkRows("orders", "client-1", []string{rk}, int64(i))
	}
	table.BulkInsertOrReplace(rows, 1)

	counting := &countingBackend{Backend: backend}
	flusher.Backend = counting
	flusher.Tick(context.Background(), 1_000_000, false)

	assert.Equal(t, 1, counting.saves)
	_, ok := flusher.Planner.Next(1_000_000, true)
	assert.False(t, ok)

	content, err := backend.LoadFile(context.Background(), "orders", EncodePartitionKey("client-1"))
	require.NoError(t, err)
	parsed := gjson.ParseBytes(content)
	require.True(t, parsed.IsArray())
	assert.Len(t, parsed.Array(), 101)
}

func TestFlusherSaveTableWritesMetadataAndPartitions(t *testing.T) {
	flusher, database, backend := newTestFlusher(t)
	table := mustTable(t, database, "orders", true)
	table.BulkInsertOrReplace(map[string][]*db.Row{
		"p1": {testRow("p1", "a", 1)},
		"p2": {testRow("p2", "b", 1)},
	}, 1)

	// A stale file from a partition that no longer exists.
	require.NoError(t, backend.CreateTableFolder(context.Background(), "orders"))
	require.NoError(t, backend.SaveFile(context.Background(), "orders", EncodePartitionKey("gone"), []byte("[]")))

	flusher.Planner.MarkTable("orders", 0)
	flusher.Tick(context.Background(), 1, false)

	files, err := backend.ListFiles(context.Background(), "orders")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		storage.MetadataFileName,
		EncodePartitionKey("p1"),
		EncodePartitionKey("p2"),
	}, files)

	meta, err := backend.LoadFile(context.Background(), "orders", storage.MetadataFileName)
	require.NoError(t, err)
	attributes, err := UnmarshalAttributes(meta, 99)
	require.NoError(t, err)
	assert.True(t, attributes.Persist)
}

func TestFlusherNonPersistTableOnlySavesAttributes(t *testing.T) {
	flusher, database, backend := newTestFlusher(t)
	table := mustTable(t, database, "cache", false)
	table.BulkInsertOrReplace(map[string][]*db.Row{"p1": {testRow("p1", "a", 1)}}, 1)

	flusher.Planner.MarkTable("cache", 0)
	flusher.Planner.MarkPartition("cache", "p1", 0)
	flusher.Tick(context.Background(), 1, false)

	files, err := backend.ListFiles(context.Background(), "cache")
	require.NoError(t, err)
	assert.Equal(t, []string{storage.MetadataFileName}, files)
}

func TestFlusherDeletesVanishedPartitionFile(t *testing.T) {
	flusher, database, backend := newTestFlusher(t)
	mustTable(t, database, "orders", true)

	fileName := EncodePartitionKey("p1")
	require.NoError(t, backend.CreateTableFolder(context.Background(), "orders"))
	require.NoError(t, backend.SaveFile(context.Background(), "orders", fileName, []byte("[]")))

	// The partition was removed in memory; the marker remains.
	flusher.Planner.MarkPartition("orders", "p1", 0)
	flusher.Tick(context.Background(), 1, false)

	_, err := backend.LoadFile(context.Background(), "orders", fileName)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFlusherDeleteTable(t *testing.T) {
	flusher, _, backend := newTestFlusher(t)
	require.NoError(t, backend.CreateTableFolder(context.Background(), "orders"))
	require.NoError(t, backend.SaveFile(context.Background(), "orders", EncodePartitionKey("p1"), []byte("[]")))

	flusher.Planner.MarkDeleteTable("orders", 0)
	flusher.Tick(context.Background(), 1, false)

	tables, err := backend.ListTables(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, tables, "orders")
}

func TestFlusherRequeuesFailedTask(t *testing.T) {
	flusher, database, _ := newTestFlusher(t)
	table := mustTable(t, database, "orders", true)
	table.BulkInsertOrReplace(map[string][]*db.Row{"p1": {testRow("p1", "a", 1)}}, 1)

	flusher.Backend = &failingBackend{}
	flusher.Planner.MarkPartition("orders", "p1", 0)
	flusher.Tick(context.Background(), 1, false)

	assert.True(t, flusher.Planner.HasPending())
	stats := flusher.Planner.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, uint64(1), stats[0].Failed)
}

type countingBackend struct {
	storage.Backend
	saves int
}

func (c *countingBackend) SaveFile(ctx context.Context, table, fileName string, content []byte) error {
	c.saves++
	return c.Backend.SaveFile(ctx, table, fileName, content)
}

type failingBackend struct{}

func (f *failingBackend) ListTables(context.Context) ([]string, error) {
	return nil, errors.New("backend down")
}
func (f *failingBackend) CreateTableFolder(context.Context, string) error {
	return errors.New("backend down")
}
func (f *failingBackend) DeleteTableFolder(context.Context, string) error {
	return errors.New("backend down")
}
func (f *failingBackend) SaveFile(context.Context, string, string, []byte) error {
	return errors.New("backend down")
}
func (f *failingBackend) DeleteFile(context.Context, string, string) error {
	return errors.New("backend down")
}
func (f *failingBackend) LoadFile(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("backend down")
}
func (f *failingBackend) ListFiles(context.Context, string) ([]string, error) {
	return nil, errors.New("backend down")
}
