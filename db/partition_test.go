package db

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MyJetTools/my-no-sql-server-sub000/entity"
)

func makeRow(pk, rk string, ts int64) *Row {
	return NewRow(&entity.Parsed{
		PartitionKey: pk,
		RowKey:       rk,
		TimeStamp:    ts,
		Raw:          []byte(fmt.Sprintf(`{"PartitionKey":%q,"RowKey":%q}`, pk, rk)),
	})
}

func makeExpiringRow(pk, rk string, ts, expires int64) *Row {
	return NewRow(&entity.Parsed{
		PartitionKey: pk,
		RowKey:       rk,
		TimeStamp:    ts,
		Expires:      expires,
		HasExpires:   true,
		Raw:          []byte(fmt.Sprintf(`{"PartitionKey":%q,"RowKey":%q}`, pk, rk)),
	})
}

func TestPartitionInsert(t *testing.T) {
	p := NewPartition("p1")

	require.True(t, p.Insert(makeRow("p1", "r1", 1)))
	require.False(t, p.Insert(makeRow("p1", "r1", 2)))

	row, ok := p.Get("r1")
	require.True(t, ok)
	assert.Equal(t, int64(1), row.TimeStamp)
	assert.Equal(t, 1, p.RowsCount())
}

func TestPartitionInsertOrReplace(t *testing.T) {
	p := NewPartition("p1")

	assert.Nil(t, p.InsertOrReplace(makeRow("p1", "r1", 1)))

	prev := p.InsertOrReplace(makeRow("p1", "r1", 2))
	require.NotNil(t, prev)
	assert.Equal(t, int64(1), prev.TimeStamp)
	assert.Equal(t, 1, p.RowsCount())
}

func TestPartitionRemove(t *testing.T) {
	p := NewPartition("p1")
	p.Insert(makeRow("p1", "r1", 1))

	removed, ok := p.Remove("r1")
	require.True(t, ok)
	assert.Equal(t, "r1", removed.RowKey)

	_, ok = p.Remove("r1")
	assert.False(t, ok)
	assert.Equal(t, 0, p.RowsCount())
}

func TestPartitionRowsOrdered(t *testing.T) {
	p := NewPartition("p1")
	for _, rk := range []string{"c", "a", "e", "b", "d"} {
		p.Insert(makeRow("p1", rk, 1))
	}

	var keys []string
	for _, row := range p.Rows() {
		keys = append(keys, row.RowKey)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)
}

func TestPartitionRangeBelow(t *testing.T) {
	p := NewPartition("p1")
	for _, rk := range []string{"a", "b", "c", "d", "e"} {
		p.Insert(makeRow("p1", rk, 1))
	}

	var keys []string
	for _, row := range p.RangeBelow("d", 2) {
		keys = append(keys, row.RowKey)
	}
	assert.Equal(t, []string{"c", "b"}, keys)

	keys = nil
	for _, row := range p.RangeBelow("d", 0) {
		keys = append(keys, row.RowKey)
	}
	assert.Equal(t, []string{"c", "b", "a"}, keys)
}

func TestPartitionExpirationIndex(t *testing.T) {
	p := NewPartition("p1")
	p.Insert(makeExpiringRow("p1", "r1", 1, 100))
	p.Insert(makeExpiringRow("p1", "r2", 1, 200))
	p.Insert(makeRow("p1", "r3", 1))

	var keys []string
	for _, row := range p.RowsToExpire(100) {
		keys = append(keys, row.RowKey)
	}
	assert.Equal(t, []string{"r1"}, keys)

	keys = nil
	for _, row := range p.RowsToExpire(300) {
		keys = append(keys, row.RowKey)
	}
	assert.Equal(t, []string{"r1", "r2"}, keys)

	// Removing a row clears exactly its index entry.
	p.Remove("r1")
	assert.Empty(t, p.RowsToExpire(100))

	// Replacing a row with one that never expires clears the entry too.
	p.InsertOrReplace(makeRow("p1", "r2", 2))
	assert.Empty(t, p.RowsToExpire(300))
}

func TestPartitionSetExpiration(t *testing.T) {
	p := NewPartition("p1")
	p.Insert(makeRow("p1", "r1", 1))

	row, _ := p.Get("r1")
	p.SetExpiration(row, 500, true)

	rows := p.RowsToExpire(500)
	require.Len(t, rows, 1)
	assert.Equal(t, "r1", rows[0].RowKey)

	p.SetExpiration(row, 0, false)
	assert.Empty(t, p.RowsToExpire(500))
	_, has := row.Expires()
	assert.False(t, has)
}

func TestPartitionEpochZeroExpiration(t *testing.T) {
	p := NewPartition("p1")
	p.Insert(makeRow("p1", "r1", 1))

	row, _ := p.Get("r1")
	p.SetExpiration(row, 0, true)

	at, has := row.Expires()
	require.True(t, has)
	assert.Equal(t, int64(0), at)

	rows := p.RowsToExpire(0)
	require.Len(t, rows, 1)
	assert.Equal(t, "r1", rows[0].RowKey)
}

func TestPartitionDataSize(t *testing.T) {
	p := NewPartition("p1")
	r1 := makeRow("p1", "r1", 1)
	p.Insert(r1)
	assert.Equal(t, r1.Size(), p.DataSize())

	p.Remove("r1")
	assert.Equal(t, 0, p.DataSize())
}
