package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTableName(t *testing.T) {
	valid := []string{"abc", "my-table", "t-1", "a1b2c3", "table-01"}
	for _, name := range valid {
		assert.NoError(t, ValidateTableName(name), name)
	}

	invalid := []string{
		"",
		"ab",
		"-abc",
		"abc-",
		"a--b",
		"UPPER",
		"with space",
		"under_score",
		string(make([]byte, 64)),
	}
	for _, name := range invalid {
		assert.ErrorIs(t, ValidateTableName(name), ErrTableNameValidation, name)
	}
}

func TestDatabaseCreateTableIfMissing(t *testing.T) {
	d := New()

	table, created, err := d.CreateTableIfMissing("my-table", DefaultAttributes(1), 1)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(1), table.Attributes().Created)

	again, created, err := d.CreateTableIfMissing("my-table", DefaultAttributes(2), 2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, table, again)

	_, _, err = d.CreateTableIfMissing("Bad Name", DefaultAttributes(1), 1)
	assert.ErrorIs(t, err, ErrTableNameValidation)
}

func TestDatabaseDeleteTable(t *testing.T) {
	d := New()
	d.CreateTableIfMissing("my-table", DefaultAttributes(1), 1)

	table, ok := d.DeleteTable("my-table")
	require.True(t, ok)
	assert.Equal(t, "my-table", table.Name)

	_, ok = d.DeleteTable("my-table")
	assert.False(t, ok)
	assert.Equal(t, 0, d.TablesCount())
}

func TestDatabaseListing(t *testing.T) {
	d := New()
	d.CreateTableIfMissing("bbb", DefaultAttributes(1), 1)
	d.CreateTableIfMissing("aaa", DefaultAttributes(1), 1)

	assert.Equal(t, []string{"aaa", "bbb"}, d.TableNames())

	tables := d.Tables()
	require.Len(t, tables, 2)
	assert.Equal(t, "aaa", tables[0].Name)
}
