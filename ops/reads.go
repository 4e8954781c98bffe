package ops

import (
	"github.com/MyJetTools/my-no-sql-server-sub000/db"
)

// GetRow returns the row at (pk, rk).
func (c *Core) GetRow(tableName, pk, rk string, opts *db.UpdateStatistics, now int64) (*db.Row, error) {
	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}
	row, ok := table.GetRow(pk, rk, opts, now)
	if !ok {
		return nil, db.ErrRecordNotFound
	}
	return row, nil
}

// GetPartitionRows returns the partition's rows in row-key order.
func (c *Core) GetPartitionRows(tableName, pk string, limit, skip int, opts *db.UpdateStatistics, now int64) ([]*db.Row, error) {
	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}
	return table.GetPartitionRows(pk, limit, skip, opts, now), nil
}

// GetRowsByRowKey returns rows with the row key across all partitions.
func (c *Core) GetRowsByRowKey(tableName, rk string, limit, skip int, opts *db.UpdateStatistics, now int64) ([]*db.Row, error) {
	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}
	return table.GetRowsByRowKey(rk, limit, skip, opts, now), nil
}

// GetAllRows returns every row of the table.
func (c *Core) GetAllRows(tableName string, limit, skip int, opts *db.UpdateStatistics, now int64) ([]*db.Row, error) {
	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}
	return table.GetAllRows(limit, skip, opts, now), nil
}

// HighestRowAndBelow returns up to max rows below rk in one partition,
// highest first.
func (c *Core) HighestRowAndBelow(tableName, pk, rk string, max int, opts *db.UpdateStatistics, now int64) ([]*db.Row, error) {
	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}
	return table.HighestRowAndBelow(pk, rk, max, opts, now), nil
}

// GetRowsMulti point-reads a list of row keys in one partition,
// skipping misses.
func (c *Core) GetRowsMulti(tableName, pk string, rowKeys []string, opts *db.UpdateStatistics, now int64) ([]*db.Row, error) {
	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}
	return table.GetRowsMulti(pk, rowKeys, opts, now), nil
}

// MarkPartitionsRead bumps partition read moments on behalf of a
// reader that served the data from its own cache.
func (c *Core) MarkPartitionsRead(tableName string, pks []string, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	table.ApplyPartitionReadTime(pks, now)
	return nil
}

// MarkRowsRead bumps row read moments within one partition.
func (c *Core) MarkRowsRead(tableName, pk string, rowKeys []string, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	table.ApplyRowsReadTime(pk, rowKeys, now)
	return nil
}

// SetPartitionsExpiration overrides partition expiration moments.
// has=false clears them.
func (c *Core) SetPartitionsExpiration(tableName string, pks []string, at int64, has bool) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	table.ApplyPartitionsExpiration(pks, at, has)
	return nil
}

// SetRowsExpiration overrides row expiration moments within one
// partition.
func (c *Core) SetRowsExpiration(tableName, pk string, rowKeys []string, at int64, has bool) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	table.ApplyRowsExpiration(pk, rowKeys, at, has)
	return nil
}
