package ops

import (
	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/entity"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
)

// InsertRow stores a new row; an existing (pk, rk) slot rejects the
// write.
func (c *Core) InsertRow(tableName string, body []byte, src events.Source, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	parsed, err := entity.Parse(body, now)
	if err != nil {
		return err
	}
	row := db.NewRow(parsed)
	if !table.InsertRow(row, now) {
		return db.ErrRecordAlreadyExists
	}
	c.push(events.UpdateRows{
		EventBase: events.NewEventBase(tableName, src, now),
		Rows:      map[string][]*db.Row{row.PartitionKey: {row}},
	})
	c.runGC(table, []string{row.PartitionKey}, now)
	return nil
}

// InsertOrReplaceRow stores a row unconditionally and returns the
// stored row with its refreshed TimeStamp.
func (c *Core) InsertOrReplaceRow(tableName string, body []byte, src events.Source, now int64) (*db.Row, error) {
	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}
	parsed, err := entity.Parse(body, now)
	if err != nil {
		return nil, err
	}
	row := db.NewRow(parsed)
	table.InsertOrReplaceRow(row, now)
	c.push(events.UpdateRows{
		EventBase: events.NewEventBase(tableName, src, now),
		Rows:      map[string][]*db.Row{row.PartitionKey: {row}},
	})
	c.runGC(table, []string{row.PartitionKey}, now)
	return row, nil
}

// ReplaceRow stores a row only when the stored row's write moment
// matches the TimeStamp the client sent back.
func (c *Core) ReplaceRow(tableName string, body []byte, src events.Source, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	parsed, err := entity.Parse(body, now)
	if err != nil {
		return err
	}
	if !parsed.HasClientTimeStamp {
		return db.ErrTimestampFieldRequired
	}
	row := db.NewRow(parsed)
	if err := table.ReplaceRow(row, parsed.ClientTimeStamp, now); err != nil {
		return err
	}
	c.push(events.UpdateRows{
		EventBase: events.NewEventBase(tableName, src, now),
		Rows:      map[string][]*db.Row{row.PartitionKey: {row}},
	})
	return nil
}

// BulkInsertOrReplace stores every row of a JSON array body.
func (c *Core) BulkInsertOrReplace(tableName string, body []byte, src events.Source, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	parsed, err := entity.ParseArray(body, now)
	if err != nil {
		return err
	}
	grouped := entity.GroupByPartition(parsed)
	rowsByPartition := make(map[string][]*db.Row, len(grouped))
	for pk, items := range grouped {
		rows := make([]*db.Row, 0, len(items))
		for _, item := range items {
			rows = append(rows, db.NewRow(item))
		}
		rowsByPartition[pk] = rows
	}
	table.BulkInsertOrReplace(rowsByPartition, now)
	c.push(events.UpdateRows{
		EventBase: events.NewEventBase(tableName, src, now),
		Rows:      rowsByPartition,
	})
	touched := make([]string, 0, len(rowsByPartition))
	for pk := range rowsByPartition {
		touched = append(touched, pk)
	}
	c.runGC(table, touched, now)
	return nil
}

// CleanAndBulkInsert clears the target scope and stores the body's
// rows in its place. With a partition key the scope is one partition,
// otherwise the whole table.
func (c *Core) CleanAndBulkInsert(tableName string, body []byte, pk string, src events.Source, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	parsed, err := entity.ParseArray(body, now)
	if err != nil {
		return err
	}
	grouped := entity.GroupByPartition(parsed)
	rowsByPartition := make(map[string][]*db.Row, len(grouped))
	for groupPK, items := range grouped {
		rows := make([]*db.Row, 0, len(items))
		for _, item := range items {
			rows = append(rows, db.NewRow(item))
		}
		rowsByPartition[groupPK] = rows
	}

	if pk != "" {
		table.RemovePartitions([]string{pk}, now)
		table.BulkInsertOrReplace(rowsByPartition, now)
		partitions := make(map[string][]*db.Row, len(rowsByPartition)+1)
		partitions[pk] = table.PartitionSnapshot(pk)
		for groupPK := range rowsByPartition {
			partitions[groupPK] = table.PartitionSnapshot(groupPK)
		}
		c.push(events.InitPartitions{
			EventBase:  events.NewEventBase(tableName, src, now),
			Partitions: partitions,
		})
		return nil
	}

	table.CleanTable(now)
	table.BulkInsertOrReplace(rowsByPartition, now)
	c.push(events.InitTable{
		EventBase: events.NewEventBase(tableName, src, now),
		Snapshot:  table.Snapshot(),
	})
	return nil
}

// DeleteRow removes one row; removing the partition's last row drops
// the partition.
func (c *Core) DeleteRow(tableName, pk, rk string, src events.Source, now int64) (*db.Row, error) {
	table, err := c.table(tableName)
	if err != nil {
		return nil, err
	}
	row, removed, partitionGone := table.DeleteRow(pk, rk, now)
	if !removed {
		return nil, db.ErrRecordNotFound
	}
	ev := events.DeleteRows{
		EventBase: events.NewEventBase(tableName, src, now),
		Rows:      map[string][]string{pk: {rk}},
	}
	if partitionGone {
		ev.DeletedPartitions = []string{pk}
	}
	c.push(ev)
	return row, nil
}

// DeletePartitions removes whole partitions.
func (c *Core) DeletePartitions(tableName string, pks []string, src events.Source, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	removed := table.RemovePartitions(pks, now)
	if len(removed) == 0 {
		return nil
	}
	partitions := make(map[string][]*db.Row, len(removed))
	for pk := range removed {
		partitions[pk] = nil
	}
	c.push(events.InitPartitions{
		EventBase:  events.NewEventBase(tableName, src, now),
		Partitions: partitions,
	})
	return nil
}

// BulkDelete removes the listed rows, grouped by partition.
func (c *Core) BulkDelete(tableName string, keysByPartition map[string][]string, src events.Source, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	removed, deletedPartitions := table.BulkDelete(keysByPartition, now)
	if len(removed) == 0 && len(deletedPartitions) == 0 {
		return nil
	}
	rows := make(map[string][]string, len(removed))
	for pk, partitionRows := range removed {
		rks := make([]string, 0, len(partitionRows))
		for _, row := range partitionRows {
			rks = append(rks, row.RowKey)
		}
		rows[pk] = rks
	}
	c.push(events.DeleteRows{
		EventBase:         events.NewEventBase(tableName, src, now),
		Rows:              rows,
		DeletedPartitions: deletedPartitions,
	})
	return nil
}

// CleanTable removes every partition.
func (c *Core) CleanTable(tableName string, src events.Source, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	table.CleanTable(now)
	c.push(events.InitTable{
		EventBase: events.NewEventBase(tableName, src, now),
		Snapshot:  map[string][]*db.Row{},
	})
	return nil
}

// CreateTableIfMissing registers a table. An existing table has its
// attributes merged; a change emits an attribute event and may tighten
// the GC limits.
func (c *Core) CreateTableIfMissing(tableName string, attributes db.TableAttributes, src events.Source, now int64) error {
	if err := c.ready(); err != nil {
		return err
	}
	table, created, err := c.DB.CreateTableIfMissing(tableName, attributes, now)
	if err != nil {
		return err
	}
	if created {
		c.push(events.UpdateTableAttributes{
			EventBase:  events.NewEventBase(tableName, src, now),
			Attributes: table.Attributes(),
		})
		c.push(events.InitTable{
			EventBase: events.NewEventBase(tableName, src, now),
			Snapshot:  map[string][]*db.Row{},
		})
		return nil
	}
	return c.applyAttributes(table, attributes, src, now)
}

// SetTableAttributes replaces the table's attributes.
func (c *Core) SetTableAttributes(tableName string, attributes db.TableAttributes, src events.Source, now int64) error {
	table, err := c.table(tableName)
	if err != nil {
		return err
	}
	return c.applyAttributes(table, attributes, src, now)
}

func (c *Core) applyAttributes(table *db.Table, attributes db.TableAttributes, src events.Source, now int64) error {
	if !table.SetAttributes(attributes, now) {
		return nil
	}
	c.push(events.UpdateTableAttributes{
		EventBase:  events.NewEventBase(table.Name, src, now),
		Attributes: table.Attributes(),
	})
	// Tightened limits apply immediately.
	c.runGC(table, table.PartitionKeys(), now)
	return nil
}

// DeleteTable removes the table and everything in it.
func (c *Core) DeleteTable(tableName string, src events.Source, now int64) error {
	if err := c.ready(); err != nil {
		return err
	}
	if _, ok := c.DB.DeleteTable(tableName); !ok {
		return db.ErrTableNotFound
	}
	c.push(events.DeleteTable{EventBase: events.NewEventBase(tableName, src, now)})
	return nil
}

// runGC enforces the table's partition and row limits after a write.
// GC-originated events carry the garbage-collector source so they
// never loop back into another GC.
func (c *Core) runGC(table *db.Table, touched []string, now int64) {
	attributes := table.Attributes()

	if attributes.MaxPartitionsAmount != nil {
		removed := table.GCKeepMaxPartitions(*attributes.MaxPartitionsAmount, now)
		if len(removed) > 0 {
			partitions := make(map[string][]*db.Row, len(removed))
			for pk := range removed {
				partitions[pk] = nil
			}
			c.push(events.InitPartitions{
				EventBase:  events.NewEventBase(table.Name, events.GCSource, now),
				Partitions: partitions,
			})
		}
	}

	if attributes.MaxRowsPerPartitionAmount != nil {
		for _, pk := range touched {
			rows, partitionGone := table.GCKeepMaxRowsInPartition(pk, *attributes.MaxRowsPerPartitionAmount, now)
			if len(rows) == 0 {
				continue
			}
			rks := make([]string, 0, len(rows))
			for _, row := range rows {
				rks = append(rks, row.RowKey)
			}
			ev := events.DeleteRows{
				EventBase: events.NewEventBase(table.Name, events.GCSource, now),
				Rows:      map[string][]string{pk: rks},
			}
			if partitionGone {
				ev.DeletedPartitions = []string{pk}
			}
			c.push(ev)
		}
	}
}

// GCExpiredRows drops rows whose expiration moment has passed, across
// every table. The expiration timer drives it.
func (c *Core) GCExpiredRows(now int64) {
	if err := c.ready(); err != nil {
		return
	}
	for _, table := range c.DB.Tables() {
		removed, deletedPartitions := table.GCExpired(now)
		if len(removed) == 0 && len(deletedPartitions) == 0 {
			continue
		}
		rows := make(map[string][]string, len(removed))
		for pk, partitionRows := range removed {
			rks := make([]string, 0, len(partitionRows))
			for _, row := range partitionRows {
				rks = append(rks, row.RowKey)
			}
			rows[pk] = rks
		}
		c.push(events.DeleteRows{
			EventBase:         events.NewEventBase(table.Name, events.GCSource, now),
			Rows:              rows,
			DeletedPartitions: deletedPartitions,
		})
	}
}
