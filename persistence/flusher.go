package persistence

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/events"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// Flusher drains the planner into the storage backend. One flusher
// runs per process, driven by the persistence tick.
type Flusher struct {
	DB      *db.Database
	Planner *Planner
	Backend storage.Backend

	// RetryBackoff delays the re-issue of failed tasks.
	RetryBackoff time.Duration
}

// Tick claims and executes every task due at now. With drain set, due
// moments are ignored and the whole dirty state goes out; drain is
// used by the shutdown flush.
func (f *Flusher) Tick(ctx context.Context, now int64, drain bool) {
	for {
		task, ok := f.Planner.Next(now, drain)
		if !ok {
			return
		}
		f.runTask(ctx, task, drain)
		if ctx.Err() != nil && !drain {
			return
		}
	}
}

func (f *Flusher) runTask(ctx context.Context, task Task, drain bool) {
	started := time.Now()
	err := f.execute(ctx, task)
	f.Planner.RecordResult(task.Table, time.Since(started), err)
	if err == nil {
		return
	}

	log.WithFields(log.Fields{
		"table": task.Table,
		"kind":  task.Kind,
		"err":   err,
	}).Error("persistence task failed")
	if drain {
		return
	}
	backoff := f.RetryBackoff
	if backoff <= 0 {
		backoff = storage.DefaultRetryBackoff
	}
	f.Planner.Requeue(task, timeutils.NowMicros()+backoff.Microseconds())
}

func (f *Flusher) execute(ctx context.Context, task Task) error {
	if task.Kind == TaskDeleteTable {
		return f.Backend.DeleteTableFolder(ctx, task.Table)
	}

	table, ok := f.DB.GetTable(task.Table)
	if !ok {
		// The table vanished between marking and flushing; its
		// delete-table marker does the cleanup.
		return nil
	}
	attributes := table.Attributes()

	switch task.Kind {
	case TaskSaveAttributes:
		return f.saveAttributes(ctx, task.Table, attributes)

	case TaskSaveTable:
		if err := f.saveAttributes(ctx, task.Table, attributes); err != nil {
			return err
		}
		if !attributes.Persist {
			return nil
		}
		return f.saveWholeTable(ctx, task.Table, table.Snapshot())

	case TaskSavePartition, TaskSaveRows:
		if !attributes.Persist {
			return nil
		}
		return f.savePartition(ctx, task.Table, table, task.PartitionKey)
	}
	return nil
}

func (f *Flusher) saveAttributes(ctx context.Context, tableName string, attributes db.TableAttributes) error {
	if err := f.Backend.CreateTableFolder(ctx, tableName); err != nil {
		return err
	}
	return f.Backend.SaveFile(ctx, tableName, storage.MetadataFileName, MarshalAttributes(attributes))
}

// saveWholeTable writes every partition file and removes files of
// partitions that no longer exist.
func (f *Flusher) saveWholeTable(ctx context.Context, tableName string, snapshot map[string][]*db.Row) error {
	expected := make(map[string]struct{}, len(snapshot)+1)
	expected[storage.MetadataFileName] = struct{}{}

	for pk, rows := range snapshot {
		fileName := EncodePartitionKey(pk)
		expected[fileName] = struct{}{}
		if err := f.Backend.SaveFile(ctx, tableName, fileName, events.RowsToJSONArray(rows)); err != nil {
			return err
		}
	}

	files, err := f.Backend.ListFiles(ctx, tableName)
	if err != nil {
		return err
	}
	for _, fileName := range files {
		if _, ok := expected[fileName]; ok {
			continue
		}
		if err := f.Backend.DeleteFile(ctx, tableName, fileName); err != nil {
			return err
		}
	}
	return nil
}

// savePartition writes the partition's current content, or deletes its
// file when the partition is gone. Row-level tasks resolve to the same
// write: there are no per-row files.
func (f *Flusher) savePartition(ctx context.Context, tableName string, table *db.Table, pk string) error {
	rows := table.PartitionSnapshot(pk)
	fileName := EncodePartitionKey(pk)
	if rows == nil {
		return f.Backend.DeleteFile(ctx, tableName, fileName)
	}
	if err := f.Backend.CreateTableFolder(ctx, tableName); err != nil {
		return err
	}
	return f.Backend.SaveFile(ctx, tableName, fileName, events.RowsToJSONArray(rows))
}
