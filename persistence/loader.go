package persistence

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/entity"
	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// LoaderOptions tune the startup rehydration.
type LoaderOptions struct {
	// Threads is the number of tables loaded in parallel.
	Threads int

	// SkipBrokenPartitions makes unreadable partition files a logged
	// warning instead of a fatal startup error.
	SkipBrokenPartitions bool
}

// Load rehydrates all tables from the backend into the database.
// It runs while the server is still marked uninitialized; the caller
// flips the flag after Load returns.
func Load(ctx context.Context, backend storage.Backend, database *db.Database, opts LoaderOptions) error {
	tables, err := backend.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}

	threads := opts.Threads
	if threads <= 0 {
		threads = 1
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(threads)
	for _, tableName := range tables {
		tableName := tableName
		group.Go(func() error {
			return loadTable(ctx, backend, database, tableName, opts.SkipBrokenPartitions)
		})
	}
	return group.Wait()
}

func loadTable(ctx context.Context, backend storage.Backend, database *db.Database, tableName string, skipBroken bool) error {
	if err := db.ValidateTableName(tableName); err != nil {
		log.WithField("table", tableName).Warning("skipping table with invalid name in backend")
		return nil
	}
	now := timeutils.NowMicros()

	attributes, err := loadAttributes(ctx, backend, tableName, now)
	if err != nil {
		return fmt.Errorf("table %s: %w", tableName, err)
	}
	table, _, err := database.CreateTableIfMissing(tableName, attributes, now)
	if err != nil {
		return err
	}

	files, err := backend.ListFiles(ctx, tableName)
	if err != nil {
		return fmt.Errorf("table %s: failed to list files: %w", tableName, err)
	}

	loadedPartitions := 0
	loadedRows := 0
	for _, fileName := range files {
		if fileName == storage.MetadataFileName {
			continue
		}
		rows, err := loadPartition(ctx, backend, tableName, fileName, now)
		if err != nil {
			if !skipBroken {
				return fmt.Errorf("table %s: %w", tableName, err)
			}
			log.WithFields(log.Fields{
				"table": tableName,
				"file":  fileName,
				"err":   err,
			}).Error("skipping broken partition")
			continue
		}
		if len(rows) == 0 {
			continue
		}
		table.BulkInsertOrReplace(map[string][]*db.Row{rows[0].PartitionKey: rows}, now)
		loadedPartitions++
		loadedRows += len(rows)
	}

	log.WithFields(log.Fields{
		"table":      tableName,
		"partitions": loadedPartitions,
		"rows":       loadedRows,
	}).Info("table loaded")
	return nil
}

func loadAttributes(ctx context.Context, backend storage.Backend, tableName string, now int64) (db.TableAttributes, error) {
	content, err := backend.LoadFile(ctx, tableName, storage.MetadataFileName)
	if err == storage.ErrNotFound {
		return db.DefaultAttributes(now), nil
	}
	if err != nil {
		return db.TableAttributes{}, fmt.Errorf("failed to load metadata: %w", err)
	}
	attributes, err := UnmarshalAttributes(content, now)
	if err != nil {
		return db.TableAttributes{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return attributes, nil
}

func loadPartition(ctx context.Context, backend storage.Backend, tableName, fileName string, now int64) ([]*db.Row, error) {
	pk, err := DecodePartitionKey(fileName)
	if err != nil {
		return nil, fmt.Errorf("bad partition file name %s: %w", fileName, err)
	}
	content, err := backend.LoadFile(ctx, tableName, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to load partition %s: %w", pk, err)
	}

	parsed, err := entity.ParseStoredArray(content, now)
	if err != nil {
		return nil, fmt.Errorf("failed to parse partition %s: %w", pk, err)
	}
	rows := make([]*db.Row, 0, len(parsed))
	for _, p := range parsed {
		// Stored files are grouped by partition already; trust the
		// payload's own keys but keep them under the decoded partition.
		if p.PartitionKey != pk {
			return nil, fmt.Errorf("partition %s holds a row keyed to %s", pk, p.PartitionKey)
		}
		rows = append(rows, db.NewRow(p))
	}
	return rows, nil
}
