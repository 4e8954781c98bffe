// Package sqlitebackend persists tables into a single SQLite database
// file: a `files` table keyed on (table_name, file_name) holds the
// content blobs, and `tables_metadata` mirrors the attribute files for
// direct inspection.
package sqlitebackend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
)

func init() {
	_ = storage.Register("sqlite", func(destination string) (storage.Backend, error) {
		return New(destination)
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
	table_name TEXT NOT NULL,
	file_name  TEXT NOT NULL,
	content    BLOB NOT NULL,
	PRIMARY KEY (table_name, file_name)
);
CREATE TABLE IF NOT EXISTS tables_metadata (
	table_name                    TEXT PRIMARY KEY,
	max_partitions_amount         INTEGER,
	max_rows_per_partition_amount INTEGER,
	persist                       INTEGER NOT NULL DEFAULT 1,
	created                       TEXT
);
`

// SQLite storage backend.
type SQLite struct {
	db *sql.DB
}

// New opens (creating if needed) the SQLite database at path.
func New(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: failed to open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitebackend: failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// ListTables returns the distinct table folders.
func (s *SQLite) ListTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT table_name FROM tables_metadata
		UNION
		SELECT DISTINCT table_name FROM files
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: failed to list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// CreateTableFolder registers the table in the metadata mirror.
func (s *SQLite) CreateTableFolder(ctx context.Context, table string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tables_metadata (table_name) VALUES (?)`, table)
	return err
}

// DeleteTableFolder removes the table's files and metadata row.
func (s *SQLite) DeleteTableFolder(ctx context.Context, table string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE table_name = ?`, table); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM tables_metadata WHERE table_name = ?`, table); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveFile upserts the file content. Attribute files are additionally
// mirrored into tables_metadata so the database is inspectable with
// plain SQL.
func (s *SQLite) SaveFile(ctx context.Context, table, fileName string, content []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (table_name, file_name, content) VALUES (?, ?, ?)
		ON CONFLICT (table_name, file_name) DO UPDATE SET content = excluded.content`,
		table, fileName, content)
	if err != nil {
		return err
	}
	if fileName == storage.MetadataFileName {
		s.mirrorMetadata(ctx, table, content)
	}
	return nil
}

func (s *SQLite) mirrorMetadata(ctx context.Context, table string, content []byte) {
	var meta struct {
		Persist                   bool   `json:"Persist"`
		MaxPartitionsAmount       *int   `json:"MaxPartitionsAmount"`
		MaxRowsPerPartitionAmount *int   `json:"MaxRowsPerPartitionAmount"`
		Created                   string `json:"Created"`
	}
	if err := json.Unmarshal(content, &meta); err != nil {
		return
	}
	_, _ = s.db.ExecContext(ctx, `
		INSERT INTO tables_metadata
			(table_name, max_partitions_amount, max_rows_per_partition_amount, persist, created)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (table_name) DO UPDATE SET
			max_partitions_amount = excluded.max_partitions_amount,
			max_rows_per_partition_amount = excluded.max_rows_per_partition_amount,
			persist = excluded.persist,
			created = excluded.created`,
		table, meta.MaxPartitionsAmount, meta.MaxRowsPerPartitionAmount, meta.Persist, meta.Created)
}

// DeleteFile removes the file if present.
func (s *SQLite) DeleteFile(ctx context.Context, table, fileName string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM files WHERE table_name = ? AND file_name = ?`, table, fileName)
	return err
}

// LoadFile returns the file content, or storage.ErrNotFound.
func (s *SQLite) LoadFile(ctx context.Context, table, fileName string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM files WHERE table_name = ? AND file_name = ?`,
		table, fileName).Scan(&content)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

// ListFiles returns the file names stored for a table.
func (s *SQLite) ListFiles(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file_name FROM files WHERE table_name = ? ORDER BY file_name`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		files = append(files, name)
	}
	return files, rows.Err()
}
