// Package backup archives the persisted state as zip files and
// restores it from them.
package backup

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/MyJetTools/my-no-sql-server-sub000/persistence/storage"
)

// archiveTimeFormat names backup files sortably.
const archiveTimeFormat = "20060102-150405"

// WriteArchive streams the backend's entire content as a zip. Entry
// names are `<table>/<file>`.
func WriteArchive(ctx context.Context, backend storage.Backend, w io.Writer) error {
	archive := zip.NewWriter(w)

	tables, err := backend.ListTables(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list tables")
	}
	sort.Strings(tables)

	for _, table := range tables {
		files, err := backend.ListFiles(ctx, table)
		if err != nil {
			return errors.Wrapf(err, "failed to list files of %s", table)
		}
		sort.Strings(files)
		for _, file := range files {
			content, err := backend.LoadFile(ctx, table, file)
			if err != nil {
				return errors.Wrapf(err, "failed to load %s/%s", table, file)
			}
			entry, err := archive.Create(table + "/" + file)
			if err != nil {
				return err
			}
			if _, err := entry.Write(content); err != nil {
				return err
			}
		}
	}
	return archive.Close()
}

// RestoreArchive loads a zip produced by WriteArchive into the
// backend, replacing the tables it contains. Tables absent from the
// archive are left alone.
func RestoreArchive(ctx context.Context, backend storage.Backend, r io.ReaderAt, size int64) error {
	archive, err := zip.NewReader(r, size)
	if err != nil {
		return errors.Wrap(err, "failed to open archive")
	}

	touched := make(map[string]bool)
	for _, entry := range archive.File {
		table, file, ok := splitEntry(entry.Name)
		if !ok {
			log.WithField("entry", entry.Name).Warning("skipping unrecognized archive entry")
			continue
		}
		if !touched[table] {
			if err := backend.DeleteTableFolder(ctx, table); err != nil && err != storage.ErrNotFound {
				return errors.Wrapf(err, "failed to reset table %s", table)
			}
			if err := backend.CreateTableFolder(ctx, table); err != nil {
				return errors.Wrapf(err, "failed to create table %s", table)
			}
			touched[table] = true
		}

		reader, err := entry.Open()
		if err != nil {
			return errors.Wrapf(err, "failed to open entry %s", entry.Name)
		}
		content, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return errors.Wrapf(err, "failed to read entry %s", entry.Name)
		}
		if err := backend.SaveFile(ctx, table, file, content); err != nil {
			return errors.Wrapf(err, "failed to save %s/%s", table, file)
		}
	}
	return nil
}

func splitEntry(name string) (table, file string, ok bool) {
	name = strings.TrimPrefix(name, "/")
	i := strings.IndexByte(name, '/')
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	table, file = name[:i], name[i+1:]
	if strings.ContainsAny(file, "/\\") {
		return "", "", false
	}
	return table, file, true
}

// Manager produces periodic archives into a folder and prunes old
// ones.
type Manager struct {
	Backend storage.Backend
	Folder  string
	MaxKeep int
}

// RunOnce writes one archive and prunes beyond MaxKeep.
func (m *Manager) RunOnce(ctx context.Context, now time.Time) error {
	if err := os.MkdirAll(m.Folder, 0o755); err != nil {
		return errors.Wrap(err, "failed to create backup folder")
	}

	var buf bytes.Buffer
	if err := WriteArchive(ctx, m.Backend, &buf); err != nil {
		return err
	}
	name := "backup-" + now.UTC().Format(archiveTimeFormat) + ".zip"
	path := filepath.Join(m.Folder, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	log.WithFields(log.Fields{
		"path": path,
		"size": buf.Len(),
	}).Info("backup written")

	return m.prune()
}

// List returns the archive names in the folder, newest first.
func (m *Manager) List() ([]string, error) {
	entries, err := os.ReadDir(m.Folder)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read backup folder")
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".zip") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// Restore loads a named archive from the folder into the backend.
func (m *Manager) Restore(ctx context.Context, name string) error {
	if strings.ContainsAny(name, "/\\") {
		return errors.Errorf("invalid backup name %q", name)
	}
	path := filepath.Join(m.Folder, name)
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}
	return RestoreArchive(ctx, m.Backend, bytes.NewReader(content), int64(len(content)))
}

func (m *Manager) prune() error {
	names, err := m.List()
	if err != nil {
		return err
	}
	if m.MaxKeep <= 0 || len(names) <= m.MaxKeep {
		return nil
	}
	for _, name := range names[m.MaxKeep:] {
		if err := os.Remove(filepath.Join(m.Folder, name)); err != nil {
			return errors.Wrapf(err, "failed to prune %s", name)
		}
		log.WithField("backup", name).Info("pruned old backup")
	}
	return nil
}
