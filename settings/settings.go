// Package settings loads the server configuration from the user's
// settings file.
package settings

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
)

// FileName is the settings file in the user's home directory.
const FileName = ".mynosqlserver"

// Settings is the YAML model of the settings file. Every field has a
// workable default; a missing file yields pure defaults.
type Settings struct {
	// PersistenceDest selects the storage backend: an azure blob
	// connection string, a sqlite:// or bbolt:// file URL, a
	// filesystem path, or "memory".
	PersistenceDest string `json:"PersistenceDest"`

	// Location is a self-describing tag echoed in the status model.
	Location string `json:"Location"`

	// CompressData gzips partition files in the backend.
	CompressData bool `json:"CompressData"`

	// TableApiKey guards destructive table endpoints when set.
	TableApiKey string `json:"TableApiKey"`

	BackupFolder        string `json:"BackupFolder"`
	MaxBackupsToKeep    int    `json:"MaxBackupsToKeep"`
	BackupIntervalHours int    `json:"BackupIntervalHours"`

	InitTablesThreadsAmount int  `json:"InitTablesThreadsAmount"`
	SkipBrokenPartitions    bool `json:"SkipBrokenPartitions"`

	HTTPPort int `json:"HttpPort"`
	GRPCPort int `json:"GrpcPort"`
	TCPPort  int `json:"TcpPort"`
}

func defaults(home string) Settings {
	return Settings{
		PersistenceDest:         filepath.Join(home, ".mynosqlserver-data"),
		BackupFolder:            filepath.Join(home, ".mynosqlserver-backups"),
		MaxBackupsToKeep:        5,
		BackupIntervalHours:     1,
		InitTablesThreadsAmount: 3,
		HTTPPort:                5123,
		GRPCPort:                5124,
		TCPPort:                 5125,
	}
}

// Load reads the settings file from the home directory, filling
// defaults for absent fields. A missing file is not an error.
func Load() (Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Settings{}, errors.Wrap(err, "failed to resolve home directory")
	}
	return LoadFile(filepath.Join(home, FileName), home)
}

// LoadFile reads one settings file.
func LoadFile(path, home string) (Settings, error) {
	s := defaults(home)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return Settings{}, errors.Wrapf(err, "failed to read %s", path)
	}
	if err := yaml.Unmarshal(content, &s); err != nil {
		return Settings{}, errors.Wrapf(err, "failed to parse %s", path)
	}
	if s.MaxBackupsToKeep <= 0 {
		s.MaxBackupsToKeep = 5
	}
	if s.InitTablesThreadsAmount <= 0 {
		s.InitTablesThreadsAmount = 1
	}
	return s, nil
}

// BackendKind classifies PersistenceDest.
type BackendKind string

// Backend kinds.
const (
	BackendMemory BackendKind = "memory"
	BackendFS     BackendKind = "fs"
	BackendSQLite BackendKind = "sqlite"
	BackendBBolt  BackendKind = "bbolt"
	BackendAzure  BackendKind = "azureblob"
)

// Backend returns the storage backend kind and its location argument.
func (s Settings) Backend() (BackendKind, string) {
	dest := strings.TrimSpace(s.PersistenceDest)
	switch {
	case dest == "" || dest == "memory":
		return BackendMemory, ""
	case strings.HasPrefix(dest, "sqlite://"):
		return BackendSQLite, strings.TrimPrefix(dest, "sqlite://")
	case strings.HasPrefix(dest, "bbolt://"):
		return BackendBBolt, strings.TrimPrefix(dest, "bbolt://")
	case strings.Contains(dest, "AccountName="), strings.Contains(dest, "UseDevelopmentStorage=true"):
		return BackendAzure, dest
	default:
		return BackendFS, dest
	}
}
