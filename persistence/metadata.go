// Package persistence turns sync events into the minimum set of
// backend writes: the planner coalesces per-table dirty state, the
// flusher drives the storage backend from it, and the loader
// rehydrates the database at startup.
package persistence

import (
	"encoding/base64"
	"encoding/json"

	"github.com/MyJetTools/my-no-sql-server-sub000/db"
	"github.com/MyJetTools/my-no-sql-server-sub000/timeutils"
)

// metadataFile is the on-disk shape of the `.metadata` attributes
// file.
type metadataFile struct {
	Persist                   bool   `json:"Persist"`
	MaxPartitionsAmount       *int   `json:"MaxPartitionsAmount,omitempty"`
	MaxRowsPerPartitionAmount *int   `json:"MaxRowsPerPartitionAmount,omitempty"`
	Created                   string `json:"Created,omitempty"`
}

// MarshalAttributes renders table attributes as the `.metadata` file
// content.
func MarshalAttributes(a db.TableAttributes) []byte {
	content, _ := json.Marshal(metadataFile{
		Persist:                   a.Persist,
		MaxPartitionsAmount:       a.MaxPartitionsAmount,
		MaxRowsPerPartitionAmount: a.MaxRowsPerPartitionAmount,
		Created:                   timeutils.MicrosToISO(a.Created),
	})
	return content
}

// UnmarshalAttributes parses a `.metadata` file. A missing or
// unparseable creation moment falls back to fallbackNow.
func UnmarshalAttributes(content []byte, fallbackNow int64) (db.TableAttributes, error) {
	var meta metadataFile
	if err := json.Unmarshal(content, &meta); err != nil {
		return db.TableAttributes{}, err
	}
	attributes := db.TableAttributes{
		Persist:                   meta.Persist,
		MaxPartitionsAmount:       meta.MaxPartitionsAmount,
		MaxRowsPerPartitionAmount: meta.MaxRowsPerPartitionAmount,
		Created:                   fallbackNow,
	}
	if created, ok := timeutils.ParseISO(meta.Created); ok {
		attributes.Created = created
	}
	return attributes, nil
}

// EncodePartitionKey turns a partition key into its file name. The
// URL-safe alphabet keeps file names free of path separators.
func EncodePartitionKey(pk string) string {
	return base64.URLEncoding.EncodeToString([]byte(pk))
}

// DecodePartitionKey turns a partition file name back into the key.
func DecodePartitionKey(fileName string) (string, error) {
	decoded, err := base64.URLEncoding.DecodeString(fileName)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}
