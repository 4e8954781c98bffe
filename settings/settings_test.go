package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	home := t.TempDir()
	s, err := LoadFile(filepath.Join(home, FileName), home)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(home, ".mynosqlserver-data"), s.PersistenceDest)
	assert.Equal(t, 5123, s.HTTPPort)
	assert.Equal(t, 5124, s.GRPCPort)
	assert.Equal(t, 5125, s.TCPPort)
	assert.Equal(t, 5, s.MaxBackupsToKeep)
}

func TestLoadFileOverrides(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, FileName)
	content := `
PersistenceDest: sqlite:///var/lib/nosql/data.db
Location: uat
CompressData: true
TableApiKey: secret
InitTablesThreadsAmount: 8
SkipBrokenPartitions: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s, err := LoadFile(path, home)
	require.NoError(t, err)
	assert.Equal(t, "uat", s.Location)
	assert.True(t, s.CompressData)
	assert.Equal(t, "secret", s.TableApiKey)
	assert.Equal(t, 8, s.InitTablesThreadsAmount)
	assert.True(t, s.SkipBrokenPartitions)

	kind, arg := s.Backend()
	assert.Equal(t, BackendSQLite, kind)
	assert.Equal(t, "/var/lib/nosql/data.db", arg)
}

func TestBackendClassification(t *testing.T) {
	cases := []struct {
		dest string
		kind BackendKind
	}{
		{"", BackendMemory},
		{"memory", BackendMemory},
		{"/var/lib/nosql", BackendFS},
		{"sqlite://data.db", BackendSQLite},
		{"bbolt://data.bolt", BackendBBolt},
		{"DefaultEndpointsProtocol=https;AccountName=acc;AccountKey=aaaa;EndpointSuffix=core.windows.net", BackendAzure},
	}
	for _, tc := range cases {
		kind, _ := Settings{PersistenceDest: tc.dest}.Backend()
		assert.Equal(t, tc.kind, kind, tc.dest)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, FileName)
	require.NoError(t, os.WriteFile(path, []byte(":\n\t- broken"), 0o600))

	_, err := LoadFile(path, home)
	assert.Error(t, err)
}
