package dsn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusdb/nexusdb/pkg/wal"
)

func TestParseMemory(t *testing.T) {
	cfg, err := Parse("memory://")
	require.NoError(t, err)
	assert.True(t, cfg.InMemory)
}

func TestParseFileDefaults(t *testing.T) {
	cfg, err := Parse("file:///var/lib/nexusdb/data")
	require.NoError(t, err)
	assert.False(t, cfg.InMemory)
	assert.Equal(t, "/var/lib/nexusdb/data", cfg.Path)
	assert.Equal(t, wal.DurabilityNormal, cfg.Durability)
	assert.Equal(t, 300, cfg.SnapshotIntervalSec)
	assert.Equal(t, 5, cfg.KeepSnapshots)
	assert.Equal(t, 64, cfg.CompressionThreshold)
	assert.False(t, cfg.WALCompression)
}

func TestParseFileWithOptions(t *testing.T) {
	cfg, err := Parse("file:///data?sync=full&snapshot_interval=60&compression=on&compression_threshold=128")
	require.NoError(t, err)
	assert.Equal(t, wal.DurabilityFull, cfg.Durability)
	assert.Equal(t, 60, cfg.SnapshotIntervalSec)
	assert.True(t, cfg.WALCompression)
	assert.True(t, cfg.SnapshotCompression)
	assert.Equal(t, 128, cfg.CompressionThreshold)
}

func TestParseRejectsUnknownScheme(t *testing.T) {
	_, err := Parse("postgres://localhost/db")
	assert.Error(t, err)
}

func TestParseRejectsMissingPath(t *testing.T) {
	_, err := Parse("file://")
	assert.Error(t, err)
}

func TestParseRejectsUnknownOption(t *testing.T) {
	_, err := Parse("file:///data?bogus=1")
	assert.Error(t, err)
}

func TestParseRejectsBadIntOption(t *testing.T) {
	_, err := Parse("file:///data?wal_max_size=not-a-number")
	assert.Error(t, err)
}
