package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "data/snapshots", cfg.Index.SnapshotDir)
	assert.Equal(t, 4, cfg.Search.Workers)
	assert.False(t, cfg.Search.ScopeToDirectory)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "index.snapshot-published", cfg.Kafka.Topics.SnapshotPublished)
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "searcher.yaml")
	content := `
server:
  port: 9001
search:
  workers: 2
  timeout: 3s
index:
  snapshotDir: /var/lib/fx
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("FX_SEARCH_WORKERS", "6")
	t.Setenv("FX_KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, 6, cfg.Search.Workers)
	assert.Equal(t, 3*time.Second, cfg.Search.Timeout)
	assert.Equal(t, "/var/lib/fx", cfg.Index.SnapshotDir)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	// untouched sections keep their defaults
	assert.Equal(t, 1000, cfg.Search.MaxResults)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("FX_SEARCH_WORKERS", "0")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search.workers")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=d sslmode=disable", p.DSN())
}
