package refresh

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
	"github.com/LuizLemos21/FileExplorer/internal/fsindex/snapshot"
	"github.com/LuizLemos21/FileExplorer/pkg/config"
	apperrors "github.com/LuizLemos21/FileExplorer/pkg/errors"
	"github.com/LuizLemos21/FileExplorer/pkg/metrics"
)

func indexConfig() config.IndexConfig {
	return config.IndexConfig{ReloadAttempts: 2, ReloadBaseDelay: time.Millisecond}
}

func volume(paths ...string) *fsindex.VolumeIndex {
	b := fsindex.NewVolumeBuilder()
	for _, p := range paths {
		b.Add(filepath.Base(p), fsindex.File(p))
	}
	return b.Build()
}

func writeSnapshot(t *testing.T, dir, id string, vol *fsindex.VolumeIndex) string {
	t.Helper()
	name, err := snapshot.NewWriter(dir).Write(id, vol)
	require.NoError(t, err)
	return filepath.Join(dir, name)
}

func TestLoadAllPublishesEveryVolume(t *testing.T) {
	dir := t.TempDir()
	writeSnapshot(t, dir, "C", volume("C:/a/report.pdf", "C:/b/notes.txt"))
	writeSnapshot(t, dir, "/", volume("/home/notes.txt"))

	m := metrics.New(prometheus.NewRegistry())
	state := fsindex.NewState()
	snap, err := New(state, indexConfig(), m).LoadAll(dir)
	require.NoError(t, err)

	assert.Equal(t, uint64(1), snap.Generation)
	assert.Equal(t, []string{"/", "C"}, snap.Index.VolumeIDs())
	assert.Same(t, snap, state.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexGeneration))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexedEntries.WithLabelValues("C")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotReloadsTotal.WithLabelValues(statusSuccess)))
}

func TestLoadAllMissingDirIsEmpty(t *testing.T) {
	state := fsindex.NewState()
	snap, err := New(state, indexConfig(), nil).LoadAll(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, snap.Index.VolumeIDs())
}

func TestApplyPublishesVolume(t *testing.T) {
	dir := t.TempDir()
	state := fsindex.NewState()
	state.PublishVolume("D", volume("D:/keep.txt"))
	path := writeSnapshot(t, dir, "C", volume("C:/a/report.pdf"))

	snap, err := New(state, indexConfig(), nil).Apply(context.Background(), SnapshotEvent{VolumeID: "C", Path: path})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), snap.Generation)

	vol, ok := state.Lookup("C")
	require.True(t, ok)
	assert.Equal(t, []fsindex.PathEntry{fsindex.File("C:/a/report.pdf")}, vol.Lookup("report.pdf"))
	_, ok = state.Lookup("D")
	assert.True(t, ok)
}

func TestApplyRemovesVolume(t *testing.T) {
	state := fsindex.NewState()
	state.PublishVolume("C", volume("C:/a/report.pdf"))
	m := metrics.New(prometheus.NewRegistry())
	r := New(state, indexConfig(), m)
	r.observe(state.Load())

	_, err := r.Apply(context.Background(), SnapshotEvent{VolumeID: "C", Removed: true})
	require.NoError(t, err)

	_, ok := state.Lookup("C")
	assert.False(t, ok)
	assert.Equal(t, 0, testutil.CollectAndCount(m.IndexedEntries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotReloadsTotal.WithLabelValues(statusRemoved)))
}

func TestApplyRejectsVolumeMismatch(t *testing.T) {
	dir := t.TempDir()
	state := fsindex.NewState()
	path := writeSnapshot(t, dir, "D", volume("D:/x.txt"))

	_, err := New(state, indexConfig(), nil).Apply(context.Background(), SnapshotEvent{VolumeID: "C", Path: path})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrVolumeMismatch)
	assert.Equal(t, uint64(0), state.Load().Generation)
}

func TestApplyKeepsIndexOnCorruptFile(t *testing.T) {
	dir := t.TempDir()
	state := fsindex.NewState()
	state.PublishVolume("C", volume("C:/old.txt"))
	path := writeSnapshot(t, dir, "C", volume("C:/new.txt"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[snapshot.HeaderSize+1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	m := metrics.New(prometheus.NewRegistry())
	_, err = New(state, indexConfig(), m).Apply(context.Background(), SnapshotEvent{VolumeID: "C", Path: path})
	assert.ErrorIs(t, err, apperrors.ErrSnapshotCorrupt)

	vol, ok := state.Lookup("C")
	require.True(t, ok)
	assert.NotNil(t, vol.Lookup("old.txt"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotReloadsTotal.WithLabelValues(statusError)))
}

func TestApplyRetriesMissingFile(t *testing.T) {
	state := fsindex.NewState()
	_, err := New(state, indexConfig(), nil).Apply(context.Background(), SnapshotEvent{
		VolumeID: "C",
		Path:     filepath.Join(t.TempDir(), "missing.fxs"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 attempts failed")
}

func TestApplyRequiresVolumeID(t *testing.T) {
	_, err := New(fsindex.NewState(), indexConfig(), nil).Apply(context.Background(), SnapshotEvent{Path: "x"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestHandleMessage(t *testing.T) {
	dir := t.TempDir()
	state := fsindex.NewState()
	h := New(state, indexConfig(), nil).HandleMessage()

	require.NoError(t, h(context.Background(), []byte("C"), []byte("not json")))
	assert.Equal(t, uint64(0), state.Load().Generation)

	bad, err := json.Marshal(SnapshotEvent{VolumeID: "C", Path: filepath.Join(dir, "missing.fxs")})
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), []byte("C"), bad))
	assert.Equal(t, uint64(0), state.Load().Generation)

	path := writeSnapshot(t, dir, "C", volume("C:/a/report.pdf"))
	good, err := json.Marshal(SnapshotEvent{VolumeID: "C", Path: path, PublishedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, h(context.Background(), []byte("C"), good))
	assert.Equal(t, uint64(1), state.Load().Generation)
	_, ok := state.Lookup("C")
	assert.True(t, ok)
}
