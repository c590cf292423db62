package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
	apperrors "github.com/LuizLemos21/FileExplorer/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleVolume() *fsindex.VolumeIndex {
	return fsindex.NewVolumeBuilder().
		Add("report.pdf", fsindex.File("C:/x/report.pdf")).
		Add("Reports", fsindex.Directory("C:/Reports")).
		Add("report.pdf", fsindex.File("C:/y/report.pdf")).
		Add("report_final.pdf", fsindex.File("C:/y/report_final.pdf")).
		Build()
}

func names(vol *fsindex.VolumeIndex) []string {
	var out []string
	vol.Each(func(n string, _ []fsindex.PathEntry) bool {
		out = append(out, n)
		return true
	})
	return out
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)

	name, err := w.Write("C", sampleVolume())
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, name))
	assert.NoFileExists(t, filepath.Join(dir, name+".tmp"))

	f, err := ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	assert.Equal(t, "C", f.VolumeID)
	assert.Equal(t, uint32(3), f.Header.NameCount)
	assert.Equal(t, uint32(4), f.Header.EntryCount)
	assert.Equal(t, []string{"report.pdf", "Reports", "report_final.pdf"}, names(f.Volume))
	assert.Equal(t, []fsindex.PathEntry{
		fsindex.File("C:/x/report.pdf"),
		fsindex.File("C:/y/report.pdf"),
	}, f.Volume.Lookup("report.pdf"))
	assert.Equal(t, fsindex.KindDirectory, f.Volume.Lookup("Reports")[0].Kind)
}

func TestFileNameEncodesVolume(t *testing.T) {
	at := time.Unix(0, 42)
	assert.Equal(t, "vol_2f_42.fxs", FileName("/", at))
	assert.Equal(t, "vol_43_42.fxs", FileName("C", at))
}

func TestReadFileRejectsCorruption(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write("C", sampleVolume())
	require.NoError(t, err)
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[HeaderSize+3] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = ReadFile(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSnapshotCorrupt)
}

func TestReadFileRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.fxs")
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize+FooterSize+4), 0o644))

	_, err := ReadFile(path)
	assert.ErrorIs(t, err, apperrors.ErrSnapshotCorrupt)
}

func TestReadFileRejectsTruncated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.fxs")
	require.NoError(t, os.WriteFile(path, []byte("FXSX"), 0o644))

	_, err := ReadFile(path)
	assert.ErrorIs(t, err, apperrors.ErrSnapshotCorrupt)
}

func TestLoadDirKeepsNewestPerVolume(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	clock := time.Unix(1700000000, 0)
	w.now = func() time.Time { return clock }

	old := fsindex.NewVolumeBuilder().Add("old.txt", fsindex.File("C:/old.txt")).Build()
	_, err := w.Write("C", old)
	require.NoError(t, err)

	clock = clock.Add(time.Minute)
	_, err = w.Write("C", sampleVolume())
	require.NoError(t, err)

	_, err = w.Write("D", fsindex.NewVolumeBuilder().Add("d", fsindex.Directory("D:/d")).Build())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.fxs"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	volumes, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, volumes, 2)
	assert.Equal(t, 3, volumes["C"].Len())
	assert.Nil(t, volumes["C"].Lookup("old.txt"))
	assert.Equal(t, 1, volumes["D"].Len())
}

func TestLoadDirMissingDirectory(t *testing.T) {
	volumes, err := LoadDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, volumes)
}

func TestWriteRequiresVolumeID(t *testing.T) {
	_, err := NewWriter(t.TempDir()).Write("", sampleVolume())
	assert.Error(t, err)
}
