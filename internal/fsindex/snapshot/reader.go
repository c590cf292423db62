package snapshot

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
	apperrors "github.com/LuizLemos21/FileExplorer/pkg/errors"
)

// File is a decoded snapshot.
type File struct {
	Header   Header
	VolumeID string
	Volume   *fsindex.VolumeIndex
}

// ReadFile loads and verifies a snapshot file. Structural problems are
// reported wrapped in apperrors.ErrSnapshotCorrupt.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot file: %w", err)
	}
	if len(data) < HeaderSize+FooterSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", apperrors.ErrSnapshotCorrupt, path, len(data))
	}
	header := decodeHeader(data[:HeaderSize])
	if header.Magic != MagicBytes {
		return nil, fmt.Errorf("%w: bad magic bytes %x", apperrors.ErrSnapshotCorrupt, header.Magic)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", apperrors.ErrSnapshotCorrupt, header.Version)
	}
	end := header.BodyOffset + header.BodySize
	if header.BodyOffset < int64(HeaderSize) || end+int64(FooterSize) > int64(len(data)) {
		return nil, fmt.Errorf("%w: body range %d-%d out of bounds", apperrors.ErrSnapshotCorrupt, header.BodyOffset, end)
	}
	bodyData := data[header.BodyOffset:end]
	want := binary.LittleEndian.Uint32(data[end : end+4])
	if got := crc32.ChecksumIEEE(bodyData); got != want {
		return nil, fmt.Errorf("%w: checksum %08x, expected %08x", apperrors.ErrSnapshotCorrupt, got, want)
	}

	var payload body
	if err := json.Unmarshal(bodyData, &payload); err != nil {
		return nil, fmt.Errorf("%w: parsing body: %v", apperrors.ErrSnapshotCorrupt, err)
	}
	if uint32(len(payload.Volume)) != header.VolumeLen || uint32(len(payload.Names)) != header.NameCount {
		return nil, fmt.Errorf("%w: header does not match body", apperrors.ErrSnapshotCorrupt)
	}

	b := fsindex.NewVolumeBuilder()
	for _, n := range payload.Names {
		for _, e := range n.Entries {
			b.Add(n.Name, e)
		}
	}
	return &File{
		Header:   header,
		VolumeID: payload.Volume,
		Volume:   b.Build(),
	}, nil
}

// LoadDir reads every snapshot in dir and keeps the newest one per volume.
// Unreadable files are logged and skipped. A missing directory yields an
// empty result.
func LoadDir(dir string) (map[string]*fsindex.VolumeIndex, error) {
	logger := slog.Default().With("component", "snapshot-loader")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*fsindex.VolumeIndex{}, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	newest := make(map[string]*File)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), FileExt) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		f, err := ReadFile(path)
		if err != nil {
			logger.Error("failed to load snapshot, skipping",
				"snapshot", entry.Name(),
				"error", err,
			)
			continue
		}
		if cur, ok := newest[f.VolumeID]; ok && cur.Header.CreatedAt >= f.Header.CreatedAt {
			continue
		}
		newest[f.VolumeID] = f
	}

	volumes := make(map[string]*fsindex.VolumeIndex, len(newest))
	for id, f := range newest {
		volumes[id] = f.Volume
		logger.Info("loaded snapshot",
			"volume", id,
			"filenames", f.Volume.Len(),
			"entries", f.Volume.EntryCount(),
		)
	}
	logger.Info("snapshot recovery complete", "volumes_loaded", len(volumes))
	return volumes, nil
}
