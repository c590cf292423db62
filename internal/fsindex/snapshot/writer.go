// Package snapshot reads and writes volume snapshot files (.fxs). The
// indexer writes one file per volume refresh; the searcher loads them into
// fsindex.State.
//
// Layout:
//
//	header (64 bytes) | JSON body | footer (8 bytes)
//
// The body lists filenames in enumeration order so a loaded VolumeIndex scans
// in the same order the indexer produced.
package snapshot

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
)

const (
	MagicBytes    uint32 = 0x46585358
	FormatVersion uint32 = 1
	HeaderSize    int    = 64
	FooterSize    int    = 8
	FileExt              = ".fxs"
)

// Header is the fixed-size preamble of every snapshot file.
type Header struct {
	Magic      uint32
	Version    uint32
	VolumeLen  uint32
	NameCount  uint32
	EntryCount uint32
	CreatedAt  int64
	BodyOffset int64
	BodySize   int64
}

type body struct {
	Volume string      `json:"volume"`
	Names  []nameEntry `json:"names"`
}

type nameEntry struct {
	Name    string              `json:"n"`
	Entries []fsindex.PathEntry `json:"e"`
}

// Writer serialises VolumeIndex values into snapshot files.
type Writer struct {
	dir string
	now func() time.Time
}

// NewWriter creates a Writer that writes snapshots into dir.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir, now: time.Now}
}

// FileName returns the snapshot file name for a volume at a point in time.
// Volume IDs such as "/" are not filename-safe, so they are hex encoded.
func FileName(volumeID string, at time.Time) string {
	return fmt.Sprintf("vol_%s_%d%s", hex.EncodeToString([]byte(volumeID)), at.UnixNano(), FileExt)
}

// Write atomically creates a new snapshot file for the volume and returns its
// name. It writes to a .tmp file first and renames on success.
func (w *Writer) Write(volumeID string, vol *fsindex.VolumeIndex) (string, error) {
	if volumeID == "" {
		return "", fmt.Errorf("cannot write snapshot without a volume id")
	}
	createdAt := w.now()
	name := FileName(volumeID, createdAt)
	finalPath := filepath.Join(w.dir, name)
	tmpPath := finalPath + ".tmp"

	payload := body{Volume: volumeID, Names: make([]nameEntry, 0, vol.Len())}
	vol.Each(func(n string, entries []fsindex.PathEntry) bool {
		payload.Names = append(payload.Names, nameEntry{Name: n, Entries: entries})
		return true
	})
	bodyData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling snapshot body: %w", err)
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating snapshot directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp snapshot file: %w", err)
	}
	defer f.Close()

	header := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		VolumeLen:  uint32(len(volumeID)),
		NameCount:  uint32(vol.Len()),
		EntryCount: uint32(vol.EntryCount()),
		CreatedAt:  createdAt.UnixNano(),
		BodyOffset: int64(HeaderSize),
		BodySize:   int64(len(bodyData)),
	}
	if _, err := f.Write(encodeHeader(header)); err != nil {
		return "", fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(bodyData); err != nil {
		return "", fmt.Errorf("writing body: %w", err)
	}
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], crc32.ChecksumIEEE(bodyData))
	if _, err := f.Write(footer); err != nil {
		return "", fmt.Errorf("writing footer: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("syncing snapshot file: %w", err)
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming snapshot file: %w", err)
	}
	return name, nil
}

func encodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], h.VolumeLen)
	binary.LittleEndian.PutUint32(buf[12:16], h.NameCount)
	binary.LittleEndian.PutUint32(buf[16:20], h.EntryCount)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(buf[32:40], uint64(h.BodyOffset))
	binary.LittleEndian.PutUint64(buf[40:48], uint64(h.BodySize))
	return buf
}

func decodeHeader(buf []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(buf[0:4]),
		Version:    binary.LittleEndian.Uint32(buf[4:8]),
		VolumeLen:  binary.LittleEndian.Uint32(buf[8:12]),
		NameCount:  binary.LittleEndian.Uint32(buf[12:16]),
		EntryCount: binary.LittleEndian.Uint32(buf[16:20]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(buf[24:32])),
		BodyOffset: int64(binary.LittleEndian.Uint64(buf[32:40])),
		BodySize:   int64(binary.LittleEndian.Uint64(buf[40:48])),
	}
}
