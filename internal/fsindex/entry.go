package fsindex

import "fmt"

// EntryKind tells files and directories apart. It never changes for a given
// PathEntry.
type EntryKind uint8

const (
	KindFile EntryKind = iota
	KindDirectory
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return fmt.Sprintf("EntryKind(%d)", uint8(k))
	}
}

func (k EntryKind) MarshalText() ([]byte, error) {
	switch k {
	case KindFile, KindDirectory:
		return []byte(k.String()), nil
	}
	return nil, fmt.Errorf("unknown entry kind %d", uint8(k))
}

func (k *EntryKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "file":
		*k = KindFile
	case "directory":
		*k = KindDirectory
	default:
		return fmt.Errorf("unknown entry kind %q", text)
	}
	return nil
}

// PathEntry is one occurrence of a filename on a volume.
type PathEntry struct {
	Path string    `json:"p"`
	Kind EntryKind `json:"t"`
}

func File(path string) PathEntry {
	return PathEntry{Path: path, Kind: KindFile}
}

func Directory(path string) PathEntry {
	return PathEntry{Path: path, Kind: KindDirectory}
}
