// Package fsindex holds the in-memory filesystem index that search queries
// scan. A FilesystemIndex maps volume IDs to VolumeIndex values; both are
// immutable once built and are published through State.
package fsindex

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

// VolumeIndex maps filenames on one volume to the places they occur.
// Filenames enumerate in insertion order so scans are deterministic.
type VolumeIndex struct {
	names       []string
	entries     map[string][]PathEntry
	entryCount  int
	fingerprint string
}

// Len returns the number of distinct filenames.
func (v *VolumeIndex) Len() int {
	if v == nil {
		return 0
	}
	return len(v.names)
}

// EntryCount returns the total number of path entries across all filenames.
func (v *VolumeIndex) EntryCount() int {
	if v == nil {
		return 0
	}
	return v.entryCount
}

// Fingerprint identifies the volume's content: two indexes built from the
// same names and entries in the same order share it, in any process. A nil
// volume has an empty fingerprint.
func (v *VolumeIndex) Fingerprint() string {
	if v == nil {
		return ""
	}
	return v.fingerprint
}

// At returns the i-th filename in enumeration order and its entries. The
// returned slice must not be modified.
func (v *VolumeIndex) At(i int) (string, []PathEntry) {
	name := v.names[i]
	return name, v.entries[name]
}

// Lookup returns the entries recorded for an exact filename.
func (v *VolumeIndex) Lookup(name string) []PathEntry {
	if v == nil {
		return nil
	}
	return v.entries[name]
}

// Each calls fn for every filename in enumeration order until fn returns
// false.
func (v *VolumeIndex) Each(fn func(name string, entries []PathEntry) bool) {
	for i := 0; i < v.Len(); i++ {
		name, entries := v.At(i)
		if !fn(name, entries) {
			return
		}
	}
}

// VolumeBuilder accumulates entries for a VolumeIndex. It is not safe for
// concurrent use.
type VolumeBuilder struct {
	names      []string
	entries    map[string][]PathEntry
	entryCount int
}

func NewVolumeBuilder() *VolumeBuilder {
	return &VolumeBuilder{
		entries: make(map[string][]PathEntry),
	}
}

// Add appends entry under name. The first Add for a name fixes its position
// in the enumeration order.
func (b *VolumeBuilder) Add(name string, entry PathEntry) *VolumeBuilder {
	existing, ok := b.entries[name]
	if !ok {
		b.names = append(b.names, name)
		existing = make([]PathEntry, 0, 1)
	}
	b.entries[name] = append(existing, entry)
	b.entryCount++
	return b
}

// Build returns an immutable VolumeIndex. The builder can keep being used;
// later additions do not affect indexes already built.
func (b *VolumeBuilder) Build() *VolumeIndex {
	names := make([]string, len(b.names))
	copy(names, b.names)
	entries := make(map[string][]PathEntry, len(b.entries))
	for name, list := range b.entries {
		cp := make([]PathEntry, len(list))
		copy(cp, list)
		entries[name] = cp
	}
	return &VolumeIndex{
		names:       names,
		entries:     entries,
		entryCount:  b.entryCount,
		fingerprint: fingerprint(names, entries),
	}
}

func fingerprint(names []string, entries map[string][]PathEntry) string {
	h := sha256.New()
	var buf []byte
	for _, name := range names {
		list := entries[name]
		buf = appendString(buf[:0], name)
		buf = binary.AppendUvarint(buf, uint64(len(list)))
		for _, e := range list {
			buf = append(buf, byte(e.Kind))
			buf = appendString(buf, e.Path)
		}
		h.Write(buf)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

// FilesystemIndex maps volume IDs to their VolumeIndex. Values are never
// mutated; With and Without return modified copies that share untouched
// volumes.
type FilesystemIndex struct {
	volumes map[string]*VolumeIndex
}

func NewFilesystemIndex(volumes map[string]*VolumeIndex) *FilesystemIndex {
	cp := make(map[string]*VolumeIndex, len(volumes))
	for id, vol := range volumes {
		cp[id] = vol
	}
	return &FilesystemIndex{volumes: cp}
}

// Volume looks up a volume by ID. An unknown ID reports false rather than an
// error.
func (f *FilesystemIndex) Volume(id string) (*VolumeIndex, bool) {
	if f == nil {
		return nil, false
	}
	vol, ok := f.volumes[id]
	return vol, ok
}

// VolumeIDs returns the known volume IDs sorted.
func (f *FilesystemIndex) VolumeIDs() []string {
	if f == nil {
		return nil
	}
	ids := make([]string, 0, len(f.volumes))
	for id := range f.volumes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// EntryCount sums entries over all volumes.
func (f *FilesystemIndex) EntryCount() int {
	if f == nil {
		return 0
	}
	total := 0
	for _, vol := range f.volumes {
		total += vol.EntryCount()
	}
	return total
}

func (f *FilesystemIndex) With(id string, vol *VolumeIndex) *FilesystemIndex {
	next := NewFilesystemIndex(f.volumesOrEmpty())
	next.volumes[id] = vol
	return next
}

func (f *FilesystemIndex) Without(id string) *FilesystemIndex {
	next := NewFilesystemIndex(f.volumesOrEmpty())
	delete(next.volumes, id)
	return next
}

func (f *FilesystemIndex) volumesOrEmpty() map[string]*VolumeIndex {
	if f == nil {
		return nil
	}
	return f.volumes
}
