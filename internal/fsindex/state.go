package fsindex

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot is one published, complete view of the filesystem index.
type Snapshot struct {
	Index       *FilesystemIndex
	Generation  uint64
	PublishedAt time.Time
}

// State is the process-wide shared index. Readers load the current Snapshot
// without locking; writers are serialised and swap in a complete new
// Snapshot, so a reader sees either the old or the new index and never a
// partial update.
type State struct {
	current atomic.Pointer[Snapshot]
	writeMu sync.Mutex
	logger  *slog.Logger
}

// NewState returns a State holding an empty index at generation 0.
func NewState() *State {
	s := &State{
		logger: slog.Default().With("component", "index-state"),
	}
	s.current.Store(&Snapshot{
		Index:       NewFilesystemIndex(nil),
		PublishedAt: time.Now().UTC(),
	})
	return s
}

// Load returns the current snapshot.
func (s *State) Load() *Snapshot {
	return s.current.Load()
}

// Lookup finds a volume in the current snapshot.
func (s *State) Lookup(volumeID string) (*VolumeIndex, bool) {
	return s.Load().Index.Volume(volumeID)
}

// Publish replaces the whole index.
func (s *State) Publish(idx *FilesystemIndex) *Snapshot {
	return s.update(func(*FilesystemIndex) *FilesystemIndex { return idx })
}

// PublishVolume replaces (or adds) a single volume, keeping the others.
func (s *State) PublishVolume(id string, vol *VolumeIndex) *Snapshot {
	snap := s.update(func(cur *FilesystemIndex) *FilesystemIndex { return cur.With(id, vol) })
	s.logger.Info("volume published",
		"volume", id,
		"filenames", vol.Len(),
		"entries", vol.EntryCount(),
		"generation", snap.Generation,
	)
	return snap
}

// RemoveVolume drops a volume from the index.
func (s *State) RemoveVolume(id string) *Snapshot {
	snap := s.update(func(cur *FilesystemIndex) *FilesystemIndex { return cur.Without(id) })
	s.logger.Info("volume removed", "volume", id, "generation", snap.Generation)
	return snap
}

func (s *State) update(fn func(*FilesystemIndex) *FilesystemIndex) *Snapshot {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	prev := s.current.Load()
	next := &Snapshot{
		Index:       fn(prev.Index),
		Generation:  prev.Generation + 1,
		PublishedAt: time.Now().UTC(),
	}
	s.current.Store(next)
	return next
}
