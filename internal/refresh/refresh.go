// Package refresh keeps the shared filesystem index current. At startup it
// publishes every snapshot found on disk; afterwards it applies the snapshot
// events the indexer announces on Kafka.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex"
	"github.com/LuizLemos21/FileExplorer/internal/fsindex/snapshot"
	"github.com/LuizLemos21/FileExplorer/pkg/config"
	apperrors "github.com/LuizLemos21/FileExplorer/pkg/errors"
	"github.com/LuizLemos21/FileExplorer/pkg/kafka"
	"github.com/LuizLemos21/FileExplorer/pkg/metrics"
	"github.com/LuizLemos21/FileExplorer/pkg/resilience"
)

const (
	statusSuccess = "success"
	statusError   = "error"
	statusRemoved = "removed"
)

// SnapshotEvent announces a new snapshot file for a volume, or the removal
// of a volume when Removed is set. Events are keyed by volume id so all
// events for one volume arrive in order.
type SnapshotEvent struct {
	VolumeID    string    `json:"volume_id"`
	Path        string    `json:"path,omitempty"`
	Removed     bool      `json:"removed,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Refresher applies snapshots to a State.
type Refresher struct {
	state   *fsindex.State
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Refresher. m may be nil.
func New(state *fsindex.State, cfg config.IndexConfig, m *metrics.Metrics) *Refresher {
	return &Refresher{
		state: state,
		retry: resilience.RetryConfig{
			MaxAttempts:  cfg.ReloadAttempts,
			InitialDelay: cfg.ReloadBaseDelay,
			MaxDelay:     5 * time.Second,
		},
		metrics: m,
		logger:  slog.Default().With("component", "index-refresh"),
	}
}

// LoadAll publishes the newest snapshot of every volume found in dir as one
// new index generation.
func (r *Refresher) LoadAll(dir string) (*fsindex.Snapshot, error) {
	volumes, err := snapshot.LoadDir(dir)
	if err != nil {
		r.record(statusError)
		return nil, fmt.Errorf("loading snapshots from %s: %w", dir, err)
	}
	snap := r.state.Publish(fsindex.NewFilesystemIndex(volumes))
	r.record(statusSuccess)
	r.observe(snap)
	r.logger.Info("index loaded",
		"dir", dir,
		"volumes", len(volumes),
		"entries", snap.Index.EntryCount(),
		"generation", snap.Generation,
	)
	return snap, nil
}

// Apply publishes or removes the volume named by event. A snapshot that
// cannot be read after the configured retries leaves the current index
// untouched.
func (r *Refresher) Apply(ctx context.Context, event SnapshotEvent) (*fsindex.Snapshot, error) {
	if event.VolumeID == "" {
		return nil, apperrors.InvalidInput("snapshot event has no volume id")
	}
	if event.Removed {
		snap := r.state.RemoveVolume(event.VolumeID)
		r.record(statusRemoved)
		if r.metrics != nil {
			r.metrics.IndexedEntries.DeleteLabelValues(event.VolumeID)
		}
		r.observe(snap)
		return snap, nil
	}

	var file *snapshot.File
	err := resilience.Retry(ctx, "snapshot-load", r.retry, func() error {
		f, err := snapshot.ReadFile(event.Path)
		if err != nil {
			if errors.Is(err, apperrors.ErrSnapshotCorrupt) {
				return resilience.Permanent(err)
			}
			return err
		}
		if f.VolumeID != event.VolumeID {
			return resilience.Permanent(fmt.Errorf("%w: event names %q, file holds %q",
				apperrors.ErrVolumeMismatch, event.VolumeID, f.VolumeID))
		}
		file = f
		return nil
	})
	if err != nil {
		r.record(statusError)
		return nil, fmt.Errorf("loading snapshot %s: %w", event.Path, err)
	}

	snap := r.state.PublishVolume(event.VolumeID, file.Volume)
	r.record(statusSuccess)
	r.observe(snap)
	return snap, nil
}

// HandleMessage returns a Kafka handler that applies SnapshotEvents.
// Undecodable or unloadable events are logged and acknowledged; the index
// keeps serving the last good snapshot of that volume.
func (r *Refresher) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		event, err := kafka.DecodeJSON[SnapshotEvent](value)
		if err != nil {
			r.logger.Error("failed to decode snapshot event",
				"error", err,
				"key", string(key),
			)
			return nil
		}
		if _, err := r.Apply(ctx, event); err != nil {
			r.logger.Error("failed to apply snapshot event",
				"volume", event.VolumeID,
				"path", event.Path,
				"error", err,
			)
		}
		return nil
	}
}

func (r *Refresher) record(status string) {
	if r.metrics != nil {
		r.metrics.SnapshotReloadsTotal.WithLabelValues(status).Inc()
	}
}

func (r *Refresher) observe(snap *fsindex.Snapshot) {
	if r.metrics == nil {
		return
	}
	r.metrics.IndexGeneration.Set(float64(snap.Generation))
	for _, id := range snap.Index.VolumeIDs() {
		vol, _ := snap.Index.Volume(id)
		r.metrics.IndexedEntries.WithLabelValues(id).Set(float64(vol.EntryCount()))
	}
}
