// Command indexer turns a path listing for one volume into a snapshot file
// and announces it to running searchers.
//
// The listing holds one path per line; a trailing separator marks a
// directory. With -remove, it announces that the volume is gone instead.
//
// Usage:
//
//	go run ./cmd/indexer -volume C -listing paths.txt [-config configs/development.yaml]
//	go run ./cmd/indexer -volume C -remove
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/LuizLemos21/FileExplorer/internal/fsindex/snapshot"
	"github.com/LuizLemos21/FileExplorer/internal/refresh"
	"github.com/LuizLemos21/FileExplorer/pkg/config"
	"github.com/LuizLemos21/FileExplorer/pkg/kafka"
	"github.com/LuizLemos21/FileExplorer/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	volumeID := flag.String("volume", "", "volume id, e.g. C or /")
	listingPath := flag.String("listing", "-", "path listing file, - for stdin")
	remove := flag.Bool("remove", false, "announce removal of the volume")
	flag.Parse()

	_ = godotenv.Load()
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if *volumeID == "" {
		fmt.Fprintln(os.Stderr, "-volume is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	event := refresh.SnapshotEvent{VolumeID: *volumeID, Removed: *remove}
	if !*remove {
		path, err := writeSnapshot(cfg.Index.SnapshotDir, *volumeID, *listingPath)
		if err != nil {
			slog.Error("failed to write snapshot", "volume", *volumeID, "error", err)
			os.Exit(1)
		}
		event.Path = path
	}
	event.PublishedAt = time.Now().UTC()

	if !cfg.Kafka.Enabled {
		slog.Info("kafka disabled, snapshot will be picked up on next searcher start", "path", event.Path)
		return
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.SnapshotPublished)
	defer producer.Close()
	if err := producer.Publish(ctx, kafka.Event{Key: event.VolumeID, Value: event}); err != nil {
		slog.Error("failed to announce snapshot", "volume", event.VolumeID, "error", err)
		os.Exit(1)
	}
	slog.Info("snapshot announced",
		"volume", event.VolumeID,
		"path", event.Path,
		"removed", event.Removed,
		"topic", cfg.Kafka.Topics.SnapshotPublished,
	)
}

func writeSnapshot(dir, volumeID, listingPath string) (string, error) {
	in := os.Stdin
	if listingPath != "-" {
		f, err := os.Open(listingPath)
		if err != nil {
			return "", fmt.Errorf("opening listing: %w", err)
		}
		defer f.Close()
		in = f
	}
	vol, err := snapshot.ReadListing(in)
	if err != nil {
		return "", err
	}
	name, err := snapshot.NewWriter(dir).Write(volumeID, vol)
	if err != nil {
		return "", err
	}
	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("resolving snapshot path: %w", err)
	}
	slog.Info("snapshot written",
		"volume", volumeID,
		"path", path,
		"filenames", vol.Len(),
		"entries", vol.EntryCount(),
	)
	return path, nil
}
