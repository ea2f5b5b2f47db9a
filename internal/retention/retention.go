// Package retention removes aged passage events together with the
// snapshot files they reference.
package retention

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/trafficlens/trafficlens/internal/event"
)

// Config controls the retention sweep.
type Config struct {
	MaxAge   time.Duration
	Interval time.Duration
}

// Worker periodically deletes events older than MaxAge and their
// snapshot files from the snapshots directory.
type Worker struct {
	events       *event.Service
	snapshotsDir string
	cfg          Config
	logger       *slog.Logger
}

// NewWorker creates a retention worker.
func NewWorker(events *event.Service, snapshotsDir string, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Worker{
		events:       events,
		snapshotsDir: snapshotsDir,
		cfg:          cfg,
		logger:       slog.Default().With("component", "retention"),
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Retention worker started", "max_age", w.cfg.MaxAge, "interval", w.cfg.Interval)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Retention worker stopped")
			return
		case <-ticker.C:
			if _, err := w.Sweep(ctx); err != nil {
				w.logger.Error("Retention sweep failed", "error", err)
			}
		}
	}
}

// Sweep deletes events older than MaxAge and removes their snapshot
// files. Returns the number of files removed.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-w.cfg.MaxAge)

	deleted, paths, err := w.events.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var removed int
	for _, p := range paths {
		// Stored paths are URL paths like /snapshots/<name>; only the
		// file name is trusted.
		name := filepath.Base(p)
		if name == "." || name == "/" {
			continue
		}
		if err := os.Remove(filepath.Join(w.snapshotsDir, name)); err != nil {
			if !os.IsNotExist(err) {
				w.logger.Warn("Failed to delete snapshot file", "file", name, "error", err)
			}
			continue
		}
		removed++
	}

	if deleted > 0 {
		w.logger.Info("Retention sweep finished", "events", deleted, "files", removed)
	}
	return removed, nil
}
