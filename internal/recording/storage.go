package recording

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/visora/visora/internal/bus"
	"github.com/visora/visora/internal/config"
)

// statfsFunc reports total and free bytes for the filesystem holding path.
// Injectable so tests can simulate a full disk.
type statfsFunc func(path string) (total, free uint64, err error)

func statfs(path string) (uint64, uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", path, err)
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}

// Monitor watches free space on the storage volume. It warns when space
// runs low and deletes the oldest aged-out recordings when space runs out.
type Monitor struct {
	store  *Store
	bus    *bus.Bus
	cfg    config.StorageConfig
	statfs statfsFunc
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// CleanupStats summarizes one retention pass.
type CleanupStats struct {
	RecordingsDeleted int   `json:"recordings_deleted"`
	BytesFreed        int64 `json:"bytes_freed"`
	FilesMissing      int   `json:"files_missing"`
	Errors            int   `json:"errors"`
}

// NewMonitor creates a storage monitor.
func NewMonitor(store *Store, b *bus.Bus, cfg config.StorageConfig) *Monitor {
	return &Monitor{
		store:  store,
		bus:    b,
		cfg:    cfg,
		statfs: statfs,
		logger: slog.Default().With("component", "storage-monitor"),
	}
}

// Start runs an immediate check, then checks on the configured interval
// until Stop is called.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("storage monitor already running")
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.mu.Unlock()

	if err := m.Check(ctx); err != nil {
		m.logger.Warn("Initial storage check failed", "error", err)
	}

	go m.run(ctx)
	m.logger.Info("Storage monitor started",
		"path", m.cfg.Path,
		"interval", m.cfg.CheckInterval,
		"min_free_percent", m.cfg.MinFreeSpacePercent)
	return nil
}

// Stop halts the periodic checks.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopCh)
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info("Storage monitor stopped")
}

func (m *Monitor) run(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.Check(ctx); err != nil {
				m.logger.Warn("Storage check failed", "error", err)
			}
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Check probes free space once. Below twice the minimum it emits a
// warning, and below the minimum it runs a cleanup pass.
func (m *Monitor) Check(ctx context.Context) error {
	total, free, err := m.statfs(m.cfg.Path)
	if err != nil {
		return err
	}
	if total == 0 {
		return fmt.Errorf("storage volume %s reports zero size", m.cfg.Path)
	}
	percentFree := float64(free) / float64(total) * 100

	if percentFree < 2*m.cfg.MinFreeSpacePercent {
		_ = m.bus.PublishStorageWarning(percentFree)
		m.logger.Warn("Storage space low", "percent_free", fmt.Sprintf("%.1f", percentFree))
	}
	if percentFree < m.cfg.MinFreeSpacePercent {
		stats, err := m.Cleanup(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		m.logger.Info("Retention cleanup finished",
			"deleted", stats.RecordingsDeleted,
			"bytes_freed", stats.BytesFreed,
			"missing", stats.FilesMissing,
			"errors", stats.Errors)
	}
	return nil
}

// Cleanup deletes recordings older than the retention window, oldest
// first. A recording's file must be gone from disk, either deleted here
// or already missing, before its metadata row is removed.
func (m *Monitor) Cleanup(ctx context.Context) (*CleanupStats, error) {
	cutoff := time.Now().AddDate(0, 0, -m.cfg.MaxStorageDays)
	old, err := m.store.OlderThan(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	stats := &CleanupStats{}
	for _, rec := range old {
		switch err := os.Remove(rec.FilePath); {
		case err == nil:
			stats.BytesFreed += rec.FileSize
		case os.IsNotExist(err):
			stats.FilesMissing++
		default:
			stats.Errors++
			m.logger.Warn("Failed to delete segment file",
				"recording_id", rec.ID, "path", rec.FilePath, "error", err)
			continue
		}

		if err := m.store.Delete(ctx, rec.ID); err != nil {
			stats.Errors++
			m.logger.Warn("Failed to delete recording row", "recording_id", rec.ID, "error", err)
			continue
		}
		stats.RecordingsDeleted++
	}
	return stats, nil
}
