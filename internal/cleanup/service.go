// Package cleanup prunes old snapshot files in the background. The
// attendance ledger itself is never touched: it is the permanent record.
package cleanup

import (
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// Service handles the automatic cleanup of old snapshot files.
type Service struct {
	retentionDays int
	snapshotDir   string
	checkInterval time.Duration
	stopChan      chan struct{}
}

// NewService creates a new cleanup service. Returns nil when cleanup is
// disabled or misconfigured; a nil service is safe to start and stop.
func NewService(retentionDays int, snapshotDir string, checkInterval time.Duration) *Service {
	if retentionDays <= 0 {
		log.Info("Automatic cleanup disabled (retention_days <= 0).")
		return nil
	}
	if snapshotDir == "" {
		log.Error("Cannot initialize cleanup service: snapshot directory is empty")
		return nil
	}
	log.Infof("Initializing cleanup service: RetentionDays=%d, SnapshotDir='%s', CheckInterval=%s", retentionDays, snapshotDir, checkInterval)
	return &Service{
		retentionDays: retentionDays,
		snapshotDir:   snapshotDir,
		checkInterval: checkInterval,
		stopChan:      make(chan struct{}),
	}
}

// StartBackgroundCleanup starts a goroutine that periodically runs the
// cleanup cycle.
func (s *Service) StartBackgroundCleanup() {
	if s == nil {
		return
	}
	log.Info("Starting background cleanup routine...")

	// Run cleanup once immediately on start.
	go func() {
		log.Info("Running initial cleanup check on startup...")
		s.RunCleanupCycle()
	}()

	ticker := time.NewTicker(s.checkInterval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				log.Info("Running scheduled cleanup cycle...")
				s.RunCleanupCycle()
			case <-s.stopChan:
				log.Info("Stopping background cleanup routine.")
				return
			}
		}
	}()
}

// StopBackgroundCleanup signals the background cleanup routine to stop.
func (s *Service) StopBackgroundCleanup() {
	if s == nil || s.stopChan == nil {
		return
	}
	select {
	case <-s.stopChan:
		// Already closed
	default:
		close(s.stopChan)
	}
}

// RunCleanupCycle performs one cleanup cycle, deleting snapshot files whose
// modification time is older than the retention period.
func (s *Service) RunCleanupCycle() {
	if s == nil || s.retentionDays <= 0 {
		log.Debug("Skipping cleanup cycle: service not initialized or cleanup disabled.")
		return
	}

	cutoffTime := time.Now().AddDate(0, 0, -s.retentionDays)
	log.Infof("Cleanup: Deleting snapshots older than %s", cutoffTime.Format(time.RFC3339))

	deletedCount := 0
	failedCount := 0

	err := filepath.WalkDir(s.snapshotDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Warnf("Cleanup: Error visiting '%s': %v", path, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Warnf("Cleanup: Error reading file info for '%s': %v", path, err)
			return nil
		}
		if !info.ModTime().Before(cutoffTime) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			log.Errorf("Cleanup: Failed to delete snapshot file '%s': %v", path, err)
			failedCount++
		} else {
			log.Debugf("Cleanup: Deleted snapshot file '%s'", path)
			deletedCount++
		}
		return nil
	})
	if err != nil {
		log.Errorf("Cleanup: Error walking snapshot directory '%s': %v", s.snapshotDir, err)
		return
	}

	log.Infof("Cleanup cycle finished. Successfully deleted: %d, Failed: %d", deletedCount, failedCount)
}
