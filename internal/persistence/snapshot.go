package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/history"
	"github.com/amaumene/acerpal/internal/metrics"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/amaumene/acerpal/internal/queue"
	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

const (
	lockSuffix        = ".lock"
	lockRetryInterval = 100 * time.Millisecond
)

var errLocked = errors.New("snapshot lock held by another writer")

// Snapshotter saves and restores the in-memory download state
type Snapshotter struct {
	path    string
	retries int

	// mu serializes saves inside this process; fileLock serializes them across processes
	mu       sync.Mutex
	fileLock *flock.Flock

	store   *progress.Store
	queue   *queue.Queue
	history *history.SearchHistory
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewSnapshotter creates a new snapshotter for cfg.SnapshotFile
func NewSnapshotter(cfg *config.Config, store *progress.Store, q *queue.Queue, h *history.SearchHistory, m *metrics.Metrics, logger *logrus.Logger) *Snapshotter {
	return &Snapshotter{
		path:     cfg.SnapshotFile,
		retries:  cfg.SnapshotLockRetries,
		fileLock: flock.New(cfg.SnapshotFile + lockSuffix),
		store:    store,
		queue:    q,
		history:  h,
		metrics:  m,
		logger:   logger,
	}
}

// Path returns the canonical snapshot path
func (s *Snapshotter) Path() string {
	return s.path
}

// Save writes the snapshot if the lock can be taken without blocking.
// It reports whether a write happened; lock contention is not an error.
func (s *Snapshotter) Save() (bool, error) {
	if !s.mu.TryLock() {
		s.logger.Debug("Snapshot save already in progress, skipping")
		s.metrics.SnapshotSave(metrics.SnapshotSkipped)
		return false, nil
	}
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		s.metrics.SnapshotSave(metrics.SnapshotFailed)
		return false, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	if err := s.acquire(); err != nil {
		if errors.Is(err, errLocked) {
			s.logger.Debug("Snapshot lock held by another writer, skipping")
			s.metrics.SnapshotSave(metrics.SnapshotSkipped)
			return false, nil
		}
		s.metrics.SnapshotSave(metrics.SnapshotFailed)
		return false, err
	}
	defer func() {
		if err := s.fileLock.Unlock(); err != nil {
			s.logger.WithError(err).Warn("Failed to release snapshot lock")
		}
	}()

	snapshot := s.capture()
	if snapshot.IsEmpty() && exists(s.path) {
		s.metrics.SnapshotSave(metrics.SnapshotUnchanged)
		return false, nil
	}

	if err := writeAtomic(s.path, snapshot); err != nil {
		s.metrics.SnapshotSave(metrics.SnapshotFailed)
		return false, err
	}

	s.metrics.SnapshotSave(metrics.SnapshotWritten)
	s.logger.WithFields(logrus.Fields{
		"path":    s.path,
		"jobs":    len(snapshot.Jobs),
		"pending": len(snapshot.Pending),
		"active":  len(snapshot.Active),
	}).Debug("Snapshot saved")
	return true, nil
}

// acquire takes the advisory file lock, retrying up to s.retries times
func (s *Snapshotter) acquire() error {
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(lockRetryInterval), uint64(s.retries))

	return backoff.Retry(func() error {
		locked, err := s.fileLock.TryLock()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to lock snapshot: %w", err))
		}
		if !locked {
			return errLocked
		}
		return nil
	}, policy)
}

func (s *Snapshotter) capture() models.Snapshot {
	snapshot := models.Snapshot{SearchHistory: s.history.List()}
	s.queue.Capture(func(pending, active []models.QueueEntry) {
		snapshot.Jobs = s.store.Export()
		snapshot.Pending = pending
		snapshot.Active = active
	})
	snapshot.SavedAt = time.Now().UTC()
	return snapshot
}

func writeAtomic(path string, snapshot models.Snapshot) error {
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load merges the snapshot into the store, queue and history. A missing
// file means a fresh start; an unreadable or corrupt one is logged and
// ignored so startup always proceeds. It reports whether state was restored.
func (s *Snapshotter) Load() bool {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.WithField("path", s.path).Info("No snapshot found, starting empty")
		return false
	}
	if err != nil {
		s.logger.WithError(err).WithField("path", s.path).Error("Failed to read snapshot, starting empty")
		return false
	}

	var snapshot models.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		s.logger.WithError(err).WithField("path", s.path).Error("Snapshot is corrupt, starting empty")
		return false
	}

	orphans := s.orphans(snapshot)
	imported := s.store.Import(snapshot.Jobs)
	s.history.Restore(snapshot.SearchHistory)
	requeued := s.requeue(orphans)
	s.queue.Restore(append(snapshot.Pending, requeued...), snapshot.Active)

	s.logger.WithFields(logrus.Fields{
		"path":     s.path,
		"jobs":     imported,
		"pending":  len(snapshot.Pending),
		"active":   len(snapshot.Active),
		"orphans":  len(orphans),
		"saved_at": snapshot.SavedAt,
	}).Info("Snapshot loaded")
	return true
}

// orphans returns the non-terminal jobs the queue did not hold at save time,
// oldest first. Jobs already tracked in this process are left alone.
func (s *Snapshotter) orphans(snapshot models.Snapshot) []models.Job {
	queued := make(map[string]bool, len(snapshot.Pending)+len(snapshot.Active))
	for _, e := range snapshot.Pending {
		queued[e.JobID] = true
	}
	for _, e := range snapshot.Active {
		queued[e.JobID] = true
	}

	var out []models.Job
	for id, job := range snapshot.Jobs {
		if job.Status.IsTerminal() || queued[id] {
			continue
		}
		if _, tracked := s.store.Get(id); tracked {
			continue
		}
		job.ID = id
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// requeue marks orphans queued, or failed when there is nothing to download
// from, and returns the entries to append to the pending sequence
func (s *Snapshotter) requeue(orphans []models.Job) []models.QueueEntry {
	entries := make([]models.QueueEntry, 0, len(orphans))
	for _, job := range orphans {
		log := s.logger.WithFields(logrus.Fields{
			"job_id": job.ID,
			"status": job.Status,
		})

		if job.SourceURL == "" {
			if err := s.store.Update(job.ID, progress.Patch{}.
				WithStatus(models.JobStatusError).
				WithError("Interrupted before it was queued").
				WithFinishedAt(time.Now())); err != nil {
				log.WithError(err).Warn("Failed to fail orphaned job")
			}
			log.Warn("Orphaned job has no source, marked as failed")
			continue
		}

		if err := s.store.Update(job.ID, progress.Patch{}.WithStatus(models.JobStatusQueued)); err != nil {
			log.WithError(err).Warn("Failed to requeue orphaned job")
			continue
		}
		entries = append(entries, models.QueueEntry{
			JobID:     job.ID,
			SourceURL: job.SourceURL,
			Filename:  job.Filename,
		})
		log.Info("Requeued orphaned job")
	}
	return entries
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
