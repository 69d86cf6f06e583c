package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amaumene/acerpal/internal/metrics"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/sirupsen/logrus"
)

// ErrDuplicateJob is returned when a job id is already pending or active
var ErrDuplicateJob = errors.New("job already queued or running")

// Runner performs one download. It must call done exactly once when the
// job reaches a terminal state, whatever the outcome.
type Runner interface {
	Download(ctx context.Context, entry models.QueueEntry, done func())
}

// Queue admits at most capacity downloads at a time and buffers the rest in
// submission order. A single mutex guards pending and active together so a
// submit and a completion can never both claim the same free slot.
type Queue struct {
	mu       sync.Mutex
	capacity int
	pending  []models.QueueEntry
	active   map[string]models.QueueEntry
	restored []models.QueueEntry // active at snapshot time, not yet relaunched

	runner  Runner
	store   *progress.Store
	metrics *metrics.Metrics
	logger  *logrus.Logger
}

// NewQueue creates a new admission queue
func NewQueue(capacity int, store *progress.Store, runner Runner, m *metrics.Metrics, logger *logrus.Logger) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	q := &Queue{
		capacity: capacity,
		active:   make(map[string]models.QueueEntry),
		runner:   runner,
		store:    store,
		metrics:  m,
		logger:   logger,
	}
	q.metrics.SetQueue(0, 0, capacity)
	return q
}

// Submit launches the job if a slot is free, otherwise appends it to the pending sequence
func (q *Queue) Submit(entry models.QueueEntry) error {
	if entry.JobID == "" {
		return fmt.Errorf("job id is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.containsLocked(entry.JobID) {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, entry.JobID)
	}

	q.metrics.JobSubmitted()

	if len(q.active) < q.capacity {
		q.launchLocked(entry)
	} else {
		q.pending = append(q.pending, entry)
		q.setStatus(entry.JobID, progress.Patch{}.WithStatus(models.JobStatusQueued))
		q.logger.WithFields(logrus.Fields{
			"job_id":   entry.JobID,
			"position": len(q.pending),
		}).Info("Download queued")
	}

	q.recordLocked()
	return nil
}

// finish frees the job's slot and admits pending jobs in FIFO order
func (q *Queue) finish(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, jobID)
	q.drainLocked()
	q.recordLocked()

	q.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"active":  len(q.active),
		"pending": len(q.pending),
	}).Debug("Download slot released")
}

func (q *Queue) drainLocked() {
	for len(q.active) < q.capacity && len(q.pending) > 0 {
		next := q.pending[0]
		q.pending = q.pending[1:]
		q.launchLocked(next)
	}
}

func (q *Queue) launchLocked(entry models.QueueEntry) {
	q.active[entry.JobID] = entry
	q.setStatus(entry.JobID, progress.Patch{}.
		WithStatus(models.JobStatusDownloading).
		WithStartedAt(time.Now()))

	var once sync.Once
	done := func() {
		once.Do(func() { q.finish(entry.JobID) })
	}

	q.logger.WithFields(logrus.Fields{
		"job_id":   entry.JobID,
		"filename": entry.Filename,
	}).Info("Download started")

	go q.runner.Download(context.Background(), entry, done)
}

func (q *Queue) setStatus(jobID string, patch progress.Patch) {
	if err := q.store.Update(jobID, patch); err != nil {
		q.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to update job status")
	}
}

func (q *Queue) containsLocked(jobID string) bool {
	if _, ok := q.active[jobID]; ok {
		return true
	}
	for _, e := range q.pending {
		if e.JobID == jobID {
			return true
		}
	}
	for _, e := range q.restored {
		if e.JobID == jobID {
			return true
		}
	}
	return false
}

func (q *Queue) recordLocked() {
	q.metrics.SetQueue(len(q.active), len(q.pending), q.capacity)
}

// Stats returns the current occupancy
func (q *Queue) Stats() models.QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return models.QueueStats{
		Active:   len(q.active),
		Capacity: q.capacity,
		Pending:  len(q.pending),
		Free:     q.capacity - len(q.active),
	}
}

// Pending returns a copy of the pending sequence in admission order
func (q *Queue) Pending() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// Active returns the active entries sorted by job id
func (q *Queue) Active() []models.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeLocked()
}

// Capture calls fn with the pending and active entries while holding the
// queue lock. No job can be admitted or released while fn runs, so state
// read inside fn agrees with the entries.
func (q *Queue) Capture(fn func(pending, active []models.QueueEntry)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn(q.pendingLocked(), q.activeLocked())
}

func (q *Queue) pendingLocked() []models.QueueEntry {
	out := make([]models.QueueEntry, len(q.pending))
	copy(out, q.pending)
	return out
}

func (q *Queue) activeLocked() []models.QueueEntry {
	out := make([]models.QueueEntry, 0, len(q.active))
	for _, e := range q.active {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JobID < out[j].JobID })
	return out
}

// ActiveIDs returns the active job ids, sorted
func (q *Queue) ActiveIDs() []string {
	active := q.Active()
	ids := make([]string, len(active))
	for i, e := range active {
		ids[i] = e.JobID
	}
	return ids
}

// Restore loads pending and active entries from a snapshot without launching anything.
// Active entries beyond capacity go to the head of the pending sequence.
// Entries already known to the queue are ignored.
func (q *Queue) Restore(pending, active []models.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var overflow []models.QueueEntry
	for _, e := range active {
		if e.JobID == "" || q.containsLocked(e.JobID) || containsEntry(overflow, e.JobID) {
			continue
		}
		if len(q.active) < q.capacity {
			q.active[e.JobID] = e
			q.restored = append(q.restored, e)
			continue
		}
		overflow = append(overflow, e)
		q.setStatus(e.JobID, progress.Patch{}.WithStatus(models.JobStatusQueued))
	}

	restoredPending := make([]models.QueueEntry, 0, len(overflow)+len(pending))
	restoredPending = append(restoredPending, overflow...)
	for _, e := range pending {
		if e.JobID == "" || q.containsLocked(e.JobID) || containsEntry(restoredPending, e.JobID) {
			continue
		}
		restoredPending = append(restoredPending, e)
	}
	q.pending = append(restoredPending, q.pending...)
	q.recordLocked()

	q.logger.WithFields(logrus.Fields{
		"active":  len(q.active),
		"pending": len(q.pending),
	}).Info("Restored download queue")
}

// Resume relaunches the entries that were active at snapshot time, from byte 0,
// then admits pending entries into any remaining slots
func (q *Queue) Resume() {
	q.mu.Lock()
	defer q.mu.Unlock()

	restored := q.restored
	q.restored = nil
	for _, e := range restored {
		delete(q.active, e.JobID)
		q.launchLocked(e)
	}
	q.drainLocked()
	q.recordLocked()
}

func containsEntry(entries []models.QueueEntry, jobID string) bool {
	for _, e := range entries {
		if e.JobID == jobID {
			return true
		}
	}
	return false
}
