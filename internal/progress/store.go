package progress

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/amaumene/acerpal/internal/models"
	"github.com/sirupsen/logrus"
)

var (
	// ErrJobExists is returned when inserting an id that is already tracked
	ErrJobExists = errors.New("job already exists")
	// ErrJobNotFound is returned when updating an id that is not tracked
	ErrJobNotFound = errors.New("job not found")
)

// Patch carries the fields of a partial job update; nil fields are left untouched
type Patch struct {
	Status     *models.JobStatus
	Progress   *float64
	Downloaded *int64
	Total      *int64
	Speed      *float64
	Error      *string
	Note       *string
	Location   *models.Location
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Builders for Patch; each returns a copy with one more field set
func (p Patch) WithStatus(s models.JobStatus) Patch { p.Status = &s; return p }
func (p Patch) WithProgress(v float64) Patch { p.Progress = &v; return p }
func (p Patch) WithDownloaded(n int64) Patch { p.Downloaded = &n; return p }
func (p Patch) WithTotal(n int64) Patch { p.Total = &n; return p }
func (p Patch) WithSpeed(v float64) Patch { p.Speed = &v; return p }
func (p Patch) WithError(msg string) Patch { p.Error = &msg; return p }
func (p Patch) WithNote(msg string) Patch { p.Note = &msg; return p }
func (p Patch) WithLocation(l models.Location) Patch { p.Location = &l; return p }
func (p Patch) WithStartedAt(t time.Time) Patch { p.StartedAt = &t; return p }
func (p Patch) WithFinishedAt(t time.Time) Patch { p.FinishedAt = &t; return p }

type entry struct {
	mu  sync.Mutex
	job models.Job
}

// Store is the concurrent-safe mapping from job id to job state.
// The map lock only guards membership; each job has its own lock so
// downloads updating different jobs never contend.
type Store struct {
	mu     sync.RWMutex
	jobs   map[string]*entry
	logger *logrus.Logger
}

// NewStore creates a new empty progress store
func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		jobs:   make(map[string]*entry),
		logger: logger,
	}
}

// Insert adds a new job; CreatedAt is stamped when unset
func (s *Store) Insert(job models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	s.jobs[job.ID] = &entry{job: job}
	return nil
}

// Update merges the supplied fields into the job atomically.
// Once a job is terminal its byte accounting is frozen.
func (s *Store) Update(id string, patch Patch) error {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	job := &e.job
	frozen := job.Status.IsTerminal()

	if patch.Status != nil {
		job.Status = *patch.Status
	}
	if !frozen {
		if patch.Downloaded != nil {
			job.Downloaded = *patch.Downloaded
		}
		if patch.Total != nil {
			job.Total = *patch.Total
		}
		if patch.Progress != nil {
			job.Progress = *patch.Progress
		}
		if patch.Speed != nil {
			job.Speed = *patch.Speed
		}
	}
	if patch.Error != nil {
		job.Error = *patch.Error
	}
	if patch.Note != nil {
		job.Note = *patch.Note
	}
	if patch.Location != nil {
		job.Location = *patch.Location
	}
	if patch.StartedAt != nil {
		job.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		job.FinishedAt = patch.FinishedAt
	}
	return nil
}

// Remove drops a job, reporting whether it was tracked
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return false
	}
	delete(s.jobs, id)
	return true
}

// Get returns a copy of a single job
func (s *Store) Get(id string) (models.Job, bool) {
	s.mu.RLock()
	e, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return models.Job{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, true
}

// List returns copies of all jobs, newest first
func (s *Store) List() []models.Job {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	jobs := make([]models.Job, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		jobs = append(jobs, e.job)
		e.mu.Unlock()
	}

	sortNewestFirst(jobs)
	return jobs
}

// Len returns the number of tracked jobs
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Export returns a copy of every job keyed by id, for snapshots
func (s *Store) Export() map[string]models.Job {
	jobs := s.List()
	out := make(map[string]models.Job, len(jobs))
	for _, job := range jobs {
		out[job.ID] = job
	}
	return out
}

// Import merges jobs from a snapshot; ids already tracked are kept as they are
func (s *Store) Import(jobs map[string]models.Job) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	imported := 0
	for id, job := range jobs {
		if _, exists := s.jobs[id]; exists {
			continue
		}
		job.ID = id
		s.jobs[id] = &entry{job: job}
		imported++
	}
	return imported
}

// Prune keeps the newest keep terminal jobs and removes the rest, returning
// the removed jobs. Non-terminal jobs are never pruned.
func (s *Store) Prune(keep int) []models.Job {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var terminal []models.Job
	for _, e := range s.jobs {
		e.mu.Lock()
		if e.job.Status.IsTerminal() {
			terminal = append(terminal, e.job)
		}
		e.mu.Unlock()
	}
	if len(terminal) <= keep {
		return nil
	}

	sortNewestFirst(terminal)
	removed := terminal[keep:]
	for _, job := range removed {
		delete(s.jobs, job.ID)
	}

	s.logger.WithFields(logrus.Fields{
		"removed": len(removed),
		"kept":    keep,
	}).Debug("Pruned terminal jobs")

	return removed
}

func sortNewestFirst(jobs []models.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
}
