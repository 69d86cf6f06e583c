package models

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/timshannon/bolthold"
	"go.etcd.io/bbolt"
)

// Database wraps the bolthold store holding archived jobs
type Database struct {
	store *bolthold.Store
}

// NewDatabase creates a new database connection
func NewDatabase(path string) (*Database, error) {
	store, err := bolthold.Open(path, 0600, &bolthold.Options{
		Options: &bbolt.Options{
			Timeout: 1 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &Database{store: store}, nil
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.store.Close()
}

// ArchiveJobs stores terminal jobs evicted from memory; re-archiving a job overwrites it
func (db *Database) ArchiveJobs(jobs []Job) error {
	for i := range jobs {
		if err := db.store.Upsert(jobs[i].ID, &jobs[i]); err != nil {
			return fmt.Errorf("failed to archive job %s: %w", jobs[i].ID, err)
		}
	}
	return nil
}

// GetArchivedJob retrieves an archived job by ID; a missing job yields nil, nil
func (db *Database) GetArchivedJob(id string) (*Job, error) {
	var job Job
	if err := db.store.Get(id, &job); err != nil {
		if errors.Is(err, bolthold.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// GetArchivedJobs retrieves archived jobs, newest first; limit <= 0 returns all
func (db *Database) GetArchivedJobs(limit int) ([]Job, error) {
	var jobs []Job
	if err := db.store.Find(&jobs, nil); err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// GetArchivedJobsByBatch retrieves every archived job belonging to a batch
func (db *Database) GetArchivedJobsByBatch(batchID string) ([]Job, error) {
	var jobs []Job
	err := db.store.Find(&jobs, bolthold.Where("BatchID").Eq(batchID).Index("BatchID"))
	return jobs, err
}

// CountArchivedJobs returns the number of archived jobs
func (db *Database) CountArchivedJobs() (int, error) {
	var jobs []Job
	if err := db.store.Find(&jobs, nil); err != nil {
		return 0, err
	}
	return len(jobs), nil
}
