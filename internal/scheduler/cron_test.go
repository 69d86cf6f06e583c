package scheduler

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/history"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/persistence"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/amaumene/acerpal/internal/queue"
	"github.com/sirupsen/logrus"
)

type idleRunner struct{}

func (idleRunner) Download(context.Context, models.QueueEntry, func()) {}

func newSnapshotter(t *testing.T, store *progress.Store, path string, logger *logrus.Logger) *persistence.Snapshotter {
	t.Helper()
	cfg := &config.Config{SnapshotFile: path}
	q := queue.NewQueue(1, store, idleRunner{}, nil, logger)
	return persistence.NewSnapshotter(cfg, store, q, history.NewSearchHistory(history.DefaultLimit), nil, logger)
}

func TestSchedulerAutosave(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	path := filepath.Join(t.TempDir(), "downloads_state.json")
	store := progress.NewStore(logger)
	store.Insert(models.Job{ID: "a", Status: models.JobStatusCompleted})

	s := NewScheduler(newSnapshotter(t, store, path, logger), nil, "@every 1s", logger)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if s.Entries() != 1 {
		t.Fatalf("Expected 1 job, got %d", s.Entries())
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("Expected autosave to write the snapshot")
}

func TestSchedulerDisabledJobs(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := progress.NewStore(logger)

	cleanup := controllers.NewCleanupController(&config.Config{}, store, nil, logger)
	s := NewScheduler(newSnapshotter(t, store, filepath.Join(t.TempDir(), "s.json"), logger), cleanup, "", logger)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if s.Entries() != 0 {
		t.Errorf("Expected no jobs, got %d", s.Entries())
	}
}

func TestSchedulerRetentionJob(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := progress.NewStore(logger)

	cleanup := controllers.NewCleanupController(&config.Config{JobRetention: 10}, store, nil, logger)
	s := NewScheduler(newSnapshotter(t, store, filepath.Join(t.TempDir(), "s.json"), logger), cleanup, "@every 1m", logger)
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer s.Stop()

	if s.Entries() != 2 {
		t.Errorf("Expected snapshot and prune jobs, got %d", s.Entries())
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := progress.NewStore(logger)

	s := NewScheduler(newSnapshotter(t, store, filepath.Join(t.TempDir(), "s.json"), logger), nil, "not a schedule", logger)
	if err := s.Start(); err == nil {
		s.Stop()
		t.Fatal("Expected an invalid schedule to be rejected")
	}
}
