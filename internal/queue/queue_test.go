package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/sirupsen/logrus"
)

// manualRunner records launches and lets the test decide when each job finishes
type manualRunner struct {
	mu       sync.Mutex
	launched []string
	done     map[string]func()
	started  chan string
}

func newManualRunner() *manualRunner {
	return &manualRunner{
		done:    make(map[string]func()),
		started: make(chan string, 64),
	}
}

func (r *manualRunner) Download(ctx context.Context, entry models.QueueEntry, done func()) {
	r.mu.Lock()
	r.launched = append(r.launched, entry.JobID)
	r.done[entry.JobID] = done
	r.mu.Unlock()
	r.started <- entry.JobID
}

func (r *manualRunner) complete(t *testing.T, id string) {
	t.Helper()
	r.mu.Lock()
	done, ok := r.done[id]
	r.mu.Unlock()
	if !ok {
		t.Fatalf("Job %s was never launched", id)
	}
	done()
}

func (r *manualRunner) waitStarted(t *testing.T, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		select {
		case id := <-r.started:
			ids = append(ids, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for launch %d of %d", i+1, n)
		}
	}
	return ids
}

func (r *manualRunner) assertNoLaunch(t *testing.T) {
	t.Helper()
	select {
	case id := <-r.started:
		t.Fatalf("Unexpected launch of %s", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func newTestQueue(capacity int, runner Runner) (*Queue, *progress.Store) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	store := progress.NewStore(logger)
	return NewQueue(capacity, store, runner, nil, logger), store
}

func submitJob(t *testing.T, q *Queue, store *progress.Store, id string) {
	t.Helper()
	if err := store.Insert(models.Job{ID: id, Status: models.JobStatusStarting}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := q.Submit(models.QueueEntry{JobID: id, SourceURL: "http://example.com/" + id, Filename: id + ".mp4"}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
}

func assertStatus(t *testing.T, store *progress.Store, id string, want models.JobStatus) {
	t.Helper()
	job, ok := store.Get(id)
	if !ok {
		t.Fatalf("Job %s not found", id)
	}
	if job.Status != want {
		t.Errorf("Job %s: expected status %s, got %s", id, want, job.Status)
	}
}

func TestSixJobsCapacityFour(t *testing.T) {
	runner := newManualRunner()
	q, store := newTestQueue(4, runner)

	for i := 1; i <= 6; i++ {
		submitJob(t, q, store, fmt.Sprintf("job%d", i))
	}
	runner.waitStarted(t, 4)
	runner.assertNoLaunch(t)

	for i := 1; i <= 4; i++ {
		assertStatus(t, store, fmt.Sprintf("job%d", i), models.JobStatusDownloading)
	}
	assertStatus(t, store, "job5", models.JobStatusQueued)
	assertStatus(t, store, "job6", models.JobStatusQueued)

	stats := q.Stats()
	if stats.Active != 4 || stats.Pending != 2 || stats.Free != 0 || stats.Capacity != 4 {
		t.Errorf("Unexpected stats: %+v", stats)
	}

	runner.complete(t, "job2")
	started := runner.waitStarted(t, 1)
	if started[0] != "job5" {
		t.Errorf("Expected job5 to be admitted, got %s", started[0])
	}
	runner.assertNoLaunch(t)

	assertStatus(t, store, "job5", models.JobStatusDownloading)
	assertStatus(t, store, "job6", models.JobStatusQueued)
}

func TestDrainIsFIFO(t *testing.T) {
	runner := newManualRunner()
	q, store := newTestQueue(1, runner)

	for _, id := range []string{"a", "b", "c", "d"} {
		submitJob(t, q, store, id)
	}

	var order []string
	for i := 0; i < 4; i++ {
		id := runner.waitStarted(t, 1)[0]
		order = append(order, id)
		runner.complete(t, id)
	}

	want := []string{"a", "b", "c", "d"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("Expected admission order %v, got %v", want, order)
		}
	}
}

func TestDoneIsIdempotent(t *testing.T) {
	runner := newManualRunner()
	q, store := newTestQueue(1, runner)

	submitJob(t, q, store, "a")
	submitJob(t, q, store, "b")
	submitJob(t, q, store, "c")
	runner.waitStarted(t, 1)

	runner.complete(t, "a")
	runner.complete(t, "a")
	runner.waitStarted(t, 1)
	runner.assertNoLaunch(t)

	if stats := q.Stats(); stats.Active != 1 || stats.Pending != 1 {
		t.Errorf("Expected 1 active and 1 pending, got %+v", stats)
	}
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	runner := newManualRunner()
	q, store := newTestQueue(1, runner)

	submitJob(t, q, store, "a")
	submitJob(t, q, store, "b")

	for _, id := range []string{"a", "b"} {
		err := q.Submit(models.QueueEntry{JobID: id})
		if !errors.Is(err, ErrDuplicateJob) {
			t.Errorf("Expected ErrDuplicateJob for %s, got %v", id, err)
		}
	}
	if len(q.Pending()) != 1 {
		t.Errorf("Expected 1 pending entry, got %d", len(q.Pending()))
	}
}

// busyRunner finishes each job after a short delay and tracks the peak concurrency
type busyRunner struct {
	running  int32
	peak     int32
	finished sync.WaitGroup
}

func (r *busyRunner) Download(ctx context.Context, entry models.QueueEntry, done func()) {
	defer r.finished.Done()
	defer done()

	n := atomic.AddInt32(&r.running, 1)
	for {
		peak := atomic.LoadInt32(&r.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&r.peak, peak, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	atomic.AddInt32(&r.running, -1)
}

func TestConcurrentSubmitNeverExceedsCapacity(t *testing.T) {
	const total = 40
	runner := &busyRunner{}
	runner.finished.Add(total)
	q, store := newTestQueue(3, runner)

	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			store.Insert(models.Job{ID: id})
			if err := q.Submit(models.QueueEntry{JobID: id}); err != nil {
				t.Errorf("Submit failed: %v", err)
			}
		}(fmt.Sprintf("job-%d", i))
	}
	wg.Wait()
	runner.finished.Wait()

	if peak := atomic.LoadInt32(&runner.peak); peak > 3 {
		t.Errorf("Observed %d concurrent downloads with capacity 3", peak)
	}
	if stats := q.Stats(); stats.Active != 0 || stats.Pending != 0 {
		t.Errorf("Expected an idle queue, got %+v", stats)
	}
}

func TestRestoreAndResume(t *testing.T) {
	runner := newManualRunner()
	q, store := newTestQueue(2, runner)

	for _, id := range []string{"a1", "a2", "a3", "p1", "p2"} {
		store.Insert(models.Job{ID: id, Status: models.JobStatusDownloading})
	}

	q.Restore(
		[]models.QueueEntry{{JobID: "p1"}, {JobID: "p2"}},
		[]models.QueueEntry{{JobID: "a1"}, {JobID: "a2"}, {JobID: "a3"}},
	)

	runner.assertNoLaunch(t)
	assertStatus(t, store, "a3", models.JobStatusQueued)

	pending := q.Pending()
	if len(pending) != 3 || pending[0].JobID != "a3" || pending[1].JobID != "p1" || pending[2].JobID != "p2" {
		t.Fatalf("Expected overflow at head of pending, got %+v", pending)
	}
	if ids := q.ActiveIDs(); len(ids) != 2 || ids[0] != "a1" || ids[1] != "a2" {
		t.Fatalf("Expected a1, a2 active, got %v", ids)
	}

	q.Resume()
	started := runner.waitStarted(t, 2)
	runner.assertNoLaunch(t)
	if started[0] != "a1" && started[0] != "a2" {
		t.Errorf("Expected restored actives to relaunch first, got %v", started)
	}

	runner.complete(t, "a1")
	if next := runner.waitStarted(t, 1)[0]; next != "a3" {
		t.Errorf("Expected a3 to be admitted next, got %s", next)
	}
}
