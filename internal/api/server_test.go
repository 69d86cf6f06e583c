package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/controllers"
	"github.com/amaumene/acerpal/internal/history"
	"github.com/amaumene/acerpal/internal/metrics"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/persistence"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/amaumene/acerpal/internal/queue"
	"github.com/amaumene/acerpal/internal/services/acer"
	"github.com/amaumene/acerpal/internal/services/fetch"
	"github.com/amaumene/acerpal/internal/utils"
	"github.com/sirupsen/logrus"
)

type idleRunner struct{}

func (idleRunner) Download(context.Context, models.QueueEntry, func()) {}

// catalogHandler fakes the upstream API; "broken" sources answer 500
func catalogHandler(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	json.NewDecoder(r.Body).Decode(&body)

	switch {
	case strings.HasSuffix(r.URL.Path, "/search"):
		w.Write([]byte(`{"searchResult":[{"title":"Friends","url":"http://example.com/friends"}]}`))
	case strings.HasSuffix(r.URL.Path, "/sourceUrl") && body["url"] != "http://example.com/broken":
		w.Write([]byte(`{"sourceUrl":"http%3A%2F%2Fcdn.example.com%2Ffile.mp4"}`))
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}
}

type testServer struct {
	*Server
	cfg *config.Config
}

func newTestServer(t *testing.T, auth bool) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	upstream := httptest.NewServer(http.HandlerFunc(catalogHandler))
	t.Cleanup(upstream.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		APIBaseURL:             upstream.URL + "/api",
		DownloadDir:            filepath.Join(dir, "downloads"),
		CompletedDir:           filepath.Join(dir, "completed"),
		MaxConcurrentDownloads: 2,
		SnapshotFile:           filepath.Join(dir, "downloads_state.json"),
		ServerPort:             "0",
	}
	if auth {
		cfg.AuthUsername = "admin"
		cfg.AuthPassword = "secret"
	}

	db, err := models.NewDatabase(filepath.Join(dir, "acerpal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	m := metrics.New()
	catalog, err := acer.NewClient(cfg, fetch.NewClient(5*time.Second, nil, logger), m, logger)
	if err != nil {
		t.Fatal(err)
	}
	store := progress.NewStore(logger)
	q := queue.NewQueue(cfg.MaxConcurrentDownloads, store, idleRunner{}, m, logger)
	h := history.NewSearchHistory(history.DefaultLimit)

	server := NewServer(cfg,
		controllers.NewDownloadController(cfg, store, q, catalog, logger),
		controllers.NewSearchController(catalog, h, utils.NewBlacklist(), logger),
		controllers.NewFileController(cfg, logger),
		controllers.NewCleanupController(cfg, store, db, logger),
		persistence.NewSnapshotter(cfg, store, q, h, m, logger),
		m,
		logger,
	)
	return &testServer{Server: server, cfg: cfg}
}

func (s *testServer) do(t *testing.T, method, target, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.cfg.AuthUsername != "" {
		req.SetBasicAuth(s.cfg.AuthUsername, s.cfg.AuthPassword)
	}

	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, target, err)
	}
	raw, _ := io.ReadAll(resp.Body)
	var decoded map[string]any
	json.Unmarshal(raw, &decoded)
	return resp, decoded
}

func TestHealthBypassesAuth(t *testing.T) {
	s := newTestServer(t, true)

	resp, err := s.App().Test(httptest.NewRequest("GET", "/health", nil))
	if err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from /health, got %v %v", resp, err)
	}

	resp, _ = s.App().Test(httptest.NewRequest("GET", "/status", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("Expected 401 without credentials, got %d", resp.StatusCode)
	}

	resp, body := s.do(t, "GET", "/status", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 with credentials, got %d", resp.StatusCode)
	}
	if body["total_jobs"] != float64(0) {
		t.Errorf("Unexpected status body %v", body)
	}
}

func TestStartDownloadEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	resp, _ := s.do(t, "POST", "/api/downloads", `{}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing source, got %d", resp.StatusCode)
	}

	resp, body := s.do(t, "POST", "/api/downloads", `{"source_url":"http://example.com/broken"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502 for upstream failure, got %d", resp.StatusCode)
	}
	if body["error"] == "" {
		t.Error("Expected a user-facing error message")
	}

	resp, body = s.do(t, "POST", "/api/downloads", `{"source_url":"http://example.com/ok","filename":"movie.mp4"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	id, _ := body["id"].(string)
	if id == "" || body["filename"] != "movie.mp4" || body["status"] != string(models.JobStatusDownloading) {
		t.Fatalf("Unexpected job %v", body)
	}

	resp, body = s.do(t, "GET", "/api/downloads/"+id, "")
	if resp.StatusCode != http.StatusOK || body["id"] != id {
		t.Errorf("Expected job lookup to succeed, got %d %v", resp.StatusCode, body)
	}
	if body["speed_human"] != "0 B/s" {
		t.Errorf("Expected human readable speed, got %v", body["speed_human"])
	}

	resp, _ = s.do(t, "GET", "/api/downloads/unknown", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown job, got %d", resp.StatusCode)
	}

	resp, body = s.do(t, "GET", "/api/downloads", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if jobs, _ := body["jobs"].([]any); len(jobs) != 1 {
		t.Errorf("Expected 1 job, got %v", body["jobs"])
	}
}

func TestBatchEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	resp, _ := s.do(t, "POST", "/api/downloads/batch", `{"episodes":"not json"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed episodes, got %d", resp.StatusCode)
	}

	resp, body := s.do(t, "POST", "/api/downloads/batch",
		`{"show_title":"Friends","quality":"Season 1 720p","episodes":"[{\"title\":\"S01E01\",\"link\":\"http://example.com/e1\"}]"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	if body["total"] != float64(1) || body["status"] != string(models.BatchStatusProcessing) {
		t.Errorf("Unexpected batch %v", body)
	}

	s.downloadCtrl.Wait()

	id, _ := body["id"].(string)
	resp, body = s.do(t, "GET", "/api/batches/"+id, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	batch, _ := body["batch"].(map[string]any)
	if batch["succeeded"] != float64(1) || batch["status"] != string(models.BatchStatusCompleted) {
		t.Errorf("Unexpected batch %v", batch)
	}
	jobs, _ := body["jobs"].([]any)
	if len(jobs) != 1 {
		t.Fatalf("Expected 1 batch job, got %v", body["jobs"])
	}
	if job := jobs[0].(map[string]any); job["filename"] != "Friends.S01E01.720p.mp4" {
		t.Errorf("Unexpected episode filename %v", job["filename"])
	}

	resp, _ = s.do(t, "GET", "/api/batches/unknown", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown batch, got %d", resp.StatusCode)
	}
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t, false)

	resp, _ := s.do(t, "GET", "/api/search?q=", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty query, got %d", resp.StatusCode)
	}

	resp, body := s.do(t, "GET", "/api/search?q=friends", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if results, _ := body["results"].([]any); len(results) != 1 {
		t.Errorf("Expected 1 result, got %v", body["results"])
	}

	_, body = s.do(t, "GET", "/api/search/history", "")
	if hist, _ := body["history"].([]any); len(hist) != 1 || hist[0] != "friends" {
		t.Errorf("Expected history to hold the query, got %v", body["history"])
	}

	resp, _ = s.do(t, "POST", "/api/qualities", `{"url":"http://example.com/friends"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("Expected 502 when the catalog has no result, got %d", resp.StatusCode)
	}
}

func TestFileEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	if err := os.MkdirAll(s.cfg.DownloadDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.cfg.DownloadDir, "show.mp4"), []byte("video"), 0644); err != nil {
		t.Fatal(err)
	}

	resp, body := s.do(t, "GET", "/api/files?location=working", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	if files, _ := body["files"].([]any); len(files) != 1 {
		t.Errorf("Expected 1 file, got %v", body["files"])
	}

	resp, _ = s.do(t, "GET", "/api/files?location=elsewhere", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown location, got %d", resp.StatusCode)
	}

	for _, name := range []string{"../secret", "/etc/passwd"} {
		target := "/api/files/download?location=working&filename=" + url.QueryEscape(name)
		if resp, _ := s.do(t, "GET", target, ""); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected 400 for %q, got %d", name, resp.StatusCode)
		}
	}

	resp, _ = s.do(t, "GET", "/api/files/download?location=working&filename=missing.mp4", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 for missing file, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest("GET", "/api/files/download?location=working&filename=show.mp4", nil)
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(resp.Header.Get("Content-Disposition"), "attachment") {
		t.Errorf("Expected attachment, got %d %q", resp.StatusCode, resp.Header.Get("Content-Disposition"))
	}

	resp, _ = s.do(t, "DELETE", "/api/files?location=working&filename=show.mp4", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(s.cfg.DownloadDir, "show.mp4")); !os.IsNotExist(err) {
		t.Error("Expected file to be removed")
	}
}

func TestSnapshotAndMetricsEndpoints(t *testing.T) {
	s := newTestServer(t, false)
	s.do(t, "POST", "/api/downloads", `{"source_url":"http://example.com/ok"}`)

	resp, body := s.do(t, "POST", "/api/snapshot", "")
	if resp.StatusCode != http.StatusOK || body["written"] != true {
		t.Fatalf("Expected a snapshot write, got %d %v", resp.StatusCode, body)
	}
	if _, err := os.Stat(s.cfg.SnapshotFile); err != nil {
		t.Errorf("Expected snapshot file: %v", err)
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := s.App().Test(req, 5000)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "acerpal_jobs_submitted_total 1") {
		t.Errorf("Expected job counter in metrics output")
	}
}
