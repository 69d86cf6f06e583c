package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/amaumene/acerpal/internal/config"
	"github.com/amaumene/acerpal/internal/metrics"
	"github.com/amaumene/acerpal/internal/models"
	"github.com/amaumene/acerpal/internal/progress"
	"github.com/amaumene/acerpal/internal/services/fetch"
	"github.com/amaumene/acerpal/internal/tracing"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	defaultReadTimeout = 60 * time.Second
	defaultChunkSize   = 64 * 1024
)

var errReadTimeout = errors.New("read timed out")

// Downloader streams one HTTP response to disk and reports progress to the store
type Downloader struct {
	httpClient   *http.Client
	store        *progress.Store
	workingDir   string
	completedDir string
	autoMove     bool
	chunkSize    int
	readTimeout  time.Duration
	rateLimit    int64
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	logger       *logrus.Logger
}

// NewDownloader creates a new downloader
func NewDownloader(cfg *config.Config, store *progress.Store, m *metrics.Metrics, tp trace.TracerProvider, logger *logrus.Logger) *Downloader {
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &Downloader{
		httpClient: &http.Client{
			// Stalls are caught by the idle-read watchdog, not a client timeout
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   30 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ResponseHeaderTimeout: cfg.ReadTimeout,
				DisableCompression:    true,
			},
		},
		store:        store,
		workingDir:   cfg.DownloadDir,
		completedDir: cfg.CompletedDir,
		autoMove:     cfg.EnableAutoMove,
		chunkSize:    chunkSize,
		readTimeout:  cfg.ReadTimeout,
		rateLimit:    cfg.RateLimit,
		metrics:      m,
		tracer:       tracing.Tracer(tp),
		logger:       logger,
	}
}

// Download runs one job to a terminal status. done is always called exactly
// once, after the job's final status has been recorded.
func (d *Downloader) Download(ctx context.Context, entry models.QueueEntry, done func()) {
	defer done()

	ctx, span := d.tracer.Start(ctx, "download", trace.WithAttributes(
		tracing.JobIDKey.String(entry.JobID),
		tracing.FilenameKey.String(entry.Filename),
	))
	defer span.End()

	log := d.logger.WithFields(logrus.Fields{
		"job_id":   entry.JobID,
		"filename": entry.Filename,
	})

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("unexpected failure: %v", r)
			tracing.RecordError(span, err)
			log.WithError(err).Error("Download panicked")
			d.fail(entry.JobID, err.Error())
		}
	}()

	downloaded, err := d.transfer(ctx, entry)
	span.SetAttributes(tracing.BytesKey.Int64(downloaded))
	if err != nil {
		tracing.RecordError(span, err)
		message := err.Error()
		var nerr *fetch.NetworkError
		if errors.As(err, &nerr) {
			message = "Network error: " + nerr.Err.Error()
		}
		log.WithError(err).WithField("downloaded", downloaded).Error("Download failed")
		d.fail(entry.JobID, message)
		return
	}

	d.complete(entry, log)
}

// transfer streams the body into the working directory, returning the bytes written
func (d *Downloader) transfer(ctx context.Context, entry models.QueueEntry) (int64, error) {
	if err := os.MkdirAll(d.workingDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create download directory: %w", err)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.SourceURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "acerpal/1.0")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return 0, &fetch.NetworkError{URL: entry.SourceURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, &fetch.NetworkError{
			URL: entry.SourceURL,
			Err: fmt.Errorf("server returned status %d", resp.StatusCode),
		}
	}

	path := filepath.Join(d.workingDir, entry.Filename)
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	d.update(entry.JobID, progress.Patch{}.WithTotal(total))

	var limiter *rate.Limiter
	if d.rateLimit > 0 {
		burst := int(d.rateLimit)
		if burst < d.chunkSize {
			burst = d.chunkSize
		}
		limiter = rate.NewLimiter(rate.Limit(d.rateLimit), burst)
	}

	idle := d.readTimeout
	if idle <= 0 {
		idle = defaultReadTimeout
	}
	watchdog := time.AfterFunc(idle, func() { cancel(errReadTimeout) })
	defer watchdog.Stop()
	body := &idleReader{r: resp.Body, watchdog: watchdog, idle: idle}

	start := time.Now()
	buf := make([]byte, d.chunkSize)
	var downloaded int64

	for {
		n, readErr := io.ReadFull(body, buf)

		if n > 0 {
			if limiter != nil {
				// Throttling is not a stall
				watchdog.Stop()
				err := limiter.WaitN(ctx, n)
				watchdog.Reset(idle)
				if err != nil {
					return downloaded, &fetch.NetworkError{URL: entry.SourceURL, Err: streamErr(ctx, err)}
				}
			}
			if _, err := file.Write(buf[:n]); err != nil {
				return downloaded, fmt.Errorf("failed to write file: %w", err)
			}
			downloaded += int64(n)
			d.metrics.AddBytes(n)

			patch := progress.Patch{}.WithDownloaded(downloaded).WithSpeed(speed(downloaded, time.Since(start)))
			if total > 0 {
				patch = patch.WithProgress(float64(downloaded) / float64(total) * 100)
			}
			d.update(entry.JobID, patch)
		}

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return downloaded, &fetch.NetworkError{URL: entry.SourceURL, Err: streamErr(ctx, readErr)}
		}
	}

	if total > 0 && downloaded < total {
		return downloaded, &fetch.NetworkError{
			URL: entry.SourceURL,
			Err: fmt.Errorf("connection closed after %d of %d bytes", downloaded, total),
		}
	}

	if err := file.Close(); err != nil {
		return downloaded, fmt.Errorf("failed to close file: %w", err)
	}
	return downloaded, nil
}

// idleReader re-arms the watchdog whenever the body yields bytes
type idleReader struct {
	r        io.Reader
	watchdog *time.Timer
	idle     time.Duration
}

func (ir *idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.watchdog.Reset(ir.idle)
	}
	return n, err
}

// streamErr reports the watchdog timeout instead of a bare context cancellation
func streamErr(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, errReadTimeout) {
		return cause
	}
	return err
}

func speed(downloaded int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(downloaded) / elapsed.Seconds()
}

// complete records success, relocating the file first when auto-move is enabled.
// A failed move is annotated on the job and never downgrades it.
func (d *Downloader) complete(entry models.QueueEntry, log *logrus.Entry) {
	patch := progress.Patch{}.
		WithStatus(models.JobStatusCompleted).
		WithProgress(100).
		WithLocation(models.LocationWorking)

	if d.autoMove {
		d.update(entry.JobID, progress.Patch{}.WithStatus(models.JobStatusMoving).WithProgress(100))

		src := filepath.Join(d.workingDir, entry.Filename)
		dst := filepath.Join(d.completedDir, entry.Filename)
		if err := moveFile(src, dst); err != nil {
			log.WithError(err).Warn("Failed to move completed file")
			patch = patch.WithNote(fmt.Sprintf("Move failed: %v", err))
		} else {
			log.WithField("destination", dst).Info("Moved completed file")
			patch = patch.WithLocation(models.LocationCompleted)
		}
	}

	d.update(entry.JobID, patch.WithFinishedAt(time.Now()))
	d.metrics.JobFinished(string(models.JobStatusCompleted))
	log.Info("Download completed")
}

func (d *Downloader) fail(jobID, message string) {
	d.update(jobID, progress.Patch{}.
		WithStatus(models.JobStatusError).
		WithError(message).
		WithFinishedAt(time.Now()))
	d.metrics.JobFinished(string(models.JobStatusError))
}

func (d *Downloader) update(jobID string, patch progress.Patch) {
	if err := d.store.Update(jobID, patch); err != nil {
		d.logger.WithError(err).WithField("job_id", jobID).Warn("Failed to update job progress")
	}
}

// moveFile renames src to dst, falling back to copy and remove across filesystems
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create completed directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy file: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to close destination: %w", err)
	}
	return os.Remove(src)
}
