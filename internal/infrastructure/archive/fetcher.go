package archive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"roadwatch/internal/domain"
	"roadwatch/internal/ports"
)

const (
	defaultWorkers       = 4
	defaultAttempts      = 8
	transportRetries     = 6
	defaultBackoffBase   = 100 * time.Millisecond
	defaultClientTimeout = 5 * time.Minute
)

// Fetcher downloads archive segments with a fixed-size worker pool. A
// destination that already exists non-empty is left alone, so re-invoking
// the same job set resumes where the previous attempt stopped. Transient
// upstream errors are retried with exponential backoff; each file gets a
// bounded number of whole-file attempts before a terminal error.
type Fetcher struct {
	client      *http.Client
	workers     int
	attempts    int
	backoffBase time.Duration
	logger      *slog.Logger
}

var _ ports.Fetcher = (*Fetcher)(nil)

// NewFetcher wires an HTTP client; workers defaults to 4 and attempts to 8.
func NewFetcher(client *http.Client, workers, attempts int, log *slog.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	if workers <= 0 {
		workers = defaultWorkers
	}
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	return &Fetcher{
		client:      client,
		workers:     workers,
		attempts:    attempts,
		backoffBase: defaultBackoffBase,
		logger:      log,
	}
}

// FetchAll downloads every job, fanning out across the worker pool. The
// first terminal failure cancels the remaining jobs: a day with any missing
// segment cannot be processed, so there is no partial-success contract.
func (f *Fetcher) FetchAll(ctx context.Context, jobs []domain.FetchJob) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, job := range jobs {
		job := job
		g.Go(func() error {
			return f.fetchOne(ctx, job)
		})
	}

	return g.Wait()
}

func (f *Fetcher) fetchOne(ctx context.Context, job domain.FetchJob) error {
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if nonEmpty(job.Path) {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := f.download(ctx, job); err != nil {
			lastErr = err
			if f.logger != nil {
				f.logger.Debug("download attempt failed",
					"url", job.URL, "attempt", attempt, "error", err)
			}
		}
	}

	if nonEmpty(job.Path) {
		return nil
	}
	return fmt.Errorf("fetch %s after %d attempts: %w", job.URL, f.attempts, lastErr)
}

// download performs one whole-file attempt. The transport layer retries
// transient statuses internally; other failures bubble up to the attempt
// loop in fetchOne.
func (f *Fetcher) download(ctx context.Context, job domain.FetchJob) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.URL, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("User-Agent", "roadwatch/1.0")

		resp, err := f.client.Do(req)
		if err != nil {
			return fmt.Errorf("request: %w", err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case transientStatus(resp.StatusCode):
			return fmt.Errorf("upstream returned %s", resp.Status)
		default:
			return backoff.Permanent(fmt.Errorf("upstream returned %s", resp.Status))
		}

		return writeFile(job.Path, resp.Body)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = f.backoffBase
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, transportRetries), ctx))
}

func transientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// writeFile stages the body next to the destination and renames it into
// place, so a crashed download never leaves a plausible-looking file behind.
func writeFile(path string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := path + ".part"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	n, err := io.Copy(file, body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if n == 0 {
		_ = os.Remove(tmp)
		return fmt.Errorf("empty body for %s", path)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
