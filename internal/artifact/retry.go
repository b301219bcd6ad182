package artifact

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/verdict-ml/verdict-go/internal/repo"
)

// Retrying decorates a Store with bounded retries for transient I/O
// failures. Validation errors and not-found are never retried.
type Retrying struct {
	inner    Store
	attempts int
	backoff  time.Duration
	sleep    func(context.Context, time.Duration) error
}

func WithRetry(inner Store, attempts int, backoff time.Duration) *Retrying {
	if attempts < 1 {
		attempts = 1
	}
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	return &Retrying{
		inner:    inner,
		attempts: attempts,
		backoff:  backoff,
		sleep:    sleepCtx,
	}
}

func (r *Retrying) List(ctx context.Context, projectKey string, t Type, artifactID string) ([]string, error) {
	var paths []string
	err := r.do(ctx, func() error {
		var innerErr error
		paths, innerErr = r.inner.List(ctx, projectKey, t, artifactID)
		return innerErr
	})
	return paths, err
}

func (r *Retrying) OpenRead(ctx context.Context, projectKey string, t Type, artifactID, relPath string) (io.ReadCloser, error) {
	var body io.ReadCloser
	err := r.do(ctx, func() error {
		var innerErr error
		body, innerErr = r.inner.OpenRead(ctx, projectKey, t, artifactID, relPath)
		return innerErr
	})
	return body, err
}

func (r *Retrying) Write(ctx context.Context, projectKey string, t Type, artifactID, relPath string, body io.Reader, size int64) error {
	// Streaming bodies cannot be replayed; a Write is attempted once unless
	// the body supports seeking back to the start.
	seeker, ok := body.(io.Seeker)
	if !ok {
		return r.inner.Write(ctx, projectKey, t, artifactID, relPath, body, size)
	}
	return r.do(ctx, func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return err
		}
		return r.inner.Write(ctx, projectKey, t, artifactID, relPath, body, size)
	})
}

func (r *Retrying) do(ctx context.Context, op func() error) error {
	var err error
	delay := r.backoff
	for attempt := 1; attempt <= r.attempts; attempt++ {
		err = op()
		if err == nil || !isTransient(err) {
			return err
		}
		if attempt == r.attempts {
			break
		}
		if sleepErr := r.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		delay *= 2
	}
	return err
}

func isTransient(err error) bool {
	if errors.Is(err, ErrInvalidPath) || errors.Is(err, repo.ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var response minio.ErrorResponse
	if errors.As(err, &response) {
		return response.StatusCode >= 500 || response.StatusCode == 429
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
