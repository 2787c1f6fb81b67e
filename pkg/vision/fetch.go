package vision

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/teslashibe/mvsense/internal/httpc"
)

// maxImageSize caps snapshot downloads.
const maxImageSize = 20 << 20

// Not-ready markers served with a 2xx status.
var (
	errNotFoundBody = errors.New("vision: snapshot url returned a not-found page")
	errEmptyBody    = errors.New("vision: snapshot url returned an empty body")
)

// Fetcher downloads snapshot images, waiting for them to become available.
type Fetcher struct {
	http   *http.Client
	poll   PollConfig
	logger *slog.Logger
}

// NewFetcher creates a Fetcher. A nil client selects the shared httpc.Client.
func NewFetcher(poll PollConfig, hc *http.Client, logger *slog.Logger) *Fetcher {
	if hc == nil {
		hc = httpc.Client
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{http: hc, poll: poll, logger: logger}
}

// Fetch polls url until it serves the image or the poll budget runs out.
// It returns the image and the number of attempts made. Exhaustion yields a
// *PollTimeoutError; a status that waiting cannot fix yields ErrSnapshotRejected.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.poll.InitialInterval
	b.MaxInterval = f.poll.MaxInterval
	b.MaxElapsedTime = f.poll.MaxElapsed
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.poll.MaxAttempts-1)), ctx)

	var (
		image    []byte
		attempts int
		last     error
	)

	op := func() error {
		attempts++
		data, err := f.get(ctx, url)
		if err == nil {
			image = data
			return nil
		}

		var se *StatusError
		if errors.As(err, &se) && !se.NotReady() {
			return backoff.Permanent(fmt.Errorf("%w: %w", ErrSnapshotRejected, err))
		}
		last = err
		return err
	}

	notify := func(err error, wait time.Duration) {
		f.logger.Debug("snapshot not ready", "attempt", attempts, "retry_in", wait, "error", err)
	}

	err := backoff.RetryNotify(op, policy, notify)
	switch {
	case err == nil:
		return image, attempts, nil
	case errors.Is(err, ErrSnapshotRejected):
		return nil, attempts, err
	case errors.Is(err, context.Canceled):
		return nil, attempts, err
	}

	if last == nil {
		last = err
	}
	return nil, attempts, &PollTimeoutError{URL: url, Attempts: attempts, Last: last}
}

// get performs one download attempt.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := httpc.NewRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %w", ErrSnapshotRejected, err))
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize))
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, errEmptyBody
	}
	if ct := http.DetectContentType(data); !strings.HasPrefix(ct, "image/") {
		if looksNotFound(data) {
			return nil, errNotFoundBody
		}
		return nil, backoff.Permanent(fmt.Errorf("%w: body is %s, not an image", ErrSnapshotRejected, ct))
	}
	return data, nil
}

// looksNotFound spots storage error documents served with a 2xx status.
func looksNotFound(body []byte) bool {
	head := bytes.ToLower(body[:min(len(body), 512)])
	return bytes.Contains(head, []byte("not found")) ||
		bytes.Contains(head, []byte("nosuchkey")) ||
		bytes.Contains(head, []byte("404"))
}
