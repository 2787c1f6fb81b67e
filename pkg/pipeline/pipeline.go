// Package pipeline runs one snapshot → analyze → publish cycle.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/teslashibe/mvsense/pkg/meraki"
	"github.com/teslashibe/mvsense/pkg/trigger"
	"github.com/teslashibe/mvsense/pkg/vision"
)

// SnapshotSource requests snapshot URLs for a camera.
type SnapshotSource interface {
	SnapshotURL(ctx context.Context, networkID, serial string, at time.Time) (string, error)
}

// Analyzer turns a snapshot URL into detections.
type Analyzer interface {
	Analyze(ctx context.Context, url string) (*vision.Analysis, error)
}

// ResultSink publishes a finished analysis.
type ResultSink interface {
	PublishAnalysis(snapshotURL string, a *vision.Analysis) error
}

// Stage names the step of a cycle that failed.
type Stage string

// Cycle stages.
const (
	StageAcquire Stage = "acquire"
	StageAnalyze Stage = "analyze"
	StagePublish Stage = "publish"
)

// CycleError reports which stage of a cycle failed.
type CycleError struct {
	Stage Stage
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Config identifies the camera and bounds snapshot acquisition.
type Config struct {
	NetworkID string
	Serial    string

	// AcquireAttempts bounds requests while the provider reports the
	// snapshot as unavailable. Default: 3
	AcquireAttempts int

	// AcquireInterval is the initial delay between those requests.
	AcquireInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		AcquireAttempts: 3,
		AcquireInterval: time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.NetworkID == "" {
		return errors.New("network id is required")
	}
	if c.Serial == "" {
		return errors.New("serial is required")
	}
	if c.AcquireAttempts < 1 {
		return fmt.Errorf("acquire attempts must be at least 1, got %d", c.AcquireAttempts)
	}
	return nil
}

// Result is the outcome of one cycle.
type Result struct {
	ID          string         `json:"id"`
	Source      string         `json:"source"`
	SnapshotURL string         `json:"snapshot_url,omitempty"`
	Faces       []vision.Face  `json:"faces"`
	Labels      []vision.Label `json:"labels"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Error       string         `json:"error,omitempty"`

	Err error `json:"-"`
}

// OK reports whether the cycle completed.
func (r Result) OK() bool {
	return r.Err == nil
}

// Pipeline holds every dependency a cycle needs. It is built once at startup.
type Pipeline struct {
	cfg      Config
	source   SnapshotSource
	analyzer Analyzer
	sink     ResultSink
	logger   *slog.Logger

	mu        sync.RWMutex
	last      *Result
	observers []func(Result)
}

// New creates a Pipeline.
func New(cfg Config, source SnapshotSource, analyzer Analyzer, sink ResultSink, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if source == nil || analyzer == nil || sink == nil {
		return nil, errors.New("source, analyzer and sink are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		source:   source,
		analyzer: analyzer,
		sink:     sink,
		logger:   logger,
	}, nil
}

// OnResult registers fn to receive every finished cycle, failed or not.
func (p *Pipeline) OnResult(fn func(Result)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, fn)
}

// LastResult returns the most recent cycle result.
func (p *Pipeline) LastResult() (Result, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return Result{}, false
	}
	return *p.last, true
}

// Handle implements trigger.Handler.
func (p *Pipeline) Handle(ctx context.Context, ev trigger.Event) error {
	res := p.Run(ctx, ev)
	return res.Err
}

// Run executes one cycle for ev and returns its result.
func (p *Pipeline) Run(ctx context.Context, ev trigger.Event) Result {
	res := Result{
		ID:        uuid.NewString(),
		Source:    ev.Source,
		StartedAt: time.Now(),
	}
	logger := p.logger.With("cycle", res.ID, "source", ev.Source)

	res.Err = p.run(ctx, ev, &res, logger)
	res.Duration = time.Since(res.StartedAt)
	if res.Err != nil {
		res.Error = res.Err.Error()
		logger.Warn("cycle failed", "error", res.Err, "duration", res.Duration)
	} else {
		logger.Info("cycle published",
			"faces", len(res.Faces),
			"labels", len(res.Labels),
			"duration", res.Duration,
		)
	}

	p.mu.Lock()
	p.last = &res
	observers := append([]func(Result){}, p.observers...)
	p.mu.Unlock()

	for _, fn := range observers {
		fn(res)
	}
	return res
}

func (p *Pipeline) run(ctx context.Context, ev trigger.Event, res *Result, logger *slog.Logger) error {
	url, err := p.acquire(ctx, ev.Timestamp, logger)
	if err != nil {
		return &CycleError{Stage: StageAcquire, Err: err}
	}
	res.SnapshotURL = url
	logger.Debug("snapshot acquired", "url", url)

	analysis, err := p.analyzer.Analyze(ctx, url)
	if err != nil {
		return &CycleError{Stage: StageAnalyze, Err: err}
	}
	res.Faces = analysis.Faces
	res.Labels = analysis.Labels

	if err := p.sink.PublishAnalysis(url, analysis); err != nil {
		return &CycleError{Stage: StagePublish, Err: err}
	}
	return nil
}

// acquire requests a snapshot URL, retrying only while the provider says
// the snapshot is not available yet or is throttling.
func (p *Pipeline) acquire(ctx context.Context, at time.Time, logger *slog.Logger) (string, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.AcquireInterval
	b.MaxElapsedTime = 0
	b.Reset()

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.cfg.AcquireAttempts-1)), ctx)

	var url string
	op := func() error {
		u, err := p.source.SnapshotURL(ctx, p.cfg.NetworkID, p.cfg.Serial, at)
		if err == nil {
			url = u
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.Debug("snapshot request not ready", "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return url, nil
}

func retryable(err error) bool {
	var apiErr *meraki.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsUnauthorized() {
			return false
		}
		if apiErr.IsRetryable() {
			return true
		}
	}
	return errors.Is(err, meraki.ErrSnapshotUnavailable)
}
