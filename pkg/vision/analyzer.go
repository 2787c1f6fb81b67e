package vision

import (
	"context"
	"log/slog"
	"net/http"
)

// Analyzer downloads a snapshot and runs face and label detection on it.
type Analyzer struct {
	detector Detector
	fetcher  *Fetcher
	cfg      Config
	logger   *slog.Logger
	http     *http.Client
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithHTTPClient sets the client used to download snapshots.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *Analyzer) { a.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// NewAnalyzer creates an Analyzer around a detector.
func NewAnalyzer(detector Detector, cfg Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &Analyzer{
		detector: detector,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.fetcher = NewFetcher(cfg.Poll, a.http, a.logger)
	return a, nil
}

// Analyze downloads the snapshot at url once and runs both detections on it.
// A failing detection aborts the analysis with an *AnalysisError.
func (a *Analyzer) Analyze(ctx context.Context, url string) (*Analysis, error) {
	image, attempts, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("snapshot downloaded", "bytes", len(image), "attempts", attempts)

	faces, err := a.detector.DetectFaces(ctx, image)
	if err != nil {
		return nil, &AnalysisError{Backend: a.detector.Name(), Stage: StageFaces, Err: err}
	}

	labels, err := a.detector.DetectLabels(ctx, image, a.cfg.MaxLabels, a.cfg.MinConfidence)
	if err != nil {
		return nil, &AnalysisError{Backend: a.detector.Name(), Stage: StageLabels, Err: err}
	}

	a.logger.Info("snapshot analyzed",
		"backend", a.detector.Name(),
		"faces", len(faces),
		"labels", len(labels),
	)

	return &Analysis{
		Faces:      faces,
		Labels:     labels,
		ImageBytes: len(image),
		Attempts:   attempts,
	}, nil
}
