package vision

import (
	"context"
	"fmt"
)

// NewDetector builds the backend selected by cfg.Backend.
func NewDetector(ctx context.Context, cfg Config) (Detector, error) {
	switch cfg.Backend {
	case BackendRekognition:
		return NewRekognitionFromConfig(ctx, cfg)
	case BackendGoogle:
		return NewGoogleFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
