package vision

import (
	"fmt"
	"time"
)

// Backend names.
const (
	BackendRekognition = "rekognition"
	BackendGoogle      = "google"
)

// PollConfig bounds how long a snapshot URL is polled before giving up.
type PollConfig struct {
	// MaxAttempts is the total number of download attempts, at least 1.
	MaxAttempts int

	// InitialInterval is the first wait between attempts.
	InitialInterval time.Duration

	// MaxInterval caps the exponential wait.
	MaxInterval time.Duration

	// MaxElapsed caps the total time spent polling. 0 leaves only MaxAttempts.
	MaxElapsed time.Duration
}

// Config holds analyzer configuration.
type Config struct {
	// Backend selects the detector: "rekognition" or "google".
	Backend string

	// Region and Profile configure the AWS SDK (rekognition backend).
	Region  string
	Profile string

	// GoogleAPIKey authenticates the google backend. When empty, application
	// default credentials are used.
	GoogleAPIKey string

	// MaxLabels and MinConfidence parameterize label detection.
	MaxLabels     int
	MinConfidence float64

	Poll PollConfig
}

// DefaultPollConfig returns the default snapshot poll budget.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		MaxAttempts:     20,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      60 * time.Second,
	}
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendRekognition,
		Profile:       "default",
		MaxLabels:     10,
		MinConfidence: 90,
		Poll:          DefaultPollConfig(),
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Backend != BackendRekognition && c.Backend != BackendGoogle {
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.Backend)
	}
	if c.MaxLabels < 1 {
		return fmt.Errorf("vision: max labels must be at least 1, got %d", c.MaxLabels)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 100 {
		return fmt.Errorf("vision: min confidence must be within 0-100, got %v", c.MinConfidence)
	}
	return c.Poll.Validate()
}

// Validate checks that the poll budget terminates.
func (p *PollConfig) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("vision: poll max attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialInterval <= 0 {
		return fmt.Errorf("vision: poll initial interval must be positive")
	}
	if p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("vision: poll max interval must be >= initial interval")
	}
	if p.MaxElapsed < 0 {
		return fmt.Errorf("vision: poll max elapsed must not be negative")
	}
	return nil
}
