package meraki

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultBaseURL is the Dashboard API v0 root.
const DefaultBaseURL = "https://api.meraki.com/api/v0"

// Config holds Dashboard API client configuration.
type Config struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string

	// APIKey is sent as the X-Cisco-Meraki-API-Key header.
	APIKey string

	// RateLimit is the maximum number of requests per second. 0 disables limiting.
	RateLimit float64

	// Timeout bounds every single request.
	Timeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults. APIKey is left empty.
func DefaultConfig() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		RateLimit: 5,
		Timeout:   15 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.BaseURL == "" {
		return fmt.Errorf("meraki: base URL is required")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("meraki: invalid base URL %q: %w", c.BaseURL, err)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("meraki: rate limit must not be negative")
	}
	return nil
}
