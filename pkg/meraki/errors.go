package meraki

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	// ErrNoAPIKey is returned when the API key is missing.
	ErrNoAPIKey = errors.New("meraki: API key required")

	// ErrDeviceNotFound is returned when no camera on the network has the requested serial.
	ErrDeviceNotFound = errors.New("meraki: device not found")

	// ErrAmbiguousDevice is returned when more than one camera matches the serial.
	ErrAmbiguousDevice = errors.New("meraki: more than one device matches serial")

	// ErrSnapshotUnavailable is returned when the provider refuses a snapshot,
	// e.g. the camera is offline. Callers treat it as "not ready yet".
	ErrSnapshotUnavailable = errors.New("meraki: snapshot unavailable")
)

// APIError represents an error response from the Dashboard API.
type APIError struct {
	// Op is the operation that failed, e.g. "list devices".
	Op string

	// StatusCode is the HTTP status code.
	StatusCode int

	// Message holds the response body or the API's error list.
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("meraki: %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("meraki: %s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsRateLimited returns true if this is a rate limit error (HTTP 429).
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized returns true if the API key was rejected.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsRetryable returns true if the request may succeed later.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || e.StatusCode >= 500
}
