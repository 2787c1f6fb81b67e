// Package meraki is a minimal client for the Cisco Meraki Dashboard API,
// covering what is needed to obtain camera snapshots.
package meraki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/teslashibe/mvsense/internal/httpc"
)

// CameraModelPrefix identifies MV camera models in the device list.
const CameraModelPrefix = "MV"

// Device is a network device as reported by the Dashboard API.
type Device struct {
	Serial    string  `json:"serial"`
	Model     string  `json:"model"`
	Name      string  `json:"name"`
	MAC       string  `json:"mac"`
	NetworkID string  `json:"networkId"`
	LanIP     string  `json:"lanIp"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

// IsCamera reports whether the device is an MV camera.
func (d Device) IsCamera() bool {
	return strings.HasPrefix(d.Model, CameraModelPrefix)
}

// Snapshot is the response of a snapshot request.
type Snapshot struct {
	URL    string `json:"url"`
	Expiry string `json:"expiry,omitempty"`
}

// Client talks to the Dashboard API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a Dashboard API client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:    cfg,
		http:   httpc.NewClient(cfg.Timeout),
		logger: slog.Default(),
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Devices lists all devices in a network.
func (c *Client) Devices(ctx context.Context, networkID string) ([]Device, error) {
	path := fmt.Sprintf("/networks/%s/devices", url.PathEscape(networkID))

	var devices []Device
	if err := c.do(ctx, "list devices", http.MethodGet, path, nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// Camera returns the single camera in the network with the given serial.
// It fails with ErrDeviceNotFound or ErrAmbiguousDevice instead of guessing.
func (c *Client) Camera(ctx context.Context, networkID, serial string) (Device, error) {
	devices, err := c.Devices(ctx, networkID)
	if err != nil {
		return Device{}, err
	}
	return FindCamera(devices, serial)
}

// FindCamera selects the camera with the given serial from a device list.
func FindCamera(devices []Device, serial string) (Device, error) {
	var matches []Device
	for _, d := range devices {
		if d.IsCamera() && d.Serial == serial {
			matches = append(matches, d)
		}
	}

	switch len(matches) {
	case 0:
		return Device{}, fmt.Errorf("%w: serial %s", ErrDeviceNotFound, serial)
	case 1:
		return matches[0], nil
	default:
		return Device{}, fmt.Errorf("%w: serial %s matched %d devices", ErrAmbiguousDevice, serial, len(matches))
	}
}

// RequestSnapshot asks the camera for a snapshot. A zero at means "now";
// otherwise the snapshot is pinned to that instant.
func (c *Client) RequestSnapshot(ctx context.Context, networkID, serial string, at time.Time) (Snapshot, error) {
	path := fmt.Sprintf("/networks/%s/cameras/%s/snapshot", url.PathEscape(networkID), url.PathEscape(serial))

	var body any
	if !at.IsZero() {
		body = map[string]string{"timestamp": at.UTC().Format(time.RFC3339)}
	}

	var snap Snapshot
	err := c.do(ctx, "request snapshot", http.MethodPost, path, body, &snap)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return Snapshot{}, fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
		}
		return Snapshot{}, err
	}
	if snap.URL == "" {
		return Snapshot{}, fmt.Errorf("%w: empty url in response", ErrSnapshotUnavailable)
	}
	return snap, nil
}

// SnapshotURL resolves the camera by serial and requests a snapshot from it.
func (c *Client) SnapshotURL(ctx context.Context, networkID, serial string, at time.Time) (string, error) {
	cam, err := c.Camera(ctx, networkID, serial)
	if err != nil {
		return "", err
	}

	snap, err := c.RequestSnapshot(ctx, networkID, cam.Serial, at)
	if err != nil {
		return "", err
	}

	c.logger.Debug("snapshot requested", "serial", cam.Serial, "model", cam.Model, "url", snap.URL)
	return snap.URL, nil
}

// do performs a request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("meraki: %s: %w", op, err)
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("meraki: %s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := httpc.NewRequest(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("meraki: %s: %w", op, err)
	}
	req.Header.Set("X-Cisco-Meraki-API-Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	// The snapshot endpoint rejects a JSON content type on an empty body.
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("meraki: %s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("meraki: %s: read body: %w", op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("meraki: %s: decode response: %w", op, err)
	}
	return nil
}

// errorMessage extracts {"errors": [...]} if present, else a truncated body.
func errorMessage(body []byte) string {
	var apiErr struct {
		Errors []string `json:"errors"`
	}
	if json.Unmarshal(body, &apiErr) == nil && len(apiErr.Errors) > 0 {
		return strings.Join(apiErr.Errors, "; ")
	}
	return truncate(strings.TrimSpace(string(body)), 200)
}

// truncate shortens a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
