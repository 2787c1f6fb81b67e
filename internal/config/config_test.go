package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/mvsense/pkg/vision"
)

func writeINI(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "credentials.ini")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Minimal(t *testing.T) {
	path := writeINI(t, `
[provider]
key = abc123
network = N_1234

[sensor]
serial = Q2BB-0000-0002
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Meraki.APIKey != "abc123" {
		t.Errorf("APIKey = %q", cfg.Meraki.APIKey)
	}
	if cfg.Pipeline.NetworkID != "N_1234" || cfg.Pipeline.Serial != "Q2BB-0000-0002" {
		t.Errorf("camera = %q/%q", cfg.Pipeline.NetworkID, cfg.Pipeline.Serial)
	}
	if cfg.Web.Serial != "Q2BB-0000-0002" {
		t.Errorf("Web.Serial = %q", cfg.Web.Serial)
	}

	// Defaults
	if cfg.Broker.KeepAlive != 300*time.Second {
		t.Errorf("KeepAlive = %v, want 300s", cfg.Broker.KeepAlive)
	}
	if cfg.Broker.Namespace != "merakimv" {
		t.Errorf("Namespace = %q", cfg.Broker.Namespace)
	}
	if cfg.Vision.Backend != vision.BackendRekognition || cfg.Vision.MaxLabels != 10 || cfg.Vision.MinConfidence != 90 {
		t.Errorf("unexpected vision defaults: %+v", cfg.Vision)
	}
	if cfg.Meraki.BaseURL != "https://api.meraki.com/api/v0" {
		t.Errorf("BaseURL = %q", cfg.Meraki.BaseURL)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
}

func TestLoad_LegacySections(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantKey string
	}{
		{
			name: "key2_preferred",
			content: `
[meraki]
key = old
key2 = new
network = N_9
[sense]
serial = Q2ZZ
`,
			wantKey: "new",
		},
		{
			name: "key_only",
			content: `
[meraki]
key = only
network = N_9
[sense]
serial = Q2ZZ
`,
			wantKey: "only",
		},
		{
			name: "provider_wins",
			content: `
[provider]
key = modern
[meraki]
key2 = legacy
network = N_9
[sense]
serial = Q2ZZ
`,
			wantKey: "modern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeINI(t, tt.content))
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Meraki.APIKey != tt.wantKey {
				t.Errorf("APIKey = %q, want %q", cfg.Meraki.APIKey, tt.wantKey)
			}
			if cfg.Pipeline.NetworkID != "N_9" || cfg.Pipeline.Serial != "Q2ZZ" {
				t.Errorf("camera = %q/%q", cfg.Pipeline.NetworkID, cfg.Pipeline.Serial)
			}
		})
	}
}

func TestLoad_CredentialErrors(t *testing.T) {
	t.Run("missing_file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.ini"))
		if !errors.Is(err, ErrCredentials) {
			t.Errorf("Expected ErrCredentials, got %v", err)
		}
	})

	t.Run("missing_serial", func(t *testing.T) {
		_, err := Load(writeINI(t, "[provider]\nkey = k\nnetwork = n\n"))
		if !errors.Is(err, ErrCredentials) {
			t.Errorf("Expected ErrCredentials, got %v", err)
		}
	})
}

func TestLoad_Optional(t *testing.T) {
	path := writeINI(t, `
[provider]
key = k
network = n
base_url = http://localhost:9000/api/v1
rate_limit = 2.5

[sensor]
serial = s

[broker]
host = broker.local
port = 8883
keepalive = 60
namespace = cams
username = u
password = p

[vision]
backend = google
google_api_key = gk
max_labels = 6
min_confidence = 75.5
index_faces = true

[poll]
max_attempts = 5
initial_interval = 250ms
max_interval = 2s
max_elapsed = 30

[trigger]
cycle_timeout = 45s

[server]
addr = :9090

[log]
level = debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Meraki.BaseURL != "http://localhost:9000/api/v1" || cfg.Meraki.RateLimit != 2.5 {
		t.Errorf("provider = %+v", cfg.Meraki)
	}
	if cfg.Broker.Host != "broker.local" || cfg.Broker.Port != 8883 || cfg.Broker.KeepAlive != time.Minute {
		t.Errorf("broker = %+v", cfg.Broker)
	}
	if cfg.Broker.Namespace != "cams" || cfg.Broker.Username != "u" || cfg.Broker.Password != "p" {
		t.Errorf("broker auth = %+v", cfg.Broker)
	}
	if cfg.Vision.Backend != vision.BackendGoogle || cfg.Vision.GoogleAPIKey != "gk" {
		t.Errorf("vision = %+v", cfg.Vision)
	}
	if cfg.Vision.MaxLabels != 6 || cfg.Vision.MinConfidence != 75.5 || !cfg.Publish.IndexFaces {
		t.Errorf("labels = %d/%v index=%v", cfg.Vision.MaxLabels, cfg.Vision.MinConfidence, cfg.Publish.IndexFaces)
	}
	want := vision.PollConfig{MaxAttempts: 5, InitialInterval: 250 * time.Millisecond, MaxInterval: 2 * time.Second, MaxElapsed: 30 * time.Second}
	if cfg.Vision.Poll != want {
		t.Errorf("poll = %+v, want %+v", cfg.Vision.Poll, want)
	}
	if cfg.Trigger.CycleTimeout != 45*time.Second {
		t.Errorf("CycleTimeout = %v", cfg.Trigger.CycleTimeout)
	}
	if cfg.Web.Addr != ":9090" || cfg.LogLevel != "debug" {
		t.Errorf("server/log = %q/%q", cfg.Web.Addr, cfg.LogLevel)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		extra string
	}{
		{"bad_port", "[broker]\nport = eighty\n"},
		{"bad_duration", "[poll]\nmax_interval = soon\n"},
		{"unknown_backend", "[vision]\nbackend = tesseract\n"},
		{"bad_bool", "[vision]\nindex_faces = maybe\n"},
	}

	base := "[provider]\nkey = k\nnetwork = n\n[sensor]\nserial = s\n"
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeINI(t, base+tt.extra))
			if err == nil {
				t.Fatal("Expected error")
			}
			if errors.Is(err, ErrCredentials) {
				t.Errorf("invalid settings should not be reported as a credentials error: %v", err)
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvBrokerHost, "env-broker")
	t.Setenv(EnvBrokerPort, "1884")
	t.Setenv(EnvHTTPAddr, "127.0.0.1:7000")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(writeINI(t, "[provider]\nkey = k\nnetwork = n\n[sensor]\nserial = s\n[broker]\nhost = file-broker\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Broker.Host != "env-broker" || cfg.Broker.Port != 1884 {
		t.Errorf("broker = %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
	if cfg.Web.Addr != "127.0.0.1:7000" || cfg.LogLevel != "warn" {
		t.Errorf("server/log = %q/%q", cfg.Web.Addr, cfg.LogLevel)
	}
}

func TestResolvePath(t *testing.T) {
	t.Setenv(EnvConfig, "")
	if got := ResolvePath(""); got != DefaultPath {
		t.Errorf("ResolvePath() = %q, want %q", got, DefaultPath)
	}

	t.Setenv(EnvConfig, "/etc/mvsense.ini")
	if got := ResolvePath(""); got != "/etc/mvsense.ini" {
		t.Errorf("ResolvePath() = %q", got)
	}
	if got := ResolvePath("local.ini"); got != "local.ini" {
		t.Errorf("flag should win, got %q", got)
	}
}
