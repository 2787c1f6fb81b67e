// Package config loads the mvsense INI file and environment overrides into
// the per-package configuration structs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"github.com/teslashibe/mvsense/pkg/meraki"
	"github.com/teslashibe/mvsense/pkg/mqttbus"
	"github.com/teslashibe/mvsense/pkg/pipeline"
	"github.com/teslashibe/mvsense/pkg/publish"
	"github.com/teslashibe/mvsense/pkg/trigger"
	"github.com/teslashibe/mvsense/pkg/vision"
	"github.com/teslashibe/mvsense/pkg/web"
)

// DefaultPath is used when neither -config nor MVSENSE_CONFIG is set.
const DefaultPath = "credentials.ini"

// Environment variables.
const (
	EnvConfig     = "MVSENSE_CONFIG"
	EnvBrokerHost = "MVSENSE_BROKER_HOST"
	EnvBrokerPort = "MVSENSE_BROKER_PORT"
	EnvHTTPAddr   = "MVSENSE_HTTP_ADDR"
	EnvLogLevel   = "MVSENSE_LOG_LEVEL"
)

// ErrCredentials means the credentials file is missing, unreadable or
// incomplete. Commands exit with status 2 on it.
var ErrCredentials = errors.New("config: credentials unavailable")

// Config is the full process configuration.
type Config struct {
	// Path is the file the configuration was read from.
	Path string

	Meraki   meraki.Config
	Pipeline pipeline.Config
	Broker   mqttbus.Config
	Vision   vision.Config
	Publish  publish.Config
	Trigger  trigger.Config
	Web      web.Config

	LogLevel string
}

// Default returns the configuration used for every key the file omits.
func Default() Config {
	return Config{
		Meraki:   meraki.DefaultConfig(),
		Pipeline: pipeline.DefaultConfig(),
		Broker:   mqttbus.DefaultConfig(),
		Vision:   vision.DefaultConfig(),
		Trigger:  trigger.DefaultConfig(),
		Web:      web.DefaultConfig(),
		LogLevel: "info",
	}
}

// ResolvePath picks the config path: the flag value, then MVSENSE_CONFIG,
// then DefaultPath.
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path, applies environment overrides and validates the result.
// Missing or incomplete credentials yield an error wrapping ErrCredentials.
func Load(path string) (Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrCredentials, err)
	}

	cfg := Default()
	cfg.Path = path

	if err := cfg.readCredentials(f); err != nil {
		return Config{}, err
	}
	if err := cfg.readOptional(f); err != nil {
		return Config{}, err
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	cfg.Web.Serial = cfg.Pipeline.Serial

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// readCredentials fills the required keys, falling back to the legacy
// [meraki] and [sense] sections.
func (c *Config) readCredentials(f *ini.File) error {
	c.Meraki.APIKey = first(f,
		"provider", "key",
		"meraki", "key2",
		"meraki", "key",
	)
	c.Pipeline.NetworkID = first(f,
		"provider", "network",
		"meraki", "network",
	)
	c.Pipeline.Serial = first(f,
		"sensor", "serial",
		"sense", "serial",
	)

	var missing []string
	if c.Meraki.APIKey == "" {
		missing = append(missing, "[provider] key")
	}
	if c.Pipeline.NetworkID == "" {
		missing = append(missing, "[provider] network")
	}
	if c.Pipeline.Serial == "" {
		missing = append(missing, "[sensor] serial")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// first returns the first non-empty value among section/key pairs.
func first(f *ini.File, pairs ...string) string {
	for i := 0; i+1 < len(pairs); i += 2 {
		if v := strings.TrimSpace(f.Section(pairs[i]).Key(pairs[i+1]).String()); v != "" {
			return v
		}
	}
	return ""
}

func (c *Config) readOptional(f *ini.File) error {
	r := reader{f: f}

	provider := "provider"
	r.strKey(provider, "base_url", &c.Meraki.BaseURL)
	r.floatKey(provider, "rate_limit", &c.Meraki.RateLimit)

	broker := "broker"
	r.strKey(broker, "host", &c.Broker.Host)
	r.intKey(broker, "port", &c.Broker.Port)
	r.durationKey(broker, "keepalive", &c.Broker.KeepAlive)
	r.strKey(broker, "client_id", &c.Broker.ClientID)
	r.strKey(broker, "namespace", &c.Broker.Namespace)
	r.strKey(broker, "username", &c.Broker.Username)
	r.strKey(broker, "password", &c.Broker.Password)

	vis := "vision"
	r.strKey(vis, "backend", &c.Vision.Backend)
	r.strKey(vis, "region", &c.Vision.Region)
	r.strKey(vis, "profile", &c.Vision.Profile)
	r.strKey(vis, "google_api_key", &c.Vision.GoogleAPIKey)
	r.intKey(vis, "max_labels", &c.Vision.MaxLabels)
	r.floatKey(vis, "min_confidence", &c.Vision.MinConfidence)
	r.boolKey(vis, "index_faces", &c.Publish.IndexFaces)

	poll := "poll"
	r.intKey(poll, "max_attempts", &c.Vision.Poll.MaxAttempts)
	r.durationKey(poll, "initial_interval", &c.Vision.Poll.InitialInterval)
	r.durationKey(poll, "max_interval", &c.Vision.Poll.MaxInterval)
	r.durationKey(poll, "max_elapsed", &c.Vision.Poll.MaxElapsed)

	r.durationKey("trigger", "cycle_timeout", &c.Trigger.CycleTimeout)
	r.strKey("server", "addr", &c.Web.Addr)
	r.strKey("log", "level", &c.LogLevel)

	return r.err
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvBrokerHost); v != "" {
		c.Broker.Host = v
	}
	if v := os.Getenv(EnvBrokerPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvBrokerPort, err)
		}
		c.Broker.Port = port
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		c.Web.Addr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	return nil
}

// Validate checks every component configuration.
func (c *Config) Validate() error {
	checks := []struct {
		name string
		fn   func() error
	}{
		{"provider", c.Meraki.Validate},
		{"pipeline", c.Pipeline.Validate},
		{"broker", c.Broker.Validate},
		{"vision", c.Vision.Validate},
		{"trigger", c.Trigger.Validate},
	}
	for _, check := range checks {
		if err := check.fn(); err != nil {
			return fmt.Errorf("config: %s: %w", check.name, err)
		}
	}
	return nil
}

// reader collects the first parse error while copying optional keys.
type reader struct {
	f   *ini.File
	err error
}

func (r *reader) key(section, name string) (*ini.Key, bool) {
	if r.err != nil || !r.f.Section(section).HasKey(name) {
		return nil, false
	}
	k := r.f.Section(section).Key(name)
	if strings.TrimSpace(k.String()) == "" {
		return nil, false
	}
	return k, true
}

func (r *reader) fail(section, name string, err error) {
	r.err = fmt.Errorf("config: [%s] %s: %w", section, name, err)
}

func (r *reader) strKey(section, name string, dst *string) {
	if k, ok := r.key(section, name); ok {
		*dst = strings.TrimSpace(k.String())
	}
}

func (r *reader) intKey(section, name string, dst *int) {
	if k, ok := r.key(section, name); ok {
		v, err := k.Int()
		if err != nil {
			r.fail(section, name, err)
			return
		}
		*dst = v
	}
}

func (r *reader) floatKey(section, name string, dst *float64) {
	if k, ok := r.key(section, name); ok {
		v, err := k.Float64()
		if err != nil {
			r.fail(section, name, err)
			return
		}
		*dst = v
	}
}

func (r *reader) boolKey(section, name string, dst *bool) {
	if k, ok := r.key(section, name); ok {
		v, err := k.Bool()
		if err != nil {
			r.fail(section, name, err)
			return
		}
		*dst = v
	}
}

// duration accepts Go durations ("1.5s") or bare seconds ("300").
func (r *reader) durationKey(section, name string, dst *time.Duration) {
	k, ok := r.key(section, name)
	if !ok {
		return
	}
	raw := strings.TrimSpace(k.String())
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		r.fail(section, name, err)
		return
	}
	*dst = d
}
