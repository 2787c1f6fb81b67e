// Package mqttbus wraps an MQTT client for the camera event bus.
//
// It keeps subscriptions alive across reconnects, delivers inbound
// device events and publishes analysis results as plain string payloads.
package mqttbus

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds MQTT client configuration.
type Config struct {
	// Host and Port locate the broker.
	Host string `ini:"host" json:"host"`
	Port int    `ini:"port" json:"port"`

	// ClientID identifies this session to the broker. Empty generates one.
	ClientID string `ini:"client_id" json:"client_id"`

	Username string `ini:"username" json:"username"`
	Password string `ini:"password" json:"-"`

	// KeepAlive is the MQTT keep-alive interval.
	KeepAlive time.Duration `ini:"keepalive" json:"keepalive"`

	// Namespace is the first segment of device event topics.
	// Default: "merakimv"
	Namespace string `ini:"namespace" json:"namespace"`

	// QoS applies to both subscriptions and publishes.
	QoS byte `json:"qos"`

	// Retain marks published results as retained.
	Retain bool `json:"retain"`

	// ConnectTimeout bounds a single connect or token wait.
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// ReconnectInterval is the delay between initial connect attempts and
	// the cap on the library's automatic reconnect backoff.
	ReconnectInterval time.Duration `json:"reconnect_interval"`

	// MaxReconnectAttempts is the maximum number of initial connect attempts.
	// 0 means unlimited.
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		Port:              1883,
		KeepAlive:         300 * time.Second,
		Namespace:         "merakimv",
		ConnectTimeout:    10 * time.Second,
		ReconnectInterval: 5 * time.Second,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Namespace == "" {
		return fmt.Errorf("namespace is required")
	}
	if c.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("keepalive must not be negative")
	}
	return nil
}

// BrokerURL returns the tcp:// URL of the broker.
func (c *Config) BrokerURL() string {
	return "tcp://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
