// Package trigger serializes analysis cycles behind a single worker.
//
// Inbound events are accepted without blocking the caller. At most one
// cycle runs and at most one more waits; anything beyond that is coalesced
// into the waiting event.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// State is the dispatcher's externally visible state.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateIdle
	StateAnalyzing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateIdle:
		return "idle"
	case StateAnalyzing:
		return "analyzing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Trigger sources.
const (
	SourceBus    = "mqtt"
	SourceManual = "http"
	SourceCLI    = "cli"
)

// Event is one request for an analysis cycle.
type Event struct {
	Source  string
	Topic   string
	Payload []byte
	At      time.Time

	// Timestamp pins the snapshot to a past moment. Zero means now.
	Timestamp time.Time
}

// Handler runs one analysis cycle.
type Handler func(ctx context.Context, ev Event) error

// Config configures a Dispatcher.
type Config struct {
	// QueueSize is the number of events that may wait behind the running
	// cycle. Default: 1
	QueueSize int

	// CycleTimeout bounds a single cycle. Default: 2m
	CycleTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    1,
		CycleTimeout: 2 * time.Minute,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize)
	}
	if c.CycleTimeout <= 0 {
		return fmt.Errorf("cycle timeout must be positive")
	}
	return nil
}

// Dispatcher feeds events to a Handler on one worker goroutine.
type Dispatcher struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	queue   chan Event

	mu        sync.RWMutex
	connected bool
	ready     bool
	analyzing bool
	running   bool

	received  atomic.Int64
	coalesced atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
}

// New creates a Dispatcher. Call Run to start the worker.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		queue:   make(chan Event, cfg.QueueSize),
	}, nil
}

// Trigger enqueues ev without blocking. It returns false when the queue is
// full and the event was coalesced into the one already waiting.
func (d *Dispatcher) Trigger(ev Event) bool {
	d.received.Add(1)
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case d.queue <- ev:
		d.logger.Debug("trigger queued", "source", ev.Source, "topic", ev.Topic)
		return true
	default:
		d.coalesced.Add(1)
		d.logger.Info("trigger coalesced", "source", ev.Source, "topic", ev.Topic)
		return false
	}
}

// SetConnected records the bus connection state. A disconnect resets the
// dispatcher to StateDisconnected; a cycle already running keeps going.
func (d *Dispatcher) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
	if !connected {
		d.ready = false
	}
}

// MarkReady records that the event subscription is in place.
func (d *Dispatcher) MarkReady() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		d.ready = true
	}
}

// State returns the current state.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	switch {
	case !d.connected:
		return StateDisconnected
	case d.analyzing:
		return StateAnalyzing
	case d.ready:
		return StateIdle
	default:
		return StateConnected
	}
}

// Run processes events until ctx is cancelled. Handler errors are logged
// and counted; they never stop the worker.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	d.running = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-d.queue:
			d.runCycle(ctx, ev)
		}
	}
}

func (d *Dispatcher) runCycle(ctx context.Context, ev Event) {
	d.setAnalyzing(true)
	defer d.setAnalyzing(false)

	cycleCtx, cancel := context.WithTimeout(ctx, d.cfg.CycleTimeout)
	defer cancel()

	start := time.Now()
	err := d.safeHandle(cycleCtx, ev)
	if err != nil {
		d.failed.Add(1)
		d.logger.Error("analysis cycle failed",
			"source", ev.Source,
			"duration", time.Since(start),
			"error", err,
		)
		return
	}

	d.succeeded.Add(1)
	d.logger.Info("analysis cycle complete",
		"source", ev.Source,
		"duration", time.Since(start),
	)
}

// safeHandle keeps a panicking handler from killing the worker.
func (d *Dispatcher) safeHandle(ctx context.Context, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler(ctx, ev)
}

func (d *Dispatcher) setAnalyzing(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.analyzing = v
}

// Stats returns dispatcher statistics.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		State:     d.State(),
		Received:  d.received.Load(),
		Coalesced: d.coalesced.Load(),
		Succeeded: d.succeeded.Load(),
		Failed:    d.failed.Load(),
		Queued:    len(d.queue),
	}
}

// Stats contains dispatcher statistics.
type Stats struct {
	State     State `json:"state"`
	Received  int64 `json:"received"`
	Coalesced int64 `json:"coalesced"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Queued    int   `json:"queued"`
}
