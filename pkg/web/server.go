// Package web serves the status dashboard: health, current state, the last
// analysis result, manual triggers and a live result feed.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/mvsense/pkg/hub"
	"github.com/teslashibe/mvsense/pkg/mqttbus"
	"github.com/teslashibe/mvsense/pkg/pipeline"
	"github.com/teslashibe/mvsense/pkg/trigger"
)

// Dispatcher accepts manual triggers and reports worker state.
type Dispatcher interface {
	Trigger(ev trigger.Event) bool
	Stats() trigger.Stats
}

// ResultSource exposes the most recent cycle.
type ResultSource interface {
	LastResult() (pipeline.Result, bool)
}

// BusStats reports message bus statistics.
type BusStats interface {
	Stats() mqttbus.ClientStats
}

// Config configures the dashboard.
type Config struct {
	// Addr is the listen address. Default: ":8080"
	Addr string

	// Serial is shown in the status payload.
	Serial string

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server is the dashboard server.
type Server struct {
	cfg     Config
	app     *fiber.App
	logger  *slog.Logger
	results *hub.Hub
	started time.Time

	dispatcher Dispatcher
	source     ResultSource
	bus        BusStats
}

// Option configures a Server.
type Option func(*Server)

// WithBus adds bus statistics to the status payload.
func WithBus(bus BusStats) Option {
	return func(s *Server) { s.bus = bus }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the dashboard server.
func NewServer(cfg Config, dispatcher Dispatcher, source ResultSource, opts ...Option) *Server {
	s := &Server{
		cfg:        cfg,
		logger:     slog.Default(),
		started:    time.Now(),
		dispatcher: dispatcher,
		source:     source,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.ShutdownTimeout <= 0 {
		s.cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	s.results = hub.New("results", s.logger)

	app := fiber.New(fiber.Config{
		AppName:               "mvsense",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	app.Get("/health", s.handleHealth)

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/result", s.handleResult)
	api.Post("/trigger", s.handleTrigger)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/results", websocket.New(s.handleResultsWS))

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// PublishResult pushes a finished cycle to websocket clients. It matches
// pipeline.Pipeline.OnResult.
func (s *Server) PublishResult(res pipeline.Result) {
	if err := s.results.BroadcastJSON(hub.TypeResult, res); err != nil {
		s.logger.Warn("encode result", "error", err)
	}
}

// Run listens on the configured address until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.results.Run(hubCtx)

	s.logger.Info("dashboard listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Listener(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(s.cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
