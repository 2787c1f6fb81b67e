// Package sense wires the camera, vision, bus, dispatcher and dashboard
// into one process.
package sense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/mvsense/internal/config"
	"github.com/teslashibe/mvsense/pkg/meraki"
	"github.com/teslashibe/mvsense/pkg/mqttbus"
	"github.com/teslashibe/mvsense/pkg/pipeline"
	"github.com/teslashibe/mvsense/pkg/publish"
	"github.com/teslashibe/mvsense/pkg/trigger"
	"github.com/teslashibe/mvsense/pkg/vision"
	"github.com/teslashibe/mvsense/pkg/web"
)

// ErrNoBus is returned by Run when results are routed away from the bus,
// since the daemon takes its triggers from there.
var ErrNoBus = errors.New("sense: daemon mode requires the message bus")

// Bus is the message bus the daemon takes triggers from and publishes to.
// *mqttbus.Client implements it.
type Bus interface {
	publish.Publisher
	Connect(ctx context.Context) error
	ConnectWithRetry(ctx context.Context) error
	IsConnected() bool
	Subscribe(ctx context.Context, topic string, handler mqttbus.Handler) error
	OnConnectionChange(fn func(connected bool))
	Stats() mqttbus.ClientStats
	Close() error
}

// App holds every long-lived component.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	detector vision.Detector
	out      publish.Publisher

	camera     *meraki.Client
	analyzer   *vision.Analyzer
	bus        Bus
	publisher  *publish.ResultPublisher
	pipeline   *pipeline.Pipeline
	dispatcher *trigger.Dispatcher
	web        *web.Server
}

// Option configures an App.
type Option func(*App)

// WithDetector replaces the configured vision backend.
func WithDetector(d vision.Detector) Option {
	return func(a *App) { a.detector = d }
}

// WithPublisher routes results to p instead of the message bus.
func WithPublisher(p publish.Publisher) Option {
	return func(a *App) { a.out = p }
}

// WithBus uses b instead of dialing the configured broker.
func WithBus(b Bus) Option {
	return func(a *App) { a.bus = b }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// New creates an App. Call Init before use.
func New(cfg config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Init builds the components. It does not connect to the broker.
func (a *App) Init(ctx context.Context) error {
	camera, err := meraki.New(a.cfg.Meraki, meraki.WithLogger(a.logger.With("component", "meraki")))
	if err != nil {
		return fmt.Errorf("camera client: %w", err)
	}
	a.camera = camera

	if a.detector == nil {
		a.detector, err = vision.NewDetector(ctx, a.cfg.Vision)
		if err != nil {
			return fmt.Errorf("vision backend: %w", err)
		}
	}
	a.analyzer, err = vision.NewAnalyzer(a.detector, a.cfg.Vision, vision.WithLogger(a.logger.With("component", "vision")))
	if err != nil {
		return fmt.Errorf("analyzer: %w", err)
	}

	switch {
	case a.out != nil:
		a.bus = nil
	case a.bus != nil:
		a.out = a.bus
	default:
		bus, err := mqttbus.New(a.cfg.Broker, a.logger.With("component", "mqtt"))
		if err != nil {
			return fmt.Errorf("message bus: %w", err)
		}
		a.bus = bus
		a.out = bus
	}
	a.publisher = publish.New(a.out, a.cfg.Publish, a.logger.With("component", "publish"))

	a.pipeline, err = pipeline.New(a.cfg.Pipeline, a.camera, a.analyzer, a.publisher, a.logger.With("component", "pipeline"))
	if err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	a.dispatcher, err = trigger.New(a.cfg.Trigger, a.pipeline.Handle, a.logger.With("component", "trigger"))
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	webOpts := []web.Option{web.WithLogger(a.logger.With("component", "web"))}
	if a.bus != nil {
		webOpts = append(webOpts, web.WithBus(a.bus))
	}
	a.web = web.NewServer(a.cfg.Web, a.dispatcher, a.pipeline, webOpts...)
	a.pipeline.OnResult(a.web.PublishResult)

	a.logger.Info("initialized",
		"serial", a.cfg.Pipeline.Serial,
		"backend", a.detector.Name(),
		"broker", a.cfg.Broker.BrokerURL(),
	)
	return nil
}

// Run connects to the broker, subscribes to the camera's event topic and
// serves triggers until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.bus == nil {
		return ErrNoBus
	}

	a.bus.OnConnectionChange(func(connected bool) {
		a.dispatcher.SetConnected(connected)
		if connected {
			a.dispatcher.MarkReady()
		}
	})

	topics := mqttbus.NewTopics(a.cfg.Broker.Namespace)
	topic := topics.Events(a.cfg.Pipeline.Serial)
	if err := a.bus.Subscribe(ctx, topic, a.onEvent); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.bus.ConnectWithRetry(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		a.dispatcher.SetConnected(a.bus.IsConnected())
		a.dispatcher.MarkReady()
		a.logger.Info("listening for camera events", "namespace", topics.Namespace(), "topic", topic)
		return nil
	})
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return a.web.Run(ctx) })

	return g.Wait()
}

// onEvent runs on the bus client's goroutine and must not block.
func (a *App) onEvent(topic string, payload []byte) {
	a.dispatcher.Trigger(trigger.Event{
		Source:  trigger.SourceBus,
		Topic:   topic,
		Payload: payload,
	})
}

// RunOnce executes a single cycle outside the dispatcher. When results go
// to the bus, it connects first.
func (a *App) RunOnce(ctx context.Context, ev trigger.Event) (pipeline.Result, error) {
	if a.bus != nil && !a.bus.IsConnected() {
		if err := a.bus.Connect(ctx); err != nil {
			return pipeline.Result{}, err
		}
	}
	res := a.pipeline.Run(ctx, ev)
	return res, res.Err
}

// Dispatcher returns the trigger dispatcher.
func (a *App) Dispatcher() *trigger.Dispatcher {
	return a.dispatcher
}

// Shutdown releases the broker session.
func (a *App) Shutdown() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.logger.Warn("closing message bus", "error", err)
		}
	}
	a.logger.Info("shutdown complete")
}
