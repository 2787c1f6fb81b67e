// mvsense listens for camera events on MQTT, analyzes a fresh snapshot for
// each one and publishes the results back to the broker.
//
// Usage:
//
//	mvsense -config credentials.ini
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/mvsense/internal/config"
	"github.com/teslashibe/mvsense/internal/log"
	"github.com/teslashibe/mvsense/pkg/sense"
)

func main() {
	configPath := flag.String("config", "", "INI file with provider credentials (default $MVSENSE_CONFIG or credentials.ini)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "mvsense: %v\n", err)
		if errors.Is(err, config.ErrCredentials) {
			os.Exit(2)
		}
		os.Exit(1)
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	log.Init(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := sense.New(cfg, sense.WithLogger(log.With("cmd", "mvsense")))
	if err != nil {
		log.Error("configuration error", "error", err)
		os.Exit(1)
	}
	if err := app.Init(ctx); err != nil {
		log.Error("initialization failed", "error", err)
		os.Exit(1)
	}
	defer app.Shutdown()

	log.Info("mvsense starting", "config", cfg.Path, "dashboard", cfg.Web.Addr)
	if err := app.Run(ctx); err != nil {
		log.Error("runtime error", "error", err)
		app.Shutdown()
		os.Exit(1)
	}
}
