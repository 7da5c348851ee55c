// spindled is the dispatch daemon: it serves the command protocol over NATS,
// routes jobs to worker pools, and exposes introspection over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spindleworks/spindle/internal/api"
	"github.com/spindleworks/spindle/internal/config"
	"github.com/spindleworks/spindle/internal/engine"
	"github.com/spindleworks/spindle/internal/lock"
	"github.com/spindleworks/spindle/internal/log"
	"github.com/spindleworks/spindle/internal/profile"
	"github.com/spindleworks/spindle/internal/router"
	"github.com/spindleworks/spindle/internal/transport/natsbridge"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	lockPath := flag.String("lock", "spindled.lock", "path to the single-instance lock file")
	flag.Parse()

	if err := run(*configPath, *lockPath); err != nil {
		fmt.Fprintf(os.Stderr, "spindled: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, lockPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")

	lk, err := lock.Acquire(lockPath)
	if err != nil {
		return err
	}
	defer func() { _ = lk.Release() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := profile.Open(ctx, cfg.Profiles.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	apps := make(map[string]engine.AppConfig, len(cfg.Apps))
	for name, app := range cfg.Apps {
		apps[name] = engine.AppConfig{Entrypoint: app.Entrypoint, Args: app.Args}
	}
	eng := engine.NewSubprocess(apps)

	nc, err := natsbridge.Connect(cfg.Transport.URL, cfg.Service.Name)
	if err != nil {
		return err
	}
	defer nc.Close()
	bridge := natsbridge.New(nc, cfg.Transport.Subject)

	rtr := router.New(router.Options{
		Sender:    bridge,
		Engine:    eng,
		Profiles:  store,
		LocalAddr: cfg.Transport.NodeAddr,
	})
	defer rtr.Shutdown()

	if cfg.API.Enabled {
		srv := api.New(api.Config{Listen: cfg.API.Listen}, rtr)
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("API server failed", "error", err)
			}
		}()
	}

	logger.Info("spindled starting",
		"service", cfg.Service.Name,
		"subject", cfg.Transport.Subject,
		"apps", len(cfg.Apps),
	)

	if err := bridge.Serve(ctx, rtr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}
