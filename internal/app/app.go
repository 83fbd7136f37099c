// Package app wires the registry, engine and scheduler from a loaded config.
// Both the server and the CLI build on it so they share one object graph.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"keepalive_engine/internal/browser"
	"keepalive_engine/internal/clock"
	"keepalive_engine/internal/config"
	"keepalive_engine/internal/engine"
	"keepalive_engine/internal/logbus"
	"keepalive_engine/internal/notify"
	"keepalive_engine/internal/registry"
	"keepalive_engine/internal/scheduler"
	"keepalive_engine/internal/session"
	"keepalive_engine/internal/solver"
	"keepalive_engine/internal/store"
	"keepalive_engine/internal/store/file"
	"keepalive_engine/internal/store/sqlite"
)

type App struct {
	Cfg       config.Config
	Bus       *logbus.Bus
	Store     store.Store
	Registry  *registry.Registry
	Hub       *notify.Hub
	Email     *notify.EmailNotifier
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler

	sink io.Closer
}

// Overrides replaces collaborators that normally touch the outside world.
type Overrides struct {
	Launcher session.Launcher
	Solver   solver.Solver
	Clock    clock.Clock
}

func New(ctx context.Context, cfg config.Config, ov Overrides) (*App, error) {
	sinkLogger, sink, err := logbus.OpenSink(cfg.Log.File, cfg.Log.Console)
	if err != nil {
		return nil, err
	}
	a := &App{Cfg: cfg, sink: sink}
	a.Bus = logbus.New(cfg.Log.BufferSize, sinkLogger)

	a.Store, err = OpenStore(ctx, cfg.Storage)
	if err != nil {
		a.closeSink()
		return nil, err
	}
	a.Registry, err = registry.Open(ctx, a.Store, a.Bus)
	if err != nil {
		_ = a.Store.Close()
		a.closeSink()
		return nil, fmt.Errorf("open registry: %w", err)
	}

	a.Hub = notify.NewHub(a.Registry, a.Bus)
	if cfg.Email.Enabled {
		a.Email = notify.NewEmailNotifier(emailSettings(cfg.Email), a.Bus)
		a.Hub.SubscribeRuns(a.Email)
	}

	launcher := ov.Launcher
	if launcher == nil {
		launcher = browser.NewLauncher()
	}
	sv := ov.Solver
	if sv == nil {
		sv = solver.New(SolverConfig(cfg.Solver), solver.WithBus(a.Bus))
	}
	clk := ov.Clock
	if clk == nil {
		clk = clock.New()
	}

	a.Engine = engine.New(engine.Options{
		Accounts:     a.Registry,
		Publisher:    a.Hub,
		Bus:          a.Bus,
		Launcher:     launcher,
		Solver:       sv,
		Clock:        clk,
		Site:         cfg.Site,
		Timing:       cfg.Timing,
		ArtifactsDir: cfg.Artifacts.Dir,
	})
	a.Scheduler = scheduler.New(scheduler.Options{
		Policy:            a.Registry,
		Runner:            a.Engine,
		Bus:               a.Bus,
		Clock:             clk,
		CheckInterval:     cfg.Scheduler.CheckInterval(),
		HeartbeatInterval: cfg.Scheduler.HeartbeatInterval(),
	})
	return a, nil
}

func OpenStore(ctx context.Context, cfg config.StorageConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		s, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, nil
	case config.StorageFile, "":
		s, err := file.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("storage.driver %q is not supported", cfg.Driver)
	}
}

// Close stops the scheduler, waits for an in-flight pass, flushes queued email and
// releases the store and log sink.
func (a *App) Close(ctx context.Context) error {
	a.Scheduler.Stop()
	var errs []error
	if err := a.Engine.Wait(ctx); err != nil {
		errs = append(errs, fmt.Errorf("wait for run: %w", err))
	}
	if a.Email != nil {
		if err := a.Email.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush email: %w", err))
		}
	}
	if err := a.Store.Close(); err != nil {
		errs = append(errs, err)
	}
	a.Bus.Close()
	a.closeSink()
	return errors.Join(errs...)
}

func (a *App) closeSink() {
	if a.sink != nil {
		_ = a.sink.Close()
	}
}

func emailSettings(c config.EmailConfig) notify.EmailSettings {
	return notify.EmailSettings{
		Enabled:       c.Enabled,
		Host:          c.Host,
		Port:          c.Port,
		SSL:           c.SSL,
		Username:      c.Username,
		Password:      c.Password,
		From:          c.From,
		To:            c.To,
		OnlyOnFailure: c.OnlyOnFailure,
	}
}

func SolverConfig(c config.SolverConfig) solver.Config {
	return solver.Config{
		Endpoint:      c.Endpoint,
		Token:         c.Token,
		Type:          c.Type,
		Timeout:       c.Timeout(),
		RetryCount:    c.RetryCount,
		QPS:           c.QPS,
		Burst:         c.Burst,
		MaxConcurrent: c.MaxConcurrent,
	}
}
