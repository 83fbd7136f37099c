package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keepalive_engine/internal/app"
	"keepalive_engine/internal/config"
	"keepalive_engine/internal/httpapi"
	"keepalive_engine/internal/notify"
)

func main() {
	configPath := flag.String("config", "./config.yaml", "path to config.yaml")
	envPath := flag.String("env", ".env", "path to .env file (optional)")
	noScheduler := flag.Bool("no-scheduler", false, "do not start the scheduler on boot")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		log.Fatalf("load env: %v", err)
	}
	path := *configPath
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg, app.Overrides{})
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	bus := a.Bus
	bus.Log("info", "server starting", map[string]any{
		"addr":    cfg.Server.Addr,
		"storage": cfg.Storage.Driver,
		"path":    cfg.Storage.Path,
	})

	var notif notify.RunSubscriber
	if a.Email != nil {
		notif = a.Email
	}
	api := httpapi.New(httpapi.Options{
		Cfg:       cfg,
		Bus:       bus,
		Registry:  a.Registry,
		Engine:    a.Engine,
		Scheduler: a.Scheduler,
		Notifier:  notif,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	if !*noScheduler {
		a.Scheduler.Start()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-stop:
		bus.Log("info", "shutdown signal received", map[string]any{"signal": sig.String()})
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			bus.Log("error", "http server error", map[string]any{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_ = server.Shutdown(shutdownCtx)
	bus.Log("info", "server stopped", nil)
	if err := a.Close(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
