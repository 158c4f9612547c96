package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devraulu/hilight/pkg/agent"
	"github.com/devraulu/hilight/pkg/bus"
	"github.com/devraulu/hilight/pkg/config"
	"github.com/devraulu/hilight/pkg/highlight"
	"github.com/devraulu/hilight/pkg/logger"
	"github.com/devraulu/hilight/pkg/page"
	"github.com/devraulu/hilight/pkg/persist"
	"github.com/devraulu/hilight/pkg/server"
	"github.com/devraulu/hilight/pkg/storage"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("fatal: couldn't load config", slog.Any("err", err))
		os.Exit(1)
	}

	logger.InitLogger(cfg)

	store, err := storage.Open(cfg.Storage)
	if err != nil {
		slog.Error("fatal: couldn't open storage", slog.Any("err", err))
		os.Exit(1)
	}
	defer store.Close()

	timeout := cfg.Storage.GetTimeout()
	pages := persist.NewManager(store, timeout)
	settings := persist.NewSettingsStore(store, timeout, highlight.ConfiguredState(cfg.Highlight.DefaultColor, cfg.Highlight.PositionMode))

	b := bus.New(bus.WithLogger(slog.Default()))
	defer b.Close()

	status := agent.NewStatusLog(0)
	if err := b.Register(agent.EndpointBackground, agent.NewBackground(settings, b)); err != nil {
		slog.Error("fatal: couldn't register background", slog.Any("err", err))
		os.Exit(1)
	}
	if err := b.Register(agent.EndpointUI, status); err != nil {
		slog.Error("fatal: couldn't register ui", slog.Any("err", err))
		os.Exit(1)
	}

	fetcher := page.NewFetcher(cfg.Server.UserAgent, cfg.Server.GetFetchTimeout(), cfg.Server.RespectRobots)
	srv := server.New(b, pages,
		server.WithFetcher(fetcher),
		server.WithStatusLog(status),
		server.WithSessionOptions(
			highlight.WithBaseZ(cfg.Highlight.BaseZ),
			highlight.WithIDGenerator(highlight.UUIDv7()),
		),
	)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	appSignal := make(chan os.Signal, 1)
	signal.Notify(appSignal, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", slog.Any("err", err))
		}
		stop()
	}()

	select {
	case s := <-appSignal:
		slog.Info("received system signal", slog.String("signal", s.String()))
	case <-ctx.Done():
		slog.Info("context done, stopping")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", slog.Any("err", err))
	}
	slog.Info("shutdown complete")
}
