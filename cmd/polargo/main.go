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

	"github.com/star/polargo/internal/api"
	"github.com/star/polargo/internal/auth"
	"github.com/star/polargo/internal/config"
	"github.com/star/polargo/internal/store"
	"github.com/star/polargo/internal/stream"
	"github.com/star/polargo/internal/transform"
	"github.com/star/polargo/internal/watch"
	"github.com/star/polargo/internal/wcs"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	configPath := flag.String("config", os.Getenv("POLARGO_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	obs := transform.NewObserver(cfg.Site.LatitudeDeg, cfg.Site.LongitudeDeg)
	logger.Info("observing site", "latitude", obs.LatDeg, "longitude", obs.LonDeg)

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			logger.Error("could not open run store", "path", cfg.Store.Path, "error", err)
			os.Exit(1)
		}
		defer st.Close()
		logger.Info("run store opened", "path", cfg.Store.Path)
	} else {
		logger.Info("run store disabled")
	}

	hub := stream.NewHub(logger)
	ctrl := api.NewController(obs, api.ControllerOptions{
		Workers:             cfg.Solve.Workers,
		MaxPixelSearchRange: cfg.Solve.MaxPixelSearchRangeDeg,
		Store:               st,
		Hub:                 hub,
		Logger:              logger,
	})

	streamHandler := stream.NewHandler(hub, func() any { return ctrl.State() }, stream.Config{
		MaxClients:      cfg.Stream.MaxClients,
		MaxClientsPerIP: cfg.Stream.MaxClientsPerIP,
		Keepalive:       cfg.StreamKeepalive(),
		TrustProxy:      cfg.Stream.TrustProxy,
	}, logger)

	srv := api.NewServer(cfg.HTTPAddr, logger, auth.Config{
		Enabled: cfg.Auth.Enabled,
		Token:   cfg.Auth.Token,
	}, ctrl, streamHandler)

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Spool.Dir != "" {
		var archive *watch.Archive
		if cfg.Spool.ArchiveDir != "" {
			archive = watch.NewArchive(cfg.Spool.ArchiveDir, cfg.Spool.ArchiveMaxFiles)
		}
		watcher, err := watch.New(watch.Config{
			Dir:     cfg.Spool.Dir,
			Settle:  cfg.SpoolSettle(),
			Archive: archive,
		}, func(path string, sol *wcs.Solution) {
			res, err := ctrl.Ingest(ctx, sol)
			if err != nil {
				logger.Warn("spooled solve result rejected", "path", path, "error", err)
				return
			}
			logger.Info("spooled solve result ingested",
				"path", path, "action", res.Action, "samples", res.SampleCount)
		}, logger)
		if err != nil {
			logger.Error("could not set up spool watcher", "dir", cfg.Spool.Dir, "error", err)
			os.Exit(1)
		}
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("spool watcher stopped", "error", err)
			}
		}()
		logger.Info("watching spool directory", "dir", cfg.Spool.Dir)
	}

	go func() {
		logger.Info("starting server", "addr", cfg.HTTPAddr, "auth_enabled", cfg.Auth.Enabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
