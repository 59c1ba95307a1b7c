package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fleetmap/core-go/internal/bounds"
	"fleetmap/core-go/internal/config"
	"fleetmap/core-go/internal/db"
	"fleetmap/core-go/internal/eventstream"
	"fleetmap/core-go/internal/httpapi"
	"fleetmap/core-go/internal/imageload"
	"fleetmap/core-go/internal/mapmanager"
	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/positionsync"
	"fleetmap/core-go/internal/surface"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (defaults to $CONFIG_FILE)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	logger := httpapi.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		p, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
	}

	m := metrics.New()

	s := surface.NewMemory(surface.NewBaseStyle(surface.StyleOptions{
		TileURL:     cfg.Map.TileURL,
		Attribution: cfg.Map.Attribution,
		Glyphs:      cfg.Map.GlyphsURL,
	}))

	loader := imageload.New(logger, imageload.Options{
		Root:    cfg.Map.AssetsDir,
		Timeout: cfg.Map.ImageTimeout,
	})

	maps := mapmanager.New(logger, mapmanager.Options{
		Surface:         s,
		Loader:          loader,
		Background:      cfg.Map.Background,
		IconTemplate:    cfg.Map.IconTemplate,
		PixelRatio:      cfg.Map.PixelRatio,
		IconConcurrency: cfg.Map.IconConcurrency,
		Viewport:        bounds.Viewport{Width: cfg.Map.ViewportWidth, Height: cfg.Map.ViewportHeight},
		FitPadding:      cfg.Map.FitPadding,
	}, m)
	maps.OnMapReady(func() {
		logger.Info().Strs("categories", maps.Categories()).Msg("map accepting layers")
	})

	go func() {
		if err := maps.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("map failed to become ready")
		}
	}()
	// The in-memory engine has its style as soon as it exists.
	s.Load()

	var positions httpapi.PositionQueries
	if pool != nil {
		q := pool.Positions()
		positions = q
		if cfg.Positions.SyncInterval > 0 {
			worker := positionsync.New(logger, q, maps, positionsync.Options{
				SourceID: cfg.Positions.SourceID,
				Interval: cfg.Positions.SyncInterval,
			}, m)
			go worker.Run(ctx)
		}
	}

	h := httpapi.NewHandler(logger, maps, httpapi.Options{
		Positions:   positions,
		Events:      eventstream.NewHub(logger),
		Metrics:     m,
		BaseContext: ctx,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("core-go listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
