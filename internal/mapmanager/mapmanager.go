package mapmanager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog"

	"fleetmap/core-go/internal/bounds"
	"fleetmap/core-go/internal/categories"
	"fleetmap/core-go/internal/icons"
	"fleetmap/core-go/internal/layers"
	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/readiness"
	"fleetmap/core-go/internal/surface"
)

type Options struct {
	Surface surface.Surface
	Loader  icons.ImageLoader

	// Background is the template every category icon is drawn on.
	Background string
	// Categories defaults to categories.All().
	Categories      []string
	IconTemplate    string
	PixelRatio      float64
	IconConcurrency int

	Viewport   bounds.Viewport
	FitPadding int
}

// Manager owns one map surface and is what the rest of the application
// talks to: readiness, dynamic layers and viewport bounds.
type Manager struct {
	log        zerolog.Logger
	surface    surface.Surface
	loader     icons.ImageLoader
	compositor *icons.Compositor
	gate       *readiness.Gate
	layers     *layers.Manager
	metrics    *metrics.Metrics

	background   string
	categories   []string
	iconTemplate string
	viewport     bounds.Viewport
	fitPadding   int
}

func New(log zerolog.Logger, opts Options, m *metrics.Metrics) *Manager {
	cats := opts.Categories
	if len(cats) == 0 {
		cats = categories.All()
	}
	vp := opts.Viewport
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = bounds.Viewport{Width: 1280, Height: 720}
	}

	return &Manager{
		log:     log,
		surface: opts.Surface,
		loader:  opts.Loader,
		compositor: icons.NewCompositor(log, opts.Loader, opts.Surface, icons.Options{
			PixelRatio:    opts.PixelRatio,
			MaxConcurrent: opts.IconConcurrency,
		}, m),
		gate:         readiness.New(),
		layers:       layers.New(log, opts.Surface, m),
		metrics:      m,
		background:   opts.Background,
		categories:   cats,
		iconTemplate: opts.IconTemplate,
		viewport:     vp,
		fitPadding:   opts.FitPadding,
	}
}

// Element is the mountable container of the map.
func (m *Manager) Element() *surface.Element { return m.surface.Container() }

// Map exposes the underlying engine for advanced use.
func (m *Manager) Map() surface.Surface { return m.surface }

func (m *Manager) OnMapReady(fn func()) { m.gate.OnReady(fn) }

func (m *Manager) Ready() bool { return m.gate.Drained() }

func (m *Manager) Categories() []string {
	out := make([]string, len(m.categories))
	copy(out, m.categories)
	return out
}

// Run waits for the base style, composites every category icon and then
// signals readiness. On failure the map stays not ready.
func (m *Manager) Run(ctx context.Context) error {
	select {
	case <-m.surface.Loaded():
	case <-ctx.Done():
		return ctx.Err()
	}

	start := time.Now()
	background, err := m.loader.Load(ctx, m.background)
	if err != nil {
		m.log.Error().Err(err).Str("background", m.background).Msg("background template load failed")
		return fmt.Errorf("load background: %w", err)
	}

	err = m.compositor.LoadAll(ctx, background, m.categories, func(category string) string {
		return categories.IconPath(m.iconTemplate, category)
	})
	if err != nil {
		m.log.Error().Err(err).Msg("category icons load failed; map will not become ready")
		return fmt.Errorf("load icons: %w", err)
	}

	m.log.Info().
		Int("icons", len(m.categories)).
		Float64("pixel_ratio", m.compositor.PixelRatio()).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("map ready")
	m.metrics.SetMapReady(true)
	m.gate.Drain()
	return nil
}

func (m *Manager) AddLayer(id, source, icon, text string, onClick surface.Handler) error {
	return m.layers.AddLayer(id, source, icon, text, onClick)
}

func (m *Manager) RemoveLayer(id, source string) error {
	return m.layers.RemoveLayer(id, source)
}

func (m *Manager) Layers() []layers.Record { return m.layers.Layers() }

// sourceUpdater is implemented by engines that can replace source data in
// place, such as *surface.Memory.
type sourceUpdater interface {
	SetSourceData(id string, data *geojson.FeatureCollection) error
}

// SetSource registers data under id, or replaces the data of an existing
// source when the engine supports it. It reports whether the source was
// created.
func (m *Manager) SetSource(id string, data *geojson.FeatureCollection) (bool, error) {
	err := m.surface.AddSource(id, data)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, surface.ErrSourceExists) {
		return false, err
	}
	updater, ok := m.surface.(sourceUpdater)
	if !ok {
		return false, err
	}
	// Base style sources exist but are not replaceable.
	if uerr := updater.SetSourceData(id, data); uerr != nil {
		if errors.Is(uerr, surface.ErrSourceNotFound) {
			return false, err
		}
		return false, uerr
	}
	return false, nil
}

func (m *Manager) CalculateBounds(features []*geojson.Feature) *orb.Bound {
	return bounds.Calculate(features)
}

// FitZoom is the zoom that frames b in the configured viewport.
func (m *Manager) FitZoom(b orb.Bound) float64 {
	return bounds.FitZoom(b, m.viewport, m.fitPadding)
}
