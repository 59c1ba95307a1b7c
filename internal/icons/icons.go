package icons

import (
	"context"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"fleetmap/core-go/internal/metrics"
	"fleetmap/core-go/internal/surface"
)

// IconRatio is the size of the overlay glyph relative to the background.
const IconRatio = 0.5

type ImageLoader interface {
	Load(ctx context.Context, url string) (image.Image, error)
}

// Registrar is the part of the map surface that owns the icon table.
type Registrar interface {
	AddImage(key string, img *image.RGBA, opts surface.ImageOptions) error
}

// Icon is a composited bitmap. Bitmap is sized in device pixels; LogicalWidth
// and LogicalHeight are the CSS-pixel size it is displayed at.
type Icon struct {
	Bitmap        *image.RGBA
	PixelRatio    float64
	LogicalWidth  int
	LogicalHeight int
	OverlayRect   image.Rectangle
}

// Composite draws background stretched over a pixelRatio-scaled canvas and
// the overlay centered at IconRatio of the canvas size.
func Composite(background, overlay image.Image, pixelRatio float64) *Icon {
	if pixelRatio <= 0 {
		pixelRatio = 1
	}
	bb := background.Bounds()
	width := int(math.Floor(float64(bb.Dx()) * pixelRatio))
	height := int(math.Floor(float64(bb.Dy()) * pixelRatio))

	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(canvas, canvas.Bounds(), background, bb, draw.Over, nil)

	overlayW := float64(width) * IconRatio
	overlayH := float64(height) * IconRatio
	x0 := (float64(width) - overlayW) / 2
	y0 := (float64(height) - overlayH) / 2
	rect := image.Rect(int(x0), int(y0), int(x0+overlayW), int(y0+overlayH))
	draw.CatmullRom.Scale(canvas, rect, overlay, overlay.Bounds(), draw.Over, nil)

	return &Icon{
		Bitmap:        canvas,
		PixelRatio:    pixelRatio,
		LogicalWidth:  bb.Dx(),
		LogicalHeight: bb.Dy(),
		OverlayRect:   rect,
	}
}

type Options struct {
	PixelRatio float64
	// MaxConcurrent bounds LoadAll; zero means unbounded.
	MaxConcurrent int
}

type Compositor struct {
	log        zerolog.Logger
	loader     ImageLoader
	registrar  Registrar
	pixelRatio float64
	limit      int
	metrics    *metrics.Metrics
}

func NewCompositor(log zerolog.Logger, loader ImageLoader, registrar Registrar, opts Options, m *metrics.Metrics) *Compositor {
	ratio := opts.PixelRatio
	if ratio <= 0 {
		ratio = 1
	}
	return &Compositor{
		log:        log,
		loader:     loader,
		registrar:  registrar,
		pixelRatio: ratio,
		limit:      opts.MaxConcurrent,
		metrics:    m,
	}
}

func (c *Compositor) PixelRatio() float64 { return c.pixelRatio }

// LoadIcon loads the overlay at url, composites it onto background and
// registers the result under key. Registering an existing key replaces it.
func (c *Compositor) LoadIcon(ctx context.Context, key string, background image.Image, url string) error {
	start := time.Now()
	overlay, err := c.loader.Load(ctx, url)
	if err != nil {
		c.metrics.ObserveIconLoad("error", time.Since(start))
		return fmt.Errorf("icon %q: %w", key, err)
	}

	icon := Composite(background, overlay, c.pixelRatio)
	if err := c.registrar.AddImage(key, icon.Bitmap, surface.ImageOptions{PixelRatio: icon.PixelRatio}); err != nil {
		c.metrics.ObserveIconLoad("error", time.Since(start))
		return fmt.Errorf("register icon %q: %w", key, err)
	}

	c.metrics.ObserveIconLoad("ok", time.Since(start))
	c.log.Debug().
		Str("key", key).
		Int("width", icon.Bitmap.Bounds().Dx()).
		Int("height", icon.Bitmap.Bounds().Dy()).
		Float64("pixel_ratio", icon.PixelRatio).
		Msg("icon registered")
	return nil
}

// LoadAll composites every key concurrently and returns once all of them have
// settled. The first failure is returned; the others still run to completion.
func (c *Compositor) LoadAll(ctx context.Context, background image.Image, keys []string, urlFor func(key string) string) error {
	var g errgroup.Group
	if c.limit > 0 {
		g.SetLimit(c.limit)
	}
	for _, key := range keys {
		key := key
		g.Go(func() error {
			return c.LoadIcon(ctx, key, background, urlFor(key))
		})
	}
	return g.Wait()
}
