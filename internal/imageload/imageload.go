package imageload

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultCacheTTL = 2 * time.Minute
	maxImageBytes   = 8 << 20
)

var ErrLoadFailed = errors.New("image load failed")

// LoadError describes why a single image could not be loaded. It matches
// ErrLoadFailed with errors.Is.
type LoadError struct {
	URL string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load image %s: %v", e.URL, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoadFailed }

type Options struct {
	// Root resolves relative paths and file:// URLs.
	Root     string
	Timeout  time.Duration
	CacheTTL time.Duration
	Client   *http.Client
}

type cacheEntry struct {
	img       image.Image
	expiresAt time.Time
}

// Loader fetches and decodes raster images from HTTP(S) URLs or the local
// assets directory.
type Loader struct {
	log      zerolog.Logger
	root     string
	timeout  time.Duration
	cacheTTL time.Duration
	client   *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

func New(log zerolog.Logger, opts Options) *Loader {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ttl := opts.CacheTTL
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:          32,
				MaxIdleConnsPerHost:   16,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
			},
		}
	}
	return &Loader{
		log:      log,
		root:     opts.Root,
		timeout:  timeout,
		cacheTTL: ttl,
		client:   client,
		cache:    make(map[string]cacheEntry),
	}
}

// Load resolves once the image at url has been decoded. Every call is bounded
// by the loader timeout; failures are returned as *LoadError.
func (l *Loader) Load(ctx context.Context, url string) (image.Image, error) {
	if img, ok := l.fromCache(url); ok {
		return img, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	var (
		img image.Image
		err error
	)
	if isRemote(url) {
		img, err = l.loadHTTP(ctx, url)
	} else {
		img, err = l.loadFile(ctx, url)
	}
	if err != nil {
		l.log.Warn().Err(err).Str("url", url).Msg("image load failed")
		return nil, &LoadError{URL: url, Err: err}
	}

	l.log.Debug().
		Str("url", url).
		Int("width", img.Bounds().Dx()).
		Int("height", img.Bounds().Dy()).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("image loaded")
	l.store(url, img)
	return img, nil
}

func isRemote(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}

func (l *Loader) loadHTTP(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}
	return decode(ctx, io.LimitReader(resp.Body, maxImageBytes))
}

func (l *Loader) loadFile(ctx context.Context, url string) (image.Image, error) {
	path := l.resolve(url)
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(ctx, io.LimitReader(f, maxImageBytes))
}

func (l *Loader) resolve(url string) string {
	path := strings.TrimPrefix(url, "file://")
	if filepath.IsAbs(path) || l.root == "" {
		return filepath.Clean(path)
	}
	return filepath.Join(l.root, filepath.FromSlash(path))
}

func decode(ctx context.Context, r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", format, err)
	}
	return img, nil
}

func (l *Loader) fromCache(url string) (image.Image, bool) {
	if l.cacheTTL < 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.cache[url]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(l.cache, url)
		return nil, false
	}
	return entry.img, true
}

func (l *Loader) store(url string, img image.Image) {
	if l.cacheTTL < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[url] = cacheEntry{img: img, expiresAt: time.Now().Add(l.cacheTTL)}
}
