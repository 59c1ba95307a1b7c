package imageload

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestLoader_LoadsRelativeFileFromRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "images"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "images", "background.png"), pngBytes(t, 40, 30), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	l := New(zerolog.Nop(), Options{Root: root})
	img, err := l.Load(context.Background(), "images/background.png")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if img.Bounds().Dx() != 40 || img.Bounds().Dy() != 30 {
		t.Fatalf("expected 40x30, got %v", img.Bounds())
	}

	img, err = l.Load(context.Background(), "file://images/background.png")
	if err != nil {
		t.Fatalf("load file url: %v", err)
	}
	if img.Bounds().Dx() != 40 {
		t.Fatalf("expected 40 wide, got %v", img.Bounds())
	}
}

func TestLoader_MissingFileIsLoadError(t *testing.T) {
	l := New(zerolog.Nop(), Options{Root: t.TempDir()})
	_, err := l.Load(context.Background(), "images/missing.png")
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("expected ErrLoadFailed, got %v", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.URL != "images/missing.png" {
		t.Fatalf("expected *LoadError with url, got %v", err)
	}
}

func TestLoader_HTTPCachesDecodedImage(t *testing.T) {
	body := pngBytes(t, 8, 8)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	l := New(zerolog.Nop(), Options{})
	for i := 0; i < 3; i++ {
		if _, err := l.Load(context.Background(), srv.URL+"/icon.png"); err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", hits.Load())
	}
}

func TestLoader_HTTPStatusAndGarbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	l := New(zerolog.Nop(), Options{CacheTTL: -1})
	if _, err := l.Load(context.Background(), srv.URL+"/missing.png"); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("expected ErrLoadFailed on 404, got %v", err)
	}
	if _, err := l.Load(context.Background(), srv.URL+"/garbage.png"); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("expected ErrLoadFailed on undecodable body, got %v", err)
	}
}

func TestLoader_TimeoutDoesNotStall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	l := New(zerolog.Nop(), Options{Timeout: 50 * time.Millisecond})
	start := time.Now()
	_, err := l.Load(context.Background(), srv.URL+"/slow.png")
	if !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("expected ErrLoadFailed, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("expected load to give up quickly, took %s", time.Since(start))
	}
}
