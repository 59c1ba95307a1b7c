package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fleetmap/core-go/internal/categories"
	"fleetmap/core-go/internal/surface"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	DatabaseURL string `yaml:"database_url"`

	Map       MapConfig       `yaml:"map"`
	Positions PositionsConfig `yaml:"positions"`
}

// PositionsConfig controls the database-backed device positions source.
// A zero SyncInterval disables periodic refresh.
type PositionsConfig struct {
	SourceID     string        `yaml:"source_id"`
	SyncInterval time.Duration `yaml:"sync_interval"`
}

type MapConfig struct {
	TileURL     string `yaml:"tile_url"`
	Attribution string `yaml:"attribution"`
	GlyphsURL   string `yaml:"glyphs_url"`

	AssetsDir       string        `yaml:"assets_dir"`
	Background      string        `yaml:"background"`
	IconTemplate    string        `yaml:"icon_template"`
	PixelRatio      float64       `yaml:"pixel_ratio"`
	ImageTimeout    time.Duration `yaml:"image_timeout"`
	IconConcurrency int           `yaml:"icon_concurrency"`

	ViewportWidth  int `yaml:"viewport_width"`
	ViewportHeight int `yaml:"viewport_height"`
	FitPadding     int `yaml:"fit_padding"`
}

func Default() Config {
	return Config{
		HTTPAddr:  ":8081",
		LogLevel:  "info",
		LogFormat: "json",
		Map: MapConfig{
			TileURL:         surface.DefaultTileURL,
			Attribution:     surface.DefaultAttribution,
			GlyphsURL:       surface.DefaultGlyphs,
			AssetsDir:       "web",
			Background:      "images/background.png",
			IconTemplate:    categories.DefaultIconTemplate,
			PixelRatio:      1,
			ImageTimeout:    10 * time.Second,
			IconConcurrency: 8,
			ViewportWidth:   1280,
			ViewportHeight:  720,
			FitPadding:      40,
		},
		Positions: PositionsConfig{
			SourceID:     "positions",
			SyncInterval: 5 * time.Second,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment (after loading .env when present), in that order.
func Load(path string) (Config, error) {
	cfg := Default()

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) error {
	cfg.HTTPAddr = envOr("HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = envOr("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("LOG_FORMAT", cfg.LogFormat)
	cfg.DatabaseURL = envOr("DATABASE_URL", cfg.DatabaseURL)
	cfg.Map.TileURL = envOr("TILE_URL", cfg.Map.TileURL)
	cfg.Map.GlyphsURL = envOr("GLYPHS_URL", cfg.Map.GlyphsURL)
	cfg.Map.AssetsDir = envOr("ASSETS_DIR", cfg.Map.AssetsDir)
	cfg.Map.Background = envOr("MAP_BACKGROUND", cfg.Map.Background)
	cfg.Map.IconTemplate = envOr("MAP_ICON_TEMPLATE", cfg.Map.IconTemplate)

	if v := strings.TrimSpace(os.Getenv("PIXEL_RATIO")); v != "" {
		ratio, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("PIXEL_RATIO: %w", err)
		}
		cfg.Map.PixelRatio = ratio
	}
	cfg.Positions.SourceID = envOr("POSITIONS_SOURCE", cfg.Positions.SourceID)
	if v := strings.TrimSpace(os.Getenv("POSITIONS_SYNC_INTERVAL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("POSITIONS_SYNC_INTERVAL: %w", err)
		}
		cfg.Positions.SyncInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("IMAGE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("IMAGE_TIMEOUT: %w", err)
		}
		cfg.Map.ImageTimeout = d
	}
	return nil
}

func (c Config) Validate() error {
	if c.Map.PixelRatio <= 0 {
		return fmt.Errorf("pixel_ratio must be positive, got %v", c.Map.PixelRatio)
	}
	if c.Map.ImageTimeout <= 0 {
		return fmt.Errorf("image_timeout must be positive, got %s", c.Map.ImageTimeout)
	}
	if !strings.Contains(c.Map.IconTemplate, "{category}") {
		return fmt.Errorf("icon_template must contain {category}, got %q", c.Map.IconTemplate)
	}
	if strings.TrimSpace(c.Map.Background) == "" {
		return errors.New("background is required")
	}
	if c.Positions.SyncInterval < 0 {
		return fmt.Errorf("positions.sync_interval must not be negative, got %s", c.Positions.SyncInterval)
	}
	return nil
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
