package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadFrom_Valid(t *testing.T) {
	p := writeConfig(t, `server:
  host: "127.0.0.1"
  port: ":9000"
cors:
  allow_origins: ["https://example.com"]
convert:
  jpeg_quality: 80
  raster_dpi: 150
pdf:
  default_paper: "letter"
  margin: 10
cache:
  result_cache_enabled: true
  result_cache_ttl: 2m
rate_limiter:
  interval: 1h
  user_limit: 20
`)
	cfg := LoadFrom(p)
	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, []string{"https://example.com"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, 80, cfg.Convert.JPEGQuality)
	assert.Equal(t, 150.0, cfg.Convert.RasterDPI)
	assert.Equal(t, "LETTER", cfg.PDF.DefaultPaper)
	assert.Equal(t, 10.0, cfg.PDF.Margin)
	assert.Equal(t, 2*time.Minute, cfg.Cache.ResultCacheTTL)
	assert.Equal(t, time.Hour, cfg.RateLimiter.Interval)
	assert.Equal(t, 20, cfg.RateLimiter.UserLimit)
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg := LoadFrom(writeConfig(t, "server:\n  host: \"\"\n"))
	assert.Equal(t, ":8080", cfg.Server.Port)
	assert.Equal(t, []string{DefaultOrigin}, cfg.CORS.AllowOrigins)
	assert.Equal(t, 300.0, cfg.Convert.RasterDPI)
	assert.Equal(t, 20.0, cfg.PDF.Margin)
	assert.Equal(t, "A4", cfg.PDF.DefaultPaper)
	assert.Contains(t, cfg.PDF.PaperSizes, "LETTER")
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{name: "jpeg quality out of range", yml: "convert:\n  jpeg_quality: 120\n"},
		{name: "unknown default paper", yml: "pdf:\n  default_paper: B0\n"},
		{name: "margin larger than page", yml: "pdf:\n  margin: 400\n"},
		{name: "negative user limit", yml: "rate_limiter:\n  user_limit: -1\n"},
		{name: "auth without postgres", yml: "auth:\n  enabled: true\n"},
		{name: "broken yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			assert.Panics(t, func() { _ = LoadFrom(p) })
		})
	}
}

func TestLoadFrom_MissingFilePanics(t *testing.T) {
	assert.Panics(t, func() { _ = LoadFrom(filepath.Join(t.TempDir(), "nope.yaml")) })
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	p := writeConfig(t, "server:\n  port: \":7070\"\n")
	t.Setenv("CONFIG_PATH", p)
	cfg := Load()
	assert.Equal(t, ":7070", cfg.Server.Port)
}

func TestPaper(t *testing.T) {
	cfg := Default()

	p, ok := cfg.Paper("", "")
	require.True(t, ok)
	assert.Equal(t, cfg.PDF.PaperSizes["A4"], p)

	l, ok := cfg.Paper("letter", "landscape")
	require.True(t, ok)
	assert.Equal(t, 792.0, l.Width)
	assert.Equal(t, 612.0, l.Height)

	_, ok = cfg.Paper("B0", "")
	assert.False(t, ok)
}
