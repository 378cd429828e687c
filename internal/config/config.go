package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultOrigin is the only browser origin allowed by default.
const DefaultOrigin = "https://snap-shift-552700783517.europe-west1.run.app"

// PaperSize is a page size in PDF points.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// PostgresConfig describes the database that holds API tokens.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

type Config struct {
	Server struct {
		Host    string `yaml:"host"`
		Port    string `yaml:"port"`
		Prefork bool   `yaml:"prefork"`
	} `yaml:"server"`

	CORS struct {
		AllowOrigins []string `yaml:"allow_origins"`
	} `yaml:"cors"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Limits struct {
		MaxUploadBytes int `yaml:"max_upload_bytes"`
		MaxFiles       int `yaml:"max_files"`
		MaxPDFPages    int `yaml:"max_pdf_pages"`
	} `yaml:"limits"`

	Convert struct {
		JPEGQuality int     `yaml:"jpeg_quality"`
		RasterDPI   float64 `yaml:"raster_dpi"`
	} `yaml:"convert"`

	PDF struct {
		DefaultPaper string               `yaml:"default_paper"`
		PaperSizes   map[string]PaperSize `yaml:"paper_sizes"`
		Margin       float64              `yaml:"margin"`
	} `yaml:"pdf"`

	Cache struct {
		ResultCacheEnabled bool          `yaml:"result_cache_enabled"`
		ResultCacheTTL     time.Duration `yaml:"result_cache_ttl"`
		MaxEntryBytes      int           `yaml:"max_entry_bytes"`
		RedisHost          string        `yaml:"redis_host"`
		ResultCacheDB      int           `yaml:"redis_result_db"`
		RateLimitDB        int           `yaml:"redis_rate_db"`
	} `yaml:"cache"`

	Auth struct {
		Enabled        bool           `yaml:"enabled"`
		Postgres       PostgresConfig `yaml:"postgres"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`

	RateLimiter struct {
		Interval          time.Duration `yaml:"interval"`
		UserLimit         int           `yaml:"user_limit"`
		EnableUserLimiter bool          `yaml:"enable_user_limiter"`
	} `yaml:"rate_limiter"`
}

// Load reads the file named by CONFIG_PATH, or config.yaml.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads, defaults and validates the config at path. It panics on any error,
// since the service cannot start without a usable config.
func LoadFrom(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

// Default returns a config with every default applied.
func Default() Config {
	var cfg Config
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if len(c.CORS.AllowOrigins) == 0 {
		c.CORS.AllowOrigins = []string{DefaultOrigin}
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Limits.MaxUploadBytes == 0 {
		c.Limits.MaxUploadBytes = 32 * 1024 * 1024
	}
	if c.Convert.JPEGQuality == 0 {
		c.Convert.JPEGQuality = 90
	}
	if c.Convert.RasterDPI == 0 {
		c.Convert.RasterDPI = 300
	}
	if len(c.PDF.PaperSizes) == 0 {
		c.PDF.PaperSizes = map[string]PaperSize{
			"A4":     {Width: 595.28, Height: 841.89},
			"A5":     {Width: 419.53, Height: 595.28},
			"LETTER": {Width: 612, Height: 792},
			"LEGAL":  {Width: 612, Height: 1008},
		}
	} else {
		upper := make(map[string]PaperSize, len(c.PDF.PaperSizes))
		for k, v := range c.PDF.PaperSizes {
			upper[strings.ToUpper(k)] = v
		}
		c.PDF.PaperSizes = upper
	}
	if c.PDF.DefaultPaper == "" {
		c.PDF.DefaultPaper = "A4"
	}
	c.PDF.DefaultPaper = strings.ToUpper(c.PDF.DefaultPaper)
	if c.PDF.Margin == 0 {
		c.PDF.Margin = 20
	}
	if c.Cache.ResultCacheTTL == 0 {
		c.Cache.ResultCacheTTL = 10 * time.Minute
	}
	if c.Cache.MaxEntryBytes == 0 {
		c.Cache.MaxEntryBytes = 8 * 1024 * 1024
	}
	if c.Auth.ReloadInterval == 0 {
		c.Auth.ReloadInterval = time.Minute
	}
	if c.RateLimiter.Interval == 0 {
		c.RateLimiter.Interval = time.Minute
	}
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.Convert.JPEGQuality < 1 || c.Convert.JPEGQuality > 100 {
		return fmt.Errorf("convert.jpeg_quality must be within 1..100, got %d", c.Convert.JPEGQuality)
	}
	if c.Convert.RasterDPI < 0 || c.Convert.RasterDPI > 1200 {
		return fmt.Errorf("convert.raster_dpi must be within 1..1200, got %v", c.Convert.RasterDPI)
	}
	paper, ok := c.PDF.PaperSizes[c.PDF.DefaultPaper]
	if !ok {
		return fmt.Errorf("pdf.default_paper %q is not in pdf.paper_sizes", c.PDF.DefaultPaper)
	}
	if c.PDF.Margin < 0 || 2*c.PDF.Margin >= paper.Width || 2*c.PDF.Margin >= paper.Height {
		return fmt.Errorf("pdf.margin %v does not fit paper %s", c.PDF.Margin, c.PDF.DefaultPaper)
	}
	for name, p := range c.PDF.PaperSizes {
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("pdf.paper_sizes.%s must have positive width and height", name)
		}
	}
	if c.Limits.MaxUploadBytes < 0 || c.Limits.MaxFiles < 0 || c.Limits.MaxPDFPages < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if c.RateLimiter.Interval < 0 {
		return fmt.Errorf("rate_limiter.interval must be positive")
	}
	if c.RateLimiter.UserLimit < 0 {
		return fmt.Errorf("rate_limiter.user_limit must not be negative")
	}
	if c.Auth.Enabled && c.Auth.Postgres.Host == "" {
		return fmt.Errorf("auth.postgres.host is required when auth is enabled")
	}
	if c.Auth.ReloadInterval < 0 {
		return fmt.Errorf("auth.reload_interval must be positive")
	}
	return nil
}

// Paper resolves a paper name and orientation. An empty name selects the default paper.
func (c Config) Paper(name, orientation string) (PaperSize, bool) {
	key := strings.ToUpper(name)
	if key == "" {
		key = c.PDF.DefaultPaper
	}
	p, ok := c.PDF.PaperSizes[key]
	if !ok {
		return PaperSize{}, false
	}
	if strings.EqualFold(orientation, "landscape") {
		p.Width, p.Height = p.Height, p.Width
	}
	return p, true
}
