// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"docharvest/internal/traverse"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Storage  StorageConfig         `mapstructure:"storage"`
	DB       DBConfig              `mapstructure:"db"`
	Crawler  CrawlerConfig         `mapstructure:"crawler"`
	Catalog  CatalogConfig         `mapstructure:"catalog"`
	Classify ClassifyConfig        `mapstructure:"classify"`
	Sites    []traverse.SiteConfig `mapstructure:"sites"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// StorageConfig sets the on-disk layout for downloads and catalog output.
type StorageConfig struct {
	// DownloadDir is the root of the per-domain download tree.
	DownloadDir string `mapstructure:"download_dir"`
	// CatalogJSONL and CatalogMarkdown are the append-only sink paths.
	CatalogJSONL    string `mapstructure:"catalog_jsonl"`
	CatalogMarkdown string `mapstructure:"catalog_markdown"`
}

// DBConfig selects and configures the durable store backend.
type DBConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver"`
	// Path is the SQLite database file (sqlite driver only).
	Path string `mapstructure:"path"`
	// DSN is the connection string (postgres driver only).
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// CrawlerConfig governs traversal behavior shared across sites.
type CrawlerConfig struct {
	UserAgent       string `mapstructure:"user_agent"`
	RespectRobots   bool   `mapstructure:"respect_robots"`
	PageTimeoutSec  int    `mapstructure:"page_timeout_seconds"`
	FetchTimeoutSec int    `mapstructure:"fetch_timeout_seconds"`
}

// CatalogConfig tunes the incremental catalog engine.
type CatalogConfig struct {
	PipelineVersion string `mapstructure:"pipeline_version"`
	BatchSize       int    `mapstructure:"batch_size"`
	Workers         int    `mapstructure:"workers"`
	MaxChars        int    `mapstructure:"max_chars"`
	RetryErrors     bool   `mapstructure:"retry_errors"`
	FilterRelevance bool   `mapstructure:"filter_relevance"`
}

// ClassifyConfig feeds the keyword heuristics.
type ClassifyConfig struct {
	RelevanceTerms []string `mapstructure:"relevance_terms"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DOCHARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("storage.download_dir", "data/files")
	v.SetDefault("storage.catalog_jsonl", "data/catalog.jsonl")
	v.SetDefault("storage.catalog_markdown", "data/catalog.md")
	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.path", "data/harvest.db")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("crawler.user_agent", "docharvest-bot/0.1")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.page_timeout_seconds", 30)
	v.SetDefault("crawler.fetch_timeout_seconds", 60)
	v.SetDefault("catalog.pipeline_version", "v1")
	v.SetDefault("catalog.batch_size", 50)
	v.SetDefault("catalog.workers", 4)
	v.SetDefault("catalog.max_chars", 40000)
	v.SetDefault("catalog.retry_errors", false)
	v.SetDefault("catalog.filter_relevance", false)
}

// Validate checks the loaded configuration for unusable values.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(c.DB.Path) == "" {
			return fmt.Errorf("db.path is required for the sqlite driver")
		}
	case "postgres":
		if strings.TrimSpace(c.DB.DSN) == "" {
			return fmt.Errorf("db.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("db.driver %q is not supported (want sqlite or postgres)", c.DB.Driver)
	}
	if strings.TrimSpace(c.Storage.DownloadDir) == "" {
		return fmt.Errorf("storage.download_dir is required")
	}
	if strings.TrimSpace(c.Catalog.PipelineVersion) == "" {
		return fmt.Errorf("catalog.pipeline_version is required")
	}
	if c.Catalog.BatchSize <= 0 {
		return fmt.Errorf("catalog.batch_size must be positive")
	}
	if c.Catalog.Workers <= 0 {
		return fmt.Errorf("catalog.workers must be positive")
	}
	for _, site := range c.Sites {
		if err := site.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Site returns the configured site with the given name.
func (c Config) Site(name string) (traverse.SiteConfig, bool) {
	for _, site := range c.Sites {
		if strings.EqualFold(site.Name, name) {
			return site, true
		}
	}
	return traverse.SiteConfig{}, false
}
