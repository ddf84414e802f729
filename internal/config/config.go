package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Store     StoreConfig     `mapstructure:"store"`
	Scraping  ScrapingConfig  `mapstructure:"scraping"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	Spam      SpamConfig      `mapstructure:"spam"`
	Preview   PreviewConfig   `mapstructure:"preview"`
	Retention RetentionConfig `mapstructure:"retention"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type ScrapingConfig struct {
	Workers          int           `mapstructure:"workers"`
	SourceTimeout    time.Duration `mapstructure:"source_timeout"`
	HTTPTimeout      time.Duration `mapstructure:"http_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	MaxItemsDefault  int           `mapstructure:"max_items_default"`
	AllowPrivateURLs bool          `mapstructure:"allow_private_urls"`
}

type DedupConfig struct {
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	WindowAge           time.Duration `mapstructure:"window_age"`
	WindowSize          int           `mapstructure:"window_size"`
}

type SpamConfig struct {
	ScoreThreshold int      `mapstructure:"score_threshold"`
	TrustedSources []string `mapstructure:"trusted_sources"`
	ExtraKeywords  []string `mapstructure:"extra_keywords"`
}

type PreviewConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxPerBody   int           `mapstructure:"max_per_body"`
	// Providers overrides the built-in oEmbed provider table
	// (domain -> endpoint). Empty means the built-in table.
	Providers map[string]string `mapstructure:"providers"`
}

type RetentionConfig struct {
	ArticleDays int `mapstructure:"article_days"`
	BackupDays  int `mapstructure:"backup_days"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	CronSpec string `mapstructure:"cron_spec"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	Path  string `mapstructure:"path"`
}

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".newsriver", "data")

	return &Config{
		Store: StoreConfig{
			DataDir: dataDir,
		},
		Scraping: ScrapingConfig{
			Workers:         3,
			SourceTimeout:   5 * time.Minute,
			HTTPTimeout:     30 * time.Second,
			UserAgent:       "newsriver/1.0 (+https://github.com/jfellner/newsriver)",
			MaxItemsDefault: 50,
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.85,
			WindowAge:           48 * time.Hour,
			WindowSize:          500,
		},
		Spam: SpamConfig{
			ScoreThreshold: 50,
		},
		Preview: PreviewConfig{
			TTL:          24 * time.Hour,
			FetchTimeout: 10 * time.Second,
			MaxPerBody:   3,
		},
		Retention: RetentionConfig{
			ArticleDays: 30,
			BackupDays:  7,
		},
		Server: ServerConfig{
			Addr:     "127.0.0.1:8654",
			CronSpec: "*/30 * * * *",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Defaults are registered per leaf key so a config file that sets only
	// part of a section keeps the remaining defaults.
	cfg := defaultConfig()
	v.SetDefault("store.data_dir", cfg.Store.DataDir)
	v.SetDefault("scraping.workers", cfg.Scraping.Workers)
	v.SetDefault("scraping.source_timeout", cfg.Scraping.SourceTimeout)
	v.SetDefault("scraping.http_timeout", cfg.Scraping.HTTPTimeout)
	v.SetDefault("scraping.user_agent", cfg.Scraping.UserAgent)
	v.SetDefault("scraping.max_items_default", cfg.Scraping.MaxItemsDefault)
	v.SetDefault("scraping.allow_private_urls", cfg.Scraping.AllowPrivateURLs)
	v.SetDefault("dedup.similarity_threshold", cfg.Dedup.SimilarityThreshold)
	v.SetDefault("dedup.window_age", cfg.Dedup.WindowAge)
	v.SetDefault("dedup.window_size", cfg.Dedup.WindowSize)
	v.SetDefault("spam.score_threshold", cfg.Spam.ScoreThreshold)
	v.SetDefault("spam.trusted_sources", cfg.Spam.TrustedSources)
	v.SetDefault("spam.extra_keywords", cfg.Spam.ExtraKeywords)
	v.SetDefault("preview.ttl", cfg.Preview.TTL)
	v.SetDefault("preview.fetch_timeout", cfg.Preview.FetchTimeout)
	v.SetDefault("preview.max_per_body", cfg.Preview.MaxPerBody)
	v.SetDefault("retention.article_days", cfg.Retention.ArticleDays)
	v.SetDefault("retention.backup_days", cfg.Retention.BackupDays)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.cron_spec", cfg.Server.CronSpec)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.path", cfg.Log.Path)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "newsriver")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NEWSRIVER")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	expandPaths(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(cfg *Config) error {
	if cfg.Scraping.Workers < 1 {
		return fmt.Errorf("scraping.workers must be at least 1, got %d", cfg.Scraping.Workers)
	}
	if cfg.Dedup.SimilarityThreshold <= 0 || cfg.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarity_threshold must be in (0, 1], got %v", cfg.Dedup.SimilarityThreshold)
	}
	if cfg.Dedup.WindowSize < 1 {
		return fmt.Errorf("dedup.window_size must be at least 1, got %d", cfg.Dedup.WindowSize)
	}
	return nil
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

func expandPaths(cfg *Config) {
	cfg.Store.DataDir = expandPath(cfg.Store.DataDir)
	if cfg.Log.Path != "" {
		cfg.Log.Path = expandPath(cfg.Log.Path)
	}
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Convert durations to strings for TOML readability
	scrapingCfg := map[string]interface{}{
		"workers":           config.Scraping.Workers,
		"source_timeout":    config.Scraping.SourceTimeout.String(),
		"http_timeout":      config.Scraping.HTTPTimeout.String(),
		"user_agent":        config.Scraping.UserAgent,
		"max_items_default": config.Scraping.MaxItemsDefault,
	}

	dedupCfg := map[string]interface{}{
		"similarity_threshold": config.Dedup.SimilarityThreshold,
		"window_age":           config.Dedup.WindowAge.String(),
		"window_size":          config.Dedup.WindowSize,
	}

	previewCfg := map[string]interface{}{
		"ttl":           config.Preview.TTL.String(),
		"fetch_timeout": config.Preview.FetchTimeout.String(),
		"max_per_body":  config.Preview.MaxPerBody,
	}

	v.Set("store", map[string]interface{}{
		"data_dir": config.Store.DataDir,
	})
	v.Set("scraping", scrapingCfg)
	v.Set("dedup", dedupCfg)
	v.Set("spam", map[string]interface{}{
		"score_threshold": config.Spam.ScoreThreshold,
		"trusted_sources": config.Spam.TrustedSources,
		"extra_keywords":  config.Spam.ExtraKeywords,
	})
	v.Set("preview", previewCfg)
	v.Set("retention", map[string]interface{}{
		"article_days": config.Retention.ArticleDays,
		"backup_days":  config.Retention.BackupDays,
	})
	v.Set("server", map[string]interface{}{
		"addr":      config.Server.Addr,
		"cron_spec": config.Server.CronSpec,
	})
	v.Set("log", map[string]interface{}{
		"level": config.Log.Level,
		"path":  config.Log.Path,
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}
