// Package config builds the immutable configuration value the rest of
// the crawler runs on. Sources are layered: defaults, then a YAML file,
// then .env / environment variables, then command line flags. The
// resulting *Config is constructed once at process start and passed by
// reference; nothing reads ambient state afterwards.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for one run.
type Config struct {
	Platforms PlatformsConfig `yaml:"platforms"`
	Crawl     CrawlConfig     `yaml:"crawl"`
	Emotion   EmotionConfig   `yaml:"emotion"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PlatformsConfig selects and parameterizes the content sources.
type PlatformsConfig struct {
	// Enabled lists the platforms processed this run, in order.
	Enabled     []string       `yaml:"enabled"`
	Xiaohongshu PlatformConfig `yaml:"xiaohongshu"`
	Weibo       PlatformConfig `yaml:"weibo"`
}

// PlatformConfig holds per-platform navigation targets.
type PlatformConfig struct {
	SearchURL string `yaml:"search_url"`
	Keyword   string `yaml:"keyword"`
}

// CrawlConfig bounds the harvest loop.
type CrawlConfig struct {
	TargetTexts      int           `yaml:"target_texts"`
	TargetImages     int           `yaml:"target_images"`
	MaxPages         int           `yaml:"max_pages"`
	SettleDelay      time.Duration `yaml:"settle_delay"`
	StagnationLimit  int           `yaml:"stagnation_limit"`
	MinTextLength    int           `yaml:"min_text_length"`
	MaxImagesPerCard int           `yaml:"max_images_per_card"`
	LoginWait        time.Duration `yaml:"login_wait"`
}

// MaxCycles is the absolute ceiling on harvest cycles, independent of
// stagnation. Scroll platforms take several cycles per logical page.
func (c CrawlConfig) MaxCycles() int {
	return c.MaxPages * 5
}

// UnmarshalYAML accepts durations as strings like "2s". Absent keys keep
// the values already in c, so YAML merges over the defaults.
func (c *CrawlConfig) UnmarshalYAML(node *yaml.Node) error {
	aux := struct {
		TargetTexts      *int    `yaml:"target_texts"`
		TargetImages     *int    `yaml:"target_images"`
		MaxPages         *int    `yaml:"max_pages"`
		SettleDelay      *string `yaml:"settle_delay"`
		StagnationLimit  *int    `yaml:"stagnation_limit"`
		MinTextLength    *int    `yaml:"min_text_length"`
		MaxImagesPerCard *int    `yaml:"max_images_per_card"`
		LoginWait        *string `yaml:"login_wait"`
	}{}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	if aux.TargetTexts != nil {
		c.TargetTexts = *aux.TargetTexts
	}
	if aux.TargetImages != nil {
		c.TargetImages = *aux.TargetImages
	}
	if aux.MaxPages != nil {
		c.MaxPages = *aux.MaxPages
	}
	if aux.StagnationLimit != nil {
		c.StagnationLimit = *aux.StagnationLimit
	}
	if aux.MinTextLength != nil {
		c.MinTextLength = *aux.MinTextLength
	}
	if aux.MaxImagesPerCard != nil {
		c.MaxImagesPerCard = *aux.MaxImagesPerCard
	}
	if err := setDuration(&c.SettleDelay, aux.SettleDelay, "settle_delay"); err != nil {
		return err
	}
	return setDuration(&c.LoginWait, aux.LoginWait, "login_wait")
}

// EmotionConfig configures the classification client and admission gate.
type EmotionConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Endpoint         string        `yaml:"endpoint"`
	Model            string        `yaml:"model"`
	APIKey           string        `yaml:"api_key"`
	MinScore         float64       `yaml:"min_score"`
	TargetCategories []string      `yaml:"target_categories"`
	MaxTextLength    int           `yaml:"max_text_length"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	BackoffBase      time.Duration `yaml:"backoff_base"`
	BackoffMax       time.Duration `yaml:"backoff_max"`
}

// UnmarshalYAML accepts durations as strings like "30s".
func (c *EmotionConfig) UnmarshalYAML(node *yaml.Node) error {
	aux := struct {
		Enabled          *bool     `yaml:"enabled"`
		Endpoint         *string   `yaml:"endpoint"`
		Model            *string   `yaml:"model"`
		APIKey           *string   `yaml:"api_key"`
		MinScore         *float64  `yaml:"min_score"`
		TargetCategories *[]string `yaml:"target_categories"`
		MaxTextLength    *int      `yaml:"max_text_length"`
		RequestTimeout   *string   `yaml:"request_timeout"`
		MaxAttempts      *int      `yaml:"max_attempts"`
		BackoffBase      *string   `yaml:"backoff_base"`
		BackoffMax       *string   `yaml:"backoff_max"`
	}{}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	if aux.Enabled != nil {
		c.Enabled = *aux.Enabled
	}
	if aux.Endpoint != nil {
		c.Endpoint = *aux.Endpoint
	}
	if aux.Model != nil {
		c.Model = *aux.Model
	}
	if aux.APIKey != nil {
		c.APIKey = *aux.APIKey
	}
	if aux.MinScore != nil {
		c.MinScore = *aux.MinScore
	}
	if aux.TargetCategories != nil {
		c.TargetCategories = *aux.TargetCategories
	}
	if aux.MaxTextLength != nil {
		c.MaxTextLength = *aux.MaxTextLength
	}
	if aux.MaxAttempts != nil {
		c.MaxAttempts = *aux.MaxAttempts
	}
	if err := setDuration(&c.RequestTimeout, aux.RequestTimeout, "request_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.BackoffBase, aux.BackoffBase, "backoff_base"); err != nil {
		return err
	}
	return setDuration(&c.BackoffMax, aux.BackoffMax, "backoff_max")
}

// setDuration parses an optional duration string into dst.
func setDuration(dst *time.Duration, raw *string, key string) error {
	if raw == nil || *raw == "" {
		return nil
	}
	d, err := time.ParseDuration(*raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

// RateLimitConfig throttles page advances and classifier calls.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// OutputConfig holds the persistence roots.
type OutputConfig struct {
	TextDirectory  string `yaml:"text_directory"`
	ImageDirectory string `yaml:"image_directory"`
	StatsDirectory string `yaml:"stats_directory"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns a Config with the stock settings.
func Default() *Config {
	return &Config{
		Platforms: PlatformsConfig{
			Enabled: []string{"xiaohongshu", "weibo"},
			Xiaohongshu: PlatformConfig{
				SearchURL: "https://www.xiaohongshu.com/search_result",
			},
			Weibo: PlatformConfig{
				SearchURL: "https://s.weibo.com/weibo",
			},
		},
		Crawl: CrawlConfig{
			TargetTexts:      20,
			TargetImages:     20,
			MaxPages:         10,
			SettleDelay:      2 * time.Second,
			StagnationLimit:  3,
			MinTextLength:    10,
			MaxImagesPerCard: 3,
			LoginWait:        2 * time.Minute,
		},
		Emotion: EmotionConfig{
			Enabled:  true,
			Endpoint: "https://api.deepseek.com/chat/completions",
			Model:    "deepseek-chat",
			MinScore: 0.3,
			TargetCategories: []string{
				"joy", "anger", "sadness", "fear", "surprise", "disgust",
			},
			MaxTextLength:  500,
			RequestTimeout: 30 * time.Second,
			MaxAttempts:    3,
			BackoffBase:    2 * time.Second,
			BackoffMax:     10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
		},
		Output: OutputConfig{
			TextDirectory:  "./data/texts",
			ImageDirectory: "./data/images",
			StatsDirectory: "./data/analyzed",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromFile merges a YAML config file into c. An empty path searches
// the standard locations; a missing file is not an error.
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func findConfigFile() string {
	locations := []string{
		".emocrawl.yaml",
		".emocrawl.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "emocrawl", "config.yaml"),
		filepath.Join(os.Getenv("HOME"), ".emocrawl.yaml"),
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}
	return ""
}

// LoadFromEnv merges EMOCRAWL_* environment variables into c.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("EMOCRAWL_API_KEY"); v != "" {
		c.Emotion.APIKey = v
	}
	if v := os.Getenv("EMOCRAWL_ENDPOINT"); v != "" {
		c.Emotion.Endpoint = v
	}
	if v := os.Getenv("EMOCRAWL_MODEL"); v != "" {
		c.Emotion.Model = v
	}
	if v := os.Getenv("EMOCRAWL_TARGET_TEXTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Crawl.TargetTexts = n
		}
	}
	if v := os.Getenv("EMOCRAWL_TARGET_IMAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Crawl.TargetImages = n
		}
	}
	if v := os.Getenv("EMOCRAWL_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Crawl.MaxPages = n
		}
	}
	if v := os.Getenv("EMOCRAWL_MIN_SCORE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.Emotion.MinScore = f
		}
	}
	if v := os.Getenv("EMOCRAWL_TEXT_DIR"); v != "" {
		c.Output.TextDirectory = v
	}
	if v := os.Getenv("EMOCRAWL_IMAGE_DIR"); v != "" {
		c.Output.ImageDirectory = v
	}
	if v := os.Getenv("EMOCRAWL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Flags carries command line overrides into Load.
type Flags struct {
	Platforms    []string
	TargetTexts  int
	TargetImages int
	NoClassify   bool
	OutputDir    string
	LogLevel     string
}

func (c *Config) applyFlags(f *Flags) {
	if f == nil {
		return
	}
	if len(f.Platforms) > 0 {
		c.Platforms.Enabled = f.Platforms
	}
	if f.TargetTexts > 0 {
		c.Crawl.TargetTexts = f.TargetTexts
	}
	if f.TargetImages > 0 {
		c.Crawl.TargetImages = f.TargetImages
	}
	if f.NoClassify {
		c.Emotion.Enabled = false
	}
	if f.OutputDir != "" {
		c.Output.TextDirectory = filepath.Join(f.OutputDir, "texts")
		c.Output.ImageDirectory = filepath.Join(f.OutputDir, "images")
		c.Output.StatsDirectory = filepath.Join(f.OutputDir, "analyzed")
	}
	if f.LogLevel != "" {
		c.Logging.Level = f.LogLevel
	}
}

// Validate checks the configuration. A failure here is fatal at startup,
// before any session begins.
func (c *Config) Validate() error {
	var errs []error

	if c.Emotion.Enabled && c.Emotion.APIKey == "" {
		errs = append(errs, errors.New("classification API key is required (set EMOCRAWL_API_KEY or run 'emocrawl auth set')"))
	}
	if c.Emotion.Enabled && c.Emotion.Endpoint == "" {
		errs = append(errs, errors.New("classification endpoint is required"))
	}
	if c.Emotion.MinScore <= 0 || c.Emotion.MinScore > 1 {
		errs = append(errs, errors.New("min score must be in (0, 1]"))
	}
	if len(c.Emotion.TargetCategories) == 0 {
		errs = append(errs, errors.New("at least one target category is required"))
	}
	if c.Emotion.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}
	if c.Crawl.TargetTexts < 0 || c.Crawl.TargetImages < 0 {
		errs = append(errs, errors.New("target counts cannot be negative"))
	}
	if c.Crawl.MaxPages <= 0 {
		errs = append(errs, errors.New("max pages must be positive"))
	}
	if c.Crawl.StagnationLimit <= 0 {
		errs = append(errs, errors.New("stagnation limit must be positive"))
	}
	if c.Crawl.SettleDelay < 0 {
		errs = append(errs, errors.New("settle delay cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, errors.New("requests per minute must be positive"))
	}
	if c.Output.TextDirectory == "" || c.Output.ImageDirectory == "" {
		errs = append(errs, errors.New("output directories are required"))
	}
	for _, name := range c.Platforms.Enabled {
		if name != "xiaohongshu" && name != "weibo" {
			errs = append(errs, fmt.Errorf("unknown platform: %s", name))
		}
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "disabled": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PlatformSearchURL returns the configured listing URL for a platform.
func (c *Config) PlatformSearchURL(platform string) string {
	switch platform {
	case "weibo":
		return c.Platforms.Weibo.SearchURL
	default:
		return c.Platforms.Xiaohongshu.SearchURL
	}
}

// Load assembles the configuration from all sources. Precedence:
// flags > environment (including .env) > config file > defaults.
func Load(configPath string, flags *Flags) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".emocrawl.env"))

	cfg := Default()
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, err
	}
	cfg.LoadFromEnv()
	cfg.applyFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}
