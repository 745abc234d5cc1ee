package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Emotion.APIKey = "sk-test"
	return cfg
}

func TestDefaultValidatesWithKey(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidateRequiresAPIKey(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key")

	// Classification off lifts the requirement.
	cfg.Emotion.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Crawl.MaxPages = 0
	cfg.Emotion.MinScore = 1.5
	cfg.Platforms.Enabled = []string{"douyin"}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max pages")
	assert.Contains(t, err.Error(), "min score")
	assert.Contains(t, err.Error(), "unknown platform: douyin")
}

func TestLoadFromFileMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crawl:
  target_texts: 50
  settle_delay: 5s
emotion:
  request_timeout: 10s
  model: deepseek-reasoner
`), 0644))

	cfg := Default()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, 50, cfg.Crawl.TargetTexts)
	assert.Equal(t, 5*time.Second, cfg.Crawl.SettleDelay)
	assert.Equal(t, 10*time.Second, cfg.Emotion.RequestTimeout)
	assert.Equal(t, "deepseek-reasoner", cfg.Emotion.Model)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 20, cfg.Crawl.TargetImages)
	assert.Equal(t, 2*time.Minute, cfg.Crawl.LoginWait)
	assert.Equal(t, 0.3, cfg.Emotion.MinScore)
}

func TestLoadFromFileInvalidDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl:\n  settle_delay: fast\n"), 0644))

	err := Default().LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid settle_delay")
}

func TestLoadFromFileMissingExplicitPath(t *testing.T) {
	err := Default().LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EMOCRAWL_API_KEY", "sk-env")
	t.Setenv("EMOCRAWL_TARGET_TEXTS", "7")
	t.Setenv("EMOCRAWL_MIN_SCORE", "0.5")
	t.Setenv("EMOCRAWL_MAX_PAGES", "not-a-number")

	cfg := Default()
	cfg.LoadFromEnv()

	assert.Equal(t, "sk-env", cfg.Emotion.APIKey)
	assert.Equal(t, 7, cfg.Crawl.TargetTexts)
	assert.Equal(t, 0.5, cfg.Emotion.MinScore)
	assert.Equal(t, 10, cfg.Crawl.MaxPages, "unparseable values are ignored")
}

func TestApplyFlags(t *testing.T) {
	cfg := Default()
	cfg.applyFlags(&Flags{
		Platforms:   []string{"weibo"},
		TargetTexts: 5,
		NoClassify:  true,
		OutputDir:   "/tmp/out",
	})

	assert.Equal(t, []string{"weibo"}, cfg.Platforms.Enabled)
	assert.Equal(t, 5, cfg.Crawl.TargetTexts)
	assert.False(t, cfg.Emotion.Enabled)
	assert.Equal(t, filepath.Join("/tmp/out", "texts"), cfg.Output.TextDirectory)
	assert.Equal(t, filepath.Join("/tmp/out", "images"), cfg.Output.ImageDirectory)
	assert.Equal(t, filepath.Join("/tmp/out", "analyzed"), cfg.Output.StatsDirectory)
}

func TestApplyFlagsNilIsNoop(t *testing.T) {
	cfg := Default()
	cfg.applyFlags(nil)
	assert.Equal(t, 20, cfg.Crawl.TargetTexts)
}

func TestMaxCycles(t *testing.T) {
	assert.Equal(t, 50, CrawlConfig{MaxPages: 10}.MaxCycles())
	assert.Equal(t, 5, CrawlConfig{MaxPages: 1}.MaxCycles())
}

// Flags beat environment, environment beats the file.
func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crawl:\n  target_texts: 5\n"), 0644))

	t.Setenv("EMOCRAWL_API_KEY", "sk-env")
	t.Setenv("EMOCRAWL_TARGET_TEXTS", "7")

	cfg, err := Load(path, &Flags{TargetTexts: 9})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Crawl.TargetTexts)

	cfg, err = Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Crawl.TargetTexts)
}

func TestLoadValidates(t *testing.T) {
	t.Setenv("EMOCRAWL_API_KEY", "")
	// Home .env files could inject a key; point Load at an empty home.
	t.Setenv("HOME", t.TempDir())

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}
