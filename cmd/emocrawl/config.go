package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reblisbiver/emotional-crawler/pkg/config"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage emocrawl configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (EMOCRAWL_*)
  - Configuration file
  - Default values (lowest priority)`,
}

// configInitCmd represents the config init command
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an example configuration file",
	Long: `Create an example configuration file with all available options.

The file will be created in the current directory as '.emocrawl.yaml'
unless a different path is specified with the --config flag.`,
	Run: runConfigInit,
}

// configShowCmd represents the config show command
var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Show the configuration after all sources have been merged. The API
key is masked.`,
	Run: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	configPath := configFile
	if configPath == "" {
		configPath = ".emocrawl.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		fatal(fmt.Errorf("configuration file already exists: %s", configPath))
	}

	exampleConfig := `# emocrawl configuration file
#
# Environment variables prefixed with EMOCRAWL_ override these values.
# For example: EMOCRAWL_API_KEY, EMOCRAWL_MIN_SCORE

# Content sources, processed in order
platforms:
  enabled:
    - xiaohongshu
    - weibo
  xiaohongshu:
    search_url: "https://www.xiaohongshu.com/search_result"
    keyword: ""
  weibo:
    search_url: "https://s.weibo.com/weibo"
    keyword: ""

# Harvest loop bounds
crawl:
  # Stop once this many texts passed the gate
  target_texts: 20
  # Stop once this many images are downloaded
  target_images: 20
  # Cycle ceiling is max_pages * 5
  max_pages: 10
  # Fixed wait after every page advance
  settle_delay: 2s
  # Stop after this many consecutive cycles without new content
  stagnation_limit: 3
  # Texts shorter than this are treated as absent
  min_text_length: 10
  # Images downloaded per card, at most
  max_images_per_card: 3
  # How long to wait for a manual login before aborting the platform
  login_wait: 2m

# Classification client and admission gate
emotion:
  enabled: true
  endpoint: "https://api.deepseek.com/chat/completions"
  model: "deepseek-chat"
  # Set via EMOCRAWL_API_KEY or 'emocrawl auth set' instead of here
  api_key: ""
  # An item passes when any target category reaches this score
  min_score: 0.3
  target_categories:
    - joy
    - anger
    - sadness
    - fear
    - surprise
    - disgust
  # Text is truncated to this many characters before classification
  max_text_length: 500
  request_timeout: 30s
  # Transient failures are retried up to this many attempts
  max_attempts: 3
  backoff_base: 2s
  backoff_max: 10s

# Outbound request throttling
rate_limit:
  requests_per_minute: 30

# Persistence roots
output:
  text_directory: "./data/texts"
  image_directory: "./data/images"
  stats_directory: "./data/analyzed"

# Logging
logging:
  # debug, info, warn, error
  level: "info"
  # Optional log file; empty logs to the console only
  file: ""
`

	if err := os.WriteFile(configPath, []byte(exampleConfig), 0644); err != nil {
		fatal(err)
	}

	fmt.Println("Configuration file created:", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("1. Store your classifier API key: emocrawl auth set")
	fmt.Println("2. Set search keywords in the platforms section")
	fmt.Println("3. Start collecting: emocrawl harvest")
}

func runConfigShow(cmd *cobra.Command, args []string) {
	injectStoredCredential()

	cfg, err := config.Load(configFile, nil)
	if err != nil {
		fatal(err)
	}

	displayCfg := *cfg
	if displayCfg.Emotion.APIKey != "" {
		if len(displayCfg.Emotion.APIKey) > 8 {
			key := displayCfg.Emotion.APIKey
			displayCfg.Emotion.APIKey = key[:4] + "..." + key[len(key)-4:]
		} else {
			displayCfg.Emotion.APIKey = "***"
		}
	}

	data, err := yaml.Marshal(&displayCfg)
	if err != nil {
		fatal(err)
	}
	fmt.Print(string(data))

	fmt.Println("\nConfiguration sources (in order of priority):")
	fmt.Println("1. Command line flags")
	fmt.Println("2. Environment variables (EMOCRAWL_*)")
	if configFile != "" {
		fmt.Printf("3. Configuration file: %s\n", configFile)
	} else {
		fmt.Println("3. Configuration file: (searched in standard locations)")
	}
	fmt.Println("4. Default values")
}
