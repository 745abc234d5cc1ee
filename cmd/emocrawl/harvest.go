package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/reblisbiver/emotional-crawler/internal/fetcher"
	"github.com/reblisbiver/emotional-crawler/pkg/auth"
	"github.com/reblisbiver/emotional-crawler/pkg/config"
	"github.com/reblisbiver/emotional-crawler/pkg/emotion"
	"github.com/reblisbiver/emotional-crawler/pkg/extract"
	"github.com/reblisbiver/emotional-crawler/pkg/harvest"
	"github.com/reblisbiver/emotional-crawler/pkg/logger"
	"github.com/reblisbiver/emotional-crawler/pkg/models"
	"github.com/reblisbiver/emotional-crawler/pkg/ratelimit"
	"github.com/reblisbiver/emotional-crawler/pkg/session"
	"github.com/reblisbiver/emotional-crawler/pkg/store"
)

// credentialProvider is the name credentials are stored under in the
// keychain.
const credentialProvider = "deepseek"

var (
	// Harvest command flags
	targetTexts  int
	targetImages int
	noClassify   bool
	outputDir    string
	keyword      string
)

// harvestCmd represents the harvest command
var harvestCmd = &cobra.Command{
	Use:   "harvest [platform...]",
	Short: "Collect and classify posts from the configured platforms",
	Long: `Run the acquisition loop against one or more platforms.

Each platform is processed sequentially: the listing is paginated, every
visible card is extracted once, texts are classified and gated on the
emotion threshold, and post images are downloaded into the pending
bucket for later triage.

With no arguments, every platform enabled in the configuration runs, in
the configured order. A run ends when the text and image targets are
both met, when no new content appears across consecutive cycles, or
when the cycle ceiling is reached.`,
	Example: `  # Harvest all configured platforms
  emocrawl harvest

  # Harvest weibo only, 50 texts and no images
  emocrawl harvest weibo --texts 50 --images 0

  # Collect raw texts without classification
  emocrawl harvest --no-classify`,
	Args: cobra.ArbitraryArgs,
	Run:  runHarvest,
}

func init() {
	rootCmd.AddCommand(harvestCmd)

	harvestCmd.Flags().IntVar(&targetTexts, "texts", 0, "target number of admitted texts (default from config)")
	harvestCmd.Flags().IntVar(&targetImages, "images", 0, "target number of downloaded images (default from config)")
	harvestCmd.Flags().BoolVar(&noClassify, "no-classify", false, "skip classification and admit every text")
	harvestCmd.Flags().StringVarP(&outputDir, "output", "o", "", "root output directory")
	harvestCmd.Flags().StringVarP(&keyword, "keyword", "k", "", "search keyword override for all platforms")
}

func runHarvest(cmd *cobra.Command, args []string) {
	cfg, log := mustSetup(&config.Flags{
		Platforms:    args,
		TargetTexts:  targetTexts,
		TargetImages: targetImages,
		NoClassify:   noClassify,
		OutputDir:    outputDir,
		LogLevel:     logLevel,
	})

	manager, err := store.NewManager(cfg.Output.TextDirectory, cfg.Output.ImageDirectory, cfg.Output.StatsDirectory, log)
	if err != nil {
		fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute)

	var classifier emotion.TextClassifier
	var gate *emotion.Gate
	if cfg.Emotion.Enabled {
		classifier = emotion.NewClient(&cfg.Emotion, limiter, log)
		gate, err = emotion.NewGateFromConfig(&cfg.Emotion)
		if err != nil {
			fatal(err)
		}
	}

	images := fetcher.New(30*time.Second, log)

	exitCode := 0
	for _, name := range cfg.Platforms.Enabled {
		platform, _ := models.ParsePlatform(name)
		rules := extract.RulesFor(platform, cfg.Crawl)

		provider := session.NewHTTPProvider(rules.PageParam, 30*time.Second, log)
		provider.SetHeader("Referer", rules.Referer)
		adapter := session.NewAdapter(provider, cfg.Crawl.SettleDelay, cfg.Crawl.LoginWait, rules.LoginMarker, log)

		controller := harvest.NewController(harvest.Deps{
			Adapter:    adapter,
			Extractor:  extract.New(rules, log),
			Rules:      rules,
			Classifier: classifier,
			Gate:       gate,
			Store:      manager,
			Fetcher:    images,
			Limiter:    limiter,
			Crawl:      cfg.Crawl,
			Log:        log.WithField("platform", name),
		})

		target := listingURL(cfg, rules)
		log.InfoWithFields("starting harvest", map[string]interface{}{
			"platform": name,
			"target":   target,
		})

		stats, err := controller.Run(ctx, target)
		if err != nil {
			log.WithError(err).WithField("platform", name).Error("harvest failed")
			exitCode = 1
		}
		if stats != nil {
			if _, err := manager.WriteStatistics("harvest_"+name, stats); err != nil {
				log.WithError(err).Warn("failed to write run statistics")
			}
			printCrawlStats(stats)
		}
		if ctx.Err() != nil {
			break
		}
	}
	os.Exit(exitCode)
}

// listingURL builds the platform's search URL, attaching the keyword
// query parameter when one is configured.
func listingURL(cfg *config.Config, rules *extract.Rules) string {
	base := cfg.PlatformSearchURL(string(rules.Platform))

	kw := keyword
	if kw == "" {
		switch rules.Platform {
		case models.PlatformWeibo:
			kw = cfg.Platforms.Weibo.Keyword
		default:
			kw = cfg.Platforms.Xiaohongshu.Keyword
		}
	}
	if kw == "" {
		return base
	}

	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set(rules.KeywordParam, kw)
	u.RawQuery = q.Encode()
	return u.String()
}

func printCrawlStats(stats *models.CrawlStats) {
	fmt.Printf("\n%s: %d cards checked over %d cycles (%s)\n",
		stats.Platform, stats.TotalChecked, stats.Cycles, stats.StoppedReason)
	fmt.Printf("  texts saved:       %d\n", stats.TextsSaved)
	fmt.Printf("  texts dropped:     %d\n", stats.TextsDropped)
	fmt.Printf("  images downloaded: %d\n", stats.ImagesDownloaded)
	if stats.ClassifyFailures > 0 {
		fmt.Printf("  classify failures: %d\n", stats.ClassifyFailures)
	}
}

// mustSetup loads the configuration and logger shared by all commands.
// Stored credentials are injected through the environment before the
// config layers merge, so precedence stays flags > env > file.
func mustSetup(flags *config.Flags) (*config.Config, logger.Logger) {
	injectStoredCredential()

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		fatal(err)
	}

	log, err := logger.New(logger.Options{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	})
	if err != nil {
		fatal(err)
	}
	return cfg, log
}

// injectStoredCredential copies the keychain credential into the
// environment when no key is set there already.
func injectStoredCredential() {
	if os.Getenv("EMOCRAWL_API_KEY") != "" {
		return
	}
	manager, err := auth.NewManager()
	if err != nil {
		return
	}
	cred, err := manager.Retrieve(credentialProvider)
	if err != nil {
		return
	}
	os.Setenv("EMOCRAWL_API_KEY", cred.APIKey)
	if cred.Endpoint != "" && os.Getenv("EMOCRAWL_ENDPOINT") == "" {
		os.Setenv("EMOCRAWL_ENDPOINT", cred.Endpoint)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
