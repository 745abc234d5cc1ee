package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/reblisbiver/emotional-crawler/pkg/config"
	"github.com/reblisbiver/emotional-crawler/pkg/emotion"
	"github.com/reblisbiver/emotional-crawler/pkg/models"
	"github.com/reblisbiver/emotional-crawler/pkg/ratelimit"
	"github.com/reblisbiver/emotional-crawler/pkg/store"
	"github.com/reblisbiver/emotional-crawler/pkg/triage"
)

// triageCmd represents the triage command
var triageCmd = &cobra.Command{
	Use:   "triage [platform...]",
	Short: "Sort pending images into filtered and rejected buckets",
	Long: `Run the image triage pass over the pending buckets.

Each pending image goes through two stages: subject detection first,
emotion classification second. Images without a human face or body are
rejected without ever reaching the classifier. Classified images pass
into filtered/ when any target emotion meets the threshold, otherwise
into rejected/. Every image leaves the pending bucket exactly once.

A summary of every classified image is written next to the filtered
bucket per batch.`,
	Example: `  # Triage every configured platform
  emocrawl triage

  # Triage xiaohongshu only
  emocrawl triage xiaohongshu`,
	Args: cobra.ArbitraryArgs,
	Run:  runTriage,
}

func init() {
	rootCmd.AddCommand(triageCmd)
}

func runTriage(cmd *cobra.Command, args []string) {
	cfg, log := mustSetup(&config.Flags{
		Platforms: args,
		LogLevel:  logLevel,
	})
	if !cfg.Emotion.Enabled {
		fatal(fmt.Errorf("triage requires classification to be enabled"))
	}

	manager, err := store.NewManager(cfg.Output.TextDirectory, cfg.Output.ImageDirectory, cfg.Output.StatsDirectory, log)
	if err != nil {
		fatal(err)
	}

	gate, err := emotion.NewGateFromConfig(&cfg.Emotion)
	if err != nil {
		fatal(err)
	}
	client := emotion.NewClient(&cfg.Emotion, ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute), log)
	machine := triage.NewMachine(client, client, gate, manager, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	exitCode := 0
	for _, name := range cfg.Platforms.Enabled {
		platform, _ := models.ParsePlatform(name)

		stats, err := machine.Run(ctx, platform)
		if err != nil {
			log.WithError(err).WithField("platform", name).Error("triage failed")
			exitCode = 1
		}
		if stats != nil {
			if _, err := manager.WriteStatistics("triage_"+name, stats); err != nil {
				log.WithError(err).Warn("failed to write triage statistics")
			}
			printTriageStats(stats)
		}
		if ctx.Err() != nil {
			break
		}
	}
	os.Exit(exitCode)
}

func printTriageStats(stats *models.TriageStats) {
	fmt.Printf("\n%s: %d pending images triaged\n", stats.Platform, stats.Total)
	fmt.Printf("  filtered:             %d\n", stats.Filtered)
	fmt.Printf("  rejected (no subject): %d\n", stats.RejectedNoSubject)
	fmt.Printf("  rejected (below gate): %d\n", stats.RejectedGate)
	if stats.Failed > 0 {
		fmt.Printf("  failed:               %d\n", stats.Failed)
	}
}
