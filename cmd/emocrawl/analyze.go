package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/reblisbiver/emotional-crawler/pkg/config"
	"github.com/reblisbiver/emotional-crawler/pkg/models"
	"github.com/reblisbiver/emotional-crawler/pkg/store"
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze [platform...]",
	Short: "Aggregate stored texts into emotion statistics",
	Long: `Read every stored text file and aggregate the emotion scores into a
statistics file: item counts, dominant-category distribution, and mean
score per category, broken down by platform.`,
	Example: `  # Analyze everything collected so far
  emocrawl analyze`,
	Args: cobra.ArbitraryArgs,
	Run:  runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}

// platformSummary is the per-platform slice of the analysis output.
type platformSummary struct {
	Platform     string             `json:"platform"`
	Items        int                `json:"items"`
	PassedGate   int                `json:"passed_gate"`
	Distribution map[string]int     `json:"dominant_distribution"`
	MeanScores   map[string]float64 `json:"mean_scores"`
}

func runAnalyze(cmd *cobra.Command, args []string) {
	// Aggregation never calls the classifier, so no credential is needed.
	cfg, log := mustSetup(&config.Flags{
		Platforms:  args,
		NoClassify: true,
		LogLevel:   logLevel,
	})

	manager, err := store.NewManager(cfg.Output.TextDirectory, cfg.Output.ImageDirectory, cfg.Output.StatsDirectory, log)
	if err != nil {
		fatal(err)
	}

	var summaries []platformSummary
	for _, name := range cfg.Platforms.Enabled {
		summary, err := summarizePlatform(cfg.Output.TextDirectory, name)
		if err != nil {
			log.WithError(err).WithField("platform", name).Error("analysis failed")
			continue
		}
		summaries = append(summaries, *summary)
		printSummary(summary)
	}

	if len(summaries) == 0 {
		fmt.Println("nothing to analyze")
		return
	}

	path, err := manager.WriteStatistics("texts", summaries)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("\nstatistics written to %s\n", path)
}

// summarizePlatform folds every day file of one platform into a summary.
func summarizePlatform(textDir, platform string) (*platformSummary, error) {
	paths, err := filepath.Glob(filepath.Join(textDir, platform, "filtered_*.json"))
	if err != nil {
		return nil, err
	}

	summary := &platformSummary{
		Platform:     platform,
		Distribution: make(map[string]int),
		MeanScores:   make(map[string]float64),
	}
	totals := make(map[string]float64)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var items []models.ContentItem
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("corrupt text store %s: %w", path, err)
		}

		for _, item := range items {
			summary.Items++
			if item.PassedGate {
				summary.PassedGate++
			}
			if item.DominantCategory != "" {
				summary.Distribution[item.DominantCategory]++
			}
			for category, score := range item.EmotionScores {
				totals[category] += score
			}
		}
	}

	if summary.Items > 0 {
		for category, total := range totals {
			summary.MeanScores[category] = total / float64(summary.Items)
		}
	}
	return summary, nil
}

func printSummary(s *platformSummary) {
	fmt.Printf("\n%s: %d items, %d passed the gate\n", s.Platform, s.Items, s.PassedGate)

	categories := make([]string, 0, len(s.Distribution))
	for category := range s.Distribution {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool {
		return s.Distribution[categories[i]] > s.Distribution[categories[j]]
	})
	for _, category := range categories {
		fmt.Printf("  %-10s %d (mean %.2f)\n", category, s.Distribution[category], s.MeanScores[category])
	}
}
