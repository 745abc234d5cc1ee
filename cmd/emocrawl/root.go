package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "emocrawl",
	Short: "Harvest social posts and filter them by emotional salience",
	Long: `emocrawl collects posts from Chinese social platforms, scores each
text and image on a fixed emotion vocabulary through a chat-completions
classifier, and keeps only the emotionally salient ones.

Pipeline stages:
  - harvest: paginate the platform listings, extract cards, classify
    texts, download images into the pending bucket
  - triage:  detect human subjects in pending images, classify the rest,
    and sort them into filtered/ and rejected/
  - analyze: aggregate the stored results into statistics files

Credentials for the classifier backend are stored in the system
keychain, an encrypted file, or the EMOCRAWL_API_KEY environment
variable.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is .emocrawl.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`emocrawl {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
