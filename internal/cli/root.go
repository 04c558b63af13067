// Package cli provides the command-line interface for threadline.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

// EnvConfigDir overrides the default config directory.
const EnvConfigDir = "THREADLINE_CONFIG_DIR"

var (
	configDir string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:           "threadline",
	Short:         "One timeline for all your social accounts",
	Long:          "threadline merges the timelines of several Mastodon, Reddit, Hacker News and RSS accounts into one, keeping track of the spans it has not fetched yet as gaps you can fill on demand.",
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("threadline %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", defaultConfigDir(), "config directory (env "+EnvConfigDir+")")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
	rootCmd.AddCommand(versionCmd)
}

func defaultConfigDir() string {
	if dir := os.Getenv(EnvConfigDir); dir != "" {
		return dir
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "threadline")
	}
	return ".threadline"
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
