package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortexhub/cortexhub/internal/hub"
	"github.com/cortexhub/cortexhub/internal/updater"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update cortexhub to the latest release",
	Run: func(cmd *cobra.Command, args []string) {
		runUpdate()
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

func runUpdate() {
	fmt.Fprintln(os.Stderr, "Checking for updates...")

	result := updater.CheckVersion(hub.Version)
	if !result.UpdateAvailable {
		fmt.Fprintf(os.Stderr, "Already at the latest version (v%s)\n", result.CurrentVersion)
		return
	}

	fmt.Fprintf(os.Stderr, "New version available: v%s -> v%s\n", result.CurrentVersion, result.LatestVersion)
	if err := updater.SelfUpdate(hub.Version); err != nil {
		fmt.Fprintf(os.Stderr, "Update failed: %v\n", err)
		if result.ReleaseURL != "" {
			fmt.Fprintf(os.Stderr, "Download manually from: %s\n", result.ReleaseURL)
		}
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "Updated to v%s. Restart cortexhub to use the new version.\n", result.LatestVersion)
}

// checkForUpdates is a best-effort background check during serve. The
// notice goes to stderr so it never touches the stdio protocol stream.
func checkForUpdates() {
	result := updater.CheckVersion(hub.Version)
	if result.UpdateAvailable {
		fmt.Fprintf(os.Stderr, "\n  Update available: v%s -> v%s\n  Run: cortexhub update\n\n",
			result.CurrentVersion, result.LatestVersion)
	}
}
