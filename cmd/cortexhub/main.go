// Cortex Hub: memory-and-reasoning MCP server.
//
// One hub process multiplexes AI clients onto graph memory, a markdown
// notebook vault, reasoning chains, hierarchical tasks and a local
// model runtime.
//
// Usage:
//
//	cortexhub serve          # stdio MCP transport (one client)
//	cortexhub serve --http   # HTTP+WS transport (many clients)
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cortexhub/cortexhub/internal/hub"
)

var rootCmd = &cobra.Command{
	Use:   "cortexhub",
	Short: "Memory-and-reasoning MCP hub",
	Long: "Cortex Hub is an MCP server that gives AI clients durable graph memory,\n" +
		"a markdown notebook, reasoning chains, tasks and local model routing,\n" +
		"with every action logged by the governance pipeline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the hub version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cortexhub v%s\n", hub.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
