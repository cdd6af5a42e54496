// mcpd is the reference hosting binary: it serves a demo set of tools,
// resources and prompts over stdio. All diagnostics go to stderr
// because stdout carries the wire.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var flagConfigPath string

var rootCmd = &cobra.Command{
	Use:   "mcpd",
	Short: "Serve tools, resources and prompts over stdio",
	Long: "mcpd speaks newline-delimited JSON-RPC on stdin/stdout and exposes\n" +
		"a demo capability set. Point a client at its pipes and initialize.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigPath, "config", "c", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mcpd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func main() {
	// Environment from .env is optional; flags and config win over it.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
