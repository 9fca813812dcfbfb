// Command relaymesh runs the retrieval chat assistant.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "relaymesh",
	Short: "Retrieval chat assistant over internal documents and the web",
	Long: `relaymesh answers questions by routing them to an internal document
lookup or a web search and synthesizing a cited answer.

Configuration is read from --config, ./relaymesh.yaml,
~/.config/relaymesh/relaymesh.yaml or /etc/relaymesh/relaymesh.yaml.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, askCmd, sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
