// gothreatml is a demonstration network threat classification service:
// it trains an ensemble of classifiers on connection records, persists
// alerts and streams live updates to subscribers.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gothreatml",
	Short: "Network threat classification service",
	Long: `gothreatml trains a multi-model threat classifier over network
connection records and serves predictions, alert history and live
updates over HTTP.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gothreatml %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gothreatml.yaml", "path to config file")
	rootCmd.AddCommand(versionCmd, trainCmd, serveCmd, replayCmd, simulateCmd)
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
