package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/myllm/pkg/config"
	"github.com/jingkaihe/myllm/pkg/logger"
	"github.com/jingkaihe/myllm/pkg/presenter"
)

var rootCmd = &cobra.Command{
	Use:   "myllm",
	Short: "Run local GGUF language models with an HTTP API",
	Long: `myllm serves local GGUF models over an HTTP API with streaming chat,
stateless generation, and embeddings, plus a small CLI for managing the
model library.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(1)
	},
}

// loadSettings loads the configuration and applies global flag overrides and
// logging setup. Every subcommand goes through here.
func loadSettings(cmd *cobra.Command) (*config.Settings, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}

	if level, err := cmd.Flags().GetString("log-level"); err == nil && level != "" {
		settings.LogLevel = level
	}
	if format, err := cmd.Flags().GetString("log-format"); err == nil && format != "" {
		settings.LogFormat = format
	}

	if err := logger.SetLogLevel(settings.LogLevel); err != nil {
		return nil, err
	}
	logger.SetLogFormat(settings.LogFormat)
	return settings, nil
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json, text, fmt)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		presenter.Error(err, "command failed")
		os.Exit(1)
	}
}
