/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"replybot/pkg/config"
	"replybot/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "replybot",
	Short: "Comment on new posts in a list of Telegram channels",
	Long: `replybot keeps a bot account tracking the channels listed in a CSV file and
answers every new channel post with a short AI-generated comment, falling back
to a fixed reply when generation fails.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $REPLYBOT_CONFIG or ./config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text|json")
}

// loadConfig resolves configuration and applies logging flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return nil, err
	}

	if value := strings.TrimSpace(logLevel); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(logFormat); value != "" {
		cfg.Logging.Format = value
	}

	return cfg, nil
}

func setupLogger(cfg *config.Config, component string) (*slog.Logger, io.Closer, error) {
	appLogger, closer, err := logger.New(cfg.Logging, cfg.Telegram.Token, cfg.Provider.APIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)

	return slog.Default().With("component", component), closer, nil
}
