// Package commands implements the correlator CLI.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-correlator/internal/config"
	"github.com/miradorstack/mirador-correlator/internal/utils"
)

// Version is reported by --version.
const Version = "0.1.0"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "correlator",
	Short: "mirador-correlator groups alert cascades by probable root cause",
	Long: `mirador-correlator ingests Alertmanager alerts, links them through the
service dependency graph and learned causal strengths, and notifies one group
per cascade with its most probable root cause.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (or CORRELATOR_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logging.level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(sendCmd)
}

// setup loads configuration and builds the process logger.
func setup() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	return cfg, logger, nil
}
