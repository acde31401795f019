// Package cmd provides the CLI commands for docuflow.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/logging"
	"github.com/docuflow/docuflow/pkg/version"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docuflow",
		Short: "Document ingestion pipeline with hybrid search",
		Long: `Docuflow ingests uploaded documents, fans them out to preprocessing
tracks (format parsing, OCR, layout analysis), analyzes each segment
with a vision agent, and commits the results to a hybrid
keyword-plus-vector index.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.SetVersionTemplate("docuflow version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig reads configuration and applies CLI-level overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging installs the configured default logger.
func setupLogging(cfg *config.Config) (func(), error) {
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.FilePath = cfg.Logging.FilePath
	return logging.SetupDefault(logCfg)
}
