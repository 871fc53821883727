package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"taskmcp-go/internal/config"
	"taskmcp-go/internal/logs"
	"taskmcp-go/internal/server"
)

var (
	configFile        string
	dataDir           string
	listen            string
	logLevel          string
	logToFile         bool
	logDir            string
	toolResponseLimit int

	version = "v0.1.0" // This will be injected by -ldflags during build
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "taskmcp",
		Short:   "Task Manager MCP Server - OAuth-authenticated task management over the Model Context Protocol",
		Version: version,
		RunE:    runServe,
	}

	// Accept underscore spellings too, matching the config file keys
	rootCmd.PersistentFlags().SetNormalizeFunc(normalizeFlagName)

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "d", "", "Data directory path (default: ~/.taskmcp)")
	rootCmd.PersistentFlags().StringVarP(&listen, "listen", "l", "", "Listen address (default: 127.0.0.1:8000)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logToFile, "log-to-file", true, "Enable logging to file in the data directory")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Custom log directory path")
	rootCmd.PersistentFlags().IntVar(&toolResponseLimit, "tool-response-limit", 0, "Tool response limit in characters (0 = use config, default 20000)")

	rootCmd.AddCommand(GetServeCommand())
	rootCmd.AddCommand(GetSweepCommand())
	rootCmd.AddCommand(GetSecretsCommand())
	rootCmd.AddCommand(GetCallCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// normalizeFlagName maps --data_dir style spellings onto the canonical
// dashed flag names.
func normalizeFlagName(_ *pflag.FlagSet, name string) pflag.NormalizedName {
	return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
}

// GetServeCommand returns the explicit serve command. Running the bare
// binary does the same thing.
func GetServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the task server (default command)",
		RunE:  runServe,
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Override logging settings from the command line
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	cfg.Logging.EnableFile = logToFile
	if logDir != "" {
		cfg.Logging.LogDir = logDir
	}

	logger, err := logs.SetupLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting taskmcp",
		zap.String("version", version),
		zap.String("listen", cfg.Listen),
		zap.String("data_dir", cfg.DataDir))

	srv, err := server.NewServer(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Graceful shutdown on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func loadServeConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	// Override with command line flags if provided
	if dataDir != "" {
		cfg.DataDir = dataDir
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory %s: %w", cfg.DataDir, err)
		}
	}
	if listen != "" {
		cfg.Listen = listen
	}
	if toolResponseLimit != 0 {
		cfg.ToolResponseLimit = toolResponseLimit
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}
