package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"brokerops/internal/config"
	"brokerops/internal/logger"
	"brokerops/pkg/logging"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake-service",
		Short: "Message intake and batched classification service",
		Long:  "Intake Service batches inbound Slack/SMS messages, classifies them and creates listings and tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the intake service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe() error {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
	}
	if configFile == "" {
		earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
		return fmt.Errorf("config file is required")
	}

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return err
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.InfowCtx(ctx, "Starting Intake Service")

	app := NewApp(cfg, log)
	if err := app.Initialize(ctx); err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	log.InfowCtx(ctx, "Service running")
	runErr := app.Run(ctx)

	shutdownErr := app.Shutdown(context.Background())
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.ErrorwCtx(ctx, "Service stopped with error", "error", runErr)
		return runErr
	}
	if shutdownErr != nil {
		return shutdownErr
	}

	log.InfowCtx(ctx, "Service shutdown complete")
	return nil
}
