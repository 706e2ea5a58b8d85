package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"neuroforge/internal/config"
	"neuroforge/internal/infra/adapters/trainer"
	"neuroforge/internal/infra/logging"
	"neuroforge/internal/presenter"
)

// Set with -ldflags "-X main.version=... -X main.commit=...".
var (
	version = "dev"
	commit  = "none"
)

var (
	cfgPath string
	devMode bool
)

var rootCmd = &cobra.Command{
	Use:           "neuroforge",
	Short:         "Fine-tune open models on a remote training service",
	Long:          `NeuroForge submits a fine-tuning job to a training service and follows it to completion.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode (console logs)")
}

// app holds what every subcommand needs.
type app struct {
	cfg    *config.Config
	log    *zerolog.Logger
	client *trainer.HTTPClient
	render *presenter.Renderer
}

func loadApp() (*app, error) {
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	client, err := trainer.NewHTTPClient(cfg.API.BaseURL, cfg.API.RequestTimeout, logger)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: logger, client: client, render: presenter.NewRenderer()}, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
