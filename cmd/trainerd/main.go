// File: cmd/trainerd/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"neuroforge/internal/config"
	"neuroforge/internal/domain/ports/adapter"
	aiAdapters "neuroforge/internal/infra/adapters/ai"
	"neuroforge/internal/infra/api"
	"neuroforge/internal/infra/logging"
	"neuroforge/internal/infra/metrics"
	"neuroforge/internal/infra/scheduler"
	"neuroforge/internal/infra/worker"
)

var (
	version = "dev"
	commit  = "none"
)

// maxConcurrentChats bounds calls into a hosted model.
const maxConcurrentChats = 4

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	port := flag.Int("port", 0, "listen port (overrides trainer.port)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *port > 0 {
		cfg.Trainer.Port = *port
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("[DEV MODE] Enabled")
	}

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	// ---- Chat responders (Gemini -> OpenAI -> keyword) ----
	var chain []adapter.ChatResponder
	if cfg.Trainer.GeminiKey != "" {
		g, err := aiAdapters.NewGeminiResponder(ctx, cfg.Trainer.GeminiKey, cfg.Trainer.GeminiURL, cfg.Trainer.DefaultModel, 1024)
		if err != nil {
			logger.Fatal().Err(err).Msg("gemini responder")
		}
		chain = append(chain, aiAdapters.NewLimitedResponder(g, maxConcurrentChats))
		logger.Info().Str("model", cfg.Trainer.DefaultModel).Msg("chat responder: gemini")
	}
	if cfg.Trainer.OpenAIKey != "" {
		o, err := aiAdapters.NewOpenAIResponder(cfg.Trainer.OpenAIKey, cfg.Trainer.OpenAIBaseURL, cfg.Trainer.OpenAIModel)
		if err != nil {
			logger.Fatal().Err(err).Msg("openai responder")
		}
		chain = append(chain, aiAdapters.NewLimitedResponder(o, maxConcurrentChats))
		logger.Info().Str("model", cfg.Trainer.OpenAIModel).Str("base_url", cfg.Trainer.OpenAIBaseURL).Msg("chat responder: openai")
	}
	chain = append(chain, aiAdapters.NewKeywordResponder(cfg.Trainer.OrchestratorModelPath, cfg.Trainer.ChatDelay))
	responder := aiAdapters.NewChainResponder(logger, chain...)

	// ---- Simulated training ----
	pool := worker.NewPool(cfg.Trainer.Workers, cfg.Trainer.QueueSize, logger)
	pool.Start(ctx)
	sim := api.NewSimulator(pool, clockwork.NewRealClock(), api.SimulatorOptions{
		Steps:     cfg.Trainer.Steps,
		StepEvery: cfg.Trainer.StepInterval,
		Retention: cfg.Trainer.Retention,
	}, logger)
	sweeper := scheduler.NewScheduler(cfg.Trainer.Retention/4, sim, clockwork.NewRealClock(), logger)
	sweeper.Start(ctx)

	// ---- HTTP ----
	srv := api.NewServer(sim, responder, api.ServerOptions{
		Addr:          fmt.Sprintf(":%d", cfg.Trainer.Port),
		ModelPath:     cfg.Trainer.OrchestratorModelPath,
		AllowedOrigin: cfg.Trainer.AllowedOrigin,
	}, logger)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}
	logger.Info().Msg("shutdown requested")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	sweeper.Stop()
	cancel()
	pool.Stop()
}
