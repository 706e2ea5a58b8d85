package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"neuroforge/internal/application"
	"neuroforge/internal/domain/model"
	"neuroforge/internal/infra/metrics"
	red "neuroforge/internal/infra/redis"
	"neuroforge/internal/infra/sched"
	"neuroforge/internal/infra/ws"
	"neuroforge/internal/presenter"
	"neuroforge/internal/usecase"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Start a fine-tuning job and follow it until it ends",
	Long: `Submits the selected base model and dataset to the training service, then polls
the job status until it completes or fails. Ctrl-C stops watching the job; it does not
cancel it on the service.`,
	RunE: runTrain,
}

var (
	trainModel   string
	trainDataset string
	trainListen  string
)

func init() {
	trainCmd.Flags().StringVar(&trainModel, "model", "", "base model id (see `neuroforge models`)")
	trainCmd.Flags().StringVar(&trainDataset, "dataset", "", "dataset path or URL on the training host")
	trainCmd.Flags().StringVar(&trainListen, "listen", "", "serve the live job feed (/ws) and /metrics on this address")
	_ = trainCmd.MarkFlagRequired("model")
	_ = trainCmd.MarkFlagRequired("dataset")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	out := cmd.OutOrStdout()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)

	merge, err := usecase.ParseLogMerge(a.cfg.Reconcile.LogMerge)
	if err != nil {
		return err
	}
	clock := clockwork.NewRealClock()
	poller := sched.NewStatusPoller(a.client, clock, a.cfg.Poll.FetchTimeout, a.log)
	lifecycle := usecase.NewLifecycleUseCase(a.client, poller, usecase.NewReconciler(clock, merge), clock,
		usecase.LifecycleOptions{
			Interval:               a.cfg.Poll.Interval,
			MaxConsecutiveFailures: a.cfg.Poll.MaxConsecutiveFailures,
		}, a.log)
	session := application.NewSession(lifecycle, nil)

	if err := session.Configure(trainModel, trainDataset); err != nil {
		return err
	}
	w := session.Wizard()
	fmt.Fprintln(out, a.render.Header(session.Step()))
	fmt.Fprintln(out, a.render.Review(&w, a.cfg.API.BaseURL))

	console := presenter.NewConsole(out, a.render)
	defer lifecycle.Subscribe(console.Handle)()

	listen := trainListen
	if listen == "" {
		listen = a.cfg.Feed.Listen
	}
	if listen != "" {
		hub := ws.NewHub(a.cfg.Trainer.AllowedOrigin, a.log)
		defer lifecycle.Subscribe(hub.Broadcast)()
		stop := serveFeed(a, listen, hub)
		defer stop()
	}

	if a.cfg.Redis.URL != "" {
		rc, err := red.NewClient(ctx, &a.cfg.Redis)
		if err != nil {
			a.log.Warn().Err(err).Msg("redis unavailable; state will not be mirrored")
		} else {
			defer rc.Close()
			pub := red.NewStatePublisher(rc, a.cfg.Redis.TTL, a.log)
			defer lifecycle.Subscribe(pub.Subscriber(context.Background()))()
		}
	}

	if _, err := session.StartTraining(ctx); err != nil {
		return err
	}

	outcome, err := lifecycle.Wait(ctx)
	if err != nil {
		// Interrupted: stop polling; the remote job is left alone.
		lifecycle.Stop()
		outcome = lifecycle.Outcome()
	}
	switch outcome {
	case model.OutcomeCompleted, model.OutcomeStopped:
		return nil
	}
	return fmt.Errorf("training did not complete: %s", outcome)
}

// serveFeed starts the feed listener and returns its shutdown func.
func serveFeed(a *app, addr string, hub *ws.Hub) func() {
	r := chi.NewRouter()
	r.Handle("/ws", hub)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		a.log.Info().Str("addr", addr).Msg("job feed listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("job feed listener failed")
		}
	}()
	return func() {
		hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
