package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"neuroforge/internal/domain/model"
	red "neuroforge/internal/infra/redis"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current status of a training job",
	RunE:  runStatus,
}

var statusJob string

func init() {
	statusCmd.Flags().StringVar(&statusJob, "job", "", "job id returned by `neuroforge train`")
	_ = statusCmd.MarkFlagRequired("job")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	out := cmd.OutOrStdout()
	id := model.JobID(statusJob)

	snap, err := a.client.FetchStatus(ctx, id)
	if err == nil {
		st := model.NewJobState(id, "", "", time.Now())
		st.Status = snap.Status
		st.Progress = snap.Progress
		st.LogHistory = snap.Logs
		fmt.Fprintln(out, a.render.Job(model.Update{State: st, Outcome: model.OutcomeFor(snap.Status)}))
		return nil
	}
	if a.cfg.Redis.URL == "" {
		return err
	}

	// The service is unreachable; fall back to the last state a `train` run mirrored.
	rc, rerr := red.NewClient(ctx, &a.cfg.Redis)
	if rerr != nil {
		return err
	}
	defer rc.Close()
	u, rerr := red.NewStatePublisher(rc, a.cfg.Redis.TTL, a.log).Latest(ctx, id)
	if rerr != nil {
		return err
	}
	fmt.Fprintln(out, a.render.PollWarning(1, err.Error()))
	fmt.Fprintf(out, "showing cached state from %s\n", u.State.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintln(out, a.render.Job(u))
	return nil
}
