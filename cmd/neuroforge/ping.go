package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the training service is reachable",
	RunE:  runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
}

func runPing(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	info, err := a.client.Info(ctx)
	if err != nil {
		return fmt.Errorf("training service at %s is not reachable: %w", a.cfg.API.BaseURL, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is %s (model path: %s)\n", a.cfg.API.BaseURL, info.Status, info.ModelPath)
	return nil
}
