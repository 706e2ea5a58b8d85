package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"neuroforge/internal/domain/model"
	"neuroforge/internal/presenter"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the base models available for fine-tuning",
	Run: func(cmd *cobra.Command, args []string) {
		r := presenter.NewRenderer()
		fmt.Fprintln(cmd.OutOrStdout(), r.Header(presenter.StepSelectModel))
		fmt.Fprintln(cmd.OutOrStdout(), r.Catalog(model.Catalog(), ""))
	},
}

func init() {
	rootCmd.AddCommand(modelsCmd)
}
