package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/indijan/arbiter/internal/app"
	"github.com/indijan/arbiter/internal/pipeline"
)

func serveCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the tick scheduler",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a := app.New(cfg, logger)
			defer a.Close()
			return ignoreCanceled(a.Serve(cmd.Context()))
		},
	}
}

func tickCmd(load loadFunc) *cobra.Command {
	var holdingHours float64
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one tick and print the result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if holdingHours < 0 {
				return fmt.Errorf("--holding-hours must be positive")
			}
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a := app.New(cfg, logger)
			defer a.Close()

			res, err := a.Tick(cmd.Context(), pipeline.TickOptions{HoldingHours: holdingHours})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().Float64Var(&holdingHours, "holding-hours", 0, "override the carry holding horizon for this tick")
	return cmd
}

func trainCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Fit the ridge scoring model from recorded decisions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			a := app.New(cfg, logger)
			defer a.Close()

			model, err := a.Train(cmd.Context())
			if err != nil {
				return err
			}
			return json.NewEncoder(os.Stdout).Encode(map[string]any{
				"id":         model.ID,
				"trained_at": model.TrainedAt,
				"samples":    model.Samples,
				"lambda":     model.Lambda,
				"weights":    model.Weights,
			})
		},
	}
}

func migrateCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			return app.New(cfg, logger).Migrate(cmd.Context())
		},
	}
}
