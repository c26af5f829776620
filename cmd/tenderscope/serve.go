package main

import (
	"github.com/spf13/cobra"

	"tenderscope/internal/app"
	"tenderscope/internal/config"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the scoring API",
		Long: `Serve starts the HTTP API: /api/v1/runs for scoring, explanations and
association rules, /healthz for liveness and /metrics for Prometheus.
It runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(func(cfg *config.Config) {
				if port > 0 {
					cfg.Server.Port = port
				}
			})
			if err != nil {
				return err
			}
			application, err := app.NewApplication(cfg)
			if err != nil {
				return err
			}
			return application.Run()
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides the config)")
	return cmd
}
