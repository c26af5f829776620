package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tenderscope/internal/app"
	"tenderscope/internal/config"
	"tenderscope/internal/infrastructure"
)

// rootOptions are the flags shared by every command
type rootOptions struct {
	configPath string
	workDir    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "tenderscope",
		Short: "Procurement anomaly scoring",
		Long: `TenderScope ranks public-procurement line items by how anomalous their
prices and competition look, explains every score and mines association
rules among the items of flagged tenders.

Example usage:
  tenderscope score --input licitacoes.csv --out scored.xlsx
  tenderscope explain --scored data/output/scored.csv --row 42
  tenderscope mine --input licitacoes.csv --flagged irregulares.csv
  tenderscope serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       app.VERSION,
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&opts.workDir, "workdir", "", "Base directory for relative data, snapshot, output and log paths")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	root.AddCommand(
		newScoreCmd(opts),
		newExplainCmd(opts),
		newMineCmd(opts),
		newSuppliersCmd(opts),
		newServeCmd(opts),
	)
	return root
}

// loadConfig reads the configuration and applies the shared flags. adjust
// may override fields before the result is validated.
func (o *rootOptions) loadConfig(adjust func(*config.Config)) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.workDir != "" {
		base, err := filepath.Abs(o.workDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve workdir: %w", err)
		}
		cfg.Paths = cfg.Paths.Resolve(base)
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if adjust != nil {
		adjust(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// batchApp builds an application for a one-shot command. Logs go to the
// command's stderr so stdout carries only results.
func (o *rootOptions) batchApp(cmd *cobra.Command, adjust func(*config.Config)) (*app.Application, error) {
	cfg, err := o.loadConfig(adjust)
	if err != nil {
		return nil, err
	}
	logger := infrastructure.NewLoggerWithWriter(cmd.ErrOrStderr(), cfg.Logging.Level)
	return app.NewApplication(cfg, app.WithLogger(logger))
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
