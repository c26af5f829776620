package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"tenderscope/internal/association"
	"tenderscope/internal/config"
	"tenderscope/internal/exporter"
	"tenderscope/internal/pipeline"
)

type mineOptions struct {
	input     string
	flagged   string
	threshold float64
	out       string
	itemsets  string
	mining    miningFlags
}

func newMineCmd(root *rootOptions) *cobra.Command {
	opts := &mineOptions{}

	cmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine association rules among the items of flagged processes",
		Long: `Mine builds one basket of normalized item descriptions per flagged process
and mines frequent itemsets and association rules with FP-Growth.

Processes are flagged either by an external list (--flagged) or by scoring
the table and keeping processes whose top composite reaches --threshold.

Examples:
  tenderscope mine --input licitacoes.csv --flagged irregulares.csv
  tenderscope mine --input licitacoes.csv --threshold 70 --out regras.csv
  tenderscope mine --input licitacoes.csv --flagged irregulares.csv --min-support 0.05`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMine(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "CSV or XLSX table to mine")
	cmd.Flags().StringVar(&opts.flagged, "flagged", "", "CSV list of flagged process ids")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Composite score that flags a process (default from config)")
	cmd.Flags().StringVar(&opts.out, "out", "rules.csv", "Rules CSV, relative to the output dir")
	cmd.Flags().StringVar(&opts.itemsets, "itemsets", "", "Frequent itemsets CSV (default <out>_itemsets.csv)")
	opts.mining.register(cmd)
	cmd.MarkFlagRequired("input")
	cmd.MarkFlagsMutuallyExclusive("flagged", "threshold")

	return cmd
}

func runMine(cmd *cobra.Command, root *rootOptions, opts *mineOptions) error {
	ctx := cmd.Context()

	application, err := root.batchApp(cmd, func(cfg *config.Config) {
		opts.mining.apply(&cfg.Pipeline.Association)
	})
	if err != nil {
		return err
	}
	defer application.Close(ctx)

	var res *association.Result
	if opts.flagged != "" {
		list, err := readFlagged(opts.flagged)
		if err != nil {
			return err
		}
		t, err := application.Loader.LoadFile(ctx, opts.input)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", opts.input, err)
		}
		flagged, err := list.Flagged(ctx, nil)
		if err != nil {
			return err
		}
		res, err = application.Pipeline.Mine(ctx, t, flagged)
		if err != nil {
			return fmt.Errorf("failed to mine associations: %w", err)
		}
	} else {
		threshold := opts.threshold
		if threshold <= 0 {
			threshold = application.Config.Pipeline.FlagThreshold
		}
		run, err := application.ScoringService.ScoreFile(ctx, opts.input)
		if err != nil {
			return fmt.Errorf("failed to score %s: %w", opts.input, err)
		}
		res, err = application.ScoringService.Associations(ctx, run.ID, pipeline.NewThresholdFlagger(threshold))
		if err != nil {
			return fmt.Errorf("failed to mine associations: %w", err)
		}
	}

	itemsets := opts.itemsets
	if itemsets == "" {
		itemsets = strings.TrimSuffix(opts.out, ".csv") + "_itemsets.csv"
	}
	written, err := exporter.NewCSVWriter(application.Config.Paths, application.Logger).
		ExportRules(opts.out, itemsets, res)
	if err != nil {
		return fmt.Errorf("failed to write rules: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "status   %s\n", res.Status)
	fmt.Fprintf(w, "baskets  %d\n", res.Baskets)
	fmt.Fprintf(w, "itemsets %d\n", len(res.Itemsets))
	fmt.Fprintf(w, "rules    %d\n", len(res.Rules))
	for _, path := range written {
		fmt.Fprintf(w, "wrote    %s\n", path)
	}
	return nil
}
