package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tenderscope/internal/app"
	"tenderscope/internal/association"
	"tenderscope/internal/baseline"
	"tenderscope/internal/config"
	"tenderscope/internal/exporter"
	"tenderscope/internal/pipeline"
	"tenderscope/internal/scoring"
)

type scoreOptions struct {
	input       string
	out         string
	snapshotDir string
	top         int
	mine        bool
	flagged     string
	threshold   float64
	rulesOut    string
	mining      miningFlags
}

func newScoreCmd(root *rootOptions) *cobra.Command {
	opts := &scoreOptions{}

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a procurement table and export the ranked items",
		Long: `Score reads a CSV or XLSX table of tender line items, builds the group
baselines, runs the rule engine and the outlier model, and writes every item
with its composite, model and rule scores. The baseline snapshot is saved so
the scores can be explained later.

Examples:
  tenderscope score --input licitacoes.csv
  tenderscope score --input licitacoes.xlsx --out ranking.xlsx --mine
  tenderscope score --input licitacoes.csv --mine --flagged irregulares.csv
  tenderscope score --input licitacoes.csv --mine --min-item-frequency 2 --max-len 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScore(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "CSV or XLSX table to score")
	cmd.Flags().StringVar(&opts.out, "out", "", "Scored output file, .csv or .xlsx (default <run>_scored.csv in the output dir)")
	cmd.Flags().StringVar(&opts.snapshotDir, "snapshot-dir", "", "Directory for baseline snapshots (overrides the config)")
	cmd.Flags().IntVar(&opts.top, "top", 10, "Number of top-ranked items to print")
	cmd.Flags().BoolVar(&opts.mine, "mine", false, "Also mine association rules among flagged processes")
	cmd.Flags().StringVar(&opts.flagged, "flagged", "", "CSV list of flagged process ids (implies --mine)")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Composite score that flags a process (default from config)")
	cmd.Flags().StringVar(&opts.rulesOut, "rules-out", "", "Rules CSV when mining with a CSV output (default <run>_rules.csv)")
	opts.mining.register(cmd)
	cmd.MarkFlagRequired("input")

	return cmd
}

func runScore(cmd *cobra.Command, root *rootOptions, opts *scoreOptions) error {
	ctx := cmd.Context()

	application, err := root.batchApp(cmd, func(cfg *config.Config) {
		if opts.snapshotDir != "" {
			cfg.Paths.SnapshotDir = opts.snapshotDir
		}
		opts.mining.apply(&cfg.Pipeline.Association)
	})
	if err != nil {
		return err
	}
	defer application.Close(ctx)

	run, err := application.ScoringService.ScoreFile(ctx, opts.input)
	if err != nil {
		return fmt.Errorf("failed to score %s: %w", opts.input, err)
	}

	var res *association.Result
	if opts.mine || opts.flagged != "" {
		flagger, err := scoreFlagger(application, opts)
		if err != nil {
			return err
		}
		res, err = application.ScoringService.Associations(ctx, run.ID, flagger)
		if err != nil {
			return fmt.Errorf("failed to mine associations: %w", err)
		}
	}

	out := opts.out
	if out == "" {
		out = run.ID + "_scored.csv"
	}
	written, err := writeScored(application, out, run.Output.Items, res)
	if err != nil {
		return err
	}
	if res != nil && !isWorkbook(out) {
		rulesOut := opts.rulesOut
		if rulesOut == "" {
			rulesOut = run.ID + "_rules.csv"
		}
		paths, err := exporter.NewCSVWriter(application.Config.Paths, application.Logger).
			ExportRules(rulesOut, strings.TrimSuffix(rulesOut, ".csv")+"_itemsets.csv", res)
		if err != nil {
			return fmt.Errorf("failed to write rules: %w", err)
		}
		written = append(written, paths...)
	}

	printRun(cmd.OutOrStdout(), run.ID, run.Output, res, written, opts.top)
	return nil
}

func scoreFlagger(application *app.Application, opts *scoreOptions) (pipeline.Flagger, error) {
	if opts.flagged != "" {
		list, err := readFlagged(opts.flagged)
		if err != nil {
			return nil, err
		}
		return list, nil
	}
	threshold := opts.threshold
	if threshold <= 0 {
		threshold = application.Config.Pipeline.FlagThreshold
	}
	return pipeline.NewThresholdFlagger(threshold), nil
}

func readFlagged(path string) (pipeline.ListFlagger, error) {
	f, err := os.Open(path)
	if err != nil {
		return pipeline.ListFlagger{}, fmt.Errorf("failed to open flagged list: %w", err)
	}
	defer f.Close()
	return pipeline.ReadFlagList(f)
}

func isWorkbook(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".xlsx" || ext == ".xlsm"
}

// writeScored writes the ranked items to out, relative to the output dir,
// and returns the files written.
func writeScored(application *app.Application, out string, items []scoring.ScoredItem, res *association.Result) ([]string, error) {
	if !isWorkbook(out) {
		path, err := exporter.NewCSVWriter(application.Config.Paths, application.Logger).ExportScored(out, items)
		if err != nil {
			return nil, fmt.Errorf("failed to write scored items: %w", err)
		}
		return []string{path}, nil
	}

	path := out
	if !filepath.IsAbs(path) {
		path = application.Config.Paths.OutputPath(path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create workbook: %w", err)
	}
	defer f.Close()
	if err := exporter.WriteWorkbook(f, items, res); err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return []string{path}, f.Close()
}

func printRun(w io.Writer, runID string, out *pipeline.Output, res *association.Result, written []string, top int) {
	fmt.Fprintf(w, "run      %s\n", runID)
	fmt.Fprintf(w, "source   %s\n", out.Source)
	fmt.Fprintf(w, "items    %d in %d groups\n", len(out.Items), len(out.Groups))
	if out.Model.Available {
		fmt.Fprintf(w, "model    %s, %d anomalous\n", out.Model.Name, out.Model.Anomalies)
	} else {
		fmt.Fprintf(w, "model    %s unavailable: %s\n", out.Model.Name, out.Model.Reason)
	}
	if res != nil {
		fmt.Fprintf(w, "rules    %d (%s) from %d baskets\n", len(res.Rules), res.Status, res.Baskets)
	}
	for _, path := range written {
		fmt.Fprintf(w, "wrote    %s\n", path)
	}

	items := scoring.Top(out.Items, top)
	if top <= 0 || len(items) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tROW\tPROCESS\tCOMPOSITE\tMODEL\tRULES\tTRIGGERED")
	for _, it := range items {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\t%s\n",
			it.Rank, it.RowID, it.ProcessID,
			score(it.Composite), score(it.ModelScore), score(it.RuleScore),
			strings.Join(it.Triggered, ","))
	}
	tw.Flush()
}

func score(v float64) string {
	if baseline.IsNull(v) {
		return "-"
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
