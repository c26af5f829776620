package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"tenderscope/internal/config"
	apperrors "tenderscope/internal/errors"
	"tenderscope/internal/exporter"
	"tenderscope/internal/scoring"
)

type explainOptions struct {
	scored   string
	snapshot string
	rows     []int
	top      int
	template string
	devs     int
}

func newExplainCmd(root *rootOptions) *cobra.Command {
	opts := &explainOptions{}

	cmd := &cobra.Command{
		Use:   "explain",
		Short: "Explain scored items against their baseline snapshot",
		Long: `Explain reads a scored CSV written by "score" and renders the text
explanation of the selected rows. --snapshot takes a run id or the path of a
snapshot file; without it the newest stored snapshot is used.

Examples:
  tenderscope explain --scored data/output/run_scored.csv --row 42
  tenderscope explain --scored scored.csv --snapshot data/snapshots/modelmeta-<run>.json --top 3
  tenderscope explain --scored scored.csv --row 7 --template short.tmpl --deviations 0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.scored, "scored", "", "Scored CSV to explain")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "Run id or snapshot file (default newest snapshot)")
	cmd.Flags().IntSliceVar(&opts.rows, "row", nil, "Row ids to explain (repeatable)")
	cmd.Flags().IntVar(&opts.top, "top", 5, "Explain the top N ranked items when no --row is given")
	cmd.Flags().StringVar(&opts.template, "template", "", "text/template file replacing the default explanation")
	cmd.Flags().IntVar(&opts.devs, "deviations", scoring.DefaultTopDeviations, "Robust deviations listed per item (0 hides them)")
	cmd.MarkFlagRequired("scored")

	return cmd
}

func runExplain(cmd *cobra.Command, root *rootOptions, opts *explainOptions) error {
	ctx := cmd.Context()

	runID, snapshotDir := snapshotRef(opts.snapshot)
	application, err := root.batchApp(cmd, func(cfg *config.Config) {
		if snapshotDir != "" {
			cfg.Paths.SnapshotDir = snapshotDir
			cfg.Snapshot.Backend = "file"
		}
	})
	if err != nil {
		return err
	}
	defer application.Close(ctx)

	explainOpts := []scoring.ExplainerOption{scoring.WithTopDeviations(opts.devs)}
	if opts.template != "" {
		src, err := os.ReadFile(opts.template)
		if err != nil {
			return fmt.Errorf("failed to read explanation template: %w", err)
		}
		explainOpts = append(explainOpts, scoring.WithTemplate(string(src)))
	}
	application.ScoringService.WithExplainerOptions(explainOpts...)

	items, err := readScoredFile(opts.scored)
	if err != nil {
		return err
	}
	selected, err := selectRows(items, opts.rows, opts.top)
	if err != nil {
		return err
	}

	if runID == "" {
		summaries, err := application.Snapshots.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list snapshots: %w", err)
		}
		if len(summaries) == 0 {
			return apperrors.NewNotFoundError("snapshot")
		}
		runID = summaries[0].RunID
	}

	texts, err := application.ScoringService.ExplainStored(ctx, runID, selected)
	if err != nil {
		return fmt.Errorf("failed to explain run %s: %w", runID, err)
	}

	w := cmd.OutOrStdout()
	for i, text := range texts {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, strings.TrimRight(text, "\n"))
	}
	return nil
}

// snapshotRef splits a --snapshot value into a run id and, when the value
// names a snapshot file, the directory holding it.
func snapshotRef(ref string) (runID, dir string) {
	if ref == "" {
		return "", ""
	}
	base := filepath.Base(ref)
	if !strings.HasSuffix(base, ".json") && !strings.ContainsRune(ref, os.PathSeparator) {
		return ref, ""
	}
	runID = strings.TrimPrefix(strings.TrimSuffix(base, ".json"), config.SnapshotFilePrefix)
	dir, err := filepath.Abs(filepath.Dir(ref))
	if err != nil {
		dir = filepath.Dir(ref)
	}
	return runID, dir
}

func readScoredFile(path string) ([]scoring.ScoredItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scored file: %w", err)
	}
	defer f.Close()
	return exporter.ReadScored(f)
}

func selectRows(items []scoring.ScoredItem, rows []int, top int) ([]scoring.ScoredItem, error) {
	if len(rows) == 0 {
		scoring.Rank(items)
		return scoring.Top(items, top), nil
	}
	out := make([]scoring.ScoredItem, 0, len(rows))
	for _, row := range rows {
		it, ok := scoring.Find(items, row)
		if !ok {
			return nil, apperrors.NewNotFoundError("scored row").WithContext("row_id", row)
		}
		out = append(out, it)
	}
	return out, nil
}
