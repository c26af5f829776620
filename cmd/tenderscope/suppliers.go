package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tenderscope/internal/exporter"
	"tenderscope/internal/table"
)

type suppliersOptions struct {
	input string
	top   int
	out   string
}

func newSuppliersCmd(root *rootOptions) *cobra.Command {
	opts := &suppliersOptions{}

	cmd := &cobra.Command{
		Use:   "suppliers",
		Short: "Rank the winning suppliers by lots won",
		Long: `Suppliers counts, for every winning supplier, the distinct process and lot
pairs adjudicated to it and prints the leaderboard.

Examples:
  tenderscope suppliers --input licitacoes.csv
  tenderscope suppliers --input licitacoes.xlsx --top 50 --out vencedores.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSuppliers(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.input, "input", "", "CSV or XLSX table to rank")
	cmd.Flags().IntVar(&opts.top, "top", 20, "Number of suppliers to keep, 0 keeps all")
	cmd.Flags().StringVar(&opts.out, "out", "", "Also write the leaderboard to this CSV, relative to the output dir")
	cmd.MarkFlagRequired("input")

	return cmd
}

func runSuppliers(cmd *cobra.Command, root *rootOptions, opts *suppliersOptions) error {
	ctx := cmd.Context()
	if opts.top < 0 {
		return fmt.Errorf("--top must not be negative, got %d", opts.top)
	}

	application, err := root.batchApp(cmd, nil)
	if err != nil {
		return err
	}
	defer application.Close(ctx)

	t, err := application.Loader.LoadFile(ctx, opts.input)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", opts.input, err)
	}
	rows := application.Pipeline.Suppliers(ctx, t, opts.top)

	w := cmd.OutOrStdout()
	printSuppliers(w, rows)
	if opts.out != "" {
		path, err := exporter.NewCSVWriter(application.Config.Paths, application.Logger).ExportSuppliers(opts.out, rows)
		if err != nil {
			return fmt.Errorf("failed to write suppliers: %w", err)
		}
		fmt.Fprintf(w, "\nwrote    %s\n", path)
	}
	return nil
}

func printSuppliers(w io.Writer, rows []table.SupplierWins) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no winning suppliers")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SUPPLIER\tNAME\tWINS\tPROCESSES\tITEMS\tSHARE%")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s\n",
			r.SupplierID, r.SupplierName, r.Wins, r.Processes, r.Items,
			strconv.FormatFloat(r.Share, 'f', 1, 64))
	}
	tw.Flush()
}
