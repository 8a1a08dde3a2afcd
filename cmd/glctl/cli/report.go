package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/fsg"
)

// ReportOptions defines flags for the report command.
type ReportOptions struct {
	Output
	ReportID int64
	LedgerID int64
	Period   string
}

// ReportCommand generates a financial statement grid.
func (c *OpsCLI) ReportCommand(ctx context.Context, opts ReportOptions) int {
	opts.defaults()
	if opts.ReportID <= 0 || opts.LedgerID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "report: --report and --ledger are required")
		return ExitError
	}
	if !validPeriod(opts.Period) {
		_, _ = fmt.Fprintf(opts.Stderr, "report: invalid period %q (expected YYYY-MM)\n", opts.Period)
		return ExitError
	}
	grid, err := c.ledger.Reports.Generate(ctx, opts.ReportID, opts.Period, opts.LedgerID)
	if err != nil {
		return fail(opts.Output, "report", err)
	}
	if opts.JSONOutput {
		return writeJSON(opts.Output, "report", grid)
	}
	if err := renderGrid(opts.Stdout, grid); err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "report: %v\n", err)
		return ExitError
	}
	return ExitOK
}

func renderGrid(out io.Writer, grid fsg.Grid) error {
	_, _ = fmt.Fprintf(out, "%s (ledger %d, %s, %s)\n", grid.Name, grid.LedgerID, grid.Period, grid.Currency)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	header := []string{"#", "Line"}
	for _, col := range grid.Columns {
		label := col.Label
		if label == "" {
			label = string(col.AmountType)
		}
		header = append(header, label)
	}
	if _, err := fmt.Fprintln(w, strings.Join(header, "\t")+"\t"); err != nil {
		return err
	}
	for _, row := range grid.Rows {
		cells := []string{fmt.Sprint(row.Number), row.Label}
		for _, v := range row.Values {
			cells = append(cells, v.StringFixed(accounting.AmountScale))
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")+"\t"); err != nil {
			return err
		}
	}
	return w.Flush()
}
