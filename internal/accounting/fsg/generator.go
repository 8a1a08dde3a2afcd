// Package fsg generates financial statement grids from report definitions
// and the balances cube.
package fsg

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
)

// Column describes one grid column.
type Column struct {
	Position   int                   `json:"position"`
	Label      string                `json:"label"`
	AmountType accounting.AmountType `json:"amount_type"`
}

// Row is one evaluated grid row; Values align with Grid.Columns.
type Row struct {
	Number int                `json:"number"`
	Label  string             `json:"label"`
	Type   accounting.RowType `json:"type"`
	Values []decimal.Decimal  `json:"values"`
}

// Grid is a generated financial statement.
type Grid struct {
	ReportID int64    `json:"report_id"`
	Name     string   `json:"name"`
	LedgerID int64    `json:"ledger_id"`
	Period   string   `json:"period"`
	Currency string   `json:"currency"`
	Columns  []Column `json:"columns"`
	Rows     []Row    `json:"rows"`
}

// Value returns the cell for row number and column index, or zero.
func (g Grid) Value(number, column int) decimal.Decimal {
	for _, r := range g.Rows {
		if r.Number == number && column < len(r.Values) {
			return r.Values[column]
		}
	}
	return decimal.Zero
}

// Generator evaluates report definitions.
type Generator struct {
	store  accounting.Store
	cache  *Cache
	logger *slog.Logger
	group  singleflight.Group
}

// NewGenerator constructs a generator. cache may be nil.
func NewGenerator(store accounting.Store, cache *Cache, logger *slog.Logger) *Generator {
	return &Generator{store: store, cache: cache, logger: logger}
}

// Generate builds the grid of reportID for ledgerID and period. Concurrent
// requests for the same grid share one build.
func (g *Generator) Generate(ctx context.Context, reportID int64, period string, ledgerID int64) (Grid, error) {
	key, err := g.cache.Key(ctx, reportID, ledgerID, period)
	if err != nil {
		g.log().Warn("fsg cache unavailable", slog.Any("error", err))
		return g.build(ctx, reportID, period, ledgerID)
	}
	ch := g.group.DoChan(key, func() (any, error) {
		return g.cache.Fetch(context.WithoutCancel(ctx), key, func(ctx context.Context) (Grid, error) {
			return g.build(ctx, reportID, period, ledgerID)
		})
	})
	select {
	case <-ctx.Done():
		return Grid{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Grid{}, res.Err
		}
		return res.Val.(Grid), nil
	}
}

func (g *Generator) build(ctx context.Context, reportID int64, period string, ledgerID int64) (Grid, error) {
	var (
		ledger accounting.Ledger
		def    accounting.ReportDefinition
		cube   []accounting.BalanceRow
	)
	err := g.store.WithTx(ctx, func(ctx context.Context, tx accounting.Tx) error {
		var err error
		if ledger, err = tx.GetLedger(ctx, ledgerID); err != nil {
			return err
		}
		if def, err = tx.GetReportDefinition(ctx, reportID); err != nil {
			return err
		}
		cube, err = tx.ListBalances(ctx, accounting.BalanceFilter{LedgerID: ledgerID, Period: period, Currency: ledger.FunctionalCurrency})
		return err
	})
	if err != nil {
		return Grid{}, err
	}

	rows := append([]accounting.ReportRow(nil), def.Rows...)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Number < rows[j].Number })
	columns := append([]accounting.ReportColumn(nil), def.Columns...)
	sort.SliceStable(columns, func(i, j int) bool { return columns[i].Position < columns[j].Position })

	formulas := make(map[int][]Term)
	for _, r := range rows {
		if r.Type != accounting.RowCalculation {
			continue
		}
		terms, err := ParseFormula(r.Formula)
		if err != nil {
			return Grid{}, fmt.Errorf("report %d row %d: %w", reportID, r.Number, err)
		}
		formulas[r.Number] = terms
	}

	values := make([][]decimal.Decimal, len(columns))
	eg, egCtx := errgroup.WithContext(ctx)
	for i, col := range columns {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			values[i] = evaluateColumn(ledger.Structure, rows, formulas, cube, col.AmountType)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Grid{}, err
	}

	grid := Grid{
		ReportID: def.ID,
		Name:     def.Name,
		LedgerID: ledger.ID,
		Period:   period,
		Currency: ledger.FunctionalCurrency,
	}
	for _, col := range columns {
		grid.Columns = append(grid.Columns, Column{Position: col.Position, Label: col.Label, AmountType: col.AmountType})
	}
	for r, row := range rows {
		cells := make([]decimal.Decimal, len(columns))
		for c := range columns {
			cells[c] = values[c][r]
		}
		grid.Rows = append(grid.Rows, Row{Number: row.Number, Label: row.Label, Type: row.Type, Values: cells})
	}
	g.log().Info("fsg report generated",
		slog.Int64("report_id", reportID),
		slog.Int64("ledger_id", ledgerID),
		slog.String("period", period),
		slog.Int("rows", len(grid.Rows)),
		slog.Int("columns", len(grid.Columns)))
	return grid, nil
}

// evaluateColumn computes one column top to bottom. Calculation rows see
// only rows above them.
func evaluateColumn(structure accounting.COAStructure, rows []accounting.ReportRow, formulas map[int][]Term, cube []accounting.BalanceRow, amount accounting.AmountType) []decimal.Decimal {
	out := make([]decimal.Decimal, len(rows))
	computed := make(map[int]decimal.Decimal, len(rows))
	for i, r := range rows {
		var v decimal.Decimal
		switch r.Type {
		case accounting.RowCalculation:
			v = Evaluate(formulas[r.Number], computed)
		default:
			v = sumRange(structure, cube, r.AccountMin, r.AccountMax, amount)
		}
		out[i] = v
		computed[r.Number] = v
	}
	return out
}

func sumRange(structure accounting.COAStructure, cube []accounting.BalanceRow, lo, hi string, amount accounting.AmountType) decimal.Decimal {
	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	full := strings.Contains(lo+hi, structure.Join([]string{"", ""}))
	natural := structure.SegmentIndex(accounting.QualifierNaturalAccount)
	total := decimal.Zero
	for _, row := range cube {
		key := row.AccountCode
		if !full && natural >= 0 {
			values := structure.Split(row.AccountCode)
			if natural < len(values) {
				key = values[natural]
			}
		}
		if lo != "" && key < lo {
			continue
		}
		if hi != "" && key > hi {
			continue
		}
		if amount == accounting.AmountYTD {
			total = total.Add(row.EndBalance)
		} else {
			total = total.Add(row.PeriodNet())
		}
	}
	return total
}

func (g *Generator) log() *slog.Logger {
	if g != nil && g.logger != nil {
		return g.logger.With(slog.String("component", "fsg"))
	}
	return slog.Default().With(slog.String("component", "fsg"))
}
