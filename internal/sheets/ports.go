// Package sheets exports monthly summaries to spreadsheets.
package sheets

import (
	"context"
	"fmt"

	"fincon/internal/core"
)

// Ports for outbound adapters.
type (
	// SummaryWriter stores the rows of one month, replacing what was there.
	SummaryWriter interface {
		WriteMonth(ctx context.Context, m core.Month, rows [][]any) (rangeRef string, err error)
	}

	// SummarySource provides the summary to export.
	SummarySource interface {
		Summary(ctx context.Context, m core.Month) (core.Summary, error)
	}
)

var header = []any{"Goal", "Spent", "Must spend", "Used %", "Share of salary %"}

// Rows lays the summary out as a table: a header, one row per goal in
// display order and a closing total row.
func Rows(s core.Summary) [][]any {
	rows := make([][]any, 0, len(s.Goals)+2)
	rows = append(rows, header)
	for _, g := range core.SortGoals(s.Goals) {
		rows = append(rows, []any{
			g.Name,
			g.Spent.Amount.StringFixed(2),
			g.MustSpend.Amount.StringFixed(2),
			g.Used.StringFixed(2),
			g.Total.StringFixed(2),
		})
	}
	rows = append(rows, []any{
		"Total",
		s.Spent.Amount.StringFixed(2),
		s.MustSpend.Amount.StringFixed(2),
		"",
		s.Used.StringFixed(2),
	})
	return rows
}

// Export fetches the month's summary and hands it to w.
func Export(ctx context.Context, src SummarySource, w SummaryWriter, m core.Month) (string, error) {
	if err := m.Validate(); err != nil {
		return "", fmt.Errorf("export %s: %w", m, err)
	}
	summary, err := src.Summary(ctx, m)
	if err != nil {
		return "", fmt.Errorf("load summary for %s: %w", m, err)
	}
	ref, err := w.WriteMonth(ctx, m, Rows(summary))
	if err != nil {
		return "", fmt.Errorf("write summary for %s: %w", m, err)
	}
	return ref, nil
}
