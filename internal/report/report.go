// Package report checks a crawled table in the sink: row count, key range
// and row counts per group column.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ibeckermayer/slidecrawl/internal/dataset"
	"github.com/ibeckermayer/slidecrawl/internal/store"
)

// MaxGroups is the number of groups rendered per column; the rest are folded.
const MaxGroups = 15

// Querier is the part of the sink the report reads.
type Querier interface {
	Count(ctx context.Context, table string) (int, error)
	Range(ctx context.Context, table, column string) (lo, hi sql.NullString, err error)
	GroupCounts(ctx context.Context, table, column string) ([]store.GroupCount, error)
}

// Group is the breakdown of one column.
type Group struct {
	Column string
	Counts []store.GroupCount
}

// Nulls is the number of rows without a value in the column.
func (g Group) Nulls() int {
	c, _ := lo.Find(g.Counts, func(c store.GroupCount) bool { return c.Value == "" })
	return c.Count
}

// Report is the integrity report of one dataset.
type Report struct {
	Dataset     string
	Table       string
	Rows        int
	RangeColumn string
	Min, Max    string
	Groups      []Group
}

// Build runs the report queries concurrently.
func Build(ctx context.Context, sink Querier, ds dataset.Dataset) (*Report, error) {
	rep := &Report{
		Dataset:     ds.Name,
		Table:       ds.Table,
		RangeColumn: ds.RangeColumn,
		Groups:      make([]Group, len(ds.ReportGroups)),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := sink.Count(ctx, ds.Table)
		if err != nil {
			return fmt.Errorf("count %s: %w", ds.Table, err)
		}
		rep.Rows = n
		return nil
	})
	if ds.RangeColumn != "" {
		g.Go(func() error {
			lower, upper, err := sink.Range(ctx, ds.Table, ds.RangeColumn)
			if err != nil {
				return fmt.Errorf("range of %s: %w", ds.RangeColumn, err)
			}
			rep.Min, rep.Max = lower.String, upper.String
			return nil
		})
	}
	for i, col := range ds.ReportGroups {
		g.Go(func() error {
			counts, err := sink.GroupCounts(ctx, ds.Table, col)
			if err != nil {
				return fmt.Errorf("groups of %s: %w", col, err)
			}
			rep.Groups[i] = Group{Column: col, Counts: counts}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return rep, nil
}

// fold keeps the largest MaxGroups groups and sums the rest into one row.
func fold(counts []store.GroupCount) []store.GroupCount {
	if len(counts) <= MaxGroups {
		return counts
	}
	rest := counts[MaxGroups:]
	other := store.GroupCount{
		Value: fmt.Sprintf("(%d more)", len(rest)),
		Count: lo.SumBy(rest, func(c store.GroupCount) int { return c.Count }),
	}
	return append(append([]store.GroupCount(nil), counts[:MaxGroups]...), other)
}

// Render formats the report as text tables.
func (r *Report) Render() string {
	var b strings.Builder

	summary := table.NewWriter()
	summary.SetTitle(r.Dataset)
	summary.AppendRow(table.Row{"Table", r.Table})
	summary.AppendRow(table.Row{"Rows", humanize.Comma(int64(r.Rows))})
	if r.RangeColumn != "" {
		summary.AppendRow(table.Row{"Range (" + r.RangeColumn + ")", r.Min + " .. " + r.Max})
	}
	summary.SetStyle(table.StyleLight)
	b.WriteString(summary.Render())
	b.WriteString("\n")

	for _, g := range r.Groups {
		t := table.NewWriter()
		t.AppendHeader(table.Row{g.Column, "Rows", "Share"})
		for _, c := range fold(g.Counts) {
			value := c.Value
			if value == "" {
				value = "(empty)"
			}
			t.AppendRow(table.Row{value, humanize.Comma(int64(c.Count)), share(c.Count, r.Rows)})
		}
		t.SetStyle(table.StyleLight)
		b.WriteString("\n")
		b.WriteString(t.Render())
		b.WriteString("\n")
	}
	return b.String()
}

func share(n, total int) string {
	if total == 0 {
		return "-"
	}
	return humanize.FtoaWithDigits(100*float64(n)/float64(total), 1) + "%"
}
