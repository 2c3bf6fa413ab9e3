package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ehr/claims/internal/domain/claimstatus"
	"github.com/ehr/claims/internal/platform/db"
)

func renderMigrations(w io.Writer, statuses []db.MigrationStatus) {
	tw := newTable()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Version", "Name", "Status", "Applied At"})
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format(tableTimeLayout)
			}
		}
		tw.AppendRow(table.Row{s.Version, s.Name, status, appliedAt})
	}
	tw.Render()
}

func money(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func renderAging(w io.Writer, rep *claimstatus.AgingReport) {
	header := table.Row{"Group"}
	for _, b := range rep.Buckets {
		header = append(header, b.Label)
	}
	header = append(header, "Amount")

	row := func(label string, buckets []claimstatus.AgingBucket) table.Row {
		r := table.Row{label}
		var amount float64
		for _, b := range buckets {
			r = append(r, b.Count)
			amount += b.TotalAmount
		}
		return append(r, money(amount))
	}

	tw := newTable()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("Claim aging (%d claims, %s)", rep.TotalCount, money(rep.TotalAmount)))
	tw.AppendHeader(header)
	tw.AppendRow(row("all", rep.Buckets))
	tw.AppendSeparator()
	for _, p := range rep.ByPayer {
		tw.AppendRow(row("payer "+p.PayerID, p.Buckets))
	}
	tw.AppendSeparator()
	for _, s := range rep.ByStatus {
		tw.AppendRow(row(string(s.Status), s.Buckets))
	}
	tw.Render()
}

func renderStale(w io.Writer, rep *claimstatus.StaleReport) {
	tw := newTable()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("Stale claims: %d with no update in %d days", rep.Count, rep.DaysThreshold))
	tw.AppendHeader(table.Row{"Claim", "Status", "Payer", "Amount", "Last Update", "Days"})
	for _, c := range rep.Claims {
		tw.AppendRow(table.Row{
			c.ClaimNumber,
			c.Status,
			c.PayerID,
			money(c.TotalAmount),
			c.LastStatusUpdate.UTC().Format(tableTimeLayout),
			c.DaysSinceUpdate,
		})
	}
	tw.Render()
}
