package main

import (
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/kiranshivaraju/mediaforge/internal/store"
	"github.com/kiranshivaraju/mediaforge/pkg/models"
)

// renderQueue lays out running jobs first, then pending jobs in queue order.
func renderQueue(q *models.QueueResponse, stats *models.SystemStats) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.Style().Format.Footer = text.FormatDefault
	tw.AppendHeader(table.Row{"#", "Prompt ID", "State"})

	n := 0
	for _, id := range q.QueueRunning {
		n++
		tw.AppendRow(table.Row{n, id, "running"})
	}
	for _, id := range q.QueuePending {
		n++
		tw.AppendRow(table.Row{n, id, "pending"})
	}

	tw.AppendFooter(table.Row{"", fmt.Sprintf("%s, %d workers", stats.Mode, stats.Queue.Workers),
		fmt.Sprintf("%d/%d queued", stats.Queue.Queued, stats.Queue.QueueSize)})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
	})

	return tw.Render()
}

// renderEvents lists journaled status changes oldest first.
func renderEvents(events []store.Event) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"#", "Recorded", "Status", "Detail"})

	for i, e := range events {
		detail := e.Error
		if detail == "" && len(e.Outputs) > 0 {
			detail = e.Outputs[0].Filename
		}
		tw.AppendRow(table.Row{i + 1, e.RecordedAt.Format(time.RFC3339), string(e.Status), detail})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
	})

	return tw.Render()
}
