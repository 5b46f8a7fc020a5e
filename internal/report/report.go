// Package report renders the results registry as a styled terminal table.
package report

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vk/taskgrid/internal/registry"
)

var (
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = cellStyle.Foreground(lipgloss.Color("#FF6B6B"))
	okStyle     = cellStyle.Foreground(lipgloss.Color("#5B8DEF"))
)

// Render builds the results table with one row per label, in the order given.
func Render(labels []string, results registry.Results) string {
	rows := make([][]string, 0, len(labels))
	for _, label := range labels {
		rec, ok := results[label]
		if !ok {
			continue
		}
		rows = append(rows, []string{label, rec.TaskName, string(rec.Status), rec.Duration})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers("LABEL", "TASK", "STATUS", "DURATION").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 2 {
				switch registry.Status(rows[row][2]) {
				case registry.StatusSuccessful:
					return okStyle
				case registry.StatusFailed, registry.StatusTerminated:
					return failedStyle
				}
			}
			return cellStyle
		})
	for _, row := range rows {
		t.Row(row...)
	}
	return t.String()
}
