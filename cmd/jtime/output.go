package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/JohanCodinha/jtime/internal/cache"
	"github.com/JohanCodinha/jtime/internal/views"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// displayLayout is how instants are shown in tables, in local time.
const displayLayout = "2006-01-02 15:04"

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	activeStyle  = cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "28", Dark: "78"}).Bold(true)
	pendingStyle = cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "130", Dark: "214"})
	mutedStyle   = cellStyle.Foreground(lipgloss.AdaptiveColor{Light: "240", Dark: "245"})
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "250", Dark: "240"})
)

// printer renders values as a styled table or as structured data.
type printer struct {
	w      io.Writer
	format string
}

// print writes v as json or yaml, or the table built by render.
func (p *printer) print(v any, render func() string) error {
	switch p.format {
	case formatJSON:
		b, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		_, err = fmt.Fprintln(p.w, string(b))
		return err
	case formatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	default:
		_, err := fmt.Fprintln(p.w, render())
		return err
	}
}

// message prints a line of feedback in table mode only, keeping structured
// output machine readable.
func (p *printer) message(format string, args ...any) {
	if p.format == formatTable {
		fmt.Fprintf(p.w, format+"\n", args...)
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...)
}

func accountsTable(accounts []cache.Account) string {
	t := newTable("", "ID", "INSTANCE", "USERNAME")
	for _, a := range accounts {
		marker := ""
		if a.Active {
			marker = "●"
		}
		t.Row(marker, a.ID, a.InstanceURL, a.Username)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		if accounts[row].Active {
			return activeStyle
		}
		return cellStyle
	})
	return t.Render()
}

func issuesTable(issues []cache.Issue, running string) string {
	t := newTable("", "KEY", "TITLE")
	for _, is := range issues {
		marker := ""
		switch {
		case is.ID == running:
			marker = "●"
		case is.Pinned:
			marker = "★"
		}
		t.Row(marker, is.ID, is.Title)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case issues[row].ID == running:
			return activeStyle
		case issues[row].Sort >= cache.SortSentinel && !issues[row].Pinned:
			return mutedStyle
		}
		return cellStyle
	})
	return t.Render()
}

func worklogStatus(w cache.Worklog) string {
	switch {
	case w.Active:
		return "running"
	case w.Pending:
		return "pending"
	}
	return "synced"
}

func worklogsTable(worklogs []cache.Worklog, now time.Time) string {
	t := newTable("ID", "ISSUE", "FROM", "TO", "DURATION", "AUTHOR", "STATUS", "SUMMARY")
	for _, w := range worklogs {
		to := w.To.Local().Format(displayLayout)
		d := w.Duration()
		if w.Active {
			to = "-"
			d = now.Sub(w.From)
		}
		t.Row(strconv.FormatInt(w.WorkID, 10), w.IssueID, w.From.Local().Format(displayLayout), to,
			views.FormatDuration(d), w.Author, worklogStatus(w), w.Summary)
	}
	t.StyleFunc(func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerStyle
		}
		switch worklogStatus(worklogs[row]) {
		case "running":
			return activeStyle
		case "pending":
			return pendingStyle
		}
		return cellStyle
	})
	return t.Render()
}

// timerLine describes the running timer in one line.
func timerLine(state views.TimerState) string {
	if state.Running == nil {
		return mutedStyle.UnsetPadding().Render("no timer running")
	}
	title := state.Running.Issue.Title
	if title == "" {
		title = "(unknown issue)"
	}
	return fmt.Sprintf("%s %s %s  %s  started %s",
		activeStyle.UnsetPadding().Render("●"),
		state.Running.IssueID,
		title,
		activeStyle.UnsetPadding().Render(views.FormatDuration(state.Elapsed)),
		humanize.Time(state.Running.From))
}
