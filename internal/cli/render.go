package cli

import (
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"agentwatch/internal/event"
)

// IsTerminal reports whether the writer is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// statusColors maps a session status to its display color.
var statusColors = map[event.Status]text.Color{
	event.StatusActive:   text.FgGreen,
	event.StatusOpen:     text.FgCyan,
	event.StatusCrashed:  text.FgRed,
	event.StatusIdle:     text.FgYellow,
	event.StatusOrphaned: text.FgHiBlack,
}

// ColorStatus wraps a status string in its color when writing to a
// terminal.
func ColorStatus(st event.Status, colored bool) string {
	if !colored {
		return string(st)
	}
	c, ok := statusColors[st]
	if !ok {
		return string(st)
	}
	return c.Sprint(string(st))
}

// RenderSessions writes the session list table.
func RenderSessions(w io.Writer, sessions []event.Session, now time.Time) {
	colored := IsTerminal(w)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignLeft},
		{Number: 2, Align: text.AlignLeft},
		{Number: 3, Align: text.AlignLeft},
		{Number: 4, Align: text.AlignLeft, WidthMax: 30},
		{Number: 5, Align: text.AlignRight},
		{Number: 6, Align: text.AlignRight},
		{Number: 7, Align: text.AlignLeft, WidthMax: 50},
	})
	tw.AppendHeader(table.Row{"ID", "Source", "Status", "Project", "Events", "Age", "Last Action"})

	for _, s := range sessions {
		id := ShortID(s.ID)
		if s.AgentDepth > 0 {
			id = "  " + id
		}
		tw.AppendRow(table.Row{
			id,
			string(s.Source),
			ColorStatus(s.Status, colored),
			s.Project,
			s.EventCount,
			FormatAge(s.LastModified, now),
			Truncate(s.LastAction, 50),
		})
	}

	if len(sessions) == 0 {
		tw.AppendRow(table.Row{"-", "-", "-", "(no sessions)", 0, "-", "-"})
	}

	_ = tw.Render()
}

// RenderEvents writes an event timeline table.
func RenderEvents(w io.Writer, events []event.NormalizedEvent) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, WidthMax: 70},
	})
	tw.AppendHeader(table.Row{"Time", "Type", "Tool", "Content", "Risk"})

	for _, ev := range events {
		content := ev.Content
		if ev.Type == event.TypeToolResult && content == "" {
			content = Truncate(ev.ToolOutput, 70)
		}
		risk := ""
		if ev.Type == event.TypeToolCall {
			risk = string(ev.Risk)
		}
		tw.AppendRow(table.Row{
			ev.Timestamp.Format("15:04:05"),
			string(ev.Type),
			ev.ToolName,
			Truncate(content, 70),
			risk,
		})
	}

	_ = tw.Render()
}
