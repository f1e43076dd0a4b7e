package watch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/relaygw/internal/events"
)

func renderEventStream(eventLog []events.Event, theme Theme, width int) string {
	innerWidth := width - 4

	if len(eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("EVENT STREAM"),
			theme.Dim.Render("  Waiting for events..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, e := range eventLog {
		if i >= 10 {
			break
		}
		lines = append(lines, formatEvent(e, theme))
	}

	eventsText := lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
	content := lipgloss.JoinVertical(lipgloss.Left,
		theme.Title.Render("EVENT STREAM"),
		eventsText,
	)

	return theme.Border.Width(innerWidth).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.Format("15:04:05"))

	// Color the event type based on category
	var typeStyle lipgloss.Style
	switch {
	case e.Type == "query.completed", e.Type == "worker.registered":
		typeStyle = theme.StatusOK
	case e.Type == "query.timed_out", e.Type == "worker.evicted":
		typeStyle = theme.StatusFailed
	case e.Type == "query.dispatched", e.Type == "result.received":
		typeStyle = theme.StatusRunning
	case strings.HasPrefix(e.Type, "broker."):
		typeStyle = theme.Highlight
	default:
		typeStyle = theme.Dim
	}

	typeName := typeStyle.Render(fmt.Sprintf("%-20s", e.Type))

	// Extract brief description from data
	desc := extractEventDesc(e)

	return fmt.Sprintf("%s %s %s", ts, typeName, desc)
}

func extractEventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string

	if id, ok := data["request_id"].(string); ok {
		if len(id) > 8 {
			id = id[len(id)-8:]
		}
		parts = append(parts, fmt.Sprintf("[%s]", id))
	}

	if identity, ok := data["identity"].(string); ok && identity != "" {
		parts = append(parts, identity)
	} else if worker, ok := data["worker"].(string); ok {
		parts = append(parts, worker)
	}

	if status, ok := data["status"].(string); ok {
		parts = append(parts, status)
	}

	if reason, ok := data["reason"].(string); ok {
		parts = append(parts, "reason="+reason)
	}

	if failed, ok := data["failed"].(bool); ok && failed {
		parts = append(parts, "failed")
	}

	if len(parts) == 0 {
		raw := string(e.Data)
		if len(raw) > 60 {
			raw = raw[:60] + "..."
		}
		return raw
	}

	return strings.Join(parts, " ")
}
