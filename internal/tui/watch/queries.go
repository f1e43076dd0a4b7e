package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/relaygw/internal/events"
)

const maxFinishedQueries = 20

// QueryState tracks one relayed query discovered from events.
type QueryState struct {
	ID         string
	Worker     string
	Identity   string
	Status     string // queued, dispatched, answered, completed, failed, timed_out, canceled
	EnqueuedAt time.Time
	FinishedAt time.Time
}

func (q *QueryState) active() bool {
	return q.FinishedAt.IsZero()
}

// updateQueryState processes an event and updates query tracking.
func updateQueryState(queries map[string]*QueryState, e events.Event) {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	id, _ := data["request_id"].(string)
	if id == "" {
		return
	}

	q, ok := queries[id]
	if !ok {
		q = &QueryState{ID: id, EnqueuedAt: e.At}
		queries[id] = q
	}
	if worker, ok := data["worker"].(string); ok {
		q.Worker = worker
	}
	if identity, ok := data["identity"].(string); ok && identity != "" {
		q.Identity = identity
	}

	switch e.Type {
	case "query.enqueued":
		q.Status = "queued"
		q.EnqueuedAt = e.At
	case "query.dispatched":
		if q.active() {
			q.Status = "dispatched"
		}
	case "result.received":
		if q.active() {
			q.Status = "answered"
		}
	case "query.completed":
		q.Status, _ = data["status"].(string)
		q.FinishedAt = e.At
	case "query.timed_out":
		q.Status = "timed_out"
		q.FinishedAt = e.At
	case "query.canceled":
		q.Status = "canceled"
		q.FinishedAt = e.At
	}

	pruneFinished(queries)
}

// pruneFinished keeps only the most recent finished queries.
func pruneFinished(queries map[string]*QueryState) {
	var finished []*QueryState
	for _, q := range queries {
		if !q.active() {
			finished = append(finished, q)
		}
	}
	if len(finished) <= maxFinishedQueries {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].FinishedAt.After(finished[j].FinishedAt)
	})
	for _, q := range finished[maxFinishedQueries:] {
		delete(queries, q.ID)
	}
}

// sortedQueries returns active queries oldest first, then finished ones
// newest first.
func sortedQueries(queries map[string]*QueryState) []*QueryState {
	var active, done []*QueryState
	for _, q := range queries {
		if q.active() {
			active = append(active, q)
		} else {
			done = append(done, q)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].EnqueuedAt.Equal(active[j].EnqueuedAt) {
			return active[i].ID < active[j].ID
		}
		return active[i].EnqueuedAt.Before(active[j].EnqueuedAt)
	})
	sort.Slice(done, func(i, j int) bool {
		return done[i].FinishedAt.After(done[j].FinishedAt)
	})
	return append(active, done...)
}

func renderQueries(queries map[string]*QueryState, selected int, theme Theme, width int) string {
	innerWidth := width - 4

	if len(queries) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("QUERIES"),
			theme.Dim.Render("  No query activity yet..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	var lines []string
	for i, q := range sortedQueries(queries) {
		if i >= 10 {
			break
		}
		lines = append(lines, renderQueryRow(q, i == selected, theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("QUERIES")}, lines...)...,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderQueryRow(q *QueryState, isSelected bool, theme Theme) string {
	id := q.ID
	if len(id) > 8 {
		id = id[len(id)-8:]
	}

	var elapsed string
	if q.active() {
		elapsed = time.Since(q.EnqueuedAt).Round(time.Second).String()
	} else {
		elapsed = q.FinishedAt.Sub(q.EnqueuedAt).Round(time.Millisecond).String()
	}

	who := q.Identity
	if who == "" {
		who = q.Worker
	}

	idStyle := theme.Highlight
	if isSelected {
		idStyle = idStyle.Bold(true).
			Foreground(lipgloss.Color("229")).
			Background(lipgloss.Color("57"))
	}

	var line strings.Builder
	line.WriteString(fmt.Sprintf(" %s  %-20s %s %s %s",
		idStyle.Render(id),
		who,
		statusLabel(q.Status, theme),
		statusIcon(q.Status, theme),
		theme.Dim.Render(elapsed),
	))
	return line.String()
}

func statusLabel(status string, theme Theme) string {
	label := fmt.Sprintf("[%-10s]", status)
	switch status {
	case "queued":
		return theme.StatusQueued.Render(label)
	case "dispatched", "answered":
		return theme.StatusRunning.Render(label)
	case "completed":
		return theme.StatusOK.Render(label)
	case "failed", "timed_out":
		return theme.StatusFailed.Render(label)
	default:
		return theme.StatusDead.Render(label)
	}
}

func statusIcon(status string, theme Theme) string {
	switch status {
	case "completed":
		return theme.StatusOK.Render("✅")
	case "failed":
		return theme.StatusFailed.Render("❌")
	case "timed_out":
		return theme.StatusFailed.Render("⏱")
	default:
		return ""
	}
}

func formatAgo(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	}
	return fmt.Sprintf("%dh ago", int(d.Hours()))
}
