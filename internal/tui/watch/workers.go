package watch

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/relaygw/internal/events"
)

// WorkerRow is one worker as reported by /admin/workers, refined by events.
type WorkerRow struct {
	Identity     string    `json:"identity"`
	Credential   string    `json:"credential"`
	Active       bool      `json:"active"`
	LastSeen     time.Time `json:"lastSeen"`
	PendingCount int       `json:"pendingCount"`
	ResultCount  int       `json:"resultCount"`
	WaiterCount  int       `json:"waiterCount"`
	EvictReason  string    `json:"-"`
}

// replaceWorkers installs a fresh admin listing. Workers evicted since the
// last listing are kept so the eviction stays visible.
func replaceWorkers(workers map[string]*WorkerRow, rows []WorkerRow) {
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		r := row
		workers[r.Credential] = &r
		seen[r.Credential] = true
	}
	for key, w := range workers {
		if !seen[key] && w.EvictReason == "" {
			delete(workers, key)
		}
	}
}

func updateWorkerState(workers map[string]*WorkerRow, e events.Event) {
	if e.Type != "worker.registered" && e.Type != "worker.evicted" && e.Type != "query.dispatched" {
		return
	}

	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	key, _ := data["worker"].(string)
	if key == "" {
		return
	}
	w, ok := workers[key]
	if !ok {
		if e.Type == "query.dispatched" {
			return
		}
		w = &WorkerRow{Credential: key}
		workers[key] = w
	}
	if identity, ok := data["identity"].(string); ok && identity != "" {
		w.Identity = identity
	}

	switch e.Type {
	case "worker.registered", "query.dispatched":
		w.Active = true
		w.LastSeen = e.At
		w.EvictReason = ""
	case "worker.evicted":
		w.Active = false
		w.EvictReason, _ = data["reason"].(string)
	}
}

func renderWorkers(workers map[string]*WorkerRow, theme Theme, width int) string {
	innerWidth := width - 4

	if len(workers) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			theme.Title.Render("WORKERS"),
			theme.Dim.Render("  No workers registered..."),
		)
		return theme.Border.Width(innerWidth).Render(content)
	}

	keys := make([]string, 0, len(workers))
	for key := range workers {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := workers[keys[i]], workers[keys[j]]
		if a.Identity == b.Identity {
			return keys[i] < keys[j]
		}
		return a.Identity < b.Identity
	})

	var lines []string
	for i, key := range keys {
		if i >= 8 {
			break
		}
		lines = append(lines, renderWorkerRow(workers[key], theme))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{theme.Title.Render("WORKERS")}, lines...)...,
	)
	return theme.Border.Width(innerWidth).Render(content)
}

func renderWorkerRow(w *WorkerRow, theme Theme) string {
	status := theme.StatusFailed.Render("[stale]")
	switch {
	case w.EvictReason != "":
		status = theme.StatusDead.Render("[evicted:" + w.EvictReason + "]")
	case w.Active:
		status = theme.StatusOK.Render("[live]")
	}

	seen := "seen: -"
	if !w.LastSeen.IsZero() {
		seen = "seen: " + formatAgo(time.Since(w.LastSeen).Round(time.Second))
	}

	name := fmt.Sprintf("%s (%s)", w.Identity, w.Credential)
	return fmt.Sprintf(" %-32s %s %s  pending=%d waiting=%d",
		name, status, theme.Dim.Render(seen), w.PendingCount, w.WaiterCount)
}
