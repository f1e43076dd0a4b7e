package watch

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattjoyce/relaygw/internal/events"
)

const (
	maxEventLog  = 50
	pollInterval = 5 * time.Second
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string
	token  string

	width  int
	height int

	// State
	health    HealthState
	workers   map[string]*WorkerRow
	queries   map[string]*QueryState
	eventLog  []events.Event
	lastSweep time.Time

	// Live indicators
	ticker  Ticker
	spinner Spinner

	// UI state
	theme         Theme
	selectedQuery int

	// Communication
	hubEvents chan events.Event

	// Error display
	lastError string
}

// New creates a new watch TUI model. token is sent as a bearer token and
// needs the events:ro and workers:ro scopes.
func New(apiURL, token string) *Model {
	return &Model{
		apiURL:    apiURL,
		token:     token,
		workers:   make(map[string]*WorkerRow),
		queries:   make(map[string]*QueryState),
		eventLog:  make([]events.Event, 0),
		hubEvents: make(chan events.Event, 100),
		ticker:    NewTicker(),
		spinner:   NewSpinner(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.apiURL, m.token, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL, m.token) },
		func() tea.Msg { return fetchWorkers(m.apiURL, m.token) },
		tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) }),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "up", "k":
			if m.selectedQuery > 0 {
				m.selectedQuery--
			}
		case "down", "j":
			if m.selectedQuery < len(m.queries)-1 {
				m.selectedQuery++
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tickMsg:
		m.ticker.Tick()
		m.spinner.Decay()
		return m, tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })

	case eventMsg:
		m = m.applyEvent(events.Event(msg))
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.health.Status = msg.Status
		m.health.Uptime = time.Duration(msg.Uptime * float64(time.Second))
		m.health.ActiveWorkers = msg.ActiveWorkerCount
		m.health.Workers = msg.RegisteredWorkerCount
		m.health.InFlight = msg.InFlightQueries
		m.health.OrphanedResults = msg.OrphanedResults
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""

		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.token)
		})

	case workersMsg:
		replaceWorkers(m.workers, msg)
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg {
			return fetchWorkers(m.apiURL, m.token)
		})

	case sseDisconnectedMsg:
		m.health.Connected = false
		m.lastError = "SSE disconnected, reconnecting..."
		// The pending receiveNextEvent keeps reading the same channel, so
		// the new subscription feeds it directly.
		return m, tea.Tick(3*time.Second, func(t time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.apiURL, m.token, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(pollInterval, func(t time.Time) tea.Msg {
			return fetchHealth(m.apiURL, m.token)
		})
	}

	return m, nil
}

func (m Model) applyEvent(e events.Event) Model {
	// Newest first
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > maxEventLog {
		m.eventLog = m.eventLog[:maxEventLog]
	}

	m.spinner.OnEvent()

	if e.Type == "broker.swept" {
		m.lastSweep = e.At
	}

	updateQueryState(m.queries, e)
	updateWorkerState(m.workers, e)
	if m.selectedQuery >= len(m.queries) {
		m.selectedQuery = max(len(m.queries)-1, 0)
	}

	m.health.Connected = true
	m.lastError = ""
	return m
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing watch..."
	}

	header := renderHeader(m.health, m.ticker, m.spinner, m.theme, m.width)
	workers := renderWorkers(m.workers, m.theme, m.width)
	queries := renderQueries(m.queries, m.selectedQuery, m.theme, m.width)
	eventStream := renderEventStream(m.eventLog, m.theme, m.width)

	var errBar string
	if m.lastError != "" {
		errBar = m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError))
	}

	helpText := " [q] Quit • [↑/↓] Navigate Queries"
	if !m.lastSweep.IsZero() {
		helpText += " • last sweep " + formatAgo(time.Since(m.lastSweep).Round(time.Second))
	}
	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(helpText)

	parts := []string{header, workers, queries, eventStream}
	if errBar != "" {
		parts = append(parts, errBar)
	}
	parts = append(parts, help)

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
