package watch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/relaygw/internal/events"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status                string  `json:"status"`
	Uptime                float64 `json:"uptime"`
	ActiveWorkerCount     int     `json:"activeWorkerCount"`
	RegisteredWorkerCount int     `json:"registeredWorkerCount"`
	InFlightQueries       int     `json:"inFlightQueries"`
	OrphanedResults       int     `json:"orphanedResults"`
}

type workersMsg []WorkerRow

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into the provided channel. Returns sseDisconnectedMsg when the connection drops.
func subscribeToEvents(apiURL, token string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		client := &http.Client{}
		req, err := http.NewRequest(http.MethodGet, apiURL+"/events", nil)
		if err != nil {
			return errMsg(err)
		}
		setAuth(req, token)

		resp, err := client.Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errMsg(fmt.Errorf("events: status %d", resp.StatusCode))
		}

		parseStream(bufio.NewScanner(resp.Body), ch)
		return sseDisconnectedMsg{}
	}
}

// parseStream decodes SSE frames until the scanner ends. Comment lines
// (keep-alives) are ignored.
func parseStream(scanner *bufio.Scanner, ch chan<- events.Event) {
	var current events.Event
	var data string

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if data != "" {
				current.Data = []byte(data)
				current.At = eventTime(current.Data)
				ch <- current
			}
			current = events.Event{}
			data = ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				current.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			current.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			data = line[6:]
		}
	}
}

// eventTime reads the broker's "at" field, falling back to receipt time.
func eventTime(data []byte) time.Time {
	var body struct {
		At time.Time `json:"at"`
	}
	if json.Unmarshal(data, &body) == nil && !body.At.IsZero() {
		return body.At
	}
	return time.Now()
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries the /health endpoint.
func fetchHealth(apiURL, token string) tea.Msg {
	var h healthMsg
	if err := getJSON(apiURL+"/health", token, &h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchWorkers queries the /admin/workers endpoint.
func fetchWorkers(apiURL, token string) tea.Msg {
	var body struct {
		Workers []WorkerRow `json:"workers"`
	}
	if err := getJSON(apiURL+"/admin/workers", token, &body); err != nil {
		return errMsg(err)
	}
	return workersMsg(body.Workers)
}

func getJSON(url, token string, out any) error {
	client := &http.Client{Timeout: 2 * time.Second}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	setAuth(req, token)

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", req.URL.Path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func setAuth(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
