package api

import (
	"time"

	"github.com/mattjoyce/relaygw/internal/journal"
)

// RegisterRequest is the JSON body for POST /register. Both the extension's
// field names and the generic ones are accepted; the extension's win.
type RegisterRequest struct {
	ExtensionID string `json:"extensionId"`
	Identity    string `json:"identity"`
	APIKey      string `json:"apiKey"`
	Credential  string `json:"credential"`
}

func (r RegisterRequest) identity() string   { return firstNonEmpty(r.ExtensionID, r.Identity) }
func (r RegisterRequest) credential() string { return firstNonEmpty(r.APIKey, r.Credential) }

// SuccessResponse acknowledges worker calls.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// WorkResponse is a work item handed to a polling worker.
type WorkResponse struct {
	RequestID       string `json:"requestId"`
	Action          string `json:"action"`
	Message         string `json:"message"`
	NewConversation bool   `json:"newConversation"`
}

// WaitingResponse tells a polling worker there is nothing to do.
type WaitingResponse struct {
	Waiting bool `json:"waiting"`
}

// ResultRequest is the JSON body for POST /response/{credential}/{requestId}.
type ResultRequest struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// QueryRequest is the JSON body for POST /api/query.
type QueryRequest struct {
	APIKey          string `json:"apiKey"`
	Credential      string `json:"credential"`
	Message         string `json:"message"`
	NewConversation bool   `json:"newConversation"`
}

func (r QueryRequest) credential() string { return firstNonEmpty(r.APIKey, r.Credential) }

// QueryResponse carries exactly one of Response or Error.
type QueryResponse struct {
	RequestID string    `json:"requestId"`
	Response  *string   `json:"response,omitempty"`
	Error     *string   `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusResponse is returned by GET /api/status/{credential}.
type StatusResponse struct {
	Active       bool       `json:"active"`
	Identity     string     `json:"identity,omitempty"`
	LastSeen     *time.Time `json:"lastSeen,omitempty"`
	PendingCount int        `json:"pendingCount"`
	Error        string     `json:"error,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status                string    `json:"status"`
	Uptime                float64   `json:"uptime"`
	ActiveWorkerCount     int       `json:"activeWorkerCount"`
	RegisteredWorkerCount int       `json:"registeredWorkerCount"`
	InFlightQueries       int       `json:"inFlightQueries"`
	OrphanedResults       int       `json:"orphanedResults"`
	Timestamp             time.Time `json:"timestamp"`
}

// WorkerView is one session in GET /admin/workers. Credential is masked.
type WorkerView struct {
	Identity     string    `json:"identity"`
	Credential   string    `json:"credential"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
	PendingCount int       `json:"pendingCount"`
	ResultCount  int       `json:"resultCount"`
	WaiterCount  int       `json:"waiterCount"`
}

// WorkersResponse is returned by GET /admin/workers.
type WorkersResponse struct {
	Workers []WorkerView `json:"workers"`
}

// HistoryResponse is returned by GET /admin/history.
type HistoryResponse struct {
	Entries []journal.Entry `json:"entries"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
