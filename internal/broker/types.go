package broker

import (
	"time"

	"github.com/google/uuid"
)

// ActionQuery is the only action the worker is asked to perform.
const ActionQuery = "query"

// Payload is what an external caller asks the worker to do.
type Payload struct {
	Message         string
	NewConversation bool
}

// WorkItem is one queued unit of work awaiting pickup by a worker.
type WorkItem struct {
	RequestID       string
	Action          string
	Message         string
	NewConversation bool
	EnqueuedAt      time.Time
}

// Outcome is what a worker reports for a request. Error wins over Response.
type Outcome struct {
	Response string
	Error    string
}

// Result is the outcome of a WorkItem as stored for its waiter.
type Result struct {
	RequestID   string
	Response    string
	Error       string
	CompletedAt time.Time
}

// Failed reports whether the worker reported an error.
func (r *Result) Failed() bool {
	return r.Error != ""
}

// Status is the liveness view of one worker session.
type Status struct {
	Active       bool
	Identity     string
	LastSeen     time.Time
	PendingCount int
}

// Health summarises the broker for the health endpoint.
type Health struct {
	StartedAt       time.Time
	Uptime          time.Duration
	RegisteredCount int
	ActiveCount     int
	InFlightQueries int
	OrphanedResults int
}

// SessionInfo is an admin view of a session. Credential is masked.
type SessionInfo struct {
	Identity     string
	Credential   string
	RegisteredAt time.Time
	LastSeen     time.Time
	Active       bool
	PendingCount int
	ResultCount  int
	WaiterCount  int
}

// newRequestID returns a time-ordered unique id.
func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
