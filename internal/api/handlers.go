package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/relaygw/internal/broker"
	"github.com/mattjoyce/relaygw/internal/log"
)

// maxBodyBytes bounds request bodies; worker responses can be long.
const maxBodyBytes = 8 << 20

// statusClientClosedRequest is nginx's non-standard code for a caller that
// hung up before the answer.
const statusClientClosedRequest = 499

// handleRegister handles POST /register.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.relay.Register(req.identity(), req.credential()); err != nil {
		if errors.Is(err, broker.ErrInvalidRequest) {
			s.writeError(w, http.StatusBadRequest, "Missing extensionId or apiKey")
			return
		}
		s.writeBrokerError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handlePoll handles GET /poll/{credential}. It never blocks.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	item, err := s.relay.PollForWork(chi.URLParam(r, "credential"))
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	if item == nil {
		respondJSON(w, http.StatusOK, WaitingResponse{Waiting: true})
		return
	}
	respondJSON(w, http.StatusOK, WorkResponse{
		RequestID:       item.RequestID,
		Action:          item.Action,
		Message:         item.Message,
		NewConversation: item.NewConversation,
	})
}

// handleResponse handles POST /response/{credential}/{requestID}.
func (s *Server) handleResponse(w http.ResponseWriter, r *http.Request) {
	var req ResultRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.relay.SubmitResult(
		chi.URLParam(r, "credential"),
		chi.URLParam(r, "requestID"),
		broker.Outcome{Response: req.Response, Error: req.Error},
	)
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleQuery handles POST /api/query. The handler goroutine blocks until
// the worker answers, the query deadline passes, or the caller hangs up.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	credential := strings.TrimSpace(req.credential())
	if credential == "" || req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "Missing apiKey or message")
		return
	}
	if s.limiter != nil && !s.limiter.allow(credential, s.now()) {
		s.logger.Warn("query rate limited", "worker", log.MaskCredential(credential))
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	res, err := s.relay.SubmitQuery(r.Context(), credential, broker.Payload{
		Message:         req.Message,
		NewConversation: req.NewConversation,
	})
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}

	resp := QueryResponse{RequestID: res.RequestID, Timestamp: s.now().UTC()}
	if res.Failed() {
		resp.Error = &res.Error
	} else {
		resp.Response = &res.Response
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleStatus handles GET /api/status/{credential}.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.relay.Status(chi.URLParam(r, "credential"))
	if errors.Is(err, broker.ErrWorkerNotFound) {
		respondJSON(w, http.StatusNotFound, StatusResponse{Active: false, Error: "Extension not found"})
		return
	}
	if err != nil {
		s.writeBrokerError(w, r, err)
		return
	}

	lastSeen := st.LastSeen.UTC()
	respondJSON(w, http.StatusOK, StatusResponse{
		Active:       st.Active,
		Identity:     st.Identity,
		LastSeen:     &lastSeen,
		PendingCount: st.PendingCount,
	})
}

// handleHealth handles GET /health (no auth).
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.relay.Health()
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:                "ok",
		Uptime:                h.Uptime.Seconds(),
		ActiveWorkerCount:     h.ActiveCount,
		RegisteredWorkerCount: h.RegisteredCount,
		InFlightQueries:       h.InFlightQueries,
		OrphanedResults:       h.OrphanedResults,
		Timestamp:             s.now().UTC(),
	})
}

// handleListWorkers handles GET /admin/workers.
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	sessions := s.relay.Workers()
	resp := WorkersResponse{Workers: make([]WorkerView, 0, len(sessions))}
	for _, si := range sessions {
		resp.Workers = append(resp.Workers, WorkerView{
			Identity:     si.Identity,
			Credential:   si.Credential,
			Active:       si.Active,
			RegisteredAt: si.RegisteredAt.UTC(),
			LastSeen:     si.LastSeen.UTC(),
			PendingCount: si.PendingCount,
			ResultCount:  si.ResultCount,
			WaiterCount:  si.WaiterCount,
		})
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleDisconnectWorker handles DELETE /admin/workers/{credential}.
func (s *Server) handleDisconnectWorker(w http.ResponseWriter, r *http.Request) {
	if !s.relay.Disconnect(chi.URLParam(r, "credential")) {
		s.writeError(w, http.StatusNotFound, "Extension not found")
		return
	}
	respondJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// handleHistory handles GET /admin/history?limit=N.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to read journal", "error", err)
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("Server error: %v", err))
		return
	}
	respondJSON(w, http.StatusOK, HistoryResponse{Entries: entries})
}

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildOpenAPIDoc(s.adminEnabled()))
}

// statusForError maps broker errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, broker.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, broker.ErrWorkerNotFound), errors.Is(err, broker.ErrWorkerTimedOut):
		return http.StatusNotFound
	case errors.Is(err, broker.ErrRequestTimedOut):
		return http.StatusGatewayTimeout
	case errors.Is(err, broker.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, broker.ErrRequestCanceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// wireMessages are the error texts existing extension clients match on.
var wireMessages = map[error]string{
	broker.ErrWorkerNotFound:  "Extension not found",
	broker.ErrWorkerTimedOut:  "Extension connection timed out",
	broker.ErrRequestTimedOut: "Request timed out waiting for extension response",
	broker.ErrQueueFull:       "Extension queue is full",
	broker.ErrRequestCanceled: "Request canceled by caller",
}

func (s *Server) writeBrokerError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusForError(err)
	msg := err.Error()
	for sentinel, text := range wireMessages {
		if errors.Is(err, sentinel) {
			msg = text
			break
		}
	}
	switch code {
	case http.StatusInternalServerError:
		s.logger.Error("request failed", "route", routePattern(r), "error", err)
		msg = "Server error: " + msg
	case statusClientClosedRequest:
		// Nobody is listening; the write below is best effort.
		s.logger.Info("caller closed request before answer")
	}
	s.writeError(w, code, msg)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(dst)
	if errors.Is(err, io.EOF) {
		// An empty body decodes as the zero value; required fields are checked later.
		return nil
	}
	return err
}

// respondJSON is a helper to write JSON responses
func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message, Timestamp: s.now().UTC()})
}
