package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relaygw/internal/api/mocks"
	"github.com/mattjoyce/relaygw/internal/auth"
	"github.com/mattjoyce/relaygw/internal/broker"
	"github.com/mattjoyce/relaygw/internal/events"
	"github.com/mattjoyce/relaygw/internal/journal"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) (*Server, *mocks.MockRelay, *mocks.MockHistory) {
	t.Helper()
	ctrl := gomock.NewController(t)
	relay := mocks.NewMockRelay(ctrl)
	history := mocks.NewMockHistory(ctrl)
	s := New(cfg, relay, history, events.NewHub(16), discardLogger())
	s.now = func() time.Time { return fixedNow }
	return s, relay, history
}

func do(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &m), rr.Body.String())
	return m
}

func TestHandleRegister(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		identity string
		cred     string
	}{
		{name: "extension field names", body: `{"extensionId":"ext1","apiKey":"abc"}`, identity: "ext1", cred: "abc"},
		{name: "generic field names", body: `{"identity":"ext1","credential":"abc"}`, identity: "ext1", cred: "abc"},
		{name: "extension names win", body: `{"extensionId":"ext1","identity":"other","apiKey":"abc","credential":"zzz"}`, identity: "ext1", cred: "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, relay, _ := newTestServer(t, Config{})
			relay.EXPECT().Register(tt.identity, tt.cred).Return(nil)

			rr := do(t, s, http.MethodPost, "/register", tt.body)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, true, decodeMap(t, rr)["success"])
		})
	}
}

func TestHandleRegisterRejectsMissingFields(t *testing.T) {
	s, relay, _ := newTestServer(t, Config{})
	relay.EXPECT().Register("", "abc").Return(broker.ErrInvalidRequest)

	rr := do(t, s, http.MethodPost, "/register", `{"apiKey":"abc"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Missing extensionId or apiKey", decodeMap(t, rr)["error"])

	rr = do(t, s, http.MethodPost, "/register", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandlePoll(t *testing.T) {
	s, relay, _ := newTestServer(t, Config{})
	gomock.InOrder(
		relay.EXPECT().PollForWork("abc").Return(&broker.WorkItem{
			RequestID:       "r1",
			Action:          broker.ActionQuery,
			Message:         "hi",
			NewConversation: true,
		}, nil),
		relay.EXPECT().PollForWork("abc").Return(nil, nil),
		relay.EXPECT().PollForWork("nope").Return(nil, broker.ErrWorkerNotFound),
	)

	rr := do(t, s, http.MethodGet, "/poll/abc", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var work WorkResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &work))
	assert.Equal(t, WorkResponse{RequestID: "r1", Action: "query", Message: "hi", NewConversation: true}, work)

	rr = do(t, s, http.MethodGet, "/poll/abc", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"waiting":true}`, rr.Body.String())

	rr = do(t, s, http.MethodGet, "/poll/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	body := decodeMap(t, rr)
	assert.Equal(t, "Extension not found", body["error"])
	assert.Equal(t, "2025-03-01T12:00:00Z", body["timestamp"])
}

func TestHandleResponse(t *testing.T) {
	s, relay, _ := newTestServer(t, Config{})
	relay.EXPECT().SubmitResult("abc", "r1", broker.Outcome{Response: "hello"}).Return(nil)
	relay.EXPECT().SubmitResult("abc", "r2", broker.Outcome{Error: "tab closed"}).Return(nil)
	relay.EXPECT().SubmitResult("nope", "r3", gomock.Any()).Return(broker.ErrWorkerNotFound)

	rr := do(t, s, http.MethodPost, "/response/abc/r1", `{"response":"hello","error":null}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())

	rr = do(t, s, http.MethodPost, "/response/abc/r2", `{"error":"tab closed"}`)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, s, http.MethodPost, "/response/nope/r3", `{"response":"x"}`)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, s, http.MethodPost, "/response/abc/r4", `[1,2`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleQuerySuccess(t *testing.T) {
	s, relay, _ := newTestServer(t, Config{})
	relay.EXPECT().
		SubmitQuery(gomock.Any(), "abc", broker.Payload{Message: "hi", NewConversation: true}).
		Return(&broker.Result{RequestID: "r1", Response: "hello"}, nil)

	rr := do(t, s, http.MethodPost, "/api/query", `{"apiKey":"abc","message":"hi","newConversation":true}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeMap(t, rr)
	assert.Equal(t, "r1", body["requestId"])
	assert.Equal(t, "hello", body["response"])
	assert.NotContains(t, body, "error")
	assert.Equal(t, "2025-03-01T12:00:00Z", body["timestamp"])
}

func TestHandleQueryWorkerError(t *testing.T) {
	s, relay, _ := newTestServer(t, Config{})
	relay.EXPECT().
		SubmitQuery(gomock.Any(), "abc", gomock.Any()).
		Return(&broker.Result{RequestID: "r1", Error: "tab closed"}, nil)

	rr := do(t, s, http.MethodPost, "/api/query", `{"credential":"abc","message":"hi"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeMap(t, rr)
	assert.Equal(t, "tab closed", body["error"])
	assert.NotContains(t, body, "response")
}

func TestHandleQueryErrorMapping(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantError  string
	}{
		{err: broker.ErrInvalidRequest, wantStatus: http.StatusBadRequest},
		{err: broker.ErrWorkerNotFound, wantStatus: http.StatusNotFound},
		{err: broker.ErrWorkerTimedOut, wantStatus: http.StatusNotFound, wantError: "Extension connection timed out"},
		{err: broker.ErrRequestTimedOut, wantStatus: http.StatusGatewayTimeout, wantError: "Request timed out waiting for extension response"},
		{err: broker.ErrQueueFull, wantStatus: http.StatusServiceUnavailable},
		{err: errors.Join(broker.ErrRequestCanceled, context.Canceled), wantStatus: statusClientClosedRequest},
		{err: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantError: "Server error: boom"},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			s, relay, _ := newTestServer(t, Config{})
			relay.EXPECT().SubmitQuery(gomock.Any(), "abc", gomock.Any()).Return(nil, tt.err)

			rr := do(t, s, http.MethodPost, "/api/query", `{"apiKey":"abc","message":"hi"}`)
			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, decodeMap(t, rr)["error"])
			}
		})
	}
}

func TestHandleQueryValidatesBeforeBroker(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	for _, body := range []string{`{"apiKey":"abc"}`, `{"message":"hi"}`, `{"apiKey":"  ","message":"hi"}`, ``} {
		rr := do(t, s, http.MethodPost, "/api/query", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}
}

func TestHandleQueryRateLimited(t *testing.T) {
	s, relay, _ := newTestServer(t, Config{QueryRatePerMinute: 1})
	relay.EXPECT().SubmitQuery(gomock.Any(), "abc", gomock.Any()).Return(&broker.Result{RequestID: "r1"}, nil)
	relay.EXPECT().SubmitQuery(gomock.Any(), "def", gomock.Any()).Return(&broker.Result{RequestID: "r2"}, nil)

	rr := do(t, s, http.MethodPost, "/api/query", `{"apiKey":"abc","message":"hi"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, s, http.MethodPost, "/api/query", `{"apiKey":"abc","message":"again"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	// Buckets are per credential.
	rr = do(t, s, http.MethodPost, "/api/query", `{"apiKey":"def","message":"hi"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleStatus(t *testing.T) {
	s, relay, _ := newTestServer(t, Config{})
	relay.EXPECT().Status("abc").Return(broker.Status{Active: true, Identity: "ext1", LastSeen: fixedNow, PendingCount: 2}, nil)
	relay.EXPECT().Status("old").Return(broker.Status{Active: false, Identity: "ext2", LastSeen: fixedNow.Add(-time.Hour)}, nil)
	relay.EXPECT().Status("nope").Return(broker.Status{}, broker.ErrWorkerNotFound)

	rr := do(t, s, http.MethodGet, "/api/status/abc", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"active":true,"identity":"ext1","lastSeen":"2025-03-01T12:00:00Z","pendingCount":2}`, rr.Body.String())

	rr = do(t, s, http.MethodGet, "/api/status/old", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, false, decodeMap(t, rr)["active"])

	rr = do(t, s, http.MethodGet, "/api/status/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	body := decodeMap(t, rr)
	assert.Equal(t, false, body["active"])
	assert.NotEmpty(t, body["error"])
}

func TestHandleHealth(t *testing.T) {
	s, relay, _ := newTestServer(t, Config{})
	relay.EXPECT().Health().Return(broker.Health{
		Uptime:          90 * time.Second,
		RegisteredCount: 3,
		ActiveCount:     2,
		InFlightQueries: 1,
	})

	rr := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeMap(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 90.0, body["uptime"])
	assert.Equal(t, 2.0, body["activeWorkerCount"])
	assert.Equal(t, 3.0, body["registeredWorkerCount"])
	assert.Equal(t, 1.0, body["inFlightQueries"])
}

func TestAdminRoutesAbsentWithoutAuth(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	for _, path := range []string{"/admin/workers", "/admin/history", "/events"} {
		rr := do(t, s, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rr.Code, path)
	}

	rr := do(t, s, http.MethodGet, "/openapi.json", "")
	require.Equal(t, http.StatusOK, rr.Code)
	paths := decodeMap(t, rr)["paths"].(map[string]any)
	assert.Contains(t, paths, "/api/query")
	assert.NotContains(t, paths, "/admin/workers")
}

func adminConfig() Config {
	return Config{
		APIKey: "admin-key",
		Tokens: []auth.TokenConfig{
			{Token: "viewer", Scopes: []string{auth.ScopeEventsRO}},
			{Token: "ops", Scopes: []string{auth.ScopeWorkersRW, auth.ScopeHistoryRO}},
		},
	}
}

func TestAdminAuth(t *testing.T) {
	s, relay, _ := newTestServer(t, adminConfig())
	relay.EXPECT().Workers().Return(nil).Times(2)

	rr := do(t, s, http.MethodGet, "/admin/workers", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, s, http.MethodGet, "/admin/workers", "", "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, s, http.MethodGet, "/admin/workers", "", "Authorization", "Bearer viewer")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = do(t, s, http.MethodGet, "/admin/workers", "", "Authorization", "Bearer ops")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"workers":[]}`, rr.Body.String())

	rr = do(t, s, http.MethodGet, "/admin/workers", "", "Authorization", "Bearer admin-key")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminListAndDisconnectWorkers(t *testing.T) {
	s, relay, _ := newTestServer(t, adminConfig())
	relay.EXPECT().Workers().Return([]broker.SessionInfo{{
		Identity:     "ext1",
		Credential:   "abcdefgh...",
		Active:       true,
		RegisteredAt: fixedNow,
		LastSeen:     fixedNow,
		PendingCount: 1,
	}})
	relay.EXPECT().Disconnect("abc").Return(true)
	relay.EXPECT().Disconnect("nope").Return(false)

	rr := do(t, s, http.MethodGet, "/admin/workers", "", "Authorization", "Bearer ops")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp WorkersResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Workers, 1)
	assert.Equal(t, "abcdefgh...", resp.Workers[0].Credential)
	assert.Equal(t, 1, resp.Workers[0].PendingCount)

	rr = do(t, s, http.MethodDelete, "/admin/workers/abc", "", "Authorization", "Bearer ops")
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, s, http.MethodDelete, "/admin/workers/nope", "", "Authorization", "Bearer ops")
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = do(t, s, http.MethodDelete, "/admin/workers/abc", "", "Authorization", "Bearer viewer")
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminHistory(t *testing.T) {
	s, _, history := newTestServer(t, adminConfig())
	history.EXPECT().Recent(gomock.Any(), 0).Return([]journal.Entry{{RequestID: "r1", Status: broker.OutcomeCompleted}}, nil)
	history.EXPECT().Recent(gomock.Any(), 10).Return(nil, nil)
	history.EXPECT().Recent(gomock.Any(), 5).Return(nil, errors.New("disk gone"))

	rr := do(t, s, http.MethodGet, "/admin/history", "", "Authorization", "Bearer ops")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 1)
	assert.Equal(t, "r1", resp.Entries[0].RequestID)

	rr = do(t, s, http.MethodGet, "/admin/history?limit=10", "", "Authorization", "Bearer ops")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, s, http.MethodGet, "/admin/history?limit=abc", "", "Authorization", "Bearer ops")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, s, http.MethodGet, "/admin/history?limit=5", "", "Authorization", "Bearer ops")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Server error: disk gone", decodeMap(t, rr)["error"])
}

func TestAdminHistoryDisabled(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := New(adminConfig(), mocks.NewMockRelay(ctrl), nil, nil, discardLogger())

	rr := do(t, s, http.MethodGet, "/admin/history", "", "Authorization", "Bearer admin-key")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	rr = do(t, s, http.MethodGet, "/events", "", "Authorization", "Bearer admin-key")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	s, _, _ := newTestServer(t, Config{})

	rr := do(t, s, http.MethodOptions, "/api/query", "",
		"Origin", "chrome-extension://abc",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "content-type",
	)
	assert.Contains(t, []int{http.StatusOK, http.StatusNoContent}, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "content-type", rr.Header().Get("Access-Control-Allow-Headers"))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	s, relay, _ := newTestServer(t, Config{AllowedOrigins: []string{"https://allowed.example"}})
	relay.EXPECT().Health().Return(broker.Health{}).Times(2)

	rr := do(t, s, http.MethodGet, "/health", "", "Origin", "https://allowed.example")
	assert.Equal(t, "https://allowed.example", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = do(t, s, http.MethodGet, "/health", "", "Origin", "https://other.example")
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
