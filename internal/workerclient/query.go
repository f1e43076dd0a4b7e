package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// QueryResult is the broker's answer to a caller query.
type QueryResult struct {
	RequestID string    `json:"requestId"`
	Response  *string   `json:"response,omitempty"`
	Error     *string   `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Query submits message on the caller leg and blocks until the broker
// answers. Non-200 statuses are returned as errors carrying the broker's
// error text.
func Query(ctx context.Context, httpClient *http.Client, serverURL, credential, message string, newConversation bool) (*QueryResult, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	raw, err := json.Marshal(map[string]any{
		"apiKey":          credential,
		"message":         message,
		"newConversation": newConversation,
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(serverURL, "/") + "/api/query"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query: %s", readError(resp))
	}
	var out QueryResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode query response: %w", err)
	}
	return &out, nil
}
