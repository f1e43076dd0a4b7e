// Package workerclient implements the worker side of the relay protocol:
// register, poll for work, hand each item to a Handler, post the result.
package workerclient

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mattjoyce/relaygw/internal/log"
)

const (
	DefaultPollInterval    = 6 * time.Second
	DefaultReRegisterAfter = time.Minute
	defaultRequestTimeout  = 10 * time.Second
)

// ErrNotRegistered is returned when the broker does not know this worker's
// credential, either because it never registered or because it was evicted.
var ErrNotRegistered = errors.New("worker not registered")

// Task is one unit of work handed out by the broker.
type Task struct {
	RequestID       string `json:"requestId"`
	Action          string `json:"action"`
	Message         string `json:"message"`
	NewConversation bool   `json:"newConversation"`
}

// Handler produces the response for a task. A returned error is reported to
// the broker as the task's error outcome.
type Handler interface {
	Handle(ctx context.Context, task Task) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, task Task) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, task Task) (string, error) { return f(ctx, task) }

// EchoHandler answers every task with its own message.
type EchoHandler struct {
	Prefix string
}

func (h EchoHandler) Handle(_ context.Context, task Task) (string, error) {
	return h.Prefix + task.Message, nil
}

// Config holds worker client settings.
type Config struct {
	ServerURL       string
	Identity        string
	Credential      string
	PollInterval    time.Duration
	ReRegisterAfter time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// Client talks to a relay broker on behalf of one worker.
type Client struct {
	cfg     Config
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	handler Handler

	lastContact time.Time
	registered  bool
}

// New creates a client. An empty credential is replaced with a generated one.
func New(cfg Config, handler Handler) (*Client, error) {
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		return nil, fmt.Errorf("identity is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Credential == "" {
		cred, err := GenerateCredential()
		if err != nil {
			return nil, err
		}
		cfg.Credential = cred
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReRegisterAfter <= 0 {
		cfg.ReRegisterAfter = DefaultReRegisterAfter
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.WithComponent("workerclient")
	}

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		http:    cfg.HTTPClient,
		logger:  cfg.Logger.With("worker", log.MaskCredential(cfg.Credential), "identity", cfg.Identity),
		handler: handler,
	}, nil
}

// Credential returns the credential this client registers with.
func (c *Client) Credential() string {
	return c.cfg.Credential
}

// GenerateCredential returns 32 random bytes, hex encoded.
func GenerateCredential() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate credential: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Register announces this worker to the broker.
func (c *Client) Register(ctx context.Context) error {
	body := map[string]string{
		"extensionId": c.cfg.Identity,
		"apiKey":      c.cfg.Credential,
	}
	if err := c.postJSON(ctx, "/register", body); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	c.registered = true
	c.lastContact = time.Now()
	c.logger.Info("registered with broker", "server", c.baseURL)
	return nil
}

// PollOnce asks for the next task. It returns nil when nothing is queued.
func (c *Client) PollOnce(ctx context.Context) (*Task, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/poll/"+url.PathEscape(c.cfg.Credential), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.registered = false
		return nil, ErrNotRegistered
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll: %s", readError(resp))
	}
	c.lastContact = time.Now()

	var payload struct {
		Task
		Waiting bool `json:"waiting"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode poll response: %w", err)
	}
	if payload.Waiting || payload.RequestID == "" {
		return nil, nil
	}
	task := payload.Task
	return &task, nil
}

// SubmitResult posts the outcome for requestID. A non-empty errMsg marks the
// task as failed.
func (c *Client) SubmitResult(ctx context.Context, requestID, response, errMsg string) error {
	path := "/response/" + url.PathEscape(c.cfg.Credential) + "/" + url.PathEscape(requestID)
	body := map[string]string{"response": response}
	if errMsg != "" {
		body = map[string]string{"error": errMsg}
	}
	if err := c.postJSON(ctx, path, body); err != nil {
		return fmt.Errorf("submit result %s: %w", requestID, err)
	}
	c.lastContact = time.Now()
	return nil
}

// Run registers, then polls until ctx is cancelled. It re-registers when the
// broker forgets the worker or when it has not been reached for a while.
func (c *Client) Run(ctx context.Context) error {
	c.logger.Info("worker started", "poll_interval", c.cfg.PollInterval.String())
	defer c.logger.Info("worker stopped")

	if err := c.Register(ctx); err != nil {
		c.logger.Warn("initial registration failed", "error", err)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		c.step(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Client) step(ctx context.Context) {
	if !c.registered {
		if err := c.Register(ctx); err != nil {
			c.logger.Warn("registration failed", "error", err)
			return
		}
	}

	task, err := c.PollOnce(ctx)
	switch {
	case errors.Is(err, ErrNotRegistered):
		c.logger.Info("broker does not know this worker; re-registering")
		if err := c.Register(ctx); err != nil {
			c.logger.Warn("registration failed", "error", err)
		}
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn("poll failed", "error", err)
		if time.Since(c.lastContact) > c.cfg.ReRegisterAfter {
			c.registered = false
		}
		return
	case task == nil:
		return
	}

	c.process(ctx, *task)
}

func (c *Client) process(ctx context.Context, task Task) {
	logger := c.logger.With("request_id", task.RequestID)
	logger.Info("processing task", "action", task.Action, "new_conversation", task.NewConversation)

	response, err := c.handler.Handle(ctx, task)
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
		logger.Warn("handler failed", "error", err)
	}
	if err := c.SubmitResult(ctx, task.RequestID, response, errMsg); err != nil {
		logger.Error("failed to submit result", "error", err)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.registered = false
		return ErrNotRegistered
	case resp.StatusCode >= 300:
		return errors.New(readError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func readError(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return fmt.Sprintf("%s (%d)", body.Error, resp.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d", resp.StatusCode)
}
