package workerclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/relaygw/internal/api"
	"github.com/mattjoyce/relaygw/internal/broker"
	"github.com/mattjoyce/relaygw/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBrokerServer(t *testing.T) (*httptest.Server, *broker.Broker) {
	t.Helper()
	hub := events.NewHub(32)
	b := broker.New(broker.Options{
		QueryTimeout: 5 * time.Second,
		Events:       hub,
		Logger:       discardLogger(),
	})
	s := api.New(api.Config{}, b, nil, hub, discardLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, b
}

func newTestClient(t *testing.T, serverURL string, h Handler) *Client {
	t.Helper()
	c, err := New(Config{
		ServerURL:    serverURL,
		Identity:     "test-worker",
		Credential:   "cred-0123456789",
		PollInterval: 20 * time.Millisecond,
		Logger:       discardLogger(),
	}, h)
	require.NoError(t, err)
	return c
}

func TestGenerateCredential(t *testing.T) {
	a, err := GenerateCredential()
	require.NoError(t, err)
	b, err := GenerateCredential()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Identity: "w"}, EchoHandler{})
	assert.Error(t, err)

	_, err = New(Config{ServerURL: "http://localhost:3000"}, EchoHandler{})
	assert.Error(t, err)

	_, err = New(Config{ServerURL: "http://localhost:3000", Identity: "w"}, nil)
	assert.Error(t, err)

	c, err := New(Config{ServerURL: "http://localhost:3000/", Identity: "w"}, EchoHandler{})
	require.NoError(t, err)
	assert.Len(t, c.Credential(), 64)
	assert.Equal(t, DefaultPollInterval, c.cfg.PollInterval)
	assert.Equal(t, "http://localhost:3000", c.baseURL)
}

func TestPollBeforeRegisterIsNotRegistered(t *testing.T) {
	ts, _ := newBrokerServer(t)
	c := newTestClient(t, ts.URL, EchoHandler{})

	task, err := c.PollOnce(context.Background())
	assert.Nil(t, task)
	assert.ErrorIs(t, err, ErrNotRegistered)
}

func TestRegisterAndPollEmpty(t *testing.T) {
	ts, b := newBrokerServer(t)
	c := newTestClient(t, ts.URL, EchoHandler{})

	require.NoError(t, c.Register(context.Background()))
	assert.Equal(t, 1, b.Registry().Count())

	task, err := c.PollOnce(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestRunAnswersQueries(t *testing.T) {
	ts, _ := newBrokerServer(t)
	c := newTestClient(t, ts.URL, EchoHandler{Prefix: "echo: "})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/api/status/" + c.Credential())
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	res, err := Query(context.Background(), nil, ts.URL, c.Credential(), "hello", true)
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Equal(t, "echo: hello", *res.Response)
	assert.Nil(t, res.Error)
	assert.NotEmpty(t, res.RequestID)

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHandlerErrorIsReported(t *testing.T) {
	ts, _ := newBrokerServer(t)
	c := newTestClient(t, ts.URL, HandlerFunc(func(context.Context, Task) (string, error) {
		return "", errors.New("tab closed")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Register(ctx))
	go func() { _ = c.Run(ctx) }()

	res, err := Query(context.Background(), nil, ts.URL, c.Credential(), "hello", false)
	require.NoError(t, err)
	require.NotNil(t, res.Error)
	assert.Equal(t, "tab closed", *res.Error)
	assert.Nil(t, res.Response)
}

func TestReRegistersAfterEviction(t *testing.T) {
	ts, b := newBrokerServer(t)
	c := newTestClient(t, ts.URL, EchoHandler{})
	ctx := context.Background()

	require.NoError(t, c.Register(ctx))
	require.True(t, b.Disconnect(c.Credential()))

	c.step(ctx)
	assert.True(t, c.registered)
	assert.Equal(t, 1, b.Registry().Count())
}

func TestQueryUnknownWorker(t *testing.T) {
	ts, _ := newBrokerServer(t)

	_, err := Query(context.Background(), nil, ts.URL, "nobody", "hello", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Extension not found")
	assert.Contains(t, err.Error(), "404")
}

func TestPollUnexpectedStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL, EchoHandler{})
	_, err := c.PollOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 502")
	assert.Equal(t, int32(1), calls.Load())
}
