package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/mattjoyce/relaygw/internal/log"
)

const (
	// DefaultQueryTimeout bounds how long a caller waits for a worker result.
	DefaultQueryTimeout = 3 * time.Minute

	// DefaultSweepInterval is how often orphaned results and dead sessions are swept.
	DefaultSweepInterval = 30 * time.Second

	// DefaultProgressInterval is how often a still-waiting query is logged.
	DefaultProgressInterval = 10 * time.Second
)

// Completion statuses recorded for finished queries.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
	OutcomeCanceled  = "canceled"
)

// Publisher receives broker lifecycle events. *events.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any)
}

// Completion describes one finished query for a Recorder.
type Completion struct {
	RequestID     string
	Identity      string
	Credential    string
	Status        string
	Error         string
	MessageChars  int
	ResponseChars int
	EnqueuedAt    time.Time
	FinishedAt    time.Time
}

// Recorder persists finished queries. It never feeds back into broker state.
type Recorder interface {
	RecordCompletion(ctx context.Context, c Completion) error
}

// Options tunes a Broker. Zero values take the defaults.
type Options struct {
	LivenessThreshold time.Duration
	QueryTimeout      time.Duration
	// ResultTTL is how long an unclaimed result is kept before the sweep drops it.
	ResultTTL        time.Duration
	SweepInterval    time.Duration
	ProgressInterval time.Duration
	// MaxQueueDepth bounds each worker's queue. Zero means unbounded.
	MaxQueueDepth int

	Now      func() time.Time
	Events   Publisher
	Recorder Recorder
	Logger   *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.LivenessThreshold <= 0 {
		o.LivenessThreshold = DefaultLivenessThreshold
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = DefaultQueryTimeout
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = o.QueryTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	if o.MaxQueueDepth < 0 {
		o.MaxQueueDepth = 0
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Events == nil {
		o.Events = nopPublisher{}
	}
	if o.Logger == nil {
		o.Logger = log.WithComponent("broker")
	}
	return o
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}

// Broker correlates blocking external queries with results posted by
// polling workers.
type Broker struct {
	opts      Options
	registry  *Registry
	logger    *slog.Logger
	startedAt time.Time
	inFlight  atomic.Int64
	recording sync.WaitGroup
}

// New creates a Broker with an empty registry.
func New(opts Options) *Broker {
	opts = opts.withDefaults()
	return &Broker{
		opts:      opts,
		registry:  NewRegistry(opts.Now),
		logger:    opts.Logger,
		startedAt: opts.Now(),
	}
}

// Registry exposes the session registry.
func (b *Broker) Registry() *Registry {
	return b.registry
}

// QueryTimeout returns the effective per-query deadline.
func (b *Broker) QueryTimeout() time.Duration {
	return b.opts.QueryTimeout
}

// Register announces a worker. Calling it again for the same credential only
// refreshes identity and liveness.
func (b *Broker) Register(identity, credential string) error {
	s, created, err := b.registry.Register(identity, credential)
	if err != nil {
		return err
	}
	b.logger.Info("worker registered",
		"identity", s.Identity(),
		"worker", log.MaskCredential(credential),
		"created", created,
	)
	b.opts.Events.Publish("worker.registered", map[string]any{
		"at":       b.opts.Now().UTC().Format(time.RFC3339Nano),
		"identity": s.Identity(),
		"worker":   log.MaskCredential(credential),
		"created":  created,
	})
	return nil
}

// PollForWork hands the oldest queued item to the worker, or nil when there
// is nothing to do. It never blocks.
func (b *Broker) PollForWork(credential string) (*WorkItem, error) {
	s, err := b.registry.Lookup(credential)
	if err != nil {
		return nil, err
	}
	item := s.dequeue(b.opts.Now())
	if item == nil {
		b.logger.Debug("worker polled, nothing pending", "worker", log.MaskCredential(credential))
		return nil, nil
	}

	b.logger.Info("dispatched request to worker",
		"request_id", item.RequestID,
		"identity", s.Identity(),
		"worker", log.MaskCredential(credential),
	)
	b.opts.Events.Publish("query.dispatched", map[string]any{
		"at":         b.opts.Now().UTC().Format(time.RFC3339Nano),
		"request_id": item.RequestID,
		"worker":     log.MaskCredential(credential),
		"queued_ms":  b.opts.Now().Sub(item.EnqueuedAt).Milliseconds(),
	})
	return item, nil
}

// SubmitResult stores a worker's outcome for requestID and wakes the waiting
// query. The worker is trusted: the id is not checked against dispatched work.
func (b *Broker) SubmitResult(credential, requestID string, outcome Outcome) error {
	if strings.TrimSpace(requestID) == "" {
		return fmt.Errorf("%w: requestId is required", ErrInvalidRequest)
	}
	s, err := b.registry.Lookup(credential)
	if err != nil {
		return err
	}

	now := b.opts.Now()
	res := &Result{
		RequestID:   requestID,
		Response:    outcome.Response,
		Error:       outcome.Error,
		CompletedAt: now,
	}
	if res.Error != "" {
		res.Response = ""
	}
	waiting := s.storeResult(res, now)

	logger := b.logger.With("request_id", requestID, "worker", log.MaskCredential(credential))
	if waiting {
		logger.Info("received response for request", "failed", res.Failed())
	} else {
		logger.Warn("received response with no waiting caller; kept until swept", "failed", res.Failed())
	}
	b.opts.Events.Publish("result.received", map[string]any{
		"at":         now.UTC().Format(time.RFC3339Nano),
		"request_id": requestID,
		"worker":     log.MaskCredential(credential),
		"failed":     res.Failed(),
		"waiting":    waiting,
	})
	return nil
}

// SubmitQuery queues payload for the worker behind credential and blocks
// until the worker posts a result, the query deadline passes, or ctx ends.
func (b *Broker) SubmitQuery(ctx context.Context, credential string, payload Payload) (*Result, error) {
	if strings.TrimSpace(credential) == "" || payload.Message == "" {
		return nil, fmt.Errorf("%w: credential and message are required", ErrInvalidRequest)
	}

	s, err := b.registry.Lookup(credential)
	if err != nil {
		return nil, err
	}

	now := b.opts.Now()
	if !IsLive(s, now, b.opts.LivenessThreshold) {
		if b.registry.Evict(credential, s) {
			b.logger.Warn("worker timed out; session evicted",
				"worker", log.MaskCredential(credential),
				"identity", s.Identity(),
				"last_seen", s.LastSeen(),
			)
			b.publishEvicted(credential, s.Identity(), "query")
		}
		return nil, ErrWorkerTimedOut
	}

	item := &WorkItem{
		RequestID:       newRequestID(),
		Action:          ActionQuery,
		Message:         payload.Message,
		NewConversation: payload.NewConversation,
		EnqueuedAt:      now,
	}
	done, err := s.enqueue(item, b.opts.MaxQueueDepth)
	if err != nil {
		b.logger.Warn("rejected query", "worker", log.MaskCredential(credential), "error", err)
		return nil, err
	}

	b.inFlight.Add(1)
	defer b.inFlight.Add(-1)

	logger := log.WithRequest(item.RequestID).With("component", "broker", "worker", log.MaskCredential(credential))
	logger.Info("added request to queue", "pending", s.PendingCount())
	b.opts.Events.Publish("query.enqueued", map[string]any{
		"at":         now.UTC().Format(time.RFC3339Nano),
		"request_id": item.RequestID,
		"worker":     log.MaskCredential(credential),
		"identity":   s.Identity(),
	})

	timer := time.NewTimer(b.opts.QueryTimeout)
	defer timer.Stop()
	progress := time.NewTicker(b.opts.ProgressInterval)
	defer progress.Stop()
	started := time.Now()

	for {
		select {
		case <-done:
			res, ok := s.takeResult(item.RequestID)
			if !ok {
				s.abandon(item.RequestID)
				return nil, fmt.Errorf("result for request %s signalled but not stored", item.RequestID)
			}
			b.finish(s, credential, item, res, logger)
			return res, nil

		case <-progress.C:
			logger.Info("still waiting for response", "elapsed", time.Since(started).Round(time.Second).String())

		case <-timer.C:
			if res, _ := s.abandon(item.RequestID); res != nil {
				b.finish(s, credential, item, res, logger)
				return res, nil
			}
			logger.Warn("request timed out", "timeout", b.opts.QueryTimeout.String())
			b.record(s, credential, item, OutcomeTimedOut, ErrRequestTimedOut.Error(), 0)
			b.publishAbandoned("query.timed_out", credential, item)
			return nil, ErrRequestTimedOut

		case <-ctx.Done():
			if res, _ := s.abandon(item.RequestID); res != nil {
				b.finish(s, credential, item, res, logger)
				return res, nil
			}
			logger.Info("caller went away; request abandoned", "cause", ctx.Err())
			b.record(s, credential, item, OutcomeCanceled, ctx.Err().Error(), 0)
			b.publishAbandoned("query.canceled", credential, item)
			return nil, fmt.Errorf("%w: %w", ErrRequestCanceled, ctx.Err())
		}
	}
}

func (b *Broker) finish(s *Session, credential string, item *WorkItem, res *Result, logger *slog.Logger) {
	status := OutcomeCompleted
	if res.Failed() {
		status = OutcomeFailed
		logger.Warn("worker reported error", "error", res.Error)
	} else {
		logger.Info("worker responded", "response_preview", preview(res.Response, 30))
	}
	b.record(s, credential, item, status, res.Error, len(res.Response))
	b.opts.Events.Publish("query.completed", map[string]any{
		"at":          res.CompletedAt.UTC().Format(time.RFC3339Nano),
		"request_id":  item.RequestID,
		"worker":      log.MaskCredential(credential),
		"status":      status,
		"duration_ms": res.CompletedAt.Sub(item.EnqueuedAt).Milliseconds(),
	})
}

// record hands the completion to the Recorder off the caller's goroutine so a
// slow journal never delays the HTTP answer. Drain waits for these writes.
func (b *Broker) record(s *Session, credential string, item *WorkItem, status, errMsg string, responseChars int) {
	if b.opts.Recorder == nil {
		return
	}
	c := Completion{
		RequestID:     item.RequestID,
		Identity:      s.Identity(),
		Credential:    credential,
		Status:        status,
		Error:         errMsg,
		MessageChars:  len(item.Message),
		ResponseChars: responseChars,
		EnqueuedAt:    item.EnqueuedAt,
		FinishedAt:    b.opts.Now(),
	}
	b.recording.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.opts.Recorder.RecordCompletion(ctx, c); err != nil {
			b.logger.Error("failed to record query completion", "request_id", c.RequestID, "error", err)
		}
	})
}

// Drain blocks until every completion handed to the Recorder has been written.
// Call it after the HTTP server has stopped and before closing the journal.
func (b *Broker) Drain() {
	b.recording.Wait()
}

func (b *Broker) publishAbandoned(eventType, credential string, item *WorkItem) {
	b.opts.Events.Publish(eventType, map[string]any{
		"at":         b.opts.Now().UTC().Format(time.RFC3339Nano),
		"request_id": item.RequestID,
		"worker":     log.MaskCredential(credential),
	})
}

func (b *Broker) publishEvicted(credential, identity, reason string) {
	b.opts.Events.Publish("worker.evicted", map[string]any{
		"at":       b.opts.Now().UTC().Format(time.RFC3339Nano),
		"worker":   log.MaskCredential(credential),
		"identity": identity,
		"reason":   reason,
	})
}

// Status reports liveness for credential. A stale session is evicted and
// reported inactive.
func (b *Broker) Status(credential string) (Status, error) {
	s, err := b.registry.Lookup(credential)
	if err != nil {
		return Status{}, err
	}
	now := b.opts.Now()
	st := Status{
		Active:       IsLive(s, now, b.opts.LivenessThreshold),
		Identity:     s.Identity(),
		LastSeen:     s.LastSeen(),
		PendingCount: s.PendingCount(),
	}
	if !st.Active && b.registry.Evict(credential, s) {
		b.logger.Info("worker inactive; session evicted", "worker", log.MaskCredential(credential))
		b.publishEvicted(credential, st.Identity, "status")
	}
	return st, nil
}

// Disconnect evicts credential on operator request. Queries already waiting
// on it run to their deadline.
func (b *Broker) Disconnect(credential string) bool {
	s, err := b.registry.Lookup(credential)
	if err != nil {
		return false
	}
	if !b.registry.Evict(credential, s) {
		return false
	}
	b.logger.Info("worker disconnected by operator", "worker", log.MaskCredential(credential))
	b.publishEvicted(credential, s.Identity(), "admin")
	return true
}

// Health summarises broker state.
func (b *Broker) Health() Health {
	now := b.opts.Now()
	orphans := 0
	for _, s := range b.registry.all() {
		orphans += s.orphanCount()
	}
	return Health{
		StartedAt:       b.startedAt,
		Uptime:          now.Sub(b.startedAt),
		RegisteredCount: b.registry.Count(),
		ActiveCount:     b.registry.LiveCount(now, b.opts.LivenessThreshold),
		InFlightQueries: int(b.inFlight.Load()),
		OrphanedResults: orphans,
	}
}

// Workers returns admin views of all sessions.
func (b *Broker) Workers() []SessionInfo {
	return b.registry.Snapshot(b.opts.Now(), b.opts.LivenessThreshold)
}

// SweepReport counts what a sweep removed.
type SweepReport struct {
	Results  int
	Sessions int
}

// Sweep drops unclaimed results older than the result TTL and evicts stale
// sessions that have nobody waiting on them.
func (b *Broker) Sweep() SweepReport {
	now := b.opts.Now()
	cutoff := now.Add(-b.opts.ResultTTL)

	var rep SweepReport
	for _, e := range b.registry.entries() {
		rep.Results += e.session.sweepResults(cutoff)
		if !IsLive(e.session, now, b.opts.LivenessThreshold) && !e.session.hasWaiters() {
			if b.registry.Evict(e.credential, e.session) {
				rep.Sessions++
				b.publishEvicted(e.credential, e.session.Identity(), "sweep")
			}
		}
	}
	if rep.Results > 0 || rep.Sessions > 0 {
		b.logger.Info("sweep removed stale state", "results", rep.Results, "sessions", rep.Sessions)
		b.opts.Events.Publish("broker.swept", map[string]any{
			"at":       now.UTC().Format(time.RFC3339Nano),
			"results":  rep.Results,
			"sessions": rep.Sessions,
		})
	}
	return rep
}

// Run sweeps on the configured interval until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) error {
	b.logger.Info("sweep loop started", "interval", b.opts.SweepInterval.String())
	defer b.logger.Info("sweep loop stopped")

	ticker := time.NewTicker(b.opts.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.Sweep()
		}
	}
}

func preview(s string, n int) string {
	if s == "" {
		return "empty"
	}
	if len(s) <= n {
		return s
	}
	return TruncateUTF8(s, n) + "..."
}

// TruncateUTF8 cuts s to at most n bytes without splitting a rune.
func TruncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
