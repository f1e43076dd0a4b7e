package broker

import (
	"sync"
	"time"
)

// Session is the broker-side state of one registered worker.
// All fields are guarded by mu; sessions never lock each other.
type Session struct {
	credential   string
	registeredAt time.Time

	mu       sync.Mutex
	identity string
	lastSeen time.Time
	pending  workQueue
	results  map[string]*Result
	waiters  map[string]chan struct{}
}

func newSession(identity, credential string, now time.Time) *Session {
	return &Session{
		credential:   credential,
		registeredAt: now,
		identity:     identity,
		lastSeen:     now,
		results:      make(map[string]*Result),
		waiters:      make(map[string]chan struct{}),
	}
}

// Identity returns the worker's self-reported identity.
func (s *Session) Identity() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// LastSeen returns the last time the worker contacted the broker.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// PendingCount returns the number of queued, not yet polled items.
func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.len()
}

func (s *Session) refresh(identity string, now time.Time) {
	s.mu.Lock()
	s.identity = identity
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// enqueue queues item and registers its completion channel in one step, so a
// result can never arrive before the waiter exists.
func (s *Session) enqueue(item *WorkItem, maxDepth int) (<-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxDepth > 0 && s.pending.len() >= maxDepth {
		return nil, ErrQueueFull
	}
	done := make(chan struct{}, 1)
	s.pending.enqueue(item)
	s.waiters[item.RequestID] = done
	return done, nil
}

func (s *Session) dequeue(now time.Time) *WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeen = now
	return s.pending.dequeueNext()
}

// storeResult records a worker result and wakes its waiter, if any.
func (s *Session) storeResult(res *Result, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A result for an item that was never polled retires the queued copy.
	s.pending.remove(res.RequestID)
	s.results[res.RequestID] = res
	s.lastSeen = now

	done, ok := s.waiters[res.RequestID]
	if ok {
		select {
		case done <- struct{}{}:
		default:
		}
	}
	return ok
}

// takeResult consumes the stored result for requestID and its waiter slot.
func (s *Session) takeResult(requestID string) (*Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.results[requestID]
	if !ok {
		return nil, false
	}
	delete(s.results, requestID)
	delete(s.waiters, requestID)
	return res, true
}

// abandon gives up on requestID. A result that raced in is returned instead
// of being orphaned; otherwise the item is pulled from the queue if it has
// not been polled yet.
func (s *Session) abandon(requestID string) (res *Result, wasQueued bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.waiters, requestID)
	if r, ok := s.results[requestID]; ok {
		delete(s.results, requestID)
		return r, false
	}
	return nil, s.pending.remove(requestID)
}

// sweepResults drops unclaimed results completed before cutoff.
func (s *Session) sweepResults(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, res := range s.results {
		if _, waiting := s.waiters[id]; waiting {
			continue
		}
		if res.CompletedAt.Before(cutoff) {
			delete(s.results, id)
			removed++
		}
	}
	return removed
}

func (s *Session) info(now time.Time, threshold time.Duration) SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SessionInfo{
		Identity:     s.identity,
		Credential:   s.credential,
		RegisteredAt: s.registeredAt,
		LastSeen:     s.lastSeen,
		Active:       now.Sub(s.lastSeen) < threshold,
		PendingCount: s.pending.len(),
		ResultCount:  len(s.results),
		WaiterCount:  len(s.waiters),
	}
}

func (s *Session) orphanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id := range s.results {
		if _, waiting := s.waiters[id]; !waiting {
			n++
		}
	}
	return n
}

func (s *Session) hasWaiters() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters) > 0
}

// holds reports where requestID currently lives.
func (s *Session) holds(requestID string) (queued, stored bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, stored = s.results[requestID]
	return s.pending.contains(requestID), stored
}
