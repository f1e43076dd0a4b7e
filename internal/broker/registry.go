package broker

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/relaygw/internal/log"
)

// DefaultLivenessThreshold is the maximum silence before a worker is
// considered gone.
const DefaultLivenessThreshold = 2 * time.Minute

// Registry maps worker credentials to their sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewRegistry creates an empty registry. A nil clock uses time.Now.
func NewRegistry(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions: make(map[string]*Session),
		now:      now,
	}
}

// Register creates a session for credential or refreshes the existing one.
// Re-registration keeps queued work and stored results.
func (r *Registry) Register(identity, credential string) (*Session, bool, error) {
	identity = strings.TrimSpace(identity)
	credential = strings.TrimSpace(credential)
	if identity == "" || credential == "" {
		return nil, false, fmt.Errorf("%w: identity and credential are required", ErrInvalidRequest)
	}

	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[credential]; ok {
		s.refresh(identity, now)
		return s, false, nil
	}
	s := newSession(identity, credential, now)
	r.sessions[credential] = s
	return s, true, nil
}

// Lookup returns the session for credential.
func (r *Registry) Lookup(credential string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[credential]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrWorkerNotFound
	}
	return s, nil
}

// Touch marks the worker behind credential as seen now.
func (r *Registry) Touch(credential string) error {
	s, err := r.Lookup(credential)
	if err != nil {
		return err
	}
	s.touch(r.now())
	return nil
}

// Evict removes credential only if it still maps to s, so a registration
// that landed in between is left alone.
func (r *Registry) Evict(credential string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[credential]; ok && cur == s {
		delete(r.sessions, credential)
		return true
	}
	return false
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// LiveCount returns the number of sessions live at now.
func (r *Registry) LiveCount(now time.Time, threshold time.Duration) int {
	n := 0
	for _, s := range r.all() {
		if IsLive(s, now, threshold) {
			n++
		}
	}
	return n
}

// Snapshot returns admin views of every session, sorted by identity.
// Credentials are masked to their first 8 characters.
func (r *Registry) Snapshot(now time.Time, threshold time.Duration) []SessionInfo {
	sessions := r.all()
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		info := s.info(now, threshold)
		info.Credential = log.MaskCredential(info.Credential)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Identity == out[j].Identity {
			return out[i].Credential < out[j].Credential
		}
		return out[i].Identity < out[j].Identity
	})
	return out
}

type credentialSession struct {
	credential string
	session    *Session
}

func (r *Registry) entries() []credentialSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]credentialSession, 0, len(r.sessions))
	for c, s := range r.sessions {
		out = append(out, credentialSession{credential: c, session: s})
	}
	return out
}

func (r *Registry) all() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// IsLive reports whether s has been heard from within threshold of now.
func IsLive(s *Session, now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastSeen()) < threshold
}
