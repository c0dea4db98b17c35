package sessions

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by Get for an unknown or torn-down id.
var ErrSessionNotFound = errors.New("session not found")

// idAttempts bounds identifier generation before Create gives up. With
// random v4 UUIDs a collision against live sessions is effectively
// unreachable; the bound exists so the failure mode is an error, not a spin.
const idAttempts = 10

// Binder constructs the dispatcher binding for a freshly created session.
// It runs before the session is reachable from any other goroutine.
type Binder func(*Session) Handler

// Registry is the concurrency-safe store of live sessions. Create, Get, and
// Delete are atomic with respect to each other; no caller ever observes a
// session mid-creation or mid-teardown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[string]*Session),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create allocates a new session with a fresh id, binds its dispatcher via
// bind, and wires its channel hooks so that:
//   - the id -> session mapping is published only when the channel
//     activates (no session is addressable before its handshake completes);
//   - reaching Closed releases the session from the registry and clears its
//     state exactly once, on every exit path.
func (r *Registry) Create(bind Binder) (*Session, error) {
	id, err := r.newID()
	if err != nil {
		return nil, err
	}

	s := &Session{id: id, state: &State{}}
	s.channel = NewChannel(
		func() {
			r.mu.Lock()
			r.sessions[id] = s
			r.mu.Unlock()
			r.log.Debug("session.publish", slog.String("session_id", id))
		},
		func() {
			r.Delete(id)
			s.clearState()
			r.log.Debug("session.release", slog.String("session_id", id))
		},
	)
	s.handler = bind(s)
	return s, nil
}

// Get resolves a session by id. It never creates.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes the id -> session mapping. Idempotent; a no-op when the id
// is absent.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of published sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) newID() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := 0; i < idAttempts; i++ {
		id := uuid.NewString()
		if _, taken := r.sessions[id]; !taken {
			return id, nil
		}
	}
	return "", errors.New("session id space exhausted")
}
