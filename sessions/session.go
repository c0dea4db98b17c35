package sessions

import (
	"context"
	"sync"

	"github.com/pbserve/pbmcp/internal/jsonrpc"
)

// Handler is the per-session dispatcher binding. Exactly one Handler is
// bound to each session at creation; it is never shared, so any state it
// keeps is session-scoped by construction.
type Handler interface {
	Handle(ctx context.Context, sess *Session, req *jsonrpc.Request) *jsonrpc.Response
}

// Session is one logical client conversation: an opaque id, an exclusively
// owned transport channel, an exclusively owned dispatcher binding, and
// mutable per-session state.
type Session struct {
	id              string
	protocolVersion string
	channel         *Channel
	handler         Handler
	state           *State

	// callMu serializes write-channel calls within this session so two
	// handlers never mutate the session's state concurrently.
	callMu sync.Mutex
}

// ID returns the session's opaque identifier.
func (s *Session) ID() string { return s.id }

// ProtocolVersion returns the version negotiated at handshake time.
func (s *Session) ProtocolVersion() string { return s.protocolVersion }

// SetProtocolVersion records the negotiated version. Called once, during
// the handshake.
func (s *Session) SetProtocolVersion(v string) { s.protocolVersion = v }

// Channel returns the session's transport channel.
func (s *Session) Channel() *Channel { return s.channel }

// State returns the session's mutable state.
func (s *Session) State() *State { return s.state }

// Handle routes a decoded call to the session's dispatcher. Calls within
// one session are processed in arrival order; the lock is held for the full
// call so a slow backend stalls only this session's queue.
func (s *Session) Handle(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	return s.handler.Handle(ctx, s, req)
}

// Push publishes a server-to-client notification on the session's listen
// stream, best-effort.
func (s *Session) Push(msg []byte) error {
	return s.channel.Publish(msg)
}

// clearState releases the session's cached resources. It takes the call
// lock, so a teardown racing an in-flight call waits for the handler to
// finish rather than clearing state out from under it.
func (s *Session) clearState() {
	s.callMu.Lock()
	defer s.callMu.Unlock()
	s.state.Clear()
}
