package sessions

import "github.com/pbserve/pbmcp/pocketbase"

// State is the mutable per-session context consumed by tool handlers: the
// cached backend client handle and, through it, the cached auth token. It is
// only ever touched by handlers executing within its session, which the
// dispatcher serializes, so no locking is needed here.
type State struct {
	pb *pocketbase.Client
}

// Backend returns the cached PocketBase client, or nil if none was
// established yet.
func (s *State) Backend() *pocketbase.Client {
	return s.pb
}

// SetBackend caches the session's PocketBase client handle.
func (s *State) SetBackend(c *pocketbase.Client) {
	s.pb = c
}

// Clear releases the session's cached resources, dropping the auth token so
// a torn-down session can never leak credentials into a later one.
func (s *State) Clear() {
	if s.pb != nil {
		s.pb.ClearToken()
		s.pb = nil
	}
}
