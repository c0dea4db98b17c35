// Package sessions owns the per-conversation state of the streamable HTTP
// transport: the registry mapping opaque session ids to live sessions, the
// per-session transport channel state machine, and the mutable session state
// tool handlers read and write.
//
// A session's channel, dispatcher binding, and state are exclusively owned
// by that session. The registry's map is the only structure shared across
// sessions; all mutation of it goes through Create, Get, and Delete, each
// atomic with respect to the others.
package sessions
