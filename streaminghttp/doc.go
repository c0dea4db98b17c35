// Package streaminghttp is the HTTP boundary of the server: one base path
// serving the MCP streamable HTTP transport.
//
// POST carries client-to-server calls (and the session-creating initialize
// handshake), GET attaches the session's single server-to-client event
// stream, and DELETE terminates the session. Requests are validated in a
// fixed order: Accept and protocol-version headers first, then session
// resolution against the registry, then dispatch. Rejections before a
// JSON-RPC exchange is possible use the fixed envelope
//
//	{"jsonrpc":"2.0","error":{"code":...,"message":...},"id":null}
package streaminghttp
