// Package mcp declares the wire-level vocabulary of the Model Context
// Protocol subset this server speaks: method identifiers, the initialize
// handshake shapes, tool descriptors and call results, and the set of
// protocol versions the streamable HTTP transport accepts.
//
// The package is intentionally passive. It contains no behavior beyond
// version membership checks; framing and routing live in internal/jsonrpc
// and streaminghttp respectively.
package mcp
