// Package dispatch routes decoded JSON-RPC calls to named operations. One
// Dispatcher is bound per session so that anything a handler caches ends up
// in that session's state and nowhere else; the operation registry itself is
// static and shared read-only.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pbserve/pbmcp/internal/errtree"
	"github.com/pbserve/pbmcp/internal/jsonrpc"
	"github.com/pbserve/pbmcp/internal/logctx"
	"github.com/pbserve/pbmcp/mcp"
	"github.com/pbserve/pbmcp/pocketbase"
	"github.com/pbserve/pbmcp/sessions"
	"github.com/pbserve/pbmcp/tools"
)

// Dispatcher implements sessions.Handler over a static tool set.
type Dispatcher struct {
	set        *tools.Set
	log        *slog.Logger
	serverInfo mcp.ImplementationInfo
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithServerInfo sets the implementation info returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(d *Dispatcher) { d.serverInfo = info }
}

// New constructs a Dispatcher over the given operation registry.
func New(set *tools.Set, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		set:        set,
		log:        slog.Default(),
		serverInfo: mcp.ImplementationInfo{Name: "pbmcp", Version: "dev"},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Initialize answers the handshake: the negotiated version is the client's
// when supported, otherwise the latest this server knows.
func (d *Dispatcher) Initialize(req *mcp.InitializeRequest) *mcp.InitializeResult {
	version := req.ProtocolVersion
	if !mcp.IsSupportedProtocolVersion(version) {
		version = mcp.LatestProtocolVersion
	}
	return &mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities: mcp.ServerCapabilities{
			Tools: &struct {
				ListChanged bool `json:"listChanged"`
			}{},
		},
		ServerInfo: d.serverInfo,
	}
}

// Handle routes one decoded call. It returns nil for notifications, which
// expect no response. The caller holds the session's call lock, so handlers
// have exclusive access to the session's state for the duration.
func (d *Dispatcher) Handle(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	switch mcp.Method(req.Method) {
	case mcp.PingMethod:
		return d.result(req.ID, mcp.EmptyResult{})

	case mcp.InitializedNotificationMethod, mcp.CancelledNotificationMethod:
		return nil

	case mcp.InitializeMethod:
		// The transport only routes initialize to fresh sessions; seeing it
		// here means the client re-sent it on an established session.
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, "session already initialized", nil)

	case mcp.ToolsListMethod:
		return d.result(req.ID, mcp.ListToolsResult{Tools: d.set.List()})

	case mcp.ToolsCallMethod:
		return d.callTool(ctx, sess, req)

	default:
		if req.IsNotification() {
			d.log.DebugContext(ctx, "rpc.notification.ignored")
			return nil
		}
		d.log.InfoContext(ctx, "rpc.method.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found", req.Method)
	}
}

func (d *Dispatcher) callTool(ctx context.Context, sess *sessions.Session, req *jsonrpc.Request) *jsonrpc.Response {
	var call mcp.CallToolRequest
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil)
	}

	ctx = logctx.WithToolData(ctx, &logctx.ToolData{Name: call.Name})

	handler, ok := d.set.Lookup(call.Name)
	if !ok {
		d.log.InfoContext(ctx, "tool.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found", call.Name)
	}

	args, err := d.decodeArguments(call.Name, call.Arguments)
	if err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
	}

	res, err := handler(ctx, sess, args)
	if err != nil {
		return d.normalizeError(ctx, sess, req.ID, err)
	}
	d.log.InfoContext(ctx, "tool.call.ok")
	return d.result(req.ID, res)
}

// decodeArguments parses the raw argument object and applies the tool's
// declared defaults for absent keys. Defaults live in one table here, not
// scattered through handler bodies.
func (d *Dispatcher) decodeArguments(name string, raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("arguments must be an object: %v", err)
		}
	}
	for k, v := range d.set.Defaults(name) {
		if _, present := args[k]; !present {
			args[k] = v
		}
	}
	return args, nil
}

// normalizeError maps a handler failure onto the dispatcher's external
// contract. Protocol-level errors pass through unchanged; everything else is
// flattened into a single generic envelope so internal error shapes never
// leak. Normalized failures are also surfaced on the session's listen
// stream as a logging notification, best-effort.
func (d *Dispatcher) normalizeError(ctx context.Context, sess *sessions.Session, id *jsonrpc.RequestID, err error) *jsonrpc.Response {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		d.log.InfoContext(ctx, "tool.call.rejected", slog.String("err", rpcErr.Message))
		return &jsonrpc.Response{JSONRPCVersion: jsonrpc.ProtocolVersion, Error: rpcErr, ID: id}
	}

	var details any = err.Error()
	var apiErr *pocketbase.APIError
	if errors.As(err, &apiErr) {
		details = apiErr.Details()
	}

	msg := fmt.Sprintf("operation failed: %s", errtree.Flatten(details))
	d.log.WarnContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
	d.pushLog(ctx, sess, "error", msg)
	return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, msg, nil)
}

// pushLog publishes a notifications/message on the session's listen stream.
// Delivery is best-effort: with no listener attached the message is dropped.
func (d *Dispatcher) pushLog(ctx context.Context, sess *sessions.Session, level, data string) {
	note := struct {
		JSONRPCVersion string                         `json:"jsonrpc"`
		Method         string                         `json:"method"`
		Params         mcp.LoggingMessageNotification `json:"params"`
	}{
		JSONRPCVersion: jsonrpc.ProtocolVersion,
		Method:         string(mcp.LoggingMessageNotificationMethod),
		Params:         mcp.LoggingMessageNotification{Level: level, Data: data, Logger: "pbmcp"},
	}
	b, err := json.Marshal(note)
	if err != nil {
		return
	}
	if err := sess.Push(b); err != nil {
		d.log.DebugContext(ctx, "notification.push.skip", slog.String("err", err.Error()))
	}
}

func (d *Dispatcher) result(id *jsonrpc.RequestID, v any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, v)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
	}
	return resp
}
