package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/pbserve/pbmcp/internal/dispatch"
	"github.com/pbserve/pbmcp/internal/jsonrpc"
	"github.com/pbserve/pbmcp/internal/logctx"
	"github.com/pbserve/pbmcp/mcp"
	"github.com/pbserve/pbmcp/sessions"
	"github.com/pbserve/pbmcp/tools"
)

var _ http.Handler = (*Handler)(nil)

const (
	mcpSessionIDHeader       = "Mcp-Session-Id"
	mcpProtocolVersionHeader = "Mcp-Protocol-Version"
)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	jsonMediaTypes        = []contenttype.MediaType{jsonMediaType}
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

// Handler serves the streamable HTTP transport on one base path. It owns
// the session registry and binds a fresh dispatcher to every session it
// creates.
type Handler struct {
	mux      *http.ServeMux
	log      *slog.Logger
	registry *sessions.Registry
	set      *tools.Set

	serverInfo mcp.ImplementationInfo
	path       string
}

// Option configures a Handler.
type Option func(*newConfig)

type newConfig struct {
	logger     *slog.Logger
	serverInfo mcp.ImplementationInfo
}

// WithLogger sets the slog logger used by the handler. Log records are
// enriched with request/session/RPC context via logctx.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithServerInfo sets the implementation info advertised at initialize.
func WithServerInfo(info mcp.ImplementationInfo) Option {
	return func(c *newConfig) { c.serverInfo = info }
}

// New constructs a Handler serving path (e.g. "/mcp") over the given
// operation registry.
func New(path string, set *tools.Set, opts ...Option) (*Handler, error) {
	if set == nil {
		return nil, fmt.Errorf("tool set is required")
	}
	if path == "" || !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("invalid endpoint path %q", path)
	}

	cfg := &newConfig{
		logger:     slog.Default(),
		serverInfo: mcp.ImplementationInfo{Name: "pbmcp", Version: "dev"},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	log := slog.New(logctx.Handler{Handler: cfg.logger.Handler()})

	h := &Handler{
		log:        log,
		set:        set,
		serverInfo: cfg.serverInfo,
		path:       path,
		registry:   sessions.NewRegistry(sessions.WithLogger(log)),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.handlePost(w, r)
		case http.MethodGet:
			h.handleGet(w, r)
		case http.MethodDelete:
			h.handleDelete(w, r)
		default:
			w.Header().Set("Allow", "DELETE, GET, POST")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		}
	})
	h.mux = mux
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r.WithContext(logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})))
}

// writeRPCError emits the fixed transport rejection envelope with a null id.
func writeRPCError(w http.ResponseWriter, status int, code jsonrpc.ErrorCode, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(jsonrpc.NewErrorResponse(nil, code, msg, nil))
}

// checkProtocolVersion validates the Mcp-Protocol-Version header against the
// supported set, for every verb including handshakes. An absent header means
// the documented default and is always fine.
func (h *Handler) checkProtocolVersion(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	pv := r.Header.Get(mcpProtocolVersionHeader)
	if pv == "" || mcp.IsSupportedProtocolVersion(pv) {
		return true
	}
	h.log.WarnContext(ctx, "protocol.version.unsupported", slog.String("client_version", pv))
	writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeUnsupportedVersion,
		fmt.Sprintf("unsupported protocol version %q (supported: %s)", pv, strings.Join(mcp.SupportedProtocolVersions, ", ")))
	return false
}

// handlePost is the write channel: it accepts call envelopes for existing
// sessions and the initialize handshake that creates one.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	// The write channel answers either with a bare JSON body or an event
	// stream, so the client must be able to accept both.
	if _, _, err := contenttype.GetAcceptableMediaType(r, jsonMediaTypes); err != nil {
		h.log.WarnContext(ctx, "accept.not_acceptable", slog.String("accept", r.Header.Get("Accept")))
		writeRPCError(w, http.StatusNotAcceptable, jsonrpc.ErrorCodeNotAcceptable,
			"client must accept both application/json and text/event-stream")
		return
	}
	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		h.log.WarnContext(ctx, "accept.not_acceptable", slog.String("accept", r.Header.Get("Accept")))
		writeRPCError(w, http.StatusNotAcceptable, jsonrpc.ErrorCodeNotAcceptable,
			"client must accept both application/json and text/event-stream")
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		h.log.WarnContext(ctx, "content_type.unsupported")
		writeRPCError(w, http.StatusUnsupportedMediaType, jsonrpc.ErrorCodeInvalidRequest,
			"content-type must be application/json")
		return
	}

	if !h.checkProtocolVersion(ctx, w, r) {
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeParseError, "invalid JSON body")
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest,
			"JSON-RPC batch arrays are forbidden on streamable HTTP transport")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest,
			"invalid JSON-RPC message: "+err.Error())
		return
	}

	ctx = logctx.WithRPCData(ctx, &logctx.RPCData{Method: msg.Method, ID: msg.ID.String(), Type: msg.Type()})

	if sessID := r.Header.Get(mcpSessionIDHeader); sessID != "" {
		h.handleSessionPost(ctx, w, r, sessID, &msg, start)
		return
	}
	h.handleInitialize(ctx, w, &msg, start)
}

// handleInitialize performs the handshake: the only POST allowed without a
// session id. The session id is surfaced to the caller only once the
// channel confirms activation.
func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != string(mcp.InitializeMethod) {
		h.log.InfoContext(ctx, "session.id.required")
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest,
			"Mcp-Session-Id header is required for non-initialize requests")
		return
	}

	var initReq mcp.InitializeRequest
	if err := json.Unmarshal(req.Params, &initReq); err != nil {
		h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params")
		return
	}

	d := dispatch.New(h.set, dispatch.WithLogger(h.log), dispatch.WithServerInfo(h.serverInfo))
	sess, err := h.registry.Create(func(*sessions.Session) sessions.Handler { return d })
	if err != nil {
		h.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to create session")
		return
	}

	initRes := d.Initialize(&initReq)
	sess.SetProtocolVersion(initRes.ProtocolVersion)

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		_ = sess.Channel().Close()
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to encode initialize response")
		return
	}

	// Publishes the id -> session mapping; the id goes on the wire only
	// after this succeeds.
	if err := sess.Channel().Activate(); err != nil {
		h.log.ErrorContext(ctx, "session.activate.fail", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusInternalServerError, jsonrpc.ErrorCodeInternalError, "failed to activate session")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.Channel().State()),
	})

	w.Header().Set(mcpSessionIDHeader, sess.ID())
	w.Header().Set(mcpProtocolVersionHeader, initRes.ProtocolVersion)
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleSessionPost routes a call envelope to an existing session's channel.
func (h *Handler) handleSessionPost(ctx context.Context, w http.ResponseWriter, r *http.Request, sessID string, msg *jsonrpc.AnyMessage, start time.Time) {
	sess, err := h.registry.Get(sessID)
	if err != nil {
		h.log.InfoContext(ctx, "session.load.miss")
		writeRPCError(w, http.StatusNotFound, jsonrpc.ErrorCodeSessionNotFound, "session not found")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.Channel().State()),
	})

	req := msg.AsRequest()
	if req == nil {
		// A client-to-server response; nothing awaits one, acknowledge it.
		h.log.InfoContext(ctx, "response.inbound.ignored")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if req.IsNotification() {
		_ = sess.Handle(ctx, req)
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	wf := &lockedWriteFlusher{w: w, f: f, ctx: ctx}

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	resp := sess.Handle(ctx, req)
	if resp == nil {
		resp = jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}
	b, err := json.Marshal(resp)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := writeSSEEvent(wf, b); err != nil {
		h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// handleGet is the listen channel: it attaches the session's single live
// event stream and relays server-to-client pushes in production order.
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		writeRPCError(w, http.StatusMethodNotAllowed, jsonrpc.ErrorCodeNotAcceptable,
			"listen channel requires accepting text/event-stream")
		return
	}

	if !h.checkProtocolVersion(ctx, w, r) {
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "session.id.missing")
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "invalid or missing session id")
		return
	}
	sess, err := h.registry.Get(sessID)
	if err != nil {
		h.log.InfoContext(ctx, "session.load.miss")
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "invalid or missing session id")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.Channel().State()),
	})

	f, ok := w.(http.Flusher)
	if !ok {
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	wf := &lockedWriteFlusher{w: w, f: f, ctx: ctx}

	stream, release, err := sess.Channel().AttachListener()
	if err != nil {
		if errors.Is(err, sessions.ErrListenerAttached) {
			h.log.WarnContext(ctx, "sse.listener.conflict")
			writeRPCError(w, http.StatusConflict, jsonrpc.ErrorCodeInvalidRequest, "a listen stream is already attached")
			return
		}
		h.log.InfoContext(ctx, "sse.attach.fail", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "invalid or missing session id")
		return
	}
	defer release()

	w.Header().Set(mcpProtocolVersionHeader, sess.ProtocolVersion())
	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")
	for {
		select {
		case <-ctx.Done():
			h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
			return
		case msg, open := <-stream:
			if !open {
				// Channel closed; the session is gone.
				h.log.InfoContext(ctx, "sse.stream.closed", slog.Duration("dur", time.Since(start)))
				return
			}
			if err := writeSSEEvent(wf, msg); err != nil {
				h.log.ErrorContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
				return
			}
			h.log.DebugContext(ctx, "sse.message.deliver")
		}
	}
}

// handleDelete terminates a session: dispatcher and channel are closed,
// then the registry mapping is removed, atomically from the client's point
// of view.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	if !h.checkProtocolVersion(ctx, w, r) {
		return
	}

	sessID := r.Header.Get(mcpSessionIDHeader)
	if sessID == "" {
		h.log.WarnContext(ctx, "session.id.missing")
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "invalid or missing session id")
		return
	}
	sess, err := h.registry.Get(sessID)
	if err != nil {
		h.log.InfoContext(ctx, "session.delete.miss")
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "invalid or missing session id")
		return
	}

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		SessionID:       sess.ID(),
		ProtocolVersion: sess.ProtocolVersion(),
		State:           string(sess.Channel().State()),
	})

	if err := sess.Channel().Close(); err != nil {
		h.log.InfoContext(ctx, "session.delete.race", slog.String("err", err.Error()))
		writeRPCError(w, http.StatusBadRequest, jsonrpc.ErrorCodeInvalidRequest, "invalid or missing session id")
		return
	}

	w.WriteHeader(http.StatusOK)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// lockedWriteFlusher serializes writes/flushes to an SSE response and stops
// writing once the request context is canceled.
type lockedWriteFlusher struct {
	w   io.Writer
	f   http.Flusher
	mu  sync.Mutex
	ctx context.Context
}

func (l *lockedWriteFlusher) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return 0, l.ctx.Err()
	}
	return l.w.Write(p)
}

func (l *lockedWriteFlusher) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ctx != nil && l.ctx.Err() != nil {
		return
	}
	l.f.Flush()
}

// writeSSEEvent frames one payload as a Server-Sent Event and flushes it.
func writeSSEEvent(wf *lockedWriteFlusher, payload []byte) error {
	if _, err := wf.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("failed to write SSE data prefix: %w", err)
	}
	if _, err := wf.Write(payload); err != nil {
		return fmt.Errorf("failed to write SSE payload: %w", err)
	}
	if _, err := wf.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("failed to write SSE frame terminator: %w", err)
	}
	wf.Flush()
	return nil
}
