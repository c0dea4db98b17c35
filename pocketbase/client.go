// Package pocketbase is a minimal HTTP client for the PocketBase API
// covering the surface the MCP tools need: superuser authentication,
// collection and record CRUD, and request log retrieval.
//
// A Client is cached inside a single session's state and is never shared
// across sessions, so the authentication token it holds is session-scoped.
package pocketbase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const superusersCollection = "_superusers"

// tokenLeeway is how close to expiry a cached token is still trusted.
// Refreshing slightly early avoids racing the backend's own clock.
const tokenLeeway = 30 * time.Second

// Client talks to one PocketBase instance. It is not safe for concurrent
// use; per-session serialization in the dispatcher is the guard.
type Client struct {
	baseURL *url.URL
	httpc   *http.Client
	log     *slog.Logger

	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// WithLogger sets the slog logger used for request-level debug logging.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// New constructs a Client for the PocketBase instance at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pocketbase URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("pocketbase URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
	}

	c := &Client{
		baseURL: u,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the configured instance URL.
func (c *Client) BaseURL() string { return c.baseURL.String() }

// Token returns the cached auth token, or "" when unauthenticated.
func (c *Client) Token() string { return c.token }

// SetToken installs a previously obtained auth token.
func (c *Client) SetToken(tok string) { c.token = tok }

// ClearToken drops the cached auth token.
func (c *Client) ClearToken() { c.token = "" }

// TokenValid reports whether the cached token exists and is not within
// tokenLeeway of its exp claim. The signature is not verified; only the
// backend can do that, and it will reject the token anyway if we are wrong.
func (c *Client) TokenValid() bool {
	if c.token == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) > tokenLeeway
}

// AuthResult is the response of an auth-with-password call.
type AuthResult struct {
	Token  string `json:"token"`
	Record Record `json:"record"`
}

// AuthWithPassword authenticates as a superuser and caches the returned
// token on the client.
func (c *Client) AuthWithPassword(ctx context.Context, identity, password string) (*AuthResult, error) {
	body := map[string]any{"identity": identity, "password": password}
	var res AuthResult
	path := fmt.Sprintf("/api/collections/%s/auth-with-password", superusersCollection)
	if err := c.send(ctx, http.MethodPost, path, nil, body, &res); err != nil {
		return nil, err
	}
	c.token = res.Token
	return &res, nil
}

// ListOptions carry the common paging and filtering query parameters.
type ListOptions struct {
	Page    int
	PerPage int
	Filter  string
	Sort    string
	Expand  string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.PerPage > 0 {
		q.Set("perPage", strconv.Itoa(o.PerPage))
	}
	if o.Filter != "" {
		q.Set("filter", o.Filter)
	}
	if o.Sort != "" {
		q.Set("sort", o.Sort)
	}
	if o.Expand != "" {
		q.Set("expand", o.Expand)
	}
	return q
}

// ListCollections returns a page of collection definitions.
func (c *Client) ListCollections(ctx context.Context, opts ListOptions) (*ListResult[Collection], error) {
	var res ListResult[Collection]
	if err := c.send(ctx, http.MethodGet, "/api/collections", opts.query(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetCollection fetches one collection by id or name.
func (c *Client) GetCollection(ctx context.Context, idOrName string) (*Collection, error) {
	var res Collection
	path := "/api/collections/" + url.PathEscape(idOrName)
	if err := c.send(ctx, http.MethodGet, path, nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListRecords returns a page of records from the named collection.
func (c *Client) ListRecords(ctx context.Context, collection string, opts ListOptions) (*ListResult[Record], error) {
	var res ListResult[Record]
	if err := c.send(ctx, http.MethodGet, recordsPath(collection), opts.query(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetRecord fetches one record by id.
func (c *Client) GetRecord(ctx context.Context, collection, id, expand string) (Record, error) {
	q := url.Values{}
	if expand != "" {
		q.Set("expand", expand)
	}
	var res Record
	if err := c.send(ctx, http.MethodGet, recordsPath(collection)+"/"+url.PathEscape(id), q, nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// CreateRecord inserts a record into the named collection.
func (c *Client) CreateRecord(ctx context.Context, collection string, data map[string]any) (Record, error) {
	var res Record
	if err := c.send(ctx, http.MethodPost, recordsPath(collection), nil, data, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateRecord patches an existing record.
func (c *Client) UpdateRecord(ctx context.Context, collection, id string, data map[string]any) (Record, error) {
	var res Record
	if err := c.send(ctx, http.MethodPatch, recordsPath(collection)+"/"+url.PathEscape(id), nil, data, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteRecord removes a record by id.
func (c *Client) DeleteRecord(ctx context.Context, collection, id string) error {
	return c.send(ctx, http.MethodDelete, recordsPath(collection)+"/"+url.PathEscape(id), nil, nil, nil)
}

// ListLogs returns a page of request log entries. Requires superuser auth.
func (c *Client) ListLogs(ctx context.Context, opts ListOptions) (*ListResult[LogEntry], error) {
	var res ListResult[LogEntry]
	if err := c.send(ctx, http.MethodGet, "/api/logs", opts.query(), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetLog fetches one request log entry by id.
func (c *Client) GetLog(ctx context.Context, id string) (*LogEntry, error) {
	var res LogEntry
	if err := c.send(ctx, http.MethodGet, "/api/logs/"+url.PathEscape(id), nil, nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func recordsPath(collection string) string {
	return "/api/collections/" + url.PathEscape(collection) + "/records"
}

// send performs one API round trip: marshals body (if any), attaches the
// cached token, and decodes either the success payload into out or the
// error payload into an *APIError.
//
// path arrives with its segments already percent-escaped, so it is installed
// as the URL's RawPath; leaving it on Path alone would make URL.String
// escape it a second time.
func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	escaped := strings.TrimSuffix(c.baseURL.EscapedPath(), "/") + path
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return fmt.Errorf("invalid request path %q: %w", path, err)
	}
	u := *c.baseURL
	u.Path = unescaped
	u.RawPath = escaped
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", c.token)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.log.DebugContext(ctx, "pb.request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("dur", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
