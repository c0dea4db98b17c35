package tools

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pbserve/pbmcp/internal/jsonrpc"
	"github.com/pbserve/pbmcp/mcp"
	"github.com/pbserve/pbmcp/pocketbase"
	"github.com/pbserve/pbmcp/sessions"
)

// BackendConfig locates the PocketBase instance the tools operate on.
// AdminIdentity/AdminPassword are optional; when set, tools authenticate
// lazily whenever a session has no valid cached token.
type BackendConfig struct {
	URL           string
	AdminIdentity string
	AdminPassword string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// pbTools carries the backend config shared by every handler. Per-session
// state (the client handle and its token) lives in the session, never here.
type pbTools struct {
	cfg BackendConfig
}

// NewPocketBaseSet builds the full operation registry for a PocketBase
// backend. Registration order is the order tools are listed to agents.
func NewPocketBaseSet(cfg BackendConfig) *Set {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &pbTools{cfg: cfg}

	listDefaults := map[string]any{"page": 1, "perPage": 30}

	return NewSet(
		New("authenticate",
			"Authenticate against the PocketBase instance as a superuser and cache the token for this session.",
			nil, t.authenticate),
		New("list_collections",
			"List collection definitions, paged.",
			listDefaults, t.listCollections),
		New("get_collection",
			"Fetch one collection definition by id or name.",
			nil, t.getCollection),
		New("list_records",
			"List records from a collection with optional filter, sort, and relation expansion.",
			listDefaults, t.listRecords),
		New("get_record",
			"Fetch one record by id.",
			nil, t.getRecord),
		New("create_record",
			"Create a record in a collection.",
			nil, t.createRecord),
		New("update_record",
			"Update an existing record by id.",
			nil, t.updateRecord),
		New("delete_record",
			"Delete a record by id.",
			nil, t.deleteRecord),
		New("import_records",
			"Import multiple records into a collection. Mode create inserts, update patches by id, upsert updates and falls back to create only when the record does not exist.",
			map[string]any{"mode": importModeCreate}, t.importRecords),
		New("list_logs",
			"List request log entries, paged. Requires superuser auth.",
			listDefaults, t.listLogs),
		New("get_log",
			"Fetch one request log entry by id. Requires superuser auth.",
			nil, t.getLog),
	)
}

// backend returns the session's cached client, creating it on first use and
// refreshing auth from the configured credentials when the cached token is
// missing or about to expire.
func (t *pbTools) backend(ctx context.Context, sess *sessions.Session) (*pocketbase.Client, error) {
	pb := sess.State().Backend()
	if pb == nil {
		opts := []pocketbase.Option{pocketbase.WithLogger(t.cfg.Logger)}
		if t.cfg.HTTPClient != nil {
			opts = append(opts, pocketbase.WithHTTPClient(t.cfg.HTTPClient))
		}
		var err error
		pb, err = pocketbase.New(t.cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		sess.State().SetBackend(pb)
	}

	if !pb.TokenValid() && t.cfg.AdminIdentity != "" {
		if _, err := pb.AuthWithPassword(ctx, t.cfg.AdminIdentity, t.cfg.AdminPassword); err != nil {
			return nil, fmt.Errorf("admin auth: %w", err)
		}
	}
	return pb, nil
}

type authenticateArgs struct {
	Identity string `json:"identity" jsonschema:"description=Superuser email"`
	Password string `json:"password" jsonschema:"description=Superuser password"`
}

func (t *pbTools) authenticate(ctx context.Context, sess *sessions.Session, args authenticateArgs) (*mcp.CallToolResult, error) {
	if args.Identity == "" || args.Password == "" {
		return nil, jsonrpc.Errorf(jsonrpc.ErrorCodeInvalidParams, "identity and password are required")
	}
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	res, err := pb.AuthWithPassword(ctx, args.Identity, args.Password)
	if err != nil {
		return nil, err
	}
	return TextResult(fmt.Sprintf("authenticated as %s (record %s)", args.Identity, res.Record.ID())), nil
}

type listCollectionsArgs struct {
	Page    int    `json:"page,omitempty" jsonschema:"description=Page number (1-based)"`
	PerPage int    `json:"perPage,omitempty" jsonschema:"description=Items per page"`
	Filter  string `json:"filter,omitempty" jsonschema:"description=PocketBase filter expression"`
	Sort    string `json:"sort,omitempty" jsonschema:"description=Sort expression; prefix a field with - for descending"`
}

func (t *pbTools) listCollections(ctx context.Context, sess *sessions.Session, args listCollectionsArgs) (*mcp.CallToolResult, error) {
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	res, err := pb.ListCollections(ctx, pocketbase.ListOptions{
		Page: args.Page, PerPage: args.PerPage, Filter: args.Filter, Sort: args.Sort,
	})
	if err != nil {
		return nil, err
	}
	return JSONResult(res)
}

type getCollectionArgs struct {
	NameOrID string `json:"nameOrId" jsonschema:"description=Collection id or name"`
}

func (t *pbTools) getCollection(ctx context.Context, sess *sessions.Session, args getCollectionArgs) (*mcp.CallToolResult, error) {
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	res, err := pb.GetCollection(ctx, args.NameOrID)
	if err != nil {
		return nil, err
	}
	return JSONResult(res)
}

type listRecordsArgs struct {
	Collection string `json:"collection" jsonschema:"description=Collection id or name"`
	Page       int    `json:"page,omitempty" jsonschema:"description=Page number (1-based)"`
	PerPage    int    `json:"perPage,omitempty" jsonschema:"description=Items per page"`
	Filter     string `json:"filter,omitempty" jsonschema:"description=PocketBase filter expression"`
	Sort       string `json:"sort,omitempty" jsonschema:"description=Sort expression; prefix a field with - for descending"`
	Expand     string `json:"expand,omitempty" jsonschema:"description=Comma-separated relations to expand"`
}

func (t *pbTools) listRecords(ctx context.Context, sess *sessions.Session, args listRecordsArgs) (*mcp.CallToolResult, error) {
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	res, err := pb.ListRecords(ctx, args.Collection, pocketbase.ListOptions{
		Page: args.Page, PerPage: args.PerPage, Filter: args.Filter, Sort: args.Sort, Expand: args.Expand,
	})
	if err != nil {
		return nil, err
	}
	return JSONResult(res)
}

type getRecordArgs struct {
	Collection string `json:"collection" jsonschema:"description=Collection id or name"`
	ID         string `json:"id" jsonschema:"description=Record id"`
	Expand     string `json:"expand,omitempty" jsonschema:"description=Comma-separated relations to expand"`
}

func (t *pbTools) getRecord(ctx context.Context, sess *sessions.Session, args getRecordArgs) (*mcp.CallToolResult, error) {
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	res, err := pb.GetRecord(ctx, args.Collection, args.ID, args.Expand)
	if err != nil {
		return nil, err
	}
	return JSONResult(res)
}

type createRecordArgs struct {
	Collection string         `json:"collection" jsonschema:"description=Collection id or name"`
	Data       map[string]any `json:"data" jsonschema:"description=Record fields"`
}

func (t *pbTools) createRecord(ctx context.Context, sess *sessions.Session, args createRecordArgs) (*mcp.CallToolResult, error) {
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	res, err := pb.CreateRecord(ctx, args.Collection, args.Data)
	if err != nil {
		return nil, err
	}
	return JSONResult(res)
}

type updateRecordArgs struct {
	Collection string         `json:"collection" jsonschema:"description=Collection id or name"`
	ID         string         `json:"id" jsonschema:"description=Record id"`
	Data       map[string]any `json:"data" jsonschema:"description=Fields to update"`
}

func (t *pbTools) updateRecord(ctx context.Context, sess *sessions.Session, args updateRecordArgs) (*mcp.CallToolResult, error) {
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	res, err := pb.UpdateRecord(ctx, args.Collection, args.ID, args.Data)
	if err != nil {
		return nil, err
	}
	return JSONResult(res)
}

type deleteRecordArgs struct {
	Collection string `json:"collection" jsonschema:"description=Collection id or name"`
	ID         string `json:"id" jsonschema:"description=Record id"`
}

func (t *pbTools) deleteRecord(ctx context.Context, sess *sessions.Session, args deleteRecordArgs) (*mcp.CallToolResult, error) {
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := pb.DeleteRecord(ctx, args.Collection, args.ID); err != nil {
		return nil, err
	}
	return TextResult(fmt.Sprintf("deleted record %s from %s", args.ID, args.Collection)), nil
}

const (
	importModeCreate = "create"
	importModeUpdate = "update"
	importModeUpsert = "upsert"
)

type importRecordsArgs struct {
	Collection string           `json:"collection" jsonschema:"description=Collection id or name"`
	Records    []map[string]any `json:"records" jsonschema:"description=Record objects to import; update and upsert read each record's id field"`
	Mode       string           `json:"mode,omitempty" jsonschema:"description=Import mode,enum=create,enum=update,enum=upsert"`
}

type importOutcome struct {
	Index  int    `json:"index"`
	Action string `json:"action"`
	ID     string `json:"id,omitzero"`
}

// importRecords applies records one at a time and stops at the first
// failure. Upsert falls back from update to create only when the backend
// reported the record missing; any other update failure surfaces as-is
// rather than being masked as a create.
func (t *pbTools) importRecords(ctx context.Context, sess *sessions.Session, args importRecordsArgs) (*mcp.CallToolResult, error) {
	switch args.Mode {
	case importModeCreate, importModeUpdate, importModeUpsert:
	default:
		return nil, jsonrpc.Errorf(jsonrpc.ErrorCodeInvalidParams, "invalid import mode %q", args.Mode)
	}
	if len(args.Records) == 0 {
		return nil, jsonrpc.Errorf(jsonrpc.ErrorCodeInvalidParams, "records must not be empty")
	}

	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}

	outcomes := make([]importOutcome, 0, len(args.Records))
	for i, rec := range args.Records {
		id, _ := rec["id"].(string)
		var out importOutcome
		switch args.Mode {
		case importModeCreate:
			out, err = importCreate(ctx, pb, args.Collection, i, rec)
		case importModeUpdate:
			out, err = importUpdate(ctx, pb, args.Collection, i, id, rec)
		case importModeUpsert:
			out, err = importUpdate(ctx, pb, args.Collection, i, id, rec)
			if err != nil && (id == "" || pocketbase.IsNotFound(err)) {
				out, err = importCreate(ctx, pb, args.Collection, i, rec)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		outcomes = append(outcomes, out)
	}
	return JSONResult(map[string]any{"imported": len(outcomes), "results": outcomes})
}

func importCreate(ctx context.Context, pb *pocketbase.Client, collection string, idx int, rec map[string]any) (importOutcome, error) {
	created, err := pb.CreateRecord(ctx, collection, rec)
	if err != nil {
		return importOutcome{}, err
	}
	return importOutcome{Index: idx, Action: importModeCreate, ID: created.ID()}, nil
}

func importUpdate(ctx context.Context, pb *pocketbase.Client, collection string, idx int, id string, rec map[string]any) (importOutcome, error) {
	if id == "" {
		return importOutcome{}, fmt.Errorf("missing id for update")
	}
	updated, err := pb.UpdateRecord(ctx, collection, id, rec)
	if err != nil {
		return importOutcome{}, err
	}
	return importOutcome{Index: idx, Action: importModeUpdate, ID: updated.ID()}, nil
}

type listLogsArgs struct {
	Page    int    `json:"page,omitempty" jsonschema:"description=Page number (1-based)"`
	PerPage int    `json:"perPage,omitempty" jsonschema:"description=Items per page"`
	Filter  string `json:"filter,omitempty" jsonschema:"description=PocketBase filter expression"`
	Sort    string `json:"sort,omitempty" jsonschema:"description=Sort expression; prefix a field with - for descending"`
}

func (t *pbTools) listLogs(ctx context.Context, sess *sessions.Session, args listLogsArgs) (*mcp.CallToolResult, error) {
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	res, err := pb.ListLogs(ctx, pocketbase.ListOptions{
		Page: args.Page, PerPage: args.PerPage, Filter: args.Filter, Sort: args.Sort,
	})
	if err != nil {
		return nil, err
	}
	return JSONResult(res)
}

type getLogArgs struct {
	ID string `json:"id" jsonschema:"description=Log entry id"`
}

func (t *pbTools) getLog(ctx context.Context, sess *sessions.Session, args getLogArgs) (*mcp.CallToolResult, error) {
	pb, err := t.backend(ctx, sess)
	if err != nil {
		return nil, err
	}
	res, err := pb.GetLog(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	return JSONResult(res)
}
