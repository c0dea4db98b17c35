package tools

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pbserve/pbmcp/internal/jsonrpc"
	"github.com/pbserve/pbmcp/mcp"
	"github.com/pbserve/pbmcp/sessions"
)

// fakeBackend records the record operations it saw. Records with an id in
// existing answer PATCH; everything else 404s.
type fakeBackend struct {
	existing map[string]bool
	ops      []string
	patchErr int
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/records"):
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.ops = append(f.ops, "create")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "new-id", "name": body["name"]})
	case r.Method == http.MethodPatch:
		id := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		f.ops = append(f.ops, "update:"+id)
		if f.patchErr != 0 {
			w.WriteHeader(f.patchErr)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": f.patchErr, "message": "Something went wrong while processing your request."})
			return
		}
		if !f.existing[id] {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": 404, "message": "The requested resource wasn't found."})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	default:
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": 404, "message": "Missing or invalid route."})
	}
}

func importSetup(t *testing.T, fb *fakeBackend) (Handler, *sessions.Session) {
	t.Helper()
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	set := NewPocketBaseSet(BackendConfig{URL: srv.URL})
	h, ok := set.Lookup("import_records")
	if !ok {
		t.Fatal("import_records not registered")
	}
	return h, newTestSession(t)
}

func decodeImportResult(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	if res.IsError {
		t.Fatalf("Unexpected error result: %+v", res.Content)
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(res.Content[0].Text), &out); err != nil {
		t.Fatalf("Failed to decode import result: %v", err)
	}
	return out
}

func TestImportRecordsCreate(t *testing.T) {
	fb := &fakeBackend{}
	h, sess := importSetup(t, fb)

	res, err := h(context.Background(), sess, map[string]any{
		"collection": "posts",
		"mode":       "create",
		"records":    []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	out := decodeImportResult(t, res)
	if out["imported"] != float64(2) {
		t.Errorf("Want 2 imported, got %v", out["imported"])
	}
	if want := []string{"create", "create"}; len(fb.ops) != 2 || fb.ops[0] != want[0] || fb.ops[1] != want[1] {
		t.Errorf("Unexpected backend ops: %v", fb.ops)
	}
}

func TestImportRecordsUpsertFallsBackOnlyOnMissing(t *testing.T) {
	fb := &fakeBackend{existing: map[string]bool{"r1": true}}
	h, sess := importSetup(t, fb)

	res, err := h(context.Background(), sess, map[string]any{
		"collection": "posts",
		"mode":       "upsert",
		"records": []any{
			map[string]any{"id": "r1", "name": "kept"},
			map[string]any{"id": "r2", "name": "fresh"},
			map[string]any{"name": "no-id"},
		},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	out := decodeImportResult(t, res)
	results := out["results"].([]any)
	wantActions := []string{"update", "create", "create"}
	for i, w := range wantActions {
		got := results[i].(map[string]any)["action"]
		if got != w {
			t.Errorf("Record %d: want action %q, got %v", i, w, got)
		}
	}

	// r1 patched in place; r2 patched, 404'd, then created; the id-less
	// record went straight to create without touching the update route.
	want := []string{"update:r1", "update:r2", "create", "create"}
	if len(fb.ops) != len(want) {
		t.Fatalf("Unexpected backend ops: %v", fb.ops)
	}
	for i, w := range want {
		if fb.ops[i] != w {
			t.Errorf("Op %d: want %q, got %q", i, w, fb.ops[i])
		}
	}
}

func TestImportRecordsUpsertDoesNotMaskUpdateErrors(t *testing.T) {
	fb := &fakeBackend{patchErr: http.StatusBadRequest}
	h, sess := importSetup(t, fb)

	_, err := h(context.Background(), sess, map[string]any{
		"collection": "posts",
		"mode":       "upsert",
		"records":    []any{map[string]any{"id": "r1", "name": "x"}},
	})
	if err == nil {
		t.Fatal("Expected the update failure to surface")
	}
	if !strings.Contains(err.Error(), "record 0") {
		t.Errorf("Error should name the failing record: %v", err)
	}
	for _, op := range fb.ops {
		if op == "create" {
			t.Error("A non-404 update failure must not fall back to create")
		}
	}
}

func TestImportRecordsStopsAtFirstFailure(t *testing.T) {
	fb := &fakeBackend{}
	h, sess := importSetup(t, fb)

	_, err := h(context.Background(), sess, map[string]any{
		"collection": "posts",
		"mode":       "update",
		"records": []any{
			map[string]any{"id": "missing", "name": "a"},
			map[string]any{"id": "also-missing", "name": "b"},
		},
	})
	if err == nil {
		t.Fatal("Expected update of a missing record to fail")
	}
	if len(fb.ops) != 1 {
		t.Errorf("Import must stop at the first failure, backend saw: %v", fb.ops)
	}
}

func TestImportRecordsInvalidMode(t *testing.T) {
	fb := &fakeBackend{}
	h, sess := importSetup(t, fb)

	_, err := h(context.Background(), sess, map[string]any{
		"collection": "posts",
		"mode":       "merge",
		"records":    []any{map[string]any{"name": "a"}},
	})
	var rpcErr *jsonrpc.Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("Want a protocol error, got %v", err)
	}
	if want, got := jsonrpc.ErrorCodeInvalidParams, rpcErr.Code; want != got {
		t.Errorf("Want code %d, got %d", want, got)
	}
}

func TestBackendIsCachedPerSession(t *testing.T) {
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	tl := &pbTools{cfg: BackendConfig{URL: srv.URL}}
	sess := newTestSession(t)

	pb1, err := tl.backend(context.Background(), sess)
	if err != nil {
		t.Fatalf("First backend call failed: %v", err)
	}
	pb2, err := tl.backend(context.Background(), sess)
	if err != nil {
		t.Fatalf("Second backend call failed: %v", err)
	}
	if pb1 != pb2 {
		t.Error("Backend client should be cached on the session")
	}

	other := newTestSession(t)
	pb3, err := tl.backend(context.Background(), other)
	if err != nil {
		t.Fatalf("Backend for second session failed: %v", err)
	}
	if pb3 == pb1 {
		t.Error("Sessions must not share backend clients")
	}
}
