package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/pbserve/pbmcp/mcp"
	"github.com/pbserve/pbmcp/sessions"
)

func newTestSession(t *testing.T) *sessions.Session {
	t.Helper()
	s, err := sessions.NewRegistry().Create(func(*sessions.Session) sessions.Handler { return nil })
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return s
}

type echoArgs struct {
	Message string `json:"message" jsonschema:"description=Text to echo back"`
	Repeat  int    `json:"repeat,omitempty" jsonschema:"description=Repetition count"`
}

func echoTool() Tool {
	return New("echo", "Echoes a message.", map[string]any{"repeat": 1},
		func(ctx context.Context, sess *sessions.Session, args echoArgs) (*mcp.CallToolResult, error) {
			return TextResult(strings.Repeat(args.Message, args.Repeat)), nil
		})
}

func TestReflectedInputSchema(t *testing.T) {
	tool := echoTool()
	schema := tool.Descriptor.InputSchema

	if want, got := "object", schema.Type; want != got {
		t.Errorf("Unexpected schema type: want %q, got %q", want, got)
	}
	msg, ok := schema.Properties["message"]
	if !ok {
		t.Fatal("Schema missing message property")
	}
	if want, got := "string", msg.Type; want != got {
		t.Errorf("Unexpected message type: want %q, got %q", want, got)
	}
	if msg.Description == "" {
		t.Error("Message property lost its description")
	}
	rep, ok := schema.Properties["repeat"]
	if !ok {
		t.Fatal("Schema missing repeat property")
	}
	if rep.Default != 1 {
		t.Errorf("Declared default not annotated on schema: got %v", rep.Default)
	}

	var hasMessage bool
	for _, r := range schema.Required {
		if r == "message" {
			hasMessage = true
		}
		if r == "repeat" {
			t.Error("Optional field must not be required")
		}
	}
	if !hasMessage {
		t.Errorf("Required list missing message: %v", schema.Required)
	}
}

func TestHandlerRejectsUnknownArguments(t *testing.T) {
	tool := echoTool()
	sess := newTestSession(t)

	res, err := tool.Handler(context.Background(), sess, map[string]any{"message": "hi", "repeat": 1, "bogus": true})
	if err != nil {
		t.Fatalf("Handler returned protocol error: %v", err)
	}
	if !res.IsError {
		t.Fatal("Unknown argument should produce an error result")
	}
	if len(res.Content) == 0 || !strings.Contains(res.Content[0].Text, "invalid arguments") {
		t.Errorf("Unexpected error content: %+v", res.Content)
	}
}

func TestHandlerDecodesNumericArguments(t *testing.T) {
	tool := echoTool()
	sess := newTestSession(t)

	// JSON numbers arrive as float64; whole values must decode into int
	// fields without weak typing.
	res, err := tool.Handler(context.Background(), sess, map[string]any{"message": "ab", "repeat": float64(2)})
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	if res.IsError {
		t.Fatalf("Unexpected error result: %+v", res.Content)
	}
	if want, got := "abab", res.Content[0].Text; want != got {
		t.Errorf("Want %q, got %q", want, got)
	}
}

func TestSetListRegistrationOrder(t *testing.T) {
	set := NewPocketBaseSet(BackendConfig{URL: "http://127.0.0.1:1"})

	want := []string{
		"authenticate",
		"list_collections",
		"get_collection",
		"list_records",
		"get_record",
		"create_record",
		"update_record",
		"delete_record",
		"import_records",
		"list_logs",
		"get_log",
	}

	for i := 0; i < 3; i++ {
		got := set.List()
		if len(got) != len(want) {
			t.Fatalf("Want %d tools, got %d", len(want), len(got))
		}
		for i, w := range want {
			if got[i].Name != w {
				t.Errorf("Position %d: want %q, got %q", i, w, got[i].Name)
			}
		}
	}
}

func TestSetDefaults(t *testing.T) {
	set := NewPocketBaseSet(BackendConfig{URL: "http://127.0.0.1:1"})

	d := set.Defaults("list_records")
	if d["page"] != 1 || d["perPage"] != 30 {
		t.Errorf("Unexpected list defaults: %v", d)
	}
	if got := set.Defaults("import_records")["mode"]; got != "create" {
		t.Errorf("Unexpected import mode default: %v", got)
	}
	if set.Defaults("get_record") != nil {
		t.Error("get_record should have no defaults")
	}
}
