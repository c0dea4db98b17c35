// Package tools defines the static operation registry the dispatcher routes
// to: tool descriptors with reflected input schemas, their handlers, and the
// declarative argument-default table consulted once at the dispatch
// boundary.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"

	"github.com/pbserve/pbmcp/mcp"
	"github.com/pbserve/pbmcp/sessions"
)

// Handler executes one tool call. Arguments arrive as a decoded JSON object
// with the tool's declared defaults already applied.
type Handler func(ctx context.Context, sess *sessions.Session, args map[string]any) (*mcp.CallToolResult, error)

// Tool pairs a descriptor with its handler and default table.
type Tool struct {
	Descriptor mcp.Tool
	Defaults   map[string]any
	Handler    Handler
}

// Set is the static operation registry. It is built once at startup and
// shared read-only across every session's dispatcher; listing order is
// registration order, stable across calls.
type Set struct {
	tools    []mcp.Tool
	defaults map[string]map[string]any
	handlers map[string]Handler
}

// NewSet builds a Set from tool definitions. Duplicate names: last wins.
func NewSet(defs ...Tool) *Set {
	s := &Set{
		tools:    make([]mcp.Tool, 0, len(defs)),
		defaults: make(map[string]map[string]any, len(defs)),
		handlers: make(map[string]Handler, len(defs)),
	}
	for _, d := range defs {
		s.tools = append(s.tools, d.Descriptor)
		s.handlers[d.Descriptor.Name] = d.Handler
		if len(d.Defaults) > 0 {
			s.defaults[d.Descriptor.Name] = d.Defaults
		}
	}
	return s
}

// List returns the tool descriptors in registration order.
func (s *Set) List() []mcp.Tool {
	out := make([]mcp.Tool, len(s.tools))
	copy(out, s.tools)
	return out
}

// Lookup resolves a tool by name.
func (s *Set) Lookup(name string) (Handler, bool) {
	h, ok := s.handlers[name]
	return h, ok
}

// Defaults returns the declared default table for a tool, or nil.
func (s *Set) Defaults(name string) map[string]any {
	return s.defaults[name]
}

// New constructs a tool from a typed argument struct A. The input schema is
// reflected from A, and at call time the argument object is strictly decoded
// into A: unknown fields are rejected, not silently coerced.
func New[A any](name, description string, defaults map[string]any, fn func(ctx context.Context, sess *sessions.Session, args A) (*mcp.CallToolResult, error)) Tool {
	return Tool{
		Descriptor: mcp.Tool{
			Name:        name,
			Description: description,
			InputSchema: reflectInputSchema[A](defaults),
		},
		Defaults: defaults,
		Handler: func(ctx context.Context, sess *sessions.Session, args map[string]any) (*mcp.CallToolResult, error) {
			a, err := decodeArgs[A](args)
			if err != nil {
				return Errorf("invalid arguments: %v", err), nil
			}
			return fn(ctx, sess, a)
		},
	}
}

// decodeArgs strictly decodes a JSON argument object into A, reusing the
// struct's json tags and failing on unused keys.
func decodeArgs[A any](args map[string]any) (A, error) {
	var a A
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &a,
		TagName:          "json",
		ErrorUnused:      true,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return a, err
	}
	if err := dec.Decode(args); err != nil {
		return a, err
	}
	return a, nil
}

// reflectInputSchema reflects a Go struct A into the simplified tool input
// schema, annotating declared defaults on their properties.
func reflectInputSchema[A any](defaults map[string]any) mcp.ToolInputSchema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	s := r.Reflect(new(A))
	if s == nil || s.Type != "object" {
		return mcp.ToolInputSchema{Type: "object", Properties: map[string]mcp.SchemaProperty{}}
	}

	props := make(map[string]mcp.SchemaProperty)
	if s.Properties != nil {
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			p := toProperty(el.Value)
			if def, ok := defaults[el.Key]; ok {
				p.Default = def
			}
			props[el.Key] = p
		}
	}
	var required []string
	if len(s.Required) > 0 {
		required = append(required, s.Required...)
	}

	return mcp.ToolInputSchema{Type: "object", Properties: props, Required: required}
}

func toProperty(s *jsonschema.Schema) mcp.SchemaProperty {
	if s == nil {
		return mcp.SchemaProperty{}
	}
	p := mcp.SchemaProperty{Type: s.Type, Description: s.Description}
	if len(s.Enum) > 0 {
		p.Enum = s.Enum
	}
	if s.Type == "array" && s.Items != nil {
		item := toProperty(s.Items)
		p.Items = &item
	}
	if s.Type == "object" && s.Properties != nil {
		m := make(map[string]mcp.SchemaProperty, s.Properties.Len())
		for el := s.Properties.Oldest(); el != nil; el = el.Next() {
			m[el.Key] = toProperty(el.Value)
		}
		p.Properties = m
	}
	return p
}

// TextResult builds a single-text-block tool result.
func TextResult(s string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.ContentBlock{{Type: "text", Text: s}}}
}

// JSONResult marshals v into a single text block.
func JSONResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return TextResult(string(b)), nil
}

// Errorf builds an error tool result with a single text block.
func Errorf(format string, a ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.ContentBlock{{Type: "text", Text: fmt.Sprintf(format, a...)}},
		IsError: true,
	}
}
