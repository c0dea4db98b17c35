package pocketbase

import "encoding/json"

// Record is a single PocketBase record. Collections are schemaless from the
// client's point of view, so the full field set stays dynamic.
type Record map[string]any

// ID returns the record's "id" field if present.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Collection describes a collection definition. The field list is kept raw;
// tools surface it to the agent verbatim.
type Collection struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Type    string          `json:"type"`
	System  bool            `json:"system"`
	Fields  json.RawMessage `json:"fields,omitempty"`
	Created string          `json:"created,omitzero"`
	Updated string          `json:"updated,omitzero"`
}

// LogEntry is one request log row.
type LogEntry struct {
	ID      string         `json:"id"`
	Created string         `json:"created"`
	Level   int            `json:"level"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// ListResult is the standard paged list envelope used across the API.
type ListResult[T any] struct {
	Page       int `json:"page"`
	PerPage    int `json:"perPage"`
	TotalItems int `json:"totalItems"`
	TotalPages int `json:"totalPages"`
	Items      []T `json:"items"`
}
