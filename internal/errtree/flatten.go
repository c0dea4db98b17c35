// Package errtree flattens the nested error-detail trees returned by the
// PocketBase API into a single human-readable message. The API reports
// field-level validation failures as arbitrarily nested objects and arrays
// whose leaves carry a "message" string; clients of the dispatcher only ever
// see the joined leaf messages.
package errtree

import (
	"sort"
	"strings"
)

// NoErrorsFound is returned by Flatten when nothing extractable exists in
// the input.
const NoErrorsFound = "no errors found"

const messageKey = "message"

// Flatten walks a decoded JSON error-detail tree and joins its leaf messages
// with newlines, in traversal order. It is pure and idempotent: flattening
// already-flat input yields the same sequence, and an empty or absent tree
// yields NoErrorsFound.
func Flatten(node any) string {
	leaves := Leaves(node)
	if len(leaves) == 0 {
		return NoErrorsFound
	}
	return strings.Join(leaves, "\n")
}

// Leaves returns the ordered leaf messages of a decoded JSON error-detail
// tree. Traversal order is deterministic: array elements in index order,
// object values in sorted key order. An object carrying a non-empty string
// "message" field is treated as a leaf; other scalar shapes are skipped.
func Leaves(node any) []string {
	var out []string
	walk(node, &out)
	return out
}

func walk(node any, out *[]string) {
	switch v := node.(type) {
	case nil:
	case string:
		if v != "" {
			*out = append(*out, v)
		}
	case []any:
		for _, el := range v {
			walk(el, out)
		}
	case map[string]any:
		if msg, ok := v[messageKey].(string); ok && msg != "" {
			*out = append(*out, msg)
			return
		}
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walk(v[k], out)
		}
	}
}
