package errtree

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenEmpty(t *testing.T) {
	assert.Equal(t, NoErrorsFound, Flatten(nil))
	assert.Equal(t, NoErrorsFound, Flatten(map[string]any{}))
	assert.Equal(t, NoErrorsFound, Flatten([]any{}))
	assert.Equal(t, NoErrorsFound, Flatten(map[string]any{"code": float64(400)}))
}

func TestFlattenLeafShapes(t *testing.T) {
	assert.Equal(t, "boom", Flatten("boom"))
	assert.Equal(t, "boom", Flatten(map[string]any{"message": "boom", "code": "oops"}))
}

func TestFlattenValidationTree(t *testing.T) {
	var node any
	require.NoError(t, json.Unmarshal([]byte(`{
		"data": {
			"title": {"code": "validation_required", "message": "Missing required value."},
			"email": {"code": "validation_invalid_email", "message": "Invalid email."}
		},
		"message": ""
	}`), &node))

	assert.Equal(t, "Invalid email.\nMissing required value.", Flatten(node))
}

func TestFlattenNestedArrays(t *testing.T) {
	node := []any{
		"first",
		[]any{map[string]any{"message": "second"}},
		map[string]any{
			"b": []any{"fourth"},
			"a": "third",
		},
	}
	assert.Equal(t, []string{"first", "second", "third", "fourth"}, Leaves(node))
}

func TestFlattenIdempotent(t *testing.T) {
	node := map[string]any{
		"data": map[string]any{
			"field": map[string]any{"message": "bad value"},
		},
	}
	once := Flatten(node)
	// Re-flattening already-flat input preserves the leaf sequence.
	assert.Equal(t, once, Flatten(once))

	leaves := Leaves(node)
	reflattened := make([]any, len(leaves))
	for i, l := range leaves {
		reflattened[i] = l
	}
	assert.Equal(t, leaves, Leaves(reflattened))
}
