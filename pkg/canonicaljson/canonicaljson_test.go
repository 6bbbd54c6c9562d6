package canonicaljson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsKeysRecursively(t *testing.T) {
	input := map[string]any{
		"b": 1,
		"a": map[string]any{
			"z": true,
			"m": []any{1, 2},
		},
	}

	out, err := Marshal(input)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"m":[1,2],"z":true},"b":1}`, string(out))
}

func TestMarshal_EqualForSemanticallyEqualInputs(t *testing.T) {
	type doc struct {
		B int    `json:"b"`
		A string `json:"a"`
	}

	asStruct, err := Marshal(doc{B: 3, A: "x"})
	require.NoError(t, err)

	asMap, err := Marshal(map[string]any{"a": "x", "b": 3})
	require.NoError(t, err)

	assert.Equal(t, asMap, asStruct)
}

func TestMarshal_NumberNormalization(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"integer", map[string]any{"n": 42}, `{"n":42}`},
		{"integral float", map[string]any{"n": 42.0}, `{"n":42}`},
		{"fraction", map[string]any{"n": 0.5}, `{"n":0.5}`},
		{"negative", map[string]any{"n": -7}, `{"n":-7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Marshal(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(out))
		})
	}
}

func TestMarshal_Deterministic(t *testing.T) {
	input := map[string]any{
		"nodes": map[string]any{
			"3": map[string]any{"class_type": "KSampler", "inputs": map[string]any{"seed": 5, "cfg": 7.5}},
			"1": map[string]any{"class_type": "SaveImage", "inputs": map[string]any{"images": []any{"3", 0}}},
		},
	}

	first, err := Marshal(input)
	require.NoError(t, err)
	for range 10 {
		again, err := Marshal(input)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestHash_PrefixAndStability(t *testing.T) {
	doc := map[string]any{"a": 1}

	h1, err := Hash(doc)
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"a": 1.0})
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, h1)

	h3, err := Hash(map[string]any{"a": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestMarshal_EscapesStrings(t *testing.T) {
	out, err := Marshal(map[string]any{"s": "a\"b\nc"})
	require.NoError(t, err)
	assert.Equal(t, `{"s":"a\"b\nc"}`, string(out))
}
