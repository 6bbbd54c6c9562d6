package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stepContext() map[string]any {
	return BuildContext(map[string]StepResult{
		"generate": {
			StepID:   "generate",
			Status:   StepStatusCompleted,
			Output:   map[string]any{"video": "out_00001.mp4", "score": 0.9, "count": 3},
			Parameters: map[string]any{"width": 512},
		},
	})
}

func TestResolveParameters_WholeStringKeepsType(t *testing.T) {
	resolved, err := ResolveParameters(map[string]any{
		"input": "{{ generate.output.video }}",
		"count": "{{ generate.output.count }}",
		"score": "{{ generate.output.score }}",
	}, stepContext())
	require.NoError(t, err)

	assert.Equal(t, "out_00001.mp4", resolved["input"])
	assert.EqualValues(t, 3, resolved["count"])
	assert.EqualValues(t, 0.9, resolved["score"])
}

func TestResolveParameters_EmbeddedInterpolation(t *testing.T) {
	resolved, err := ResolveParameters(map[string]any{
		"prefix": "chain/{{ generate.output.video }}",
	}, stepContext())
	require.NoError(t, err)
	assert.Equal(t, "chain/out_00001.mp4", resolved["prefix"])
}

func TestResolveParameters_NumericStringCoerced(t *testing.T) {
	ctx := BuildContext(map[string]StepResult{
		"a": {StepID: "a", Output: map[string]any{"width": "512", "scale": "1.5"}},
	})

	resolved, err := ResolveParameters(map[string]any{
		"w": "{{ a.output.width }}",
		"s": "{{ a.output.scale }}",
	}, ctx)
	require.NoError(t, err)
	assert.Equal(t, 512, resolved["w"])
	assert.Equal(t, 1.5, resolved["s"])
}

func TestResolveParameters_NestedStructures(t *testing.T) {
	resolved, err := ResolveParameters(map[string]any{
		"nested": map[string]any{
			"video": "{{ generate.output.video }}",
			"list":  []any{"{{ generate.output.count }}", "plain"},
		},
	}, stepContext())
	require.NoError(t, err)

	nested := resolved["nested"].(map[string]any)
	assert.Equal(t, "out_00001.mp4", nested["video"])
	list := nested["list"].([]any)
	assert.EqualValues(t, 3, list[0])
	assert.Equal(t, "plain", list[1])
}

func TestResolveParameters_MissingReference(t *testing.T) {
	_, err := ResolveParameters(map[string]any{
		"input": "{{ ghost.output.video }}",
	}, stepContext())
	require.Error(t, err)

	var re *ResolutionError
	assert.ErrorAs(t, err, &re)
}

func TestResolveParameters_NonTemplateValuesPassThrough(t *testing.T) {
	resolved, err := ResolveParameters(map[string]any{
		"text":  "plain string",
		"seed":  42,
		"ratio": 0.25,
		"flag":  true,
	}, stepContext())
	require.NoError(t, err)

	assert.Equal(t, "plain string", resolved["text"])
	assert.Equal(t, 42, resolved["seed"])
	assert.Equal(t, 0.25, resolved["ratio"])
	assert.Equal(t, true, resolved["flag"])
}

func TestEvaluator_Conditions(t *testing.T) {
	e := NewEvaluator(10)
	ctx := stepContext()

	tests := []struct {
		condition string
		want      bool
	}{
		{"{{ generate.output.score > 0.8 }}", true},
		{"{{ generate.output.score > 0.95 }}", false},
		{"generate.status == 'completed'", true},
		{"{{ generate.output.count >= 3 && generate.output.score < 1.0 }}", true},
	}

	for _, tt := range tests {
		t.Run(tt.condition, func(t *testing.T) {
			got, err := e.Evaluate(tt.condition, ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_NonBooleanRejected(t *testing.T) {
	e := NewEvaluator(10)
	_, err := e.Evaluate("{{ generate.output.count }}", stepContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boolean")
}

func TestEvaluator_EmptyCondition(t *testing.T) {
	e := NewEvaluator(10)
	_, err := e.Evaluate("{{ }}", stepContext())
	require.Error(t, err)
}

func TestEvaluator_CacheReuse(t *testing.T) {
	e := NewEvaluator(2)
	ctx := stepContext()

	for range 5 {
		got, err := e.Evaluate("generate.output.score > 0.8", ctx)
		require.NoError(t, err)
		assert.True(t, got)
	}
	assert.Equal(t, 1, e.lruList.Len())

	// Evictions beyond capacity must not break evaluation.
	_, err := e.Evaluate("generate.output.count > 1", ctx)
	require.NoError(t, err)
	_, err = e.Evaluate("generate.output.count > 2", ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, e.lruList.Len())
}
