package chain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_LevelsPartitionSteps(t *testing.T) {
	spec := &Spec{
		Name: "diamond",
		Steps: []StepSpec{
			{ID: "a", Workflow: "w"},
			{ID: "b", Workflow: "w", DependsOn: []string{"a"}},
			{ID: "c", Workflow: "w", DependsOn: []string{"a"}},
			{ID: "d", Workflow: "w", DependsOn: []string{"b", "c"}},
		},
	}

	plan, err := Plan(spec)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, plan.Levels)

	// Every step appears exactly once across levels.
	seen := map[string]int{}
	for _, level := range plan.Levels {
		for _, id := range level {
			seen[id]++
		}
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1, "c": 1, "d": 1}, seen)

	// Every dependency sits on a strictly earlier level.
	for _, node := range plan.Nodes {
		for _, dep := range node.Dependencies {
			assert.Less(t, plan.Nodes[dep].Level, node.Level,
				"dependency %s of %s must be on an earlier level", dep, node.StepID)
		}
	}
}

func TestPlan_CycleRejected(t *testing.T) {
	spec := &Spec{
		Name: "cyclic",
		Steps: []StepSpec{
			{ID: "a", Workflow: "w", DependsOn: []string{"b"}},
			{ID: "b", Workflow: "w", DependsOn: []string{"a"}},
		},
	}

	_, err := Plan(spec)
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "cycle")
}

func TestPlan_Validation(t *testing.T) {
	tests := []struct {
		name    string
		spec    *Spec
		wantErr string
	}{
		{
			name:    "missing name",
			spec:    &Spec{Steps: []StepSpec{{ID: "a", Workflow: "w"}}},
			wantErr: "name is required",
		},
		{
			name:    "no steps",
			spec:    &Spec{Name: "empty"},
			wantErr: "no steps",
		},
		{
			name: "duplicate ids",
			spec: &Spec{Name: "dup", Steps: []StepSpec{
				{ID: "a", Workflow: "w"}, {ID: "a", Workflow: "w"},
			}},
			wantErr: "duplicate step id",
		},
		{
			name: "bad id",
			spec: &Spec{Name: "bad", Steps: []StepSpec{
				{ID: "a step", Workflow: "w"},
			}},
			wantErr: "invalid step id",
		},
		{
			name: "unknown dependency",
			spec: &Spec{Name: "dangling", Steps: []StepSpec{
				{ID: "a", Workflow: "w", DependsOn: []string{"ghost"}},
			}},
			wantErr: "unknown step",
		},
		{
			name: "self dependency",
			spec: &Spec{Name: "selfish", Steps: []StepSpec{
				{ID: "a", Workflow: "w", DependsOn: []string{"a"}},
			}},
			wantErr: "depends on itself",
		},
		{
			name: "missing workflow",
			spec: &Spec{Name: "nowf", Steps: []StepSpec{
				{ID: "a"},
			}},
			wantErr: "no workflow",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(tt.spec)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadSpec_YAML(t *testing.T) {
	data := []byte(`
name: video-pipeline
description: generate then upscale
steps:
  - id: generate
    workflow: tiny_video
    parameters:
      "3.text": "a dragon"
  - id: upscale
    workflow: upscaler
    depends_on: [generate]
    parameters:
      "1.video": "{{ generate.output.video }}"
`)

	spec, err := LoadSpec(data)
	require.NoError(t, err)
	assert.Equal(t, "video-pipeline", spec.Name)
	require.Len(t, spec.Steps, 2)
	assert.Equal(t, []string{"generate"}, spec.Steps[1].DependsOn)

	plan, err := Plan(spec)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"generate"}, {"upscale"}}, plan.Levels)
}

func TestSpecFromMap(t *testing.T) {
	spec, err := SpecFromMap(map[string]any{
		"name": "m",
		"steps": []any{
			map[string]any{"id": "a", "workflow": "w"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "m", spec.Name)
	require.Len(t, spec.Steps, 1)
}
