// Package chain parses chain definitions, validates their dependency
// graph, plans level-parallel execution, and resolves the expression
// templates and conditions that wire step outputs into later steps.
package chain

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

// StepSpec is one step of a chain definition.
type StepSpec struct {
	ID          string         `json:"id" yaml:"id"`
	Workflow    string         `json:"workflow" yaml:"workflow"`
	Parameters  map[string]any `json:"parameters" yaml:"parameters"`
	DependsOn   []string       `json:"depends_on" yaml:"depends_on"`
	Condition   string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
}

// Spec is a complete chain definition as submitted by a client.
type Spec struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []StepSpec     `json:"steps" yaml:"steps"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ExecutionNode is one planned step.
type ExecutionNode struct {
	StepID       string         `json:"step_id"`
	Workflow     string         `json:"workflow"`
	Parameters   map[string]any `json:"parameters"`
	Condition    string         `json:"condition,omitempty"`
	Dependencies []string       `json:"dependencies"`
	Level        int            `json:"level"`
}

// ExecutionPlan is the validated, topologically sorted plan. It is a
// plain value: the chain workflow receives it as input and replays it
// deterministically.
type ExecutionPlan struct {
	ChainName  string                   `json:"chain_name"`
	Definition map[string]any           `json:"definition,omitempty"`
	Nodes      map[string]ExecutionNode `json:"nodes"`
	Levels     [][]string               `json:"levels"`
}

// Node returns the planned node for a step id.
func (p *ExecutionPlan) Node(stepID string) (ExecutionNode, bool) {
	node, ok := p.Nodes[stepID]
	return node, ok
}

// TotalLevels returns the number of execution levels.
func (p *ExecutionPlan) TotalLevels() int { return len(p.Levels) }

// StepResult is the outcome of one executed step.
type StepResult struct {
	StepID        string         `json:"step_id"`
	Workflow      string         `json:"workflow"`
	Status        string         `json:"status"`
	Output        map[string]any `json:"output,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
	ServerAddress string         `json:"server_address,omitempty"`
	JobDBID       string         `json:"job_db_id,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Step result statuses.
const (
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusSkipped   = "skipped"
)

// ValidationError reports an invalid chain definition.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ResolutionError reports a template or condition that could not be
// resolved against the available step results.
type ResolutionError struct {
	Message string
}

func (e *ResolutionError) Error() string { return e.Message }

func resolutionErrorf(format string, args ...any) *ResolutionError {
	return &ResolutionError{Message: fmt.Sprintf(format, args...)}
}

var stepIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// LoadSpec parses a YAML chain definition.
func LoadSpec(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, validationErrorf("invalid chain YAML: %v", err)
	}
	return &spec, nil
}

// SpecFromMap builds a Spec from an already-decoded JSON document.
func SpecFromMap(data map[string]any) (*Spec, error) {
	raw, err := yaml.Marshal(data)
	if err != nil {
		return nil, validationErrorf("invalid chain definition: %v", err)
	}
	return LoadSpec(raw)
}
