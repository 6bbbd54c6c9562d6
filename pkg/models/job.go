package models

import "time"

// Job represents one render submitted to one backend, either standalone
// or as a single step of a chain.
type Job struct {
	ID               string         `json:"id"`
	ChainID          string         `json:"chain_id,omitempty"`
	StepID           string         `json:"step_id,omitempty"`
	WorkflowName     string         `json:"workflow_name"`
	BackendAddress   string         `json:"backend_address"`
	BackendPromptID  string         `json:"backend_prompt_id,omitempty"`
	EngineWorkflowID string         `json:"engine_workflow_id,omitempty"`
	EngineRunID      string         `json:"engine_run_id,omitempty"`
	Status           string         `json:"status"`
	Definition       map[string]any `json:"definition,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	LatestArtifactID string         `json:"latest_artifact_id,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	QueuedAt         time.Time      `json:"queued_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Job status values.
const (
	JobStatusQueued    = "queued"
	JobStatusExecuting = "executing"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusSkipped   = "skipped"
	JobStatusCancelled = "cancelled"
)

// IsTerminalJobStatus reports whether a job status admits no further transitions.
func IsTerminalJobStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusSkipped, JobStatusCancelled:
		return true
	}
	return false
}
