package models

import (
	"fmt"
	"time"
)

// Chain represents one DAG execution tracked in the metadata store.
type Chain struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	EngineWorkflowID string         `json:"engine_workflow_id"`
	EngineRunID      string         `json:"engine_run_id,omitempty"`
	Status           string         `json:"status"`
	CurrentLevel     int            `json:"current_level"`
	Definition       map[string]any `json:"definition,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Chain status values. Level progression uses ChainStatusExecutingLevel.
const (
	ChainStatusInitializing = "initializing"
	ChainStatusCompleted    = "completed"
	ChainStatusFailed       = "failed"
	ChainStatusCancelled    = "cancelled"
)

// ChainStatusExecutingLevel formats the per-level executing status.
func ChainStatusExecutingLevel(level int) string {
	return fmt.Sprintf("executing_level_%d", level)
}

// IsTerminalChainStatus reports whether a chain status admits no further transitions.
func IsTerminalChainStatus(status string) bool {
	switch status {
	case ChainStatusCompleted, ChainStatusFailed, ChainStatusCancelled:
		return true
	}
	return false
}
