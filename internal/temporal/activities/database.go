package activities

import (
	"context"
	"errors"

	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// CreateChainRecordRequest is the input to CreateChainRecord.
type CreateChainRecordRequest struct {
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	EngineWorkflowID string         `json:"engine_workflow_id"`
	EngineRunID      string         `json:"engine_run_id,omitempty"`
	Definition       map[string]any `json:"definition,omitempty"`
}

// CreateChainRecord inserts the chain row and returns its id. Re-running
// for the same engine workflow id returns the existing row, so workflow
// retries do not duplicate chains.
func (a *Activities) CreateChainRecord(ctx context.Context, req CreateChainRecordRequest) (string, error) {
	if existing, err := a.Chains.FindByEngineWorkflowID(ctx, req.EngineWorkflowID); err == nil {
		return existing.ID, nil
	}

	created, err := a.Chains.Create(ctx, storage.CreateChainParams{
		Name:             req.Name,
		Description:      req.Description,
		EngineWorkflowID: req.EngineWorkflowID,
		EngineRunID:      req.EngineRunID,
		Definition:       req.Definition,
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// UpdateChainStatusRequest is the input to UpdateChainStatus.
type UpdateChainStatusRequest struct {
	ChainID      string `json:"chain_id"`
	Status       string `json:"status"`
	CurrentLevel *int   `json:"current_level,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// UpdateChainStatus advances the chain row's status.
func (a *Activities) UpdateChainStatus(ctx context.Context, req UpdateChainStatusRequest) error {
	return a.Chains.UpdateStatus(ctx, req.ChainID, req.Status, req.CurrentLevel, req.ErrorMessage)
}

// CreateJobRecordRequest is the input to CreateJobRecord.
type CreateJobRecordRequest struct {
	ChainID          string         `json:"chain_id,omitempty"`
	StepID           string         `json:"step_id,omitempty"`
	WorkflowName     string         `json:"workflow_name"`
	BackendAddress   string         `json:"backend_address"`
	EngineWorkflowID string         `json:"engine_workflow_id,omitempty"`
	EngineRunID      string         `json:"engine_run_id,omitempty"`
	Definition       map[string]any `json:"definition,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
}

// CreateJobRecord inserts a queued job row and returns its id. For chain
// steps, re-running returns the step's existing non-terminal row so a
// retried step does not duplicate jobs; a regeneration after a terminal
// row legitimately creates a fresh one.
func (a *Activities) CreateJobRecord(ctx context.Context, req CreateJobRecordRequest) (string, error) {
	if req.ChainID != "" && req.StepID != "" {
		if existing, err := a.Jobs.FindByChainStep(ctx, req.ChainID, req.StepID); err == nil {
			if !models.IsTerminalJobStatus(existing.Status) {
				return existing.ID, nil
			}
		}
	}

	created, err := a.Jobs.Create(ctx, storage.CreateJobParams{
		ChainID:          req.ChainID,
		StepID:           req.StepID,
		WorkflowName:     req.WorkflowName,
		BackendAddress:   req.BackendAddress,
		EngineWorkflowID: req.EngineWorkflowID,
		EngineRunID:      req.EngineRunID,
		Definition:       req.Definition,
		Parameters:       req.Parameters,
	})
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// UpdateJobStatusRequest is the input to UpdateJobStatus.
type UpdateJobStatusRequest struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// UpdateJobStatus advances the job row's status.
func (a *Activities) UpdateJobStatus(ctx context.Context, req UpdateJobStatusRequest) error {
	return a.Jobs.UpdateStatus(ctx, req.JobID, req.Status, req.ErrorMessage)
}

// ResetJobRequest is the input to ResetJobForRegeneration.
type ResetJobRequest struct {
	JobID      string         `json:"job_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ResetJobForRegeneration returns a completed job to the queued state so
// an approval rejection can re-render it under the same row.
func (a *Activities) ResetJobForRegeneration(ctx context.Context, req ResetJobRequest) error {
	return a.Jobs.ResetForRegeneration(ctx, req.JobID, req.Parameters)
}

// GetLatestArtifactID returns the id of a job's is_latest artifact, or
// "" when the job produced none.
func (a *Activities) GetLatestArtifactID(ctx context.Context, jobID string) (string, error) {
	artifact, err := a.Artifacts.Latest(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return artifact.ID, nil
}
