package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

// JobModel represents the jobs table. A row is either a standalone render
// or one step of a chain; (chain_id, step_id) identifies the step.
type JobModel struct {
	bun.BaseModel `bun:"table:jobs,alias:j"`

	ID               string         `bun:"id,pk"`
	ChainID          string         `bun:"chain_id"`
	StepID           string         `bun:"step_id"`
	WorkflowName     string         `bun:"workflow_name,notnull"`
	BackendAddress   string         `bun:"backend_address,notnull"`
	BackendPromptID  string         `bun:"backend_prompt_id"`
	EngineWorkflowID string         `bun:"engine_workflow_id"`
	EngineRunID      string         `bun:"engine_run_id"`
	Status           string         `bun:"status,notnull"`
	Definition       map[string]any `bun:"definition,type:jsonb"`
	Parameters       map[string]any `bun:"parameters,type:jsonb"`
	LatestArtifactID string         `bun:"latest_artifact_id"`
	ErrorMessage     string         `bun:"error_message"`
	QueuedAt         time.Time      `bun:"queued_at,notnull"`
	StartedAt        *time.Time     `bun:"started_at"`
	CompletedAt      *time.Time     `bun:"completed_at"`
	CreatedAt        time.Time      `bun:"created_at,notnull"`
	UpdatedAt        time.Time      `bun:"updated_at,notnull"`

	Chain     *ChainModel      `bun:"rel:belongs-to,join:chain_id=id"`
	Artifacts []*ArtifactModel `bun:"rel:has-many,join:id=job_id"`
}

// BeforeAppendModel sets id and timestamps on insert and update.
func (m *JobModel) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.QueuedAt.IsZero() {
			m.QueuedAt = now
		}
		m.CreatedAt = now
		m.UpdatedAt = now
	case *bun.UpdateQuery:
		m.UpdatedAt = now
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*JobModel)(nil)

// ToDomain converts the DB model to the domain model.
func (m *JobModel) ToDomain() *pkgmodels.Job {
	if m == nil {
		return nil
	}
	return &pkgmodels.Job{
		ID:               m.ID,
		ChainID:          m.ChainID,
		StepID:           m.StepID,
		WorkflowName:     m.WorkflowName,
		BackendAddress:   m.BackendAddress,
		BackendPromptID:  m.BackendPromptID,
		EngineWorkflowID: m.EngineWorkflowID,
		EngineRunID:      m.EngineRunID,
		Status:           m.Status,
		Definition:       m.Definition,
		Parameters:       m.Parameters,
		LatestArtifactID: m.LatestArtifactID,
		ErrorMessage:     m.ErrorMessage,
		QueuedAt:         m.QueuedAt,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
