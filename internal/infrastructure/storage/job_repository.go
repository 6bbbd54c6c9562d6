package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/renderfleet/orchestrator/internal/infrastructure/storage/models"
	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

// JobRepository persists job rows.
type JobRepository struct {
	db bun.IDB
}

// NewJobRepository creates a JobRepository.
func NewJobRepository(db bun.IDB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateJobParams carries the fields for a new job row.
type CreateJobParams struct {
	ChainID          string
	StepID           string
	WorkflowName     string
	BackendAddress   string
	BackendPromptID  string
	EngineWorkflowID string
	EngineRunID      string
	Definition       map[string]any
	Parameters       map[string]any
}

// Create inserts a job row in the queued state and returns it.
func (r *JobRepository) Create(ctx context.Context, params CreateJobParams) (*pkgmodels.Job, error) {
	row := &models.JobModel{
		ChainID:          params.ChainID,
		StepID:           params.StepID,
		WorkflowName:     params.WorkflowName,
		BackendAddress:   params.BackendAddress,
		BackendPromptID:  params.BackendPromptID,
		EngineWorkflowID: params.EngineWorkflowID,
		EngineRunID:      params.EngineRunID,
		Status:           pkgmodels.JobStatusQueued,
		Definition:       params.Definition,
		Parameters:       params.Parameters,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// SetPromptID records the backend's opaque id once submission succeeds
// and moves the job into the executing state.
func (r *JobRepository) SetPromptID(ctx context.Context, id, promptID string) error {
	now := time.Now().UTC()
	_, err := r.db.NewUpdate().
		Model((*models.JobModel)(nil)).
		Set("backend_prompt_id = ?", promptID).
		Set("status = ?", pkgmodels.JobStatusExecuting).
		Set("started_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", pkgmodels.JobStatusQueued).
		Exec(ctx)
	return err
}

// UpdateStatus advances a job's status. Transitions into failed, skipped,
// and cancelled are terminal; completed is not, because an approval
// rejection can re-run the same job for regeneration. Terminal
// transitions stamp completed_at.
func (r *JobRepository) UpdateStatus(ctx context.Context, id, status, errorMessage string) error {
	q := r.db.NewUpdate().
		Model((*models.JobModel)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status NOT IN (?)", bun.In([]string{
			pkgmodels.JobStatusFailed,
			pkgmodels.JobStatusSkipped,
			pkgmodels.JobStatusCancelled,
		}))

	if errorMessage != "" {
		q = q.Set("error_message = ?", errorMessage)
	}
	if pkgmodels.IsTerminalJobStatus(status) || status == pkgmodels.JobStatusCompleted {
		q = q.Set("completed_at = ?", time.Now().UTC())
	}

	_, err := q.Exec(ctx)
	return err
}

// ResetForRegeneration returns a completed job to the queued state so the
// step can re-render after an approval rejection. The prompt id is
// cleared; the new render records its own.
func (r *JobRepository) ResetForRegeneration(ctx context.Context, id string, parameters map[string]any) error {
	now := time.Now().UTC()
	q := r.db.NewUpdate().
		Model((*models.JobModel)(nil)).
		Set("status = ?", pkgmodels.JobStatusQueued).
		Set("backend_prompt_id = ?", "").
		Set("error_message = ?", "").
		Set("completed_at = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", pkgmodels.JobStatusCompleted)
	if parameters != nil {
		encoded, err := json.Marshal(parameters)
		if err != nil {
			return err
		}
		q = q.Set("parameters = ?", string(encoded))
	}
	_, err := q.Exec(ctx)
	return err
}

// FindByID retrieves a job by id.
func (r *JobRepository) FindByID(ctx context.Context, id string) (*pkgmodels.Job, error) {
	row := &models.JobModel{}
	err := r.db.NewSelect().Model(row).Where("j.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByChainStep retrieves the job for one chain step.
func (r *JobRepository) FindByChainStep(ctx context.Context, chainID, stepID string) (*pkgmodels.Job, error) {
	row := &models.JobModel{}
	err := r.db.NewSelect().Model(row).
		Where("chain_id = ?", chainID).
		Where("step_id = ?", stepID).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByBackendPrompt retrieves a job by (backend address, prompt id).
// The external id space is only unique per backend.
func (r *JobRepository) FindByBackendPrompt(ctx context.Context, backendAddress, promptID string) (*pkgmodels.Job, error) {
	row := &models.JobModel{}
	err := r.db.NewSelect().Model(row).
		Where("backend_address = ?", backendAddress).
		Where("backend_prompt_id = ?", promptID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// ListByChain retrieves all jobs of one chain, oldest first.
func (r *JobRepository) ListByChain(ctx context.Context, chainID string) ([]*pkgmodels.Job, error) {
	var rows []*models.JobModel
	err := r.db.NewSelect().Model(&rows).
		Where("chain_id = ?", chainID).
		Order("queued_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*pkgmodels.Job, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out, nil
}

// List retrieves jobs newest first, optionally filtered by status.
func (r *JobRepository) List(ctx context.Context, status string, limit, offset int) ([]*pkgmodels.Job, error) {
	var rows []*models.JobModel
	q := r.db.NewSelect().Model(&rows).Order("queued_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*pkgmodels.Job, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out, nil
}
