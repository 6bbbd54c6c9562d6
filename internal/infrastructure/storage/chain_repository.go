package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/renderfleet/orchestrator/internal/infrastructure/storage/models"
	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

// ChainRepository persists chain rows.
type ChainRepository struct {
	db bun.IDB
}

// NewChainRepository creates a ChainRepository.
func NewChainRepository(db bun.IDB) *ChainRepository {
	return &ChainRepository{db: db}
}

// CreateChainParams carries the fields for a new chain row.
type CreateChainParams struct {
	Name             string
	Description      string
	EngineWorkflowID string
	EngineRunID      string
	Definition       map[string]any
}

// Create inserts a chain row in the initializing state and returns it.
func (r *ChainRepository) Create(ctx context.Context, params CreateChainParams) (*pkgmodels.Chain, error) {
	row := &models.ChainModel{
		Name:             params.Name,
		Description:      params.Description,
		EngineWorkflowID: params.EngineWorkflowID,
		EngineRunID:      params.EngineRunID,
		Status:           pkgmodels.ChainStatusInitializing,
		Definition:       params.Definition,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// UpdateStatus advances a chain's status. Rows already in a terminal state
// are left untouched so status stays monotone; terminal transitions also
// stamp completed_at.
func (r *ChainRepository) UpdateStatus(ctx context.Context, id, status string, currentLevel *int, errorMessage string) error {
	q := r.db.NewUpdate().
		Model((*models.ChainModel)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Where("status NOT IN (?)", bun.In([]string{
			pkgmodels.ChainStatusCompleted,
			pkgmodels.ChainStatusFailed,
			pkgmodels.ChainStatusCancelled,
		}))

	if currentLevel != nil {
		q = q.Set("current_level = ?", *currentLevel)
	}
	if errorMessage != "" {
		q = q.Set("error_message = ?", errorMessage)
	}
	if pkgmodels.IsTerminalChainStatus(status) {
		q = q.Set("completed_at = ?", time.Now().UTC())
	}

	_, err := q.Exec(ctx)
	return err
}

// FindByID retrieves a chain by id.
func (r *ChainRepository) FindByID(ctx context.Context, id string) (*pkgmodels.Chain, error) {
	row := &models.ChainModel{}
	err := r.db.NewSelect().Model(row).Where("c.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByEngineWorkflowID retrieves a chain by its engine workflow id.
func (r *ChainRepository) FindByEngineWorkflowID(ctx context.Context, workflowID string) (*pkgmodels.Chain, error) {
	row := &models.ChainModel{}
	err := r.db.NewSelect().Model(row).Where("engine_workflow_id = ?", workflowID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// List retrieves chains newest first, optionally filtered by status.
func (r *ChainRepository) List(ctx context.Context, status string, limit, offset int) ([]*pkgmodels.Chain, error) {
	var rows []*models.ChainModel
	q := r.db.NewSelect().Model(&rows).Order("started_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit).Offset(offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*pkgmodels.Chain, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out, nil
}
