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

// ApprovalRepository persists approval request rows. Tokens are one-shot:
// the transition out of pending revokes them.
type ApprovalRepository struct {
	db bun.IDB
}

// NewApprovalRepository creates an ApprovalRepository.
func NewApprovalRepository(db bun.IDB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// CreateApprovalParams carries the fields for a new approval request.
type CreateApprovalParams struct {
	ArtifactID       string
	ChainID          string
	StepID           string
	EngineWorkflowID string
	EngineRunID      string
	Token            string
	ViewURL          string
	LinkExpiresAt    *time.Time
	ConfigMetadata   map[string]any
}

// Create inserts a pending approval request.
func (r *ApprovalRepository) Create(ctx context.Context, params CreateApprovalParams) (*pkgmodels.ApprovalRequest, error) {
	row := &models.ApprovalModel{
		ArtifactID:       params.ArtifactID,
		ChainID:          params.ChainID,
		StepID:           params.StepID,
		EngineWorkflowID: params.EngineWorkflowID,
		EngineRunID:      params.EngineRunID,
		Token:            params.Token,
		ViewURL:          params.ViewURL,
		LinkExpiresAt:    params.LinkExpiresAt,
		Status:           pkgmodels.ApprovalStatusPending,
		ConfigMetadata:   params.ConfigMetadata,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByID retrieves an approval request by id.
func (r *ApprovalRepository) FindByID(ctx context.Context, id string) (*pkgmodels.ApprovalRequest, error) {
	row := &models.ApprovalModel{}
	err := r.db.NewSelect().Model(row).Where("ap.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByToken retrieves an approval request by its opaque token.
func (r *ApprovalRepository) FindByToken(ctx context.Context, token string) (*pkgmodels.ApprovalRequest, error) {
	row := &models.ApprovalModel{}
	err := r.db.NewSelect().Model(row).Where("token = ?", token).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindPendingByArtifact retrieves the pending request for an artifact.
func (r *ApprovalRepository) FindPendingByArtifact(ctx context.Context, artifactID string) (*pkgmodels.ApprovalRequest, error) {
	row := &models.ApprovalModel{}
	err := r.db.NewSelect().Model(row).
		Where("artifact_id = ?", artifactID).
		Where("status = ?", pkgmodels.ApprovalStatusPending).
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

// ListByChain retrieves all approval requests of one chain, newest first.
func (r *ApprovalRepository) ListByChain(ctx context.Context, chainID string) ([]*pkgmodels.ApprovalRequest, error) {
	var rows []*models.ApprovalModel
	err := r.db.NewSelect().Model(&rows).
		Where("chain_id = ?", chainID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*pkgmodels.ApprovalRequest, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out, nil
}

// Decide flips a pending request to a terminal status. It fails with
// ErrTokenUsed when the request was already decided and ErrTokenExpired
// when the link lapsed, so a token validates exactly once.
func (r *ApprovalRepository) Decide(ctx context.Context, token, status, decidedBy string) (*pkgmodels.ApprovalRequest, error) {
	row := &models.ApprovalModel{}
	err := r.db.NewSelect().Model(row).Where("token = ?", token).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if row.Status != pkgmodels.ApprovalStatusPending {
		return nil, pkgmodels.ErrTokenUsed
	}
	if row.LinkExpiresAt != nil && row.LinkExpiresAt.Before(time.Now().UTC()) {
		return nil, pkgmodels.ErrTokenExpired
	}

	now := time.Now().UTC()
	res, err := r.db.NewUpdate().
		Model((*models.ApprovalModel)(nil)).
		Set("status = ?", status).
		Set("decided_by = ?", decidedBy).
		Set("decided_at = ?", now).
		Set("updated_at = ?", now).
		Where("token = ?", token).
		Where("status = ?", pkgmodels.ApprovalStatusPending).
		Exec(ctx)
	if err != nil {
		return nil, err
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		// Lost the race against a concurrent decision.
		return nil, pkgmodels.ErrTokenUsed
	}

	row.Status = status
	row.DecidedBy = decidedBy
	row.DecidedAt = &now
	return row.ToDomain(), nil
}

// Cancel marks a pending request cancelled, revoking its token.
func (r *ApprovalRepository) Cancel(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := r.db.NewUpdate().
		Model((*models.ApprovalModel)(nil)).
		Set("status = ?", pkgmodels.ApprovalStatusCancelled).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", pkgmodels.ApprovalStatusPending).
		Exec(ctx)
	return err
}
