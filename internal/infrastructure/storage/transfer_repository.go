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

// TransferRepository persists artifact transfer rows.
type TransferRepository struct {
	db bun.IDB
}

// NewTransferRepository creates a TransferRepository.
func NewTransferRepository(db bun.IDB) *TransferRepository {
	return &TransferRepository{db: db}
}

// CreateTransferParams carries the fields for a new transfer row.
type CreateTransferParams struct {
	ArtifactID      string
	SourceJobID     string
	TargetJobID     string
	TargetBackend   string
	TargetSubfolder string
}

// Create inserts a transfer row in the pending state.
func (r *TransferRepository) Create(ctx context.Context, params CreateTransferParams) (*pkgmodels.ArtifactTransfer, error) {
	row := &models.TransferModel{
		ArtifactID:      params.ArtifactID,
		SourceJobID:     params.SourceJobID,
		TargetJobID:     params.TargetJobID,
		TargetBackend:   params.TargetBackend,
		TargetSubfolder: params.TargetSubfolder,
		Status:          pkgmodels.TransferStatusPending,
	}
	if _, err := r.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// MarkUploading moves a transfer into the uploading state.
func (r *TransferRepository) MarkUploading(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*models.TransferModel)(nil)).
		Set("status = ?", pkgmodels.TransferStatusUploading).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// MarkCompleted records a successful upload.
func (r *TransferRepository) MarkCompleted(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*models.TransferModel)(nil)).
		Set("status = ?", pkgmodels.TransferStatusCompleted).
		Set("uploaded_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// MarkFailed records a failed upload with its error.
func (r *TransferRepository) MarkFailed(ctx context.Context, id, errorMessage string) error {
	_, err := r.db.NewUpdate().
		Model((*models.TransferModel)(nil)).
		Set("status = ?", pkgmodels.TransferStatusFailed).
		Set("error_message = ?", errorMessage).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// FindByID retrieves a transfer by id.
func (r *TransferRepository) FindByID(ctx context.Context, id string) (*pkgmodels.ArtifactTransfer, error) {
	row := &models.TransferModel{}
	err := r.db.NewSelect().Model(row).Where("t.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// ListByArtifact retrieves all transfers of one artifact, newest first.
func (r *TransferRepository) ListByArtifact(ctx context.Context, artifactID string) ([]*pkgmodels.ArtifactTransfer, error) {
	var rows []*models.TransferModel
	err := r.db.NewSelect().Model(&rows).
		Where("artifact_id = ?", artifactID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*pkgmodels.ArtifactTransfer, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out, nil
}
