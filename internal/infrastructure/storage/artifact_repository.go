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

// ArtifactRepository persists artifact rows. Creation maintains the
// is_latest invariant and the owning job's latest_artifact_id atomically.
type ArtifactRepository struct {
	db *bun.DB
}

// NewArtifactRepository creates an ArtifactRepository.
func NewArtifactRepository(db *bun.DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// CreateArtifactParams carries the fields for a new artifact row.
type CreateArtifactParams struct {
	JobID            string
	OriginalFilename string
	LocalFilename    string
	LocalPath        string
	FileType         string
	FileFormat       string
	FileSize         int64
	NodeID           string
	Subfolder        string
	BackendFolder    string
	ParentArtifactID string
	ApprovalStatus   string
	Metadata         map[string]any
}

// Create inserts an artifact as the job's latest version. In one
// transaction: peers lose is_latest, the version is derived from the
// parent when given, and the job's latest_artifact_id is repointed.
func (r *ArtifactRepository) Create(ctx context.Context, params CreateArtifactParams) (*pkgmodels.Artifact, error) {
	row := &models.ArtifactModel{
		JobID:            params.JobID,
		OriginalFilename: params.OriginalFilename,
		LocalFilename:    params.LocalFilename,
		LocalPath:        params.LocalPath,
		FileType:         params.FileType,
		FileFormat:       params.FileFormat,
		FileSize:         params.FileSize,
		NodeID:           params.NodeID,
		Subfolder:        params.Subfolder,
		BackendFolder:    params.BackendFolder,
		ParentArtifactID: params.ParentArtifactID,
		ApprovalStatus:   params.ApprovalStatus,
		Metadata:         params.Metadata,
		IsLatest:         true,
	}
	if row.BackendFolder == "" {
		row.BackendFolder = pkgmodels.FolderOutput
	}

	err := WithTransaction(ctx, r.db, func(tx bun.Tx) error {
		if params.ParentArtifactID != "" {
			parent := &models.ArtifactModel{}
			err := tx.NewSelect().Model(parent).Where("a.id = ?", params.ParentArtifactID).Scan(ctx)
			if errors.Is(err, sql.ErrNoRows) {
				return pkgmodels.ErrNotFound
			}
			if err != nil {
				return err
			}
			if parent.JobID != params.JobID {
				return pkgmodels.NewValidationError("parent_artifact_id",
					"parent artifact belongs to a different job")
			}
			row.Version = parent.Version + 1
		}

		if _, err := tx.NewUpdate().
			Model((*models.ArtifactModel)(nil)).
			Set("is_latest = ?", false).
			Set("updated_at = ?", time.Now().UTC()).
			Where("job_id = ?", params.JobID).
			Where("is_latest = ?", true).
			Exec(ctx); err != nil {
			return err
		}

		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}

		_, err := tx.NewUpdate().
			Model((*models.JobModel)(nil)).
			Set("latest_artifact_id = ?", row.ID).
			Set("updated_at = ?", time.Now().UTC()).
			Where("id = ?", params.JobID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByID retrieves an artifact by id.
func (r *ArtifactRepository) FindByID(ctx context.Context, id string) (*pkgmodels.Artifact, error) {
	row := &models.ArtifactModel{}
	err := r.db.NewSelect().Model(row).Where("a.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// FindByLocalFilename retrieves an artifact by its store filename.
func (r *ArtifactRepository) FindByLocalFilename(ctx context.Context, localFilename string) (*pkgmodels.Artifact, error) {
	row := &models.ArtifactModel{}
	err := r.db.NewSelect().Model(row).Where("local_filename = ?", localFilename).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// Latest retrieves the job's current is_latest artifact.
func (r *ArtifactRepository) Latest(ctx context.Context, jobID string) (*pkgmodels.Artifact, error) {
	row := &models.ArtifactModel{}
	err := r.db.NewSelect().Model(row).
		Where("job_id = ?", jobID).
		Where("is_latest = ?", true).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, pkgmodels.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.ToDomain(), nil
}

// ListByJob retrieves a job's artifacts, highest version first. With
// includeOld false only is_latest rows are returned.
func (r *ArtifactRepository) ListByJob(ctx context.Context, jobID string, includeOld bool) ([]*pkgmodels.Artifact, error) {
	var rows []*models.ArtifactModel
	q := r.db.NewSelect().Model(&rows).
		Where("job_id = ?", jobID).
		Order("version DESC", "created_at DESC")
	if !includeOld {
		q = q.Where("is_latest = ?", true)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	out := make([]*pkgmodels.Artifact, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out, nil
}

// Versions walks the parent chain starting at the given artifact and
// returns all versions, newest first.
func (r *ArtifactRepository) Versions(ctx context.Context, artifactID string) ([]*pkgmodels.Artifact, error) {
	current, err := r.FindByID(ctx, artifactID)
	if err != nil {
		return nil, err
	}

	versions := []*pkgmodels.Artifact{current}
	for current.ParentArtifactID != "" {
		parent, err := r.FindByID(ctx, current.ParentArtifactID)
		if errors.Is(err, pkgmodels.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		versions = append(versions, parent)
		current = parent
	}
	return versions, nil
}

// UpdateApproval records a human decision on an artifact.
func (r *ArtifactRepository) UpdateApproval(ctx context.Context, id, status, approver, rejectionReason string) error {
	now := time.Now().UTC()
	_, err := r.db.NewUpdate().
		Model((*models.ArtifactModel)(nil)).
		Set("approval_status = ?", status).
		Set("approver = ?", approver).
		Set("decided_at = ?", now).
		Set("rejection_reason = ?", rejectionReason).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// IsLocalFilenameReferenced reports whether any artifact row still points
// at the given store filename. The sweeper keeps referenced files.
func (r *ArtifactRepository) IsLocalFilenameReferenced(ctx context.Context, localFilename string) (bool, error) {
	count, err := r.db.NewSelect().
		Model((*models.ArtifactModel)(nil)).
		Where("local_filename = ?", localFilename).
		Count(ctx)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Delete removes an artifact row. Explicit admin use only.
func (r *ArtifactRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*models.ArtifactModel)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	return err
}
