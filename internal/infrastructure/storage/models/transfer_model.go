package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

// TransferModel represents the artifact_transfers table.
type TransferModel struct {
	bun.BaseModel `bun:"table:artifact_transfers,alias:t"`

	ID              string     `bun:"id,pk"`
	ArtifactID      string     `bun:"artifact_id,notnull"`
	SourceJobID     string     `bun:"source_job_id,notnull"`
	TargetJobID     string     `bun:"target_job_id"`
	TargetBackend   string     `bun:"target_backend,notnull"`
	TargetSubfolder string     `bun:"target_subfolder"`
	Status          string     `bun:"status,notnull"`
	UploadedAt      *time.Time `bun:"uploaded_at"`
	ErrorMessage    string     `bun:"error_message"`
	CreatedAt       time.Time  `bun:"created_at,notnull"`

	Artifact *ArtifactModel `bun:"rel:belongs-to,join:artifact_id=id"`
}

// BeforeAppendModel sets id and the creation timestamp on insert.
func (m *TransferModel) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		m.CreatedAt = time.Now().UTC()
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*TransferModel)(nil)

// ToDomain converts the DB model to the domain model.
func (m *TransferModel) ToDomain() *pkgmodels.ArtifactTransfer {
	if m == nil {
		return nil
	}
	return &pkgmodels.ArtifactTransfer{
		ID:              m.ID,
		ArtifactID:      m.ArtifactID,
		SourceJobID:     m.SourceJobID,
		TargetJobID:     m.TargetJobID,
		TargetBackend:   m.TargetBackend,
		TargetSubfolder: m.TargetSubfolder,
		Status:          m.Status,
		UploadedAt:      m.UploadedAt,
		ErrorMessage:    m.ErrorMessage,
		CreatedAt:       m.CreatedAt,
	}
}
