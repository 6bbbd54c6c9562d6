package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

// ArtifactModel represents the artifacts table. Exactly one artifact per
// job carries is_latest=true; versions chain through parent_artifact_id.
type ArtifactModel struct {
	bun.BaseModel `bun:"table:artifacts,alias:a"`

	ID               string         `bun:"id,pk"`
	JobID            string         `bun:"job_id,notnull"`
	OriginalFilename string         `bun:"original_filename,notnull"`
	LocalFilename    string         `bun:"local_filename,notnull,unique"`
	LocalPath        string         `bun:"local_path,notnull"`
	FileType         string         `bun:"file_type,notnull"`
	FileFormat       string         `bun:"file_format"`
	FileSize         int64          `bun:"file_size"`
	NodeID           string         `bun:"node_id"`
	Subfolder        string         `bun:"subfolder"`
	BackendFolder    string         `bun:"backend_folder_kind,default:'output'"`
	Version          int            `bun:"version,notnull,default:1"`
	IsLatest         bool           `bun:"is_latest,notnull"`
	ParentArtifactID string         `bun:"parent_artifact_id"`
	ApprovalStatus   string         `bun:"approval_status,notnull,default:'auto_approved'"`
	Approver         string         `bun:"approver"`
	DecidedAt        *time.Time     `bun:"decided_at"`
	RejectionReason  string         `bun:"rejection_reason"`
	Metadata         map[string]any `bun:"metadata,type:jsonb"`
	CreatedAt        time.Time      `bun:"created_at,notnull"`
	UpdatedAt        time.Time      `bun:"updated_at,notnull"`

	Job    *JobModel      `bun:"rel:belongs-to,join:job_id=id"`
	Parent *ArtifactModel `bun:"rel:belongs-to,join:parent_artifact_id=id"`
}

// BeforeAppendModel sets id and timestamps on insert and update.
func (m *ArtifactModel) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Version == 0 {
			m.Version = 1
		}
		if m.ApprovalStatus == "" {
			m.ApprovalStatus = pkgmodels.ArtifactApprovalAutoApproved
		}
		m.CreatedAt = now
		m.UpdatedAt = now
	case *bun.UpdateQuery:
		m.UpdatedAt = now
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*ArtifactModel)(nil)

// ToDomain converts the DB model to the domain model.
func (m *ArtifactModel) ToDomain() *pkgmodels.Artifact {
	if m == nil {
		return nil
	}
	return &pkgmodels.Artifact{
		ID:               m.ID,
		JobID:            m.JobID,
		OriginalFilename: m.OriginalFilename,
		LocalFilename:    m.LocalFilename,
		LocalPath:        m.LocalPath,
		FileType:         m.FileType,
		FileFormat:       m.FileFormat,
		FileSize:         m.FileSize,
		NodeID:           m.NodeID,
		Subfolder:        m.Subfolder,
		BackendFolder:    m.BackendFolder,
		Version:          m.Version,
		IsLatest:         m.IsLatest,
		ParentArtifactID: m.ParentArtifactID,
		ApprovalStatus:   m.ApprovalStatus,
		Approver:         m.Approver,
		DecidedAt:        m.DecidedAt,
		RejectionReason:  m.RejectionReason,
		Metadata:         m.Metadata,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
