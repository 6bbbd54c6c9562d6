package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

// ApprovalModel represents the approval_requests table. The token column
// is unique and validates only while status is pending.
type ApprovalModel struct {
	bun.BaseModel `bun:"table:approval_requests,alias:ap"`

	ID               string         `bun:"id,pk"`
	ArtifactID       string         `bun:"artifact_id,notnull"`
	ChainID          string         `bun:"chain_id"`
	StepID           string         `bun:"step_id"`
	EngineWorkflowID string         `bun:"engine_workflow_id,notnull"`
	EngineRunID      string         `bun:"engine_run_id"`
	Token            string         `bun:"token,notnull,unique"`
	ViewURL          string         `bun:"view_url"`
	LinkExpiresAt    *time.Time     `bun:"link_expires_at"`
	Status           string         `bun:"status,notnull,default:'pending'"`
	DecidedBy        string         `bun:"decided_by"`
	DecidedAt        *time.Time     `bun:"decided_at"`
	ConfigMetadata   map[string]any `bun:"config_metadata,type:jsonb"`
	CreatedAt        time.Time      `bun:"created_at,notnull"`
	UpdatedAt        time.Time      `bun:"updated_at,notnull"`

	Artifact *ArtifactModel `bun:"rel:belongs-to,join:artifact_id=id"`
}

// BeforeAppendModel sets id and timestamps on insert and update.
func (m *ApprovalModel) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Status == "" {
			m.Status = pkgmodels.ApprovalStatusPending
		}
		m.CreatedAt = now
		m.UpdatedAt = now
	case *bun.UpdateQuery:
		m.UpdatedAt = now
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*ApprovalModel)(nil)

// ToDomain converts the DB model to the domain model.
func (m *ApprovalModel) ToDomain() *pkgmodels.ApprovalRequest {
	if m == nil {
		return nil
	}
	return &pkgmodels.ApprovalRequest{
		ID:               m.ID,
		ArtifactID:       m.ArtifactID,
		ChainID:          m.ChainID,
		StepID:           m.StepID,
		EngineWorkflowID: m.EngineWorkflowID,
		EngineRunID:      m.EngineRunID,
		Token:            m.Token,
		ViewURL:          m.ViewURL,
		LinkExpiresAt:    m.LinkExpiresAt,
		Status:           m.Status,
		DecidedBy:        m.DecidedBy,
		DecidedAt:        m.DecidedAt,
		ConfigMetadata:   m.ConfigMetadata,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
