package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

// ChainModel represents the chains table.
type ChainModel struct {
	bun.BaseModel `bun:"table:chains,alias:c"`

	ID               string         `bun:"id,pk"`
	Name             string         `bun:"name,notnull"`
	Description      string         `bun:"description"`
	EngineWorkflowID string         `bun:"engine_workflow_id,notnull"`
	EngineRunID      string         `bun:"engine_run_id"`
	Status           string         `bun:"status,notnull"`
	CurrentLevel     int            `bun:"current_level,notnull,default:0"`
	Definition       map[string]any `bun:"definition,type:jsonb"`
	StartedAt        time.Time      `bun:"started_at,notnull"`
	CompletedAt      *time.Time     `bun:"completed_at"`
	ErrorMessage     string         `bun:"error_message"`
	CreatedAt        time.Time      `bun:"created_at,notnull"`
	UpdatedAt        time.Time      `bun:"updated_at,notnull"`

	Jobs []*JobModel `bun:"rel:has-many,join:id=chain_id"`
}

// BeforeAppendModel sets id and timestamps on insert and update.
func (m *ChainModel) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.StartedAt.IsZero() {
			m.StartedAt = now
		}
		m.CreatedAt = now
		m.UpdatedAt = now
	case *bun.UpdateQuery:
		m.UpdatedAt = now
	}
	return nil
}

var _ bun.BeforeAppendModelHook = (*ChainModel)(nil)

// ToDomain converts the DB model to the domain model.
func (m *ChainModel) ToDomain() *pkgmodels.Chain {
	if m == nil {
		return nil
	}
	return &pkgmodels.Chain{
		ID:               m.ID,
		Name:             m.Name,
		Description:      m.Description,
		EngineWorkflowID: m.EngineWorkflowID,
		EngineRunID:      m.EngineRunID,
		Status:           m.Status,
		CurrentLevel:     m.CurrentLevel,
		Definition:       m.Definition,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
		ErrorMessage:     m.ErrorMessage,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
