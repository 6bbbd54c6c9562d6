package activities

import (
	"context"
	"fmt"
	"time"

	"github.com/renderfleet/orchestrator/internal/application/approval"
	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// CreateApprovalRequestInput is the input to CreateApprovalRequest.
type CreateApprovalRequestInput struct {
	ArtifactID       string                `json:"artifact_id"`
	ChainID          string                `json:"chain_id,omitempty"`
	StepID           string                `json:"step_id,omitempty"`
	EngineWorkflowID string                `json:"engine_workflow_id"`
	EngineRunID      string                `json:"engine_run_id,omitempty"`
	LinkTTLHours     int                   `json:"link_ttl_hours,omitempty"`
	WorkflowName     string                `json:"workflow_name,omitempty"`
	Server           string                `json:"server,omitempty"`
	Parameters       map[string]any        `json:"parameters,omitempty"`
	Policy           models.ApprovalPolicy `json:"policy"`
}

// ApprovalRequestData is returned to the workflow. The token is included
// so the workflow log records which request gates the step.
type ApprovalRequestData struct {
	ID      string `json:"id"`
	Token   string `json:"token"`
	ViewURL string `json:"view_url"`
}

// CreateApprovalRequest inserts a pending approval row with a fresh
// one-shot token. When the artifact already has a pending request (an
// activity retry after a partial failure), that request is reused rather
// than minting a second live token.
func (a *Activities) CreateApprovalRequest(ctx context.Context, req CreateApprovalRequestInput) (*ApprovalRequestData, error) {
	if existing, err := a.Approvals.FindPendingByArtifact(ctx, req.ArtifactID); err == nil {
		return &ApprovalRequestData{
			ID:      existing.ID,
			Token:   existing.Token,
			ViewURL: existing.ViewURL,
		}, nil
	}

	token, err := approval.NewToken()
	if err != nil {
		return nil, err
	}

	var expires *time.Time
	if req.LinkTTLHours > 0 {
		t := time.Now().UTC().Add(time.Duration(req.LinkTTLHours) * time.Hour)
		expires = &t
	}

	viewURL := fmt.Sprintf("%s/%s", a.ApprovalViewBaseURL, req.ArtifactID)

	created, err := a.Approvals.Create(ctx, storage.CreateApprovalParams{
		ArtifactID:       req.ArtifactID,
		ChainID:          req.ChainID,
		StepID:           req.StepID,
		EngineWorkflowID: req.EngineWorkflowID,
		EngineRunID:      req.EngineRunID,
		Token:            token,
		ViewURL:          viewURL,
		LinkExpiresAt:    expires,
		ConfigMetadata: map[string]any{
			"workflow_name":   req.WorkflowName,
			"server":          req.Server,
			"step_id":         req.StepID,
			"parameters":      req.Parameters,
			"approval_policy": req.Policy,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := a.Artifacts.UpdateApproval(ctx, req.ArtifactID, models.ArtifactApprovalPending, "", ""); err != nil {
		a.Log.Error("mark artifact pending approval", "artifact_id", req.ArtifactID, "error", err)
	}

	a.Log.Info("approval request created",
		"approval_id", created.ID, "artifact_id", req.ArtifactID, "step_id", req.StepID)
	return &ApprovalRequestData{
		ID:      created.ID,
		Token:   created.Token,
		ViewURL: created.ViewURL,
	}, nil
}

// ResolveApprovalTimeoutInput is the input to ResolveApprovalTimeout.
type ResolveApprovalTimeoutInput struct {
	ApprovalID string `json:"approval_id"`
	ArtifactID string `json:"artifact_id"`
	Action     string `json:"action"`
	DecidedBy  string `json:"decided_by"`
}

// ResolveApprovalTimeout settles a request the human never decided:
// the pending row is cancelled (revoking the token) and the artifact is
// stamped per the policy's timeout action.
func (a *Activities) ResolveApprovalTimeout(ctx context.Context, req ResolveApprovalTimeoutInput) error {
	if err := a.Approvals.Cancel(ctx, req.ApprovalID); err != nil {
		return err
	}

	status := models.ArtifactApprovalRejected
	reason := "approval timed out"
	if req.Action == models.TimeoutAutoApprove {
		status = models.ArtifactApprovalAutoApproved
		reason = ""
	}
	return a.Artifacts.UpdateApproval(ctx, req.ArtifactID, status, req.DecidedBy, reason)
}
