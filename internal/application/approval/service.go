// Package approval issues and consumes one-shot approval tokens: it
// exposes the details behind an approval link, validates regeneration
// parameters against the template registry, flips the row, and signals
// the waiting chain workflow.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/renderfleet/orchestrator/internal/application/registry"
	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// WorkflowSignaler delivers signals to running engine workflows. The
// Temporal client satisfies this.
type WorkflowSignaler interface {
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg any) error
}

// Service handles approval link operations.
type Service struct {
	approvals *storage.ApprovalRepository
	artifacts *storage.ArtifactRepository
	validator *ParameterValidator
	signaler  WorkflowSignaler
	log       *logger.Logger
}

// NewService creates the approval service.
func NewService(
	approvals *storage.ApprovalRepository,
	artifacts *storage.ArtifactRepository,
	validator *ParameterValidator,
	signaler WorkflowSignaler,
	log *logger.Logger,
) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		approvals: approvals,
		artifacts: artifacts,
		validator: validator,
		signaler:  signaler,
		log:       log,
	}
}

// Details is the view behind an approval link.
type Details struct {
	ApprovalRequestID string            `json:"approval_request_id"`
	Status            string            `json:"status"`
	Artifact          *models.Artifact  `json:"artifact"`
	ViewURL           string            `json:"view_url,omitempty"`
	GenerationInfo    map[string]any    `json:"generation_info"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// ParameterSchema is the editable parameter surface behind an approval
// link.
type ParameterSchema struct {
	WorkflowName      string                        `json:"workflow_name"`
	CurrentParameters map[string]any                `json:"current_parameters"`
	Schema            map[string]registry.Parameter `json:"parameter_schema"`
}

// InvalidParametersError lists every invalid regeneration parameter.
type InvalidParametersError struct {
	Problems []string
}

func (e *InvalidParametersError) Error() string {
	return fmt.Sprintf("invalid parameters: %v", e.Problems)
}

// Details resolves an approval token to its viewable state. The token
// must still be pending and unexpired.
func (s *Service) Details(ctx context.Context, token string) (*Details, error) {
	req, err := s.validToken(ctx, token)
	if err != nil {
		return nil, err
	}

	artifact, err := s.artifacts.FindByID(ctx, req.ArtifactID)
	if err != nil {
		return nil, fmt.Errorf("load artifact for approval: %w", err)
	}

	return &Details{
		ApprovalRequestID: req.ID,
		Status:            req.Status,
		Artifact:          artifact,
		ViewURL:           req.ViewURL,
		GenerationInfo: map[string]any{
			"step_id":         req.StepID,
			"chain_id":        req.ChainID,
			"workflow_name":   metaString(req.ConfigMetadata, "workflow_name"),
			"server":          metaString(req.ConfigMetadata, "server"),
			"parameters_used": req.ConfigMetadata["parameters"],
			"approval_policy": req.ConfigMetadata["approval_policy"],
		},
		ExpiresAt: req.LinkExpiresAt,
		CreatedAt: req.CreatedAt,
	}, nil
}

// Parameters returns the editable parameter schema for the workflow
// behind an approval token, plus the values used for the generation.
func (s *Service) Parameters(ctx context.Context, token string) (*ParameterSchema, error) {
	req, err := s.validToken(ctx, token)
	if err != nil {
		return nil, err
	}

	workflowName := metaString(req.ConfigMetadata, "workflow_name")
	params := s.validator.EditableParameters(workflowName)
	if params == nil {
		return nil, models.NewValidationError("workflow_name",
			fmt.Sprintf("workflow %q not found in registry", workflowName))
	}

	schema := make(map[string]registry.Parameter, len(params))
	for _, p := range params {
		schema[p.Key] = p
	}

	current, _ := req.ConfigMetadata["parameters"].(map[string]any)
	return &ParameterSchema{
		WorkflowName:      workflowName,
		CurrentParameters: current,
		Schema:            schema,
	}, nil
}

// Approve flips the request to approved, records the decision on the
// artifact, and signals the waiting workflow.
func (s *Service) Approve(ctx context.Context, token, decidedBy string) (*models.ApprovalRequest, error) {
	req, err := s.approvals.Decide(ctx, token, models.ApprovalStatusApproved, decidedBy)
	if err != nil {
		return nil, err
	}

	if err := s.artifacts.UpdateApproval(ctx, req.ArtifactID, models.ArtifactApprovalApproved, decidedBy, ""); err != nil {
		s.log.Error("record artifact approval", "artifact_id", req.ArtifactID, "error", err)
	}

	decision := models.ApprovalDecision{
		Decision:   models.ApprovalStatusApproved,
		DecidedBy:  decidedBy,
		StepID:     req.StepID,
		Parameters: map[string]any{},
	}
	if err := s.signal(ctx, req, decision); err != nil {
		return nil, err
	}

	s.log.Info("approval granted",
		"approval_id", req.ID, "artifact_id", req.ArtifactID, "decided_by", decidedBy)
	return req, nil
}

// Reject validates the regeneration parameters, flips the request to
// rejected, records the decision, and signals the waiting workflow with
// the new parameters.
func (s *Service) Reject(ctx context.Context, token, decidedBy string, params map[string]any, comment string) (*models.ApprovalRequest, error) {
	req, err := s.validToken(ctx, token)
	if err != nil {
		return nil, err
	}

	if len(params) > 0 {
		workflowName := metaString(req.ConfigMetadata, "workflow_name")
		if problems := s.validator.Validate(workflowName, params); len(problems) > 0 {
			return nil, &InvalidParametersError{Problems: problems}
		}
	}

	req, err = s.approvals.Decide(ctx, token, models.ApprovalStatusRejected, decidedBy)
	if err != nil {
		return nil, err
	}

	if err := s.artifacts.UpdateApproval(ctx, req.ArtifactID, models.ArtifactApprovalRejected, decidedBy, comment); err != nil {
		s.log.Error("record artifact rejection", "artifact_id", req.ArtifactID, "error", err)
	}

	decision := models.ApprovalDecision{
		Decision:   models.ApprovalStatusRejected,
		DecidedBy:  decidedBy,
		StepID:     req.StepID,
		Parameters: params,
		Comment:    comment,
	}
	if err := s.signal(ctx, req, decision); err != nil {
		return nil, err
	}

	s.log.Info("approval rejected",
		"approval_id", req.ID, "artifact_id", req.ArtifactID,
		"decided_by", decidedBy, "regeneration_params", len(params))
	return req, nil
}

func (s *Service) signal(ctx context.Context, req *models.ApprovalRequest, decision models.ApprovalDecision) error {
	if s.signaler == nil {
		return nil
	}
	err := s.signaler.SignalWorkflow(ctx,
		req.EngineWorkflowID, req.EngineRunID, models.ApprovalDecisionSignal, decision)
	if err != nil {
		return fmt.Errorf("signal workflow %s: %w", req.EngineWorkflowID, err)
	}
	return nil
}

func (s *Service) validToken(ctx context.Context, token string) (*models.ApprovalRequest, error) {
	req, err := s.approvals.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if req.Status != models.ApprovalStatusPending {
		return nil, models.ErrTokenUsed
	}
	if req.LinkExpiresAt != nil && req.LinkExpiresAt.Before(time.Now().UTC()) {
		return nil, models.ErrTokenExpired
	}
	return req, nil
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}
