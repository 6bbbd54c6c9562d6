package models

import "time"

// ApprovalRequest is a pending human decision about a specific artifact.
// The token is single-use: it validates only while the request is pending
// and the link has not expired.
type ApprovalRequest struct {
	ID               string         `json:"id"`
	ArtifactID       string         `json:"artifact_id"`
	ChainID          string         `json:"chain_id,omitempty"`
	StepID           string         `json:"step_id,omitempty"`
	EngineWorkflowID string         `json:"engine_workflow_id"`
	EngineRunID      string         `json:"engine_run_id,omitempty"`
	Token            string         `json:"-"`
	ViewURL          string         `json:"view_url,omitempty"`
	LinkExpiresAt    *time.Time     `json:"link_expires_at,omitempty"`
	Status           string         `json:"status"`
	DecidedBy        string         `json:"decided_by,omitempty"`
	DecidedAt        *time.Time     `json:"decided_at,omitempty"`
	ConfigMetadata   map[string]any `json:"config_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Approval request status values.
const (
	ApprovalStatusPending   = "pending"
	ApprovalStatusApproved  = "approved"
	ApprovalStatusRejected  = "rejected"
	ApprovalStatusCancelled = "cancelled"
)

// Rejection policies for an approval gate.
const (
	OnRejectedStop       = "stop"
	OnRejectedSkip       = "skip"
	OnRejectedRegenerate = "regenerate"
)

// Timeout actions for an approval gate.
const (
	TimeoutAutoApprove = "auto_approve"
	TimeoutAutoReject  = "auto_reject"
)

// ApprovalPolicy configures the human-approval gate of a chain step.
type ApprovalPolicy struct {
	TimeoutHours  int    `json:"timeout_hours" yaml:"timeout_hours"`
	OnRejected    string `json:"on_rejected" yaml:"on_rejected"`
	MaxRetries    int    `json:"max_retries" yaml:"max_retries"`
	TimeoutAction string `json:"timeout_action" yaml:"timeout_action"`
}

// DefaultApprovalPolicy returns the policy applied when a step requires
// approval but configures nothing further.
func DefaultApprovalPolicy() ApprovalPolicy {
	return ApprovalPolicy{
		TimeoutHours:  24,
		OnRejected:    OnRejectedStop,
		MaxRetries:    0,
		TimeoutAction: TimeoutAutoReject,
	}
}

// Normalize fills zero values with policy defaults.
func (p ApprovalPolicy) Normalize() ApprovalPolicy {
	def := DefaultApprovalPolicy()
	if p.TimeoutHours <= 0 {
		p.TimeoutHours = def.TimeoutHours
	}
	if p.OnRejected == "" {
		p.OnRejected = def.OnRejected
	}
	if p.TimeoutAction == "" {
		p.TimeoutAction = def.TimeoutAction
	}
	return p
}

// ApprovalDecisionSignal is the name of the chain workflow's approval
// signal handler.
const ApprovalDecisionSignal = "approval_decision"

// ApprovalDecision is the payload delivered to a chain workflow when a
// human decides an approval request. StepID routes the decision to the
// waiting step when several gates are open concurrently; an empty StepID
// reaches whichever step is waiting.
type ApprovalDecision struct {
	Decision   string         `json:"decision"`
	DecidedBy  string         `json:"decided_by"`
	StepID     string         `json:"step_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}
