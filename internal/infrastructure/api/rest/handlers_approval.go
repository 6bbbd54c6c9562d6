package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/renderfleet/orchestrator/internal/application/approval"
	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
)

// ApprovalHandlers serves the approval-link surface. The token in the
// path is the only credential; it is single-use and expiring.
type ApprovalHandlers struct {
	service *approval.Service
	logger  *logger.Logger
}

// NewApprovalHandlers creates the approval handlers.
func NewApprovalHandlers(service *approval.Service, log *logger.Logger) *ApprovalHandlers {
	return &ApprovalHandlers{service: service, logger: log}
}

// HandleGetDetails shows the artifact and generation context behind an
// approval link.
func (h *ApprovalHandlers) HandleGetDetails(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}

	details, err := h.service.Details(c.Request.Context(), token)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	respondJSON(c, http.StatusOK, details)
}

// HandleGetParameters returns the editable parameter schema behind an
// approval link.
func (h *ApprovalHandlers) HandleGetParameters(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}

	schema, err := h.service.Parameters(c.Request.Context(), token)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	respondJSON(c, http.StatusOK, schema)
}

// HandleApprove approves the artifact and signals the waiting chain.
func (h *ApprovalHandlers) HandleApprove(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}

	var req struct {
		DecidedBy string `json:"decided_by"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if req.DecidedBy == "" {
		respondAPIError(c, NewAPIError("DECIDED_BY_REQUIRED", "decided_by is required", http.StatusBadRequest))
		return
	}

	result, err := h.service.Approve(c.Request.Context(), token, req.DecidedBy)
	if err != nil {
		h.logger.Error("approval failed", "error", err, "request_id", GetRequestID(c))
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"status":      result.Status,
		"decided_by":  result.DecidedBy,
		"decided_at":  result.DecidedAt,
		"approval_id": result.ID,
	})
}

// HandleReject rejects the artifact, validating any regeneration
// parameters against the template's override contract, and signals the
// waiting chain.
func (h *ApprovalHandlers) HandleReject(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		respondAPIError(c, ErrMissingParameter)
		return
	}

	var req struct {
		DecidedBy        string         `json:"decided_by"`
		Parameters       map[string]any `json:"parameters"`
		RejectionComment string         `json:"rejection_comment"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if req.DecidedBy == "" {
		respondAPIError(c, NewAPIError("DECIDED_BY_REQUIRED", "decided_by is required", http.StatusBadRequest))
		return
	}

	result, err := h.service.Reject(c.Request.Context(), token, req.DecidedBy, req.Parameters, req.RejectionComment)
	if err != nil {
		h.logger.Error("rejection failed", "error", err, "request_id", GetRequestID(c))
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"status":      result.Status,
		"decided_by":  result.DecidedBy,
		"decided_at":  result.DecidedAt,
		"approval_id": result.ID,
	})
}
