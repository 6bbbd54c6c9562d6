package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.temporal.io/sdk/client"

	"github.com/renderfleet/orchestrator/internal/application/chain"
	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	"github.com/renderfleet/orchestrator/internal/temporal/workflows"
)

// ChainHandlers serves chain submission and queries.
type ChainHandlers struct {
	chains    *storage.ChainRepository
	jobs      *storage.JobRepository
	approvals *storage.ApprovalRepository
	temporal  client.Client
	taskQueue string
	logger    *logger.Logger
}

// NewChainHandlers creates the chain handlers.
func NewChainHandlers(
	chains *storage.ChainRepository,
	jobs *storage.JobRepository,
	approvals *storage.ApprovalRepository,
	temporalClient client.Client,
	taskQueue string,
	log *logger.Logger,
) *ChainHandlers {
	return &ChainHandlers{
		chains:    chains,
		jobs:      jobs,
		approvals: approvals,
		temporal:  temporalClient,
		taskQueue: taskQueue,
		logger:    log,
	}
}

// HandleSubmitChain validates a chain definition, plans it, and starts
// the chain executor workflow. Validation failures write no rows.
func (h *ChainHandlers) HandleSubmitChain(c *gin.Context) {
	var req struct {
		Chain             map[string]any `json:"chain"`
		InitialParameters map[string]any `json:"initial_parameters"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}
	if req.Chain == nil {
		respondAPIError(c, NewAPIError("CHAIN_REQUIRED", "chain definition is required", http.StatusBadRequest))
		return
	}

	spec, err := chain.SpecFromMap(req.Chain)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	plan, err := chain.Plan(spec)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	plan.Definition = req.Chain

	workflowID := "chain-" + GetRequestID(c)
	run, err := h.temporal.ExecuteWorkflow(c.Request.Context(), client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.taskQueue,
	}, workflows.ChainWorkflowName, workflows.ChainRequest{
		Plan:              *plan,
		InitialParameters: req.InitialParameters,
	})
	if err != nil {
		h.logger.Error("failed to start chain workflow", "error", err, "request_id", GetRequestID(c))
		respondAPIError(c, TranslateError(err))
		return
	}

	h.logger.Info("chain started",
		"chain", spec.Name, "workflow_id", run.GetID(), "run_id", run.GetRunID())
	respondJSON(c, http.StatusAccepted, gin.H{
		"chain_name":  spec.Name,
		"workflow_id": run.GetID(),
		"run_id":      run.GetRunID(),
		"levels":      plan.Levels,
	})
}

// HandleValidateChain dry-runs planning without starting anything.
func (h *ChainHandlers) HandleValidateChain(c *gin.Context) {
	var req struct {
		Chain map[string]any `json:"chain"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	spec, err := chain.SpecFromMap(req.Chain)
	if err == nil {
		_, err = chain.Plan(spec)
	}
	if err != nil {
		respondJSON(c, http.StatusOK, gin.H{"valid": false, "errors": []string{err.Error()}})
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"valid": true, "errors": []string{}})
}

// HandleListChains lists chains, optionally filtered by status.
func (h *ChainHandlers) HandleListChains(c *gin.Context) {
	chains, err := h.chains.List(c.Request.Context(), c.Query("status"), 100, 0)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"chains": chains, "count": len(chains)})
}

// HandleGetChain returns a chain with its step jobs and approvals.
func (h *ChainHandlers) HandleGetChain(c *gin.Context) {
	id := c.Param("id")

	row, err := h.chains.FindByID(c.Request.Context(), id)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	jobs, err := h.jobs.ListByChain(c.Request.Context(), id)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	approvals, err := h.approvals.ListByChain(c.Request.Context(), id)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{
		"chain":     row,
		"jobs":      jobs,
		"approvals": approvals,
	})
}

// HandleGetChainStatus queries the live workflow for level and per-step
// progress.
func (h *ChainHandlers) HandleGetChainStatus(c *gin.Context) {
	row, err := h.chains.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	status, err := h.queryWorkflowStatus(c.Request.Context(), row.EngineWorkflowID, row.EngineRunID)
	if err != nil {
		// Fall back to the persisted row when the workflow is gone.
		respondJSON(c, http.StatusOK, gin.H{
			"status":        row.Status,
			"current_level": row.CurrentLevel,
			"source":        "store",
		})
		return
	}
	respondJSON(c, http.StatusOK, status)
}

// HandleCancelChain requests cancellation of a running chain workflow.
func (h *ChainHandlers) HandleCancelChain(c *gin.Context) {
	row, err := h.chains.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	if err := h.temporal.CancelWorkflow(c.Request.Context(), row.EngineWorkflowID, row.EngineRunID); err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	respondJSON(c, http.StatusAccepted, gin.H{"chain_id": row.ID, "cancelling": true})
}

func (h *ChainHandlers) queryWorkflowStatus(ctx context.Context, workflowID, runID string) (map[string]any, error) {
	resp, err := h.temporal.QueryWorkflow(ctx, workflowID, runID, workflows.ChainStatusQuery)
	if err != nil {
		return nil, err
	}
	var status map[string]any
	if err := resp.Get(&status); err != nil {
		return nil, err
	}
	return status, nil
}
