package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.temporal.io/sdk/client"

	"github.com/renderfleet/orchestrator/internal/application/artifactstore"
	"github.com/renderfleet/orchestrator/internal/application/registry"
	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	"github.com/renderfleet/orchestrator/internal/temporal/workflows"
	"github.com/renderfleet/orchestrator/pkg/balancer"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// JobHandlers serves standalone job submission and job/artifact queries.
type JobHandlers struct {
	jobs      *storage.JobRepository
	artifacts *storage.ArtifactRepository
	registry  *registry.Registry
	store     *artifactstore.Store
	temporal  client.Client
	taskQueue string
	logger    *logger.Logger
}

// NewJobHandlers creates the job handlers.
func NewJobHandlers(
	jobs *storage.JobRepository,
	artifacts *storage.ArtifactRepository,
	reg *registry.Registry,
	store *artifactstore.Store,
	temporalClient client.Client,
	taskQueue string,
	log *logger.Logger,
) *JobHandlers {
	return &JobHandlers{
		jobs:      jobs,
		artifacts: artifacts,
		registry:  reg,
		store:     store,
		temporal:  temporalClient,
		taskQueue: taskQueue,
		logger:    log,
	}
}

// HandleSubmitJob binds overrides into a named template and starts a
// standalone render. Override validation happens before any row is
// written: an unknown key rejects the request outright.
func (h *JobHandlers) HandleSubmitJob(c *gin.Context) {
	workflowName := c.Param("name")

	var req struct {
		Overrides map[string]any `json:"overrides"`
		Strategy  string         `json:"strategy"`
		Ephemeral bool           `json:"ephemeral"`
	}
	if err := bindJSON(c, &req); err != nil {
		return
	}

	bound, err := h.registry.ApplyOverrides(workflowName, req.Overrides)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = balancer.StrategyLeastLoaded
	}

	var jobDBID string
	if !req.Ephemeral {
		job, err := h.jobs.Create(c.Request.Context(), storage.CreateJobParams{
			WorkflowName:   workflowName,
			BackendAddress: "", // filled once the workflow selects one
			Definition:     bound,
			Parameters:     req.Overrides,
		})
		if err != nil {
			respondAPIError(c, TranslateError(err))
			return
		}
		jobDBID = job.ID
	}

	workflowID := "job-" + GetRequestID(c)
	run, err := h.temporal.ExecuteWorkflow(c.Request.Context(), client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.taskQueue,
	}, workflows.JobWorkflowName, workflows.JobRequest{
		Workflow:     bound,
		Strategy:     strategy,
		WorkflowName: workflowName,
		JobDBID:      jobDBID,
	})
	if err != nil {
		h.logger.Error("failed to start job workflow", "error", err, "request_id", GetRequestID(c))
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusAccepted, gin.H{
		"job_id":      jobDBID,
		"workflow_id": run.GetID(),
		"run_id":      run.GetRunID(),
	})
}

// HandleListJobs lists jobs, optionally filtered by status.
func (h *JobHandlers) HandleListJobs(c *gin.Context) {
	jobs, err := h.jobs.List(c.Request.Context(), c.Query("status"), 100, 0)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// HandleGetJob returns one job with its artifacts.
func (h *JobHandlers) HandleGetJob(c *gin.Context) {
	id := c.Param("id")

	job, err := h.jobs.FindByID(c.Request.Context(), id)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	includeOld := c.Query("include_old") == "true"
	artifacts, err := h.artifacts.ListByJob(c.Request.Context(), id, includeOld)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"job": job, "artifacts": artifacts})
}

// HandleGetArtifact returns one artifact's metadata with its version
// history.
func (h *JobHandlers) HandleGetArtifact(c *gin.Context) {
	artifact, err := h.artifacts.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	versions, err := h.artifacts.Versions(c.Request.Context(), artifact.ID)
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	respondJSON(c, http.StatusOK, gin.H{"artifact": artifact, "versions": versions})
}

// HandleGetArtifactContent streams an artifact's bytes.
func (h *JobHandlers) HandleGetArtifactContent(c *gin.Context) {
	artifact, err := h.artifacts.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondAPIError(c, TranslateError(err))
		return
	}

	path, err := h.store.Path(artifact.LocalFilename)
	if err != nil {
		respondAPIError(c, NewAPIError("FILE_MISSING", "Artifact bytes are no longer on disk", http.StatusGone))
		return
	}
	c.FileAttachment(path, artifact.OriginalFilename)
}

// HandleServeFile serves a stored file by local filename. Only files with
// an artifact row are exposed.
func (h *JobHandlers) HandleServeFile(c *gin.Context) {
	name := c.Param("filename")

	if _, err := h.artifacts.FindByLocalFilename(c.Request.Context(), name); err != nil {
		respondAPIError(c, TranslateError(models.ErrNotFound))
		return
	}
	path, err := h.store.Path(name)
	if err != nil {
		respondAPIError(c, NewAPIError("FILE_MISSING", "File is no longer on disk", http.StatusGone))
		return
	}
	c.File(path)
}
