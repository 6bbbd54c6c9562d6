// Package workflows holds the durable workflow definitions: the
// single-job render workflow and the chain executor. All non-determinism
// goes through the engine; everything side-effectful is an activity.
package workflows

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/renderfleet/orchestrator/internal/temporal/activities"
	"github.com/renderfleet/orchestrator/pkg/balancer"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// Signal and query names on the job workflow.
const (
	JobCancelSignal   = "cancel"
	JobStatusQuery    = "get_status"
	JobWorkflowName   = "RenderJobWorkflow"
	ChainWorkflowName = "ChainExecutorWorkflow"
)

// JobRequest is the input to the single-job workflow.
type JobRequest struct {
	Workflow           map[string]any `json:"workflow"`
	Strategy           string         `json:"strategy,omitempty"`
	WorkflowName       string         `json:"workflow_name,omitempty"`
	PreSelectedBackend string         `json:"pre_selected_backend,omitempty"`
	JobDBID            string         `json:"job_db_id,omitempty"`
	NewVersion         bool           `json:"new_version,omitempty"`
}

// JobResult is the outcome of the single-job workflow.
type JobResult struct {
	Status       string                      `json:"status"`
	PromptID     string                      `json:"prompt_id,omitempty"`
	Backend      string                      `json:"backend,omitempty"`
	Output       map[string]any              `json:"output,omitempty"`
	LocalPreview []activities.StoredArtifact `json:"local_preview,omitempty"`
	Error        string                      `json:"error,omitempty"`
}

// jobState is the snapshot exposed through the status query.
type jobState struct {
	Status      string  `json:"status"`
	Backend     string  `json:"backend,omitempty"`
	PromptID    string  `json:"prompt_id,omitempty"`
	CurrentNode string  `json:"current_node,omitempty"`
	Progress    float64 `json:"progress,omitempty"`
	Error       string  `json:"error,omitempty"`
	Cancelled   bool    `json:"cancelled,omitempty"`
}

// RenderJobWorkflow drives one render job end to end: pick a backend,
// submit and track, enumerate outputs, download and index. The worker
// may crash at any point; the engine resumes from the last completed
// activity, and the submit guard in ExecuteAndTrack keeps the render
// from being queued twice.
func RenderJobWorkflow(ctx workflow.Context, req JobRequest) (*JobResult, error) {
	logger := workflow.GetLogger(ctx)
	state := &jobState{Status: "initializing"}

	if err := workflow.SetQueryHandler(ctx, JobStatusQuery, func() (*jobState, error) {
		return state, nil
	}); err != nil {
		return nil, err
	}

	ctx, cancelWorkflow := workflow.WithCancel(ctx)
	cancelCh := workflow.GetSignalChannel(ctx, JobCancelSignal)
	workflow.Go(ctx, func(gctx workflow.Context) {
		cancelCh.Receive(gctx, nil)
		logger.Info("cancel signal received")
		state.Cancelled = true
		state.Status = models.JobStatusCancelled
		cancelWorkflow()
	})

	var a *activities.Activities

	// The websocket client id must be stable across replays, so it is
	// drawn once through the engine rather than at the call site.
	var clientID string
	if err := workflow.SideEffect(ctx, func(workflow.Context) any {
		return uuid.NewString()
	}).Get(&clientID); err != nil {
		return nil, err
	}

	// Step 1: backend selection, unless the chain pre-selected one.
	state.Status = "selecting_backend"
	if req.PreSelectedBackend != "" {
		state.Backend = req.PreSelectedBackend
	} else {
		strategy := req.Strategy
		if strategy == "" {
			strategy = balancer.StrategyLeastLoaded
		}
		selectCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 30 * time.Second,
			RetryPolicy: &temporal.RetryPolicy{
				MaximumAttempts:    3,
				InitialInterval:    time.Second,
				MaximumInterval:    10 * time.Second,
				BackoffCoefficient: 2.0,
			},
		})
		if err := workflow.ExecuteActivity(selectCtx, a.SelectBackend, strategy).Get(ctx, &state.Backend); err != nil {
			return jobFailure(ctx, state, req.JobDBID, err)
		}
	}
	logger.Info("backend selected", "backend", state.Backend)

	// Step 2: submit and track to a terminal outcome.
	state.Status = "executing"
	execCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		HeartbeatTimeout:    10 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    2,
			InitialInterval:    5 * time.Second,
			MaximumInterval:    30 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})

	var execResult activities.ExecuteResult
	err := workflow.ExecuteActivity(execCtx, a.ExecuteAndTrack, activities.ExecuteRequest{
		BackendAddress: state.Backend,
		ClientID:       clientID,
		Workflow:       req.Workflow,
		WorkflowName:   req.WorkflowName,
		JobDBID:        req.JobDBID,
	}).Get(ctx, &execResult)
	state.PromptID = execResult.PromptID
	if err != nil {
		return jobFailure(ctx, state, req.JobDBID, err)
	}
	if execResult.Status != models.JobStatusCompleted {
		return jobFailure(ctx, state, req.JobDBID, errors.New(execResult.Error))
	}

	// Step 3: flatten history outputs into downloadable files.
	state.Status = "processing_outputs"
	shortCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    2,
			InitialInterval:    time.Second,
			MaximumInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})

	var files []activities.OutputFile
	if err := workflow.ExecuteActivity(shortCtx, a.ExtractOutputFiles, execResult.Outputs).Get(ctx, &files); err != nil {
		return jobFailure(ctx, state, req.JobDBID, err)
	}
	logger.Info("outputs enumerated", "count", len(files))

	// Step 4: download into the artifact store, persisting rows when the
	// job is database-backed.
	state.Status = "downloading_files"
	downloadCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    2 * time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})

	downloadReq := activities.DownloadRequest{
		JobDBID:        req.JobDBID,
		BackendAddress: state.Backend,
		Files:          files,
		NewVersion:     req.NewVersion,
	}
	var stored []activities.StoredArtifact
	if req.JobDBID != "" {
		err = workflow.ExecuteActivity(downloadCtx, a.DownloadAndPersist, downloadReq).Get(ctx, &stored)
	} else {
		err = workflow.ExecuteActivity(downloadCtx, a.DownloadOnly, downloadReq).Get(ctx, &stored)
	}
	if err != nil {
		return jobFailure(ctx, state, req.JobDBID, err)
	}

	// Step 5: shape the structured output for chain templates.
	var output map[string]any
	if req.WorkflowName != "" && len(files) > 0 {
		if err := workflow.ExecuteActivity(shortCtx, a.BuildStructuredOutput, activities.StructuredOutputRequest{
			WorkflowName: req.WorkflowName,
			ServerFiles:  files,
		}).Get(ctx, &output); err != nil {
			logger.Warn("structured output unavailable", "error", err)
		}
	}

	if req.JobDBID != "" {
		if err := workflow.ExecuteActivity(shortCtx, a.UpdateJobStatus, activities.UpdateJobStatusRequest{
			JobID:  req.JobDBID,
			Status: models.JobStatusCompleted,
		}).Get(ctx, nil); err != nil {
			return jobFailure(ctx, state, req.JobDBID, err)
		}
	}

	state.Status = models.JobStatusCompleted
	return &JobResult{
		Status:       models.JobStatusCompleted,
		PromptID:     state.PromptID,
		Backend:      state.Backend,
		Output:       output,
		LocalPreview: stored,
	}, nil
}

// jobFailure records the failure on the job row and returns a failed
// result rather than a workflow error: the parent chain consumes the
// result value and applies its own policy.
func jobFailure(ctx workflow.Context, state *jobState, jobDBID string, cause error) (*JobResult, error) {
	state.Error = cause.Error()

	status := models.JobStatusFailed
	if state.Cancelled || temporal.IsCanceledError(cause) {
		status = models.JobStatusCancelled
	}
	state.Status = status

	if jobDBID != "" {
		// A cancelled workflow context no longer runs activities; use a
		// disconnected one for the final bookkeeping write.
		cleanupCtx, cancel := workflow.NewDisconnectedContext(ctx)
		defer cancel()
		cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
			StartToCloseTimeout: 10 * time.Second,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		})

		var a *activities.Activities
		if err := workflow.ExecuteActivity(cleanupCtx, a.UpdateJobStatus, activities.UpdateJobStatusRequest{
			JobID:        jobDBID,
			Status:       status,
			ErrorMessage: applicationErrorMessage(cause),
		}).Get(cleanupCtx, nil); err != nil {
			workflow.GetLogger(ctx).Error("failed to record job failure", "error", err)
		}
	}

	return &JobResult{
		Status:   status,
		PromptID: state.PromptID,
		Backend:  state.Backend,
		Error:    applicationErrorMessage(cause),
	}, nil
}

// applicationErrorMessage unwraps the activity error chain down to the
// message worth recording on the row.
func applicationErrorMessage(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	var actErr *temporal.ActivityError
	if errors.As(err, &actErr) {
		if unwrapped := actErr.Unwrap(); unwrapped != nil {
			return applicationErrorMessage(unwrapped)
		}
	}
	return err.Error()
}
