package activities

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/renderfleet/orchestrator/pkg/backend"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// ExecuteRequest is the input to ExecuteAndTrack.
type ExecuteRequest struct {
	BackendAddress string         `json:"backend_address"`
	ClientID       string         `json:"client_id"`
	Workflow       map[string]any `json:"workflow"`
	WorkflowName   string         `json:"workflow_name,omitempty"`
	JobDBID        string         `json:"job_db_id,omitempty"`
}

// ExecuteResult is the terminal outcome of one render.
type ExecuteResult struct {
	Status   string                        `json:"status"`
	PromptID string                        `json:"prompt_id"`
	Outputs  map[string]backend.NodeOutput `json:"outputs,omitempty"`
	Error    string                        `json:"error,omitempty"`
}

// ExecuteAndTrack submits a workflow to the backend and tracks it to a
// terminal outcome, heartbeating node progress.
//
// Idempotence: when the request carries a job row id and that row already
// records a backend prompt id, the activity resumes tracking the existing
// prompt instead of submitting again. This is what keeps a worker crash
// between submit and download from rendering twice.
func (a *Activities) ExecuteAndTrack(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	client := backend.NewClient(req.BackendAddress, req.ClientID)

	promptID, err := a.existingPromptID(ctx, req.JobDBID)
	if err != nil {
		return nil, err
	}

	if promptID == "" {
		promptID, err = client.HTTP.Submit(ctx, req.Workflow)
		if err != nil {
			return nil, err
		}
		a.Log.Info("workflow submitted",
			"backend", req.BackendAddress, "prompt_id", promptID, "workflow", req.WorkflowName)

		if req.JobDBID != "" {
			if err := a.Jobs.SetPromptID(ctx, req.JobDBID, promptID); err != nil {
				return nil, err
			}
		}
	} else {
		a.Log.Info("resuming tracking of existing prompt",
			"backend", req.BackendAddress, "prompt_id", promptID)
	}

	tracker := backend.NewTracker(client, promptID, backend.TrackerOptions{
		PollInterval: a.TrackPollInterval,
		Timeout:      a.TrackTimeout,
		OnProgress: func(update backend.ProgressUpdate) {
			activity.RecordHeartbeat(ctx, update)
		},
	})

	result := tracker.Track(ctx)
	switch result.Status {
	case backend.TrackSuccess:
		out := &ExecuteResult{
			Status:   models.JobStatusCompleted,
			PromptID: promptID,
		}
		if result.History != nil {
			out.Outputs = result.History.Outputs
		}
		return out, nil

	case backend.TrackError, backend.TrackInterrupted:
		// The backend rejected or aborted the render; the same inputs
		// will fail again, so the workflow must not retry.
		return &ExecuteResult{
				Status:   models.JobStatusFailed,
				PromptID: promptID,
				Error:    result.Err,
			}, temporal.NewNonRetryableApplicationError(
				result.Err, "ExecutionError", nil)

	default:
		return nil, temporal.NewApplicationError(result.Err, "TrackingTimeout")
	}
}

func (a *Activities) existingPromptID(ctx context.Context, jobDBID string) (string, error) {
	if jobDBID == "" {
		return "", nil
	}
	job, err := a.Jobs.FindByID(ctx, jobDBID)
	if err != nil {
		return "", err
	}
	return job.BackendPromptID, nil
}
