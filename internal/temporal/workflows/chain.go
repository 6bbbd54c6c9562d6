package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/renderfleet/orchestrator/internal/application/chain"
	"github.com/renderfleet/orchestrator/internal/temporal/activities"
	"github.com/renderfleet/orchestrator/pkg/balancer"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// ChainStatusQuery is the chain workflow's status query name.
const ChainStatusQuery = "get_status"

// ChainRequest is the input to the chain executor workflow.
type ChainRequest struct {
	Plan              chain.ExecutionPlan `json:"plan"`
	InitialParameters map[string]any      `json:"initial_parameters,omitempty"`
	LinkTTLHours      int                 `json:"link_ttl_hours,omitempty"`
}

// ChainResult is the outcome of a chain execution. Completed step
// results are preserved even when the chain fails.
type ChainResult struct {
	ChainName   string                      `json:"chain_name"`
	ChainDBID   string                      `json:"chain_db_id,omitempty"`
	Status      string                      `json:"status"`
	StepResults map[string]chain.StepResult `json:"step_results"`
	Error       string                      `json:"error,omitempty"`
}

// chainState is the mutable workflow state, checkpointed by the engine.
type chainState struct {
	status       string
	currentLevel int
	chainDBID    string
	stepResults  map[string]chain.StepResult
	jobDBIDs     map[string]string

	// Per-step approval slots, fed by the signal handler. Steps clear
	// their slot before waiting. A decision without a step id is handed
	// to every step currently waiting.
	decisions map[string]*models.ApprovalDecision
	waiting   map[string]bool
}

// ChainExecutorWorkflow runs an execution plan level by level: steps
// within a level run concurrently and join before the next level starts,
// so template resolution only ever sees fully settled prior results.
func ChainExecutorWorkflow(ctx workflow.Context, req ChainRequest) (*ChainResult, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)

	state := &chainState{
		status:      models.ChainStatusInitializing,
		stepResults: make(map[string]chain.StepResult),
		jobDBIDs:    make(map[string]string),
		decisions:   make(map[string]*models.ApprovalDecision),
		waiting:     make(map[string]bool),
	}

	if err := workflow.SetQueryHandler(ctx, ChainStatusQuery, func() (map[string]any, error) {
		stepStatuses := make(map[string]string, len(state.stepResults))
		for stepID, result := range state.stepResults {
			stepStatuses[stepID] = result.Status
		}
		return map[string]any{
			"status":          state.status,
			"current_level":   state.currentLevel,
			"completed_steps": len(state.stepResults),
			"step_statuses":   stepStatuses,
		}, nil
	}); err != nil {
		return nil, err
	}

	// Route approval decisions into per-step slots for the lifetime of
	// the workflow.
	decisionCh := workflow.GetSignalChannel(ctx, models.ApprovalDecisionSignal)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var decision models.ApprovalDecision
			if !decisionCh.Receive(gctx, &decision) {
				return
			}
			logger.Info("approval decision received",
				"decision", decision.Decision, "decided_by", decision.DecidedBy, "step_id", decision.StepID)
			if decision.StepID != "" {
				d := decision
				state.decisions[decision.StepID] = &d
				continue
			}
			for stepID := range state.waiting {
				d := decision
				state.decisions[stepID] = &d
			}
		}
	})

	var a *activities.Activities
	dbCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
		},
	})

	logger.Info("starting chain execution",
		"chain", req.Plan.ChainName, "levels", req.Plan.TotalLevels())

	if err := workflow.ExecuteActivity(dbCtx, a.CreateChainRecord, activities.CreateChainRecordRequest{
		Name:             req.Plan.ChainName,
		EngineWorkflowID: info.WorkflowExecution.ID,
		EngineRunID:      info.WorkflowExecution.RunID,
		Definition:       req.Plan.Definition,
	}).Get(ctx, &state.chainDBID); err != nil {
		return nil, err
	}

	for level := 0; level < req.Plan.TotalLevels(); level++ {
		state.currentLevel = level
		state.status = models.ChainStatusExecutingLevel(level)

		levelNum := level
		if err := workflow.ExecuteActivity(dbCtx, a.UpdateChainStatus, activities.UpdateChainStatusRequest{
			ChainID:      state.chainDBID,
			Status:       state.status,
			CurrentLevel: &levelNum,
		}).Get(ctx, nil); err != nil {
			return chainFailure(ctx, state, req.Plan.ChainName, err.Error())
		}

		stepIDs := req.Plan.Levels[level]
		logger.Info("executing level", "level", level, "steps", len(stepIDs))

		// All steps of the level run concurrently; the level joins before
		// results are consumed. Effects are keyed by step id, so the
		// completion order within the level cannot matter.
		results := make(map[string]chain.StepResult, len(stepIDs))
		wg := workflow.NewWaitGroup(ctx)
		for _, stepID := range stepIDs {
			node, ok := req.Plan.Node(stepID)
			if !ok {
				return chainFailure(ctx, state, req.Plan.ChainName,
					fmt.Sprintf("plan has no node for step %q", stepID))
			}
			if level == 0 && len(req.InitialParameters) > 0 {
				merged := make(map[string]any, len(node.Parameters)+len(req.InitialParameters))
				for k, v := range node.Parameters {
					merged[k] = v
				}
				for k, v := range req.InitialParameters {
					merged[k] = v
				}
				node.Parameters = merged
			}

			wg.Add(1)
			n := node
			workflow.Go(ctx, func(gctx workflow.Context) {
				defer wg.Done()
				results[n.StepID] = executeStep(gctx, state, req, n)
			})
		}
		wg.Wait(ctx)

		failed := false
		for stepID, result := range results {
			state.stepResults[stepID] = result
			logger.Info("step finished", "step_id", stepID, "status", result.Status)
			if result.Status == chain.StepStatusFailed {
				failed = true
			}
		}
		if failed {
			return chainFailure(ctx, state, req.Plan.ChainName,
				fmt.Sprintf("level %d had failing steps", level))
		}
	}

	state.status = models.ChainStatusCompleted
	if err := workflow.ExecuteActivity(dbCtx, a.UpdateChainStatus, activities.UpdateChainStatusRequest{
		ChainID: state.chainDBID,
		Status:  models.ChainStatusCompleted,
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to record chain completion", "error", err)
	}

	return &ChainResult{
		ChainName:   req.Plan.ChainName,
		ChainDBID:   state.chainDBID,
		Status:      models.ChainStatusCompleted,
		StepResults: state.stepResults,
	}, nil
}

// executeStep runs one planned step: condition, template resolution,
// backend selection, dependency transfers, the child render workflow,
// and the approval gate with its regeneration loop.
func executeStep(ctx workflow.Context, state *chainState, req ChainRequest, node chain.ExecutionNode) chain.StepResult {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	var a *activities.Activities

	fail := func(err error) chain.StepResult {
		logger.Error("step failed", "step_id", node.StepID, "error", err)
		if jobID, ok := state.jobDBIDs[node.StepID]; ok {
			recordStepJobStatus(ctx, jobID, models.JobStatusFailed, applicationErrorMessage(err))
		}
		return chain.StepResult{
			StepID:   node.StepID,
			Workflow: node.Workflow,
			Status:   chain.StepStatusFailed,
			Error:    applicationErrorMessage(err),
		}
	}

	shortCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    2,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
		},
	})
	dbCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
		},
	})

	// Condition gate. Prior-level results are settled; skipping creates
	// no job row.
	if node.Condition != "" {
		var shouldRun bool
		if err := workflow.ExecuteActivity(shortCtx, a.EvaluateCondition, activities.EvaluateConditionRequest{
			Condition:   node.Condition,
			StepResults: state.stepResults,
		}).Get(ctx, &shouldRun); err != nil {
			return fail(err)
		}
		if !shouldRun {
			logger.Info("step skipped by condition", "step_id", node.StepID)
			return chain.StepResult{
				StepID:   node.StepID,
				Workflow: node.Workflow,
				Status:   chain.StepStatusSkipped,
			}
		}
	}

	requiresApproval, policy := approvalPolicyOf(node.Parameters)
	var regenerationParams map[string]any
	retryCount := 0

	for {
		// Merge regeneration parameters from a prior rejection over the
		// planned ones.
		params := make(map[string]any, len(node.Parameters)+len(regenerationParams))
		for k, v := range node.Parameters {
			params[k] = v
		}
		for k, v := range regenerationParams {
			params[k] = v
		}

		var resolved map[string]any
		if err := workflow.ExecuteActivity(shortCtx, a.ResolveTemplates, activities.ResolveTemplatesRequest{
			Parameters:  params,
			StepResults: state.stepResults,
		}).Get(ctx, &resolved); err != nil {
			return fail(err)
		}

		var boundWorkflow map[string]any
		if err := workflow.ExecuteActivity(shortCtx, a.ApplyWorkflowParameters, activities.ApplyWorkflowParametersRequest{
			WorkflowName: node.Workflow,
			Parameters:   resolved,
		}).Get(ctx, &boundWorkflow); err != nil {
			return fail(err)
		}

		var targetBackend string
		selectCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: 30 * time.Second,
			RetryPolicy: &temporal.RetryPolicy{
				MaximumAttempts:    3,
				InitialInterval:    time.Second,
				MaximumInterval:    10 * time.Second,
				BackoffCoefficient: 2.0,
			},
		})
		if err := workflow.ExecuteActivity(selectCtx, a.SelectBackend, balancer.StrategyLeastLoaded).Get(ctx, &targetBackend); err != nil {
			return fail(err)
		}
		logger.Info("step backend selected", "step_id", node.StepID, "backend", targetBackend)

		// Move upstream artifacts onto the target backend before the
		// render consumes them by filename.
		if err := transferDependencies(ctx, state, node, targetBackend); err != nil {
			return fail(err)
		}

		isRegeneration := retryCount > 0
		jobDBID, ok := state.jobDBIDs[node.StepID]
		if !ok {
			if err := workflow.ExecuteActivity(dbCtx, a.CreateJobRecord, activities.CreateJobRecordRequest{
				ChainID:          state.chainDBID,
				StepID:           node.StepID,
				WorkflowName:     node.Workflow,
				BackendAddress:   targetBackend,
				EngineWorkflowID: fmt.Sprintf("%s-%s", info.WorkflowExecution.ID, node.StepID),
				Definition:       boundWorkflow,
				Parameters:       resolved,
			}).Get(ctx, &jobDBID); err != nil {
				return fail(err)
			}
			state.jobDBIDs[node.StepID] = jobDBID
		} else if isRegeneration {
			if err := workflow.ExecuteActivity(dbCtx, a.ResetJobForRegeneration, activities.ResetJobRequest{
				JobID:      jobDBID,
				Parameters: resolved,
			}).Get(ctx, nil); err != nil {
				return fail(err)
			}
		}

		// Child workflow id is derived from the parent and step so a
		// retried step resumes the same child; regenerations get their
		// own lineage.
		childID := fmt.Sprintf("%s-%s", info.WorkflowExecution.ID, node.StepID)
		if isRegeneration {
			childID = fmt.Sprintf("%s-r%d", childID, retryCount)
		}
		childCtx := workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
			WorkflowID: childID,
			RetryPolicy: &temporal.RetryPolicy{
				MaximumAttempts:    2,
				InitialInterval:    10 * time.Second,
				MaximumInterval:    time.Minute,
				BackoffCoefficient: 2.0,
			},
		})

		var jobResult JobResult
		if err := workflow.ExecuteChildWorkflow(childCtx, RenderJobWorkflow, JobRequest{
			Workflow:           boundWorkflow,
			WorkflowName:       node.Workflow,
			PreSelectedBackend: targetBackend,
			JobDBID:            jobDBID,
			NewVersion:         isRegeneration,
		}).Get(ctx, &jobResult); err != nil {
			return fail(err)
		}
		if jobResult.Status != models.JobStatusCompleted {
			return chain.StepResult{
				StepID:   node.StepID,
				Workflow: node.Workflow,
				Status:   chain.StepStatusFailed,
				Error:    jobResult.Error,
				JobDBID:  jobDBID,
			}
		}

		result := chain.StepResult{
			StepID:        node.StepID,
			Workflow:      node.Workflow,
			Status:        chain.StepStatusCompleted,
			Output:        jobResult.Output,
			Parameters:    resolved,
			ServerAddress: jobResult.Backend,
			JobDBID:       jobDBID,
		}

		if !requiresApproval {
			return result
		}

		decision, err := awaitApproval(ctx, state, req, node, jobDBID, targetBackend, resolved, policy)
		if err != nil {
			return fail(err)
		}

		switch decision.Decision {
		case models.ApprovalStatusApproved:
			return result

		case models.ApprovalStatusRejected:
			if policy.OnRejected == models.OnRejectedRegenerate && retryCount < policy.MaxRetries {
				retryCount++
				regenerationParams = decision.Parameters
				logger.Info("regenerating after rejection",
					"step_id", node.StepID, "attempt", retryCount, "max_retries", policy.MaxRetries)
				continue
			}
			if policy.OnRejected == models.OnRejectedSkip {
				recordStepJobStatus(ctx, jobDBID, models.JobStatusSkipped, "approval rejected")
				result.Status = chain.StepStatusSkipped
				return result
			}
			return fail(fmt.Errorf("step %s rejected by %s after %d regeneration(s)",
				node.StepID, decision.DecidedBy, retryCount))

		default:
			return fail(fmt.Errorf("unexpected approval decision %q", decision.Decision))
		}
	}
}

// transferDependencies uploads every dependency's current artifacts to
// the step's target backend, one transfer activity per upstream job.
func transferDependencies(ctx workflow.Context, state *chainState, node chain.ExecutionNode, targetBackend string) error {
	logger := workflow.GetLogger(ctx)
	var a *activities.Activities

	transferCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    2 * time.Second,
			MaximumInterval:    10 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
	shortCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
		},
	})

	for _, depStepID := range node.Dependencies {
		depJobID, ok := state.jobDBIDs[depStepID]
		if !ok {
			// Skipped dependencies produce nothing to transfer.
			logger.Info("dependency has no job, skipping transfer",
				"step_id", node.StepID, "dependency", depStepID)
			continue
		}

		var artifactIDs []string
		if err := workflow.ExecuteActivity(shortCtx, a.GetJobArtifactIDs, depJobID).Get(ctx, &artifactIDs); err != nil {
			return err
		}
		if len(artifactIDs) == 0 {
			continue
		}

		logger.Info("transferring dependency artifacts",
			"step_id", node.StepID, "dependency", depStepID,
			"count", len(artifactIDs), "target", targetBackend)

		if err := workflow.ExecuteActivity(transferCtx, a.TransferArtifacts, activities.TransferRequest{
			SourceJobID:   depJobID,
			TargetBackend: targetBackend,
			TargetJobID:   state.jobDBIDs[node.StepID],
			ArtifactIDs:   artifactIDs,
		}).Get(ctx, nil); err != nil {
			return err
		}
	}
	return nil
}

// awaitApproval creates the approval request for the job's latest
// artifact and blocks on the decision slot until the policy timeout.
func awaitApproval(
	ctx workflow.Context,
	state *chainState,
	req ChainRequest,
	node chain.ExecutionNode,
	jobDBID, backendAddr string,
	parameters map[string]any,
	policy models.ApprovalPolicy,
) (*models.ApprovalDecision, error) {
	logger := workflow.GetLogger(ctx)
	info := workflow.GetInfo(ctx)
	var a *activities.Activities

	dbCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
		},
	})

	var artifactID string
	if err := workflow.ExecuteActivity(dbCtx, a.GetLatestArtifactID, jobDBID).Get(ctx, &artifactID); err != nil {
		return nil, err
	}
	if artifactID == "" {
		// Nothing to look at; a gate with no artifact approves itself.
		logger.Warn("step has no artifacts to approve, auto-approving", "step_id", node.StepID)
		return &models.ApprovalDecision{Decision: models.ApprovalStatusApproved, DecidedBy: "system"}, nil
	}

	var request activities.ApprovalRequestData
	if err := workflow.ExecuteActivity(dbCtx, a.CreateApprovalRequest, activities.CreateApprovalRequestInput{
		ArtifactID:       artifactID,
		ChainID:          state.chainDBID,
		StepID:           node.StepID,
		EngineWorkflowID: info.WorkflowExecution.ID,
		EngineRunID:      info.WorkflowExecution.RunID,
		LinkTTLHours:     req.LinkTTLHours,
		WorkflowName:     node.Workflow,
		Server:           backendAddr,
		Parameters:       parameters,
		Policy:           policy,
	}).Get(ctx, &request); err != nil {
		return nil, err
	}
	logger.Info("waiting for approval",
		"step_id", node.StepID, "approval_id", request.ID, "timeout_hours", policy.TimeoutHours)

	// Clear the slot, mark the step waiting, and block until a decision
	// lands or the policy deadline fires. The timer is durable.
	state.decisions[node.StepID] = nil
	state.waiting[node.StepID] = true
	defer delete(state.waiting, node.StepID)

	timeout := time.Duration(policy.TimeoutHours) * time.Hour
	decided, err := workflow.AwaitWithTimeout(ctx, timeout, func() bool {
		return state.decisions[node.StepID] != nil
	})
	if err != nil {
		return nil, err
	}

	if decided {
		return state.decisions[node.StepID], nil
	}

	// Timeout: settle the pending row (revoking the token) and apply the
	// policy's timeout action.
	logger.Warn("approval timed out",
		"step_id", node.StepID, "action", policy.TimeoutAction)
	if err := workflow.ExecuteActivity(dbCtx, a.ResolveApprovalTimeout, activities.ResolveApprovalTimeoutInput{
		ApprovalID: request.ID,
		ArtifactID: artifactID,
		Action:     policy.TimeoutAction,
		DecidedBy:  "timeout",
	}).Get(ctx, nil); err != nil {
		logger.Error("failed to settle timed-out approval", "error", err)
	}

	if policy.TimeoutAction == models.TimeoutAutoApprove {
		return &models.ApprovalDecision{Decision: models.ApprovalStatusApproved, DecidedBy: "timeout"}, nil
	}
	return nil, fmt.Errorf("step %s approval timed out after %dh", node.StepID, policy.TimeoutHours)
}

// approvalPolicyOf reads the approval configuration out of a step's
// parameters.
func approvalPolicyOf(params map[string]any) (bool, models.ApprovalPolicy) {
	required, _ := params["requires_approval"].(bool)
	if !required {
		return false, models.ApprovalPolicy{}
	}

	policy := models.DefaultApprovalPolicy()
	raw, ok := params["approval"].(map[string]any)
	if !ok {
		return true, policy
	}

	if v, ok := rawNumber(raw["timeout_hours"]); ok {
		policy.TimeoutHours = v
	}
	if v, ok := raw["on_rejected"].(string); ok && v != "" {
		policy.OnRejected = v
	}
	if v, ok := rawNumber(raw["max_retries"]); ok {
		policy.MaxRetries = v
	}
	if v, ok := raw["timeout_action"].(string); ok && v != "" {
		policy.TimeoutAction = v
	}
	return true, policy.Normalize()
}

func rawNumber(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// recordStepJobStatus best-effort updates a step's job row.
func recordStepJobStatus(ctx workflow.Context, jobID, status, message string) {
	var a *activities.Activities
	cleanupCtx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	if err := workflow.ExecuteActivity(cleanupCtx, a.UpdateJobStatus, activities.UpdateJobStatusRequest{
		JobID:        jobID,
		Status:       status,
		ErrorMessage: message,
	}).Get(cleanupCtx, nil); err != nil {
		workflow.GetLogger(ctx).Error("failed to record step job status", "job_id", jobID, "error", err)
	}
}

// chainFailure records the chain's terminal failure, preserving completed
// step results in the returned value. A cancellation is recorded as
// cancelled rather than failed.
func chainFailure(ctx workflow.Context, state *chainState, chainName, message string) (*ChainResult, error) {
	terminal := models.ChainStatusFailed
	if ctx.Err() != nil {
		terminal = models.ChainStatusCancelled
	}
	state.status = terminal

	var a *activities.Activities
	cleanupCtx, cancel := workflow.NewDisconnectedContext(ctx)
	defer cancel()
	cleanupCtx = workflow.WithActivityOptions(cleanupCtx, workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	})
	if state.chainDBID != "" {
		if err := workflow.ExecuteActivity(cleanupCtx, a.UpdateChainStatus, activities.UpdateChainStatusRequest{
			ChainID:      state.chainDBID,
			Status:       terminal,
			ErrorMessage: message,
		}).Get(cleanupCtx, nil); err != nil {
			workflow.GetLogger(ctx).Error("failed to record chain failure", "error", err)
		}
	}

	return &ChainResult{
		ChainName:   chainName,
		ChainDBID:   state.chainDBID,
		Status:      terminal,
		StepResults: state.stepResults,
		Error:       message,
	}, nil
}
