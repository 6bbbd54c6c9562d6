package activities

import (
	"context"
	"errors"

	"go.temporal.io/sdk/temporal"

	"github.com/renderfleet/orchestrator/internal/application/chain"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// Parameter keys a chain step reserves for orchestration; they configure
// the step itself and are never applied as template overrides.
var reservedStepKeys = map[string]bool{
	"requires_approval": true,
	"approval":          true,
}

// ResolveTemplatesRequest is the input to ResolveTemplates.
type ResolveTemplatesRequest struct {
	Parameters  map[string]any              `json:"parameters"`
	StepResults map[string]chain.StepResult `json:"step_results"`
}

// ResolveTemplates substitutes step-output expressions in parameter
// values. Unresolvable references are permanent failures: retrying with
// the same inputs cannot succeed.
func (a *Activities) ResolveTemplates(ctx context.Context, req ResolveTemplatesRequest) (map[string]any, error) {
	resolved, err := chain.ResolveParameters(req.Parameters, chain.BuildContext(req.StepResults))
	if err != nil {
		var re *chain.ResolutionError
		if errors.As(err, &re) {
			return nil, temporal.NewNonRetryableApplicationError(re.Message, "TemplateResolutionError", nil)
		}
		return nil, err
	}
	return resolved, nil
}

// EvaluateConditionRequest is the input to EvaluateCondition.
type EvaluateConditionRequest struct {
	Condition   string                      `json:"condition"`
	StepResults map[string]chain.StepResult `json:"step_results"`
}

// EvaluateCondition runs a step's condition against completed prior
// steps.
func (a *Activities) EvaluateCondition(ctx context.Context, req EvaluateConditionRequest) (bool, error) {
	verdict, err := a.Evaluator.Evaluate(req.Condition, chain.BuildContext(req.StepResults))
	if err != nil {
		var re *chain.ResolutionError
		if errors.As(err, &re) {
			return false, temporal.NewNonRetryableApplicationError(re.Message, "ConditionError", nil)
		}
		return false, err
	}
	return verdict, nil
}

// ApplyWorkflowParametersRequest is the input to ApplyWorkflowParameters.
type ApplyWorkflowParametersRequest struct {
	WorkflowName string         `json:"workflow_name"`
	Parameters   map[string]any `json:"parameters"`
}

// ApplyWorkflowParameters binds resolved step parameters into the named
// template through the registry's override contract. Reserved step keys
// are stripped first; unknown override keys are permanent validation
// failures.
func (a *Activities) ApplyWorkflowParameters(ctx context.Context, req ApplyWorkflowParametersRequest) (map[string]any, error) {
	overrides := make(map[string]any, len(req.Parameters))
	for key, value := range req.Parameters {
		if reservedStepKeys[key] {
			continue
		}
		overrides[key] = value
	}

	bound, err := a.Registry.ApplyOverrides(req.WorkflowName, overrides)
	if err != nil {
		if models.IsValidation(err) {
			return nil, temporal.NewNonRetryableApplicationError(err.Error(), "ValidationError", nil)
		}
		return nil, err
	}
	return bound, nil
}
