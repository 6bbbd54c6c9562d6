package approval

import (
	"fmt"

	"github.com/renderfleet/orchestrator/internal/application/registry"
)

// ParameterValidator checks regeneration parameters against a workflow's
// override file: only keys present there are editable, and values must
// match the parameter's declared type.
type ParameterValidator struct {
	registry *registry.Registry
}

// NewParameterValidator creates a validator over the template registry.
func NewParameterValidator(reg *registry.Registry) *ParameterValidator {
	return &ParameterValidator{registry: reg}
}

// Validate returns every violation found; an empty slice means valid.
func (v *ParameterValidator) Validate(workflowName string, params map[string]any) []string {
	info, ok := v.registry.Get(workflowName)
	if !ok {
		return []string{fmt.Sprintf("workflow %q not found in registry", workflowName)}
	}

	lookup := make(map[string]registry.Parameter, len(info.Parameters))
	for _, p := range info.Parameters {
		lookup[p.Key] = p
	}

	var errs []string
	for key, value := range params {
		param, ok := lookup[key]
		if !ok {
			errs = append(errs, fmt.Sprintf(
				"parameter %q is not editable (not found in workflow override file)", key))
			continue
		}
		if err := registry.CheckType(key, value, param.Type); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// EditableParameters returns the full parameter schema of a workflow, or
// nil when the workflow is unknown.
func (v *ParameterValidator) EditableParameters(workflowName string) []registry.Parameter {
	info, ok := v.registry.Get(workflowName)
	if !ok {
		return nil
	}
	return info.Parameters
}
