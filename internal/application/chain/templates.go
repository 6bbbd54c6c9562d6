package chain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

var templatePattern = regexp.MustCompile(`\{\{(.+?)\}\}`)

// BuildContext converts step results into the environment visible to
// templates and conditions: step_id -> {output, parameters, status}.
func BuildContext(results map[string]StepResult) map[string]any {
	ctx := make(map[string]any, len(results))
	for stepID, result := range results {
		ctx[stepID] = map[string]any{
			"output":     result.Output,
			"parameters": result.Parameters,
			"status":     result.Status,
		}
	}
	return ctx
}

// ResolveParameters substitutes every "{{ expression }}" occurrence in
// string values, recursing into nested maps and lists. A string that is
// exactly one template keeps the expression's native type, except that a
// string result that parses as a number is coerced to int or float;
// embedded templates interpolate as text, with purely numeric results
// coerced the same way.
func ResolveParameters(params map[string]any, context map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(params))
	for key, value := range params {
		out, err := resolveValue(value, context)
		if err != nil {
			return nil, resolutionErrorf("failed to resolve parameter %q: %v", key, err)
		}
		resolved[key] = out
	}
	return resolved, nil
}

func resolveValue(value any, context map[string]any) (any, error) {
	switch val := value.(type) {
	case string:
		return resolveString(val, context)

	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			r, err := resolveValue(v, context)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil

	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			r, err := resolveValue(v, context)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil

	default:
		return value, nil
	}
}

func resolveString(s string, context map[string]any) (any, error) {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// A single template spanning the whole string keeps its native type;
	// a string result that parses as a number is coerced.
	if len(matches) == 1 && s[:matches[0][0]] == "" && strings.TrimSpace(s[matches[0][1]:]) == "" {
		result, err := evaluate(s[matches[0][2]:matches[0][3]], context)
		if err != nil {
			return nil, err
		}
		if str, ok := result.(string); ok {
			return coerceNumeric(str), nil
		}
		return result, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		result, err := evaluate(s[m[2]:m[3]], context)
		if err != nil {
			return nil, err
		}
		b.WriteString(fmt.Sprint(result))
		last = m[1]
	}
	b.WriteString(s[last:])
	return coerceNumeric(b.String()), nil
}

// evaluate compiles and runs one template expression against the step
// context.
func evaluate(expression string, context map[string]any) (any, error) {
	expression = strings.TrimSpace(expression)

	program, err := expr.Compile(expression, expr.Env(context), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("bad expression %q: %w", expression, err)
	}
	result, err := expr.Run(program, context)
	if err != nil {
		return nil, fmt.Errorf("expression %q: %w", expression, err)
	}
	if result == nil {
		return nil, fmt.Errorf("expression %q resolved to nothing; referenced step result missing", expression)
	}
	return result, nil
}

// coerceNumeric converts a purely numeric rendering to int or float.
func coerceNumeric(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
