package registry

import (
	"fmt"
	"math"
	"strings"
)

// Parameter value type names as carried in override files.
const (
	TypeStr   = "str"
	TypeInt   = "int"
	TypeFloat = "float"
	TypeBool  = "bool"
	TypeList  = "list"
	TypeDict  = "dict"
)

// Parameter is one overridable input of a workflow template. The key is
// "<node_id>.<input_key>".
type Parameter struct {
	Key          string `json:"key"`
	NodeID       string `json:"node_id"`
	InputKey     string `json:"input_key"`
	DefaultValue any    `json:"default_value"`
	Type         string `json:"type"`
	NodeClass    string `json:"node_class"`
	NodeTitle    string `json:"node_title"`
	Description  string `json:"description"`
	Category     string `json:"category"`
}

// TypeName classifies a JSON value into the override file's nominal
// type vocabulary.
func TypeName(v any) string {
	switch val := v.(type) {
	case bool:
		return TypeBool
	case string:
		return TypeStr
	case float64:
		if val == math.Trunc(val) {
			return TypeInt
		}
		return TypeFloat
	case int, int64:
		return TypeInt
	case []any:
		return TypeList
	case map[string]any:
		return TypeDict
	default:
		return TypeStr
	}
}

// CheckType validates a value against an expected nominal type. Integers
// are acceptable where a float is expected.
func CheckType(key string, value any, expected string) error {
	actual := TypeName(value)
	if actual == expected {
		return nil
	}
	if expected == TypeFloat && actual == TypeInt {
		return nil
	}
	return fmt.Errorf("parameter %q must be a %s, got %s", key, typeLabel(expected), typeLabel(actual))
}

func typeLabel(t string) string {
	switch t {
	case TypeStr:
		return "string"
	case TypeInt:
		return "integer"
	case TypeFloat:
		return "number"
	case TypeBool:
		return "boolean"
	case TypeList:
		return "list"
	case TypeDict:
		return "object"
	default:
		return t
	}
}

// categorize derives the parameter category from its input key.
func categorize(inputKey string) string {
	key := strings.ToLower(inputKey)

	switch {
	case strings.Contains(key, "text"), strings.Contains(key, "prompt"):
		return "prompts"
	case key == "width", key == "height", key == "length", key == "batch_size":
		return "dimensions"
	case strings.Contains(key, "seed"):
		return "generation"
	case key == "steps", key == "cfg", key == "denoise", key == "sampler_name", key == "scheduler":
		return "sampling"
	case key == "fps", key == "frame", key == "duration":
		return "video"
	case strings.Contains(key, "image"), strings.Contains(key, "video"):
		return "media"
	case strings.Contains(key, "model"), strings.Contains(key, "lora"), strings.Contains(key, "vae"):
		return "models"
	default:
		return "other"
	}
}

// describe derives a helpful parameter description.
func describe(inputKey, nodeClass, nodeTitle string) string {
	key := strings.ToLower(inputKey)

	switch {
	case strings.Contains(key, "text"):
		title := strings.ToLower(nodeTitle)
		switch {
		case strings.Contains(title, "negative"):
			return "Negative prompt (what to avoid)"
		case strings.Contains(title, "positive"):
			return "Positive prompt (what to generate)"
		default:
			return fmt.Sprintf("Text input for %s", nodeTitle)
		}
	case inputKey == "width":
		return "Output width in pixels"
	case inputKey == "height":
		return "Output height in pixels"
	case strings.Contains(key, "seed"):
		return "Random seed for reproducibility"
	case inputKey == "steps":
		return "Number of sampling steps"
	case inputKey == "cfg":
		return "Classifier-free guidance scale"
	case inputKey == "fps":
		return "Frames per second for video output"
	default:
		return fmt.Sprintf("%s parameter for %s", inputKey, nodeClass)
	}
}
