package registry

import (
	"fmt"
	"sort"

	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

// Output describes the single terminal save node of a template.
type Output struct {
	NodeID         string `json:"node_id"`
	OutputType     string `json:"output_type"`
	NodeClass      string `json:"node_class"`
	NodeTitle      string `json:"node_title"`
	Format         string `json:"format"`
	FilenamePrefix string `json:"filename_prefix"`
}

// outputNodeClasses maps the recognized save node classes to their
// output type. SaveWebp is a distinct node class from SaveAnimatedWEBP
// (single webp image vs animated sequence); both terminate a graph.
var outputNodeClasses = map[string]string{
	"SaveImage":        pkgmodels.FileTypeImage,
	"PreviewImage":     pkgmodels.FileTypeImage,
	"SaveWebp":         pkgmodels.FileTypeImage,
	"SaveAnimatedWEBP": pkgmodels.FileTypeImage,
	"SaveVideo":        pkgmodels.FileTypeVideo,
	"VHS_VideoCombine": pkgmodels.FileTypeVideo,
}

// AmbiguousOutputError reports a template with more than one terminal
// save node; such templates are refused.
type AmbiguousOutputError struct {
	Template string
	NodeIDs  []string
}

func (e *AmbiguousOutputError) Error() string {
	return fmt.Sprintf(
		"template %q has multiple output nodes %v; split it into one template per output",
		e.Template, e.NodeIDs)
}

// terminalNodes returns the ids of nodes not referenced as the first
// element of any list-valued input. List values are node-to-node wiring;
// everything else is a literal.
func terminalNodes(template map[string]any) map[string]bool {
	referenced := make(map[string]bool)
	for _, raw := range template {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		inputs, _ := node["inputs"].(map[string]any)
		for _, value := range inputs {
			if ref, ok := value.([]any); ok && len(ref) > 0 {
				switch id := ref[0].(type) {
				case string:
					referenced[id] = true
				case float64:
					referenced[fmt.Sprintf("%d", int(id))] = true
				}
			}
		}
	}

	terminal := make(map[string]bool)
	for id := range template {
		if !referenced[id] {
			terminal[id] = true
		}
	}
	return terminal
}

// detectOutput identifies the template's single output node. Zero save
// nodes yields nil; more than one yields AmbiguousOutputError.
func detectOutput(name string, template map[string]any) (*Output, error) {
	terminal := terminalNodes(template)

	var outputs []*Output
	for nodeID := range terminal {
		node, ok := template[nodeID].(map[string]any)
		if !ok {
			continue
		}
		class, _ := node["class_type"].(string)
		outputType, ok := outputNodeClasses[class]
		if !ok {
			continue
		}

		inputs, _ := node["inputs"].(map[string]any)
		format, _ := inputs["format"].(string)
		if format == "" {
			format = "auto"
		}
		prefix, _ := inputs["filename_prefix"].(string)

		outputs = append(outputs, &Output{
			NodeID:         nodeID,
			OutputType:     outputType,
			NodeClass:      class,
			NodeTitle:      nodeTitle(node),
			Format:         format,
			FilenamePrefix: prefix,
		})
	}

	switch len(outputs) {
	case 0:
		return nil, nil
	case 1:
		return outputs[0], nil
	default:
		ids := make([]string, len(outputs))
		for i, o := range outputs {
			ids[i] = o.NodeID
		}
		sort.Strings(ids)
		return nil, &AmbiguousOutputError{Template: name, NodeIDs: ids}
	}
}

func nodeTitle(node map[string]any) string {
	if meta, ok := node["_meta"].(map[string]any); ok {
		if title, ok := meta["title"].(string); ok && title != "" {
			return title
		}
	}
	class, _ := node["class_type"].(string)
	return class
}
