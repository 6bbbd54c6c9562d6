package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

const (
	overrideSuffix = "_overrides.json"
	backupSuffix   = ".bak"
)

// OverrideFile is the on-disk structure pairing a template with its
// mutable parameter list. The workflow hash locks the file to one exact
// template revision.
type OverrideFile struct {
	WorkflowHash string      `json:"workflow_hash"`
	GeneratedAt  string      `json:"generated_at"`
	WorkflowName string      `json:"workflow_name"`
	Description  string      `json:"description"`
	Parameters   []Parameter `json:"parameters"`
}

const generatedDescription = "Auto-generated parameter overrides. " +
	"You can edit descriptions, remove parameters to make them immutable, " +
	"or add custom categories."

// extractParameters walks every node and emits a parameter for each
// non-list input value. List values are node wiring and stay frozen.
func extractParameters(template map[string]any) []Parameter {
	var params []Parameter

	for nodeID, raw := range template {
		node, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		class, _ := node["class_type"].(string)
		if class == "" {
			class = "Unknown"
		}
		title := nodeTitle(node)
		inputs, _ := node["inputs"].(map[string]any)

		for inputKey, value := range inputs {
			if _, isWire := value.([]any); isWire {
				continue
			}
			params = append(params, Parameter{
				Key:          nodeID + "." + inputKey,
				NodeID:       nodeID,
				InputKey:     inputKey,
				DefaultValue: value,
				Type:         TypeName(value),
				NodeClass:    class,
				NodeTitle:    title,
				Description:  describe(inputKey, class, title),
				Category:     categorize(inputKey),
			})
		}
	}

	sort.Slice(params, func(i, j int) bool { return params[i].Key < params[j].Key })
	return params
}

// mergeCuration carries user-edited descriptions and categories from a
// stale override file into a freshly extracted parameter list, matched by
// key. Parameters the user deleted from the stale file stay present in
// the regenerated file: a template change voids the curated contract, and
// the backup preserves the old state for inspection.
func mergeCuration(fresh []Parameter, stale *OverrideFile) []Parameter {
	if stale == nil {
		return fresh
	}
	curated := make(map[string]Parameter, len(stale.Parameters))
	for _, p := range stale.Parameters {
		curated[p.Key] = p
	}

	for i, p := range fresh {
		old, ok := curated[p.Key]
		if !ok {
			continue
		}
		if old.Description != "" {
			fresh[i].Description = old.Description
		}
		if old.Category != "" {
			fresh[i].Category = old.Category
		}
	}
	return fresh
}

// writeOverrideFile writes the override file pretty-printed for human
// editing.
func writeOverrideFile(path string, file *OverrideFile) error {
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode override file: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write override file: %w", err)
	}
	return nil
}

// readOverrideFile parses an existing override file.
func readOverrideFile(path string) (*OverrideFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file OverrideFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse override file %s: %w", path, err)
	}
	return &file, nil
}

// backupOverrideFile moves a stale override file aside before the
// regenerated file replaces it.
func backupOverrideFile(path string) error {
	return os.Rename(path, path+backupSuffix)
}

func newOverrideFile(name, hash string, params []Parameter) *OverrideFile {
	return &OverrideFile{
		WorkflowHash: hash,
		GeneratedAt:  time.Now().UTC().Format(time.RFC3339),
		WorkflowName: name,
		Description:  generatedDescription,
		Parameters:   params,
	}
}
