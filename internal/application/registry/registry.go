// Package registry discovers workflow template files, maintains their
// hash-locked override files, and binds caller overrides into concrete
// job documents. The override file is the mutability contract: only
// parameters listed there may be overridden, and editing the file is how
// operators freeze or annotate parameters.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
	"github.com/renderfleet/orchestrator/pkg/canonicaljson"
	pkgmodels "github.com/renderfleet/orchestrator/pkg/models"
)

// WorkflowInfo is one discovered template with its parameter contract.
type WorkflowInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Hash        string      `json:"hash"`
	Parameters  []Parameter `json:"parameters"`
	Output      *Output     `json:"output,omitempty"`
}

// DiscoverySummary reports one discovery pass.
type DiscoverySummary struct {
	Discovered  int      `json:"discovered"`
	Generated   int      `json:"generated"`
	Loaded      int      `json:"loaded"`
	Regenerated int      `json:"regenerated"`
	Errors      []string `json:"errors,omitempty"`
}

// Registry manages the templates directory. Construct one at startup and
// pass it to the worker and HTTP surface; there is no process global.
type Registry struct {
	dir string
	log *logger.Logger

	mu        sync.RWMutex
	workflows map[string]*WorkflowInfo
}

// New creates a registry over one templates directory.
func New(dir string, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	return &Registry{
		dir:       dir,
		log:       log,
		workflows: make(map[string]*WorkflowInfo),
	}
}

// Discover scans the directory, validating or (re)generating override
// files. Templates with an ambiguous output are refused and reported in
// the summary.
func (r *Registry) Discover() (*DiscoverySummary, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read templates dir: %w", err)
	}

	summary := &DiscoverySummary{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, overrideSuffix) {
			continue
		}

		outcome, err := r.processTemplate(filepath.Join(r.dir, name))
		summary.Discovered++
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", name, err))
			r.log.Error("template refused", "template", name, "error", err)
			continue
		}
		switch outcome {
		case "generated":
			summary.Generated++
		case "loaded":
			summary.Loaded++
		case "regenerated":
			summary.Regenerated++
		}
	}

	r.log.Info("template discovery complete",
		"discovered", summary.Discovered,
		"generated", summary.Generated,
		"loaded", summary.Loaded,
		"regenerated", summary.Regenerated,
		"errors", len(summary.Errors),
	)
	return summary, nil
}

// Reload drops all registered templates and re-runs discovery.
func (r *Registry) Reload() (*DiscoverySummary, error) {
	r.mu.Lock()
	r.workflows = make(map[string]*WorkflowInfo)
	r.mu.Unlock()
	return r.Discover()
}

func (r *Registry) processTemplate(path string) (string, error) {
	name := strings.TrimSuffix(filepath.Base(path), ".json")
	overridePath := strings.TrimSuffix(path, ".json") + overrideSuffix

	template, err := r.loadTemplate(path)
	if err != nil {
		return "", err
	}

	hash, err := canonicaljson.Hash(template)
	if err != nil {
		return "", err
	}

	output, err := detectOutput(name, template)
	if err != nil {
		return "", err
	}

	existing, readErr := readOverrideFile(overridePath)
	switch {
	case readErr == nil && existing.WorkflowHash == hash:
		// Hash matches: honour the curated file as-is.
		r.register(&WorkflowInfo{
			Name:        name,
			Description: existing.Description,
			Hash:        hash,
			Parameters:  existing.Parameters,
			Output:      output,
		})
		return "loaded", nil

	case readErr == nil:
		// Template drifted under the override file. Back the stale file
		// up, then regenerate with curation carried over for surviving keys.
		if err := backupOverrideFile(overridePath); err != nil {
			return "", fmt.Errorf("backup stale override file: %w", err)
		}
		params := mergeCuration(extractParameters(template), existing)
		file := newOverrideFile(name, hash, params)
		if err := writeOverrideFile(overridePath, file); err != nil {
			return "", err
		}
		r.register(&WorkflowInfo{
			Name:        name,
			Description: file.Description,
			Hash:        hash,
			Parameters:  params,
			Output:      output,
		})
		r.log.Warn("template changed, override file regenerated",
			"template", name, "backup", filepath.Base(overridePath)+backupSuffix)
		return "regenerated", nil

	case errors.Is(readErr, os.ErrNotExist):
		params := extractParameters(template)
		file := newOverrideFile(name, hash, params)
		if err := writeOverrideFile(overridePath, file); err != nil {
			return "", err
		}
		r.register(&WorkflowInfo{
			Name:        name,
			Description: file.Description,
			Hash:        hash,
			Parameters:  params,
			Output:      output,
		})
		return "generated", nil

	default:
		return "", readErr
	}
}

func (r *Registry) loadTemplate(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	var template map[string]any
	if err := json.Unmarshal(data, &template); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return template, nil
}

func (r *Registry) register(info *WorkflowInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workflows[info.Name] = info
}

// Get returns one registered template's info.
func (r *Registry) Get(name string) (*WorkflowInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.workflows[name]
	return info, ok
}

// List returns all registered templates sorted by name.
func (r *Registry) List() []*WorkflowInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*WorkflowInfo, 0, len(r.workflows))
	for _, info := range r.workflows {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ApplyOverrides binds caller overrides into a deep copy of the template.
// Keys absent from the override file are rejected as not overridable.
// Applying the same overrides twice yields the same document.
func (r *Registry) ApplyOverrides(name string, overrides map[string]any) (map[string]any, error) {
	info, ok := r.Get(name)
	if !ok {
		return nil, pkgmodels.NewValidationError("workflow", fmt.Sprintf("workflow %q not found", name))
	}

	template, err := r.loadTemplate(filepath.Join(r.dir, name+".json"))
	if err != nil {
		return nil, err
	}

	allowed := make(map[string]Parameter, len(info.Parameters))
	for _, p := range info.Parameters {
		allowed[p.Key] = p
	}

	for key, value := range overrides {
		param, ok := allowed[key]
		if !ok {
			return nil, pkgmodels.NewValidationError(key,
				fmt.Sprintf("parameter %q is not overridable in workflow %q", key, name))
		}
		node, ok := template[param.NodeID].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("template %q node %q missing", name, param.NodeID)
		}
		inputs, ok := node["inputs"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("template %q node %q has no inputs", name, param.NodeID)
		}
		inputs[param.InputKey] = value
	}

	return template, nil
}
