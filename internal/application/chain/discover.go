package chain

import (
	"os"
	"path/filepath"
	"strings"
)

// Summary describes one discovered chain definition file.
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
	Steps       int    `json:"steps"`
	Levels      int    `json:"levels"`
}

// LoadSpecFile parses a chain definition from a YAML file.
func LoadSpecFile(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, validationErrorf("chain file not found: %s", path)
	}
	return LoadSpec(data)
}

// Discover walks a directory for chain YAML files and summarizes the
// ones that validate and plan cleanly. Invalid files are skipped; they
// surface when submitted explicitly.
func Discover(dir string) ([]Summary, error) {
	var summaries []Summary

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		spec, err := LoadSpecFile(path)
		if err != nil {
			return nil
		}
		plan, err := Plan(spec)
		if err != nil {
			return nil
		}

		summaries = append(summaries, Summary{
			Name:        spec.Name,
			Description: spec.Description,
			Path:        path,
			Steps:       len(spec.Steps),
			Levels:      plan.TotalLevels(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}
