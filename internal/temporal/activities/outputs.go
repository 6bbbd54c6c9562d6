package activities

import (
	"context"
	"sort"

	"github.com/renderfleet/orchestrator/pkg/backend"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// OutputFile is one backend-side output file with its producer node.
type OutputFile struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Kind      string `json:"kind"`
	NodeID    string `json:"node_id"`
	FileType  string `json:"file_type"`
}

// ExtractOutputFiles flattens a history outputs map into the files to
// download, sorted for a stable order across retries.
func (a *Activities) ExtractOutputFiles(ctx context.Context, outputs map[string]backend.NodeOutput) ([]OutputFile, error) {
	var files []OutputFile

	appendRefs := func(nodeID, fileType string, refs []backend.FileRef) {
		for _, ref := range refs {
			kind := ref.Type
			if kind == "" {
				kind = models.FolderOutput
			}
			files = append(files, OutputFile{
				Filename:  ref.Filename,
				Subfolder: ref.Subfolder,
				Kind:      kind,
				NodeID:    nodeID,
				FileType:  fileType,
			})
		}
	}

	for nodeID, out := range outputs {
		appendRefs(nodeID, models.FileTypeImage, out.Images)
		appendRefs(nodeID, models.FileTypeVideo, out.Videos)
		appendRefs(nodeID, models.FileTypeAudio, out.Audio)
		appendRefs(nodeID, models.FileTypeImage, out.GIFs)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].NodeID != files[j].NodeID {
			return files[i].NodeID < files[j].NodeID
		}
		return files[i].Filename < files[j].Filename
	})
	return files, nil
}

// StructuredOutputRequest asks for a chain-friendly output descriptor.
type StructuredOutputRequest struct {
	WorkflowName string       `json:"workflow_name"`
	ServerFiles  []OutputFile `json:"server_files"`
}

// BuildStructuredOutput shapes the standardized step output consumed by
// downstream chain templates: {"video": "<file>", "type": "video", ...}.
// Workflows without a registered output descriptor get nil.
func (a *Activities) BuildStructuredOutput(ctx context.Context, req StructuredOutputRequest) (map[string]any, error) {
	if req.WorkflowName == "" || len(req.ServerFiles) == 0 {
		return nil, nil
	}
	info, ok := a.Registry.Get(req.WorkflowName)
	if !ok || info.Output == nil {
		return nil, nil
	}

	return map[string]any{
		info.Output.OutputType: req.ServerFiles[0].Filename,
		"type":                 info.Output.OutputType,
		"format":               info.Output.Format,
		"server_files":         req.ServerFiles,
		"count":                len(req.ServerFiles),
	}, nil
}
