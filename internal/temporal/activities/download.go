package activities

import (
	"context"
	"fmt"

	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	"github.com/renderfleet/orchestrator/pkg/backend"
	"github.com/renderfleet/orchestrator/pkg/models"
)

// DownloadRequest is the input to the download activities. NewVersion is
// set on regeneration runs: instead of deduplicating against prior rows,
// each file becomes a fresh artifact version parented on the job's
// current latest.
type DownloadRequest struct {
	JobDBID        string       `json:"job_db_id,omitempty"`
	BackendAddress string       `json:"backend_address"`
	Files          []OutputFile `json:"files"`
	NewVersion     bool         `json:"new_version,omitempty"`
}

// StoredArtifact describes one downloaded file, with the artifact row id
// when the download was persisted.
type StoredArtifact struct {
	ArtifactID       string `json:"artifact_id,omitempty"`
	OriginalFilename string `json:"original_filename"`
	LocalFilename    string `json:"local_filename"`
	LocalPath        string `json:"local_path"`
	FileType         string `json:"file_type"`
	FileSize         int64  `json:"file_size"`
	NodeID           string `json:"node_id,omitempty"`
}

// DownloadAndPersist downloads every output file into the artifact store
// and records an artifact row per file under the given job. On retry,
// files that already have a row for this job are skipped rather than
// stored twice.
func (a *Activities) DownloadAndPersist(ctx context.Context, req DownloadRequest) ([]StoredArtifact, error) {
	if req.JobDBID == "" {
		return nil, fmt.Errorf("download_and_persist requires a job id")
	}

	existing, err := a.Artifacts.ListByJob(ctx, req.JobDBID, true)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]*models.Artifact, len(existing))
	for _, artifact := range existing {
		seen[artifact.OriginalFilename+"|"+artifact.NodeID] = artifact
	}

	// Regeneration chains the new files onto the current latest version.
	var parentID string
	if req.NewVersion {
		if latest, err := a.Artifacts.Latest(ctx, req.JobDBID); err == nil {
			parentID = latest.ID
		}
	}

	client := backend.NewHTTPClient(req.BackendAddress, "artifact-download")
	var stored []StoredArtifact

	for _, file := range req.Files {
		if prior, ok := seen[file.Filename+"|"+file.NodeID]; ok && !req.NewVersion {
			stored = append(stored, StoredArtifact{
				ArtifactID:       prior.ID,
				OriginalFilename: prior.OriginalFilename,
				LocalFilename:    prior.LocalFilename,
				LocalPath:        prior.LocalPath,
				FileType:         prior.FileType,
				FileSize:         prior.FileSize,
				NodeID:           prior.NodeID,
			})
			continue
		}

		data, err := client.Download(ctx, file.Filename, file.Subfolder, file.Kind)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", file.Filename, err)
		}

		saved, err := a.Store.Save(data, file.Filename)
		if err != nil {
			return nil, err
		}

		artifact, err := a.Artifacts.Create(ctx, storage.CreateArtifactParams{
			JobID:            req.JobDBID,
			OriginalFilename: file.Filename,
			LocalFilename:    saved.LocalFilename,
			LocalPath:        saved.LocalPath,
			FileType:         fileTypeFor(file),
			FileFormat:       models.FileFormatForName(file.Filename),
			FileSize:         saved.Size,
			NodeID:           file.NodeID,
			Subfolder:        file.Subfolder,
			BackendFolder:    file.Kind,
			ParentArtifactID: parentID,
		})
		if err != nil {
			return nil, err
		}

		stored = append(stored, StoredArtifact{
			ArtifactID:       artifact.ID,
			OriginalFilename: artifact.OriginalFilename,
			LocalFilename:    artifact.LocalFilename,
			LocalPath:        artifact.LocalPath,
			FileType:         artifact.FileType,
			FileSize:         artifact.FileSize,
			NodeID:           artifact.NodeID,
		})
	}

	a.Log.Info("artifacts persisted", "job_id", req.JobDBID, "count", len(stored))
	return stored, nil
}

// DownloadOnly downloads output files into the store without touching
// the metadata database. Used by standalone jobs submitted without a
// job row.
func (a *Activities) DownloadOnly(ctx context.Context, req DownloadRequest) ([]StoredArtifact, error) {
	client := backend.NewHTTPClient(req.BackendAddress, "artifact-download")
	var stored []StoredArtifact

	for _, file := range req.Files {
		data, err := client.Download(ctx, file.Filename, file.Subfolder, file.Kind)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", file.Filename, err)
		}
		saved, err := a.Store.Save(data, file.Filename)
		if err != nil {
			return nil, err
		}
		stored = append(stored, StoredArtifact{
			OriginalFilename: file.Filename,
			LocalFilename:    saved.LocalFilename,
			LocalPath:        saved.LocalPath,
			FileType:         fileTypeFor(file),
			FileSize:         saved.Size,
			NodeID:           file.NodeID,
		})
	}
	return stored, nil
}

func fileTypeFor(file OutputFile) string {
	if file.FileType != "" && file.FileType != models.FileTypeUnknown {
		return file.FileType
	}
	return models.FileTypeForName(file.Filename)
}
