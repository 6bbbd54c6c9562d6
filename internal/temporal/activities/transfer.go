package activities

import (
	"context"
	"fmt"

	"github.com/renderfleet/orchestrator/internal/infrastructure/storage"
	"github.com/renderfleet/orchestrator/pkg/backend"
)

// TransferRequest moves stored artifacts onto a target backend's input
// folder so a downstream step can consume them.
type TransferRequest struct {
	SourceJobID     string   `json:"source_job_id"`
	TargetBackend   string   `json:"target_backend"`
	TargetJobID     string   `json:"target_job_id,omitempty"`
	TargetSubfolder string   `json:"target_subfolder,omitempty"`
	ArtifactIDs     []string `json:"artifact_ids"`
}

// TransferResult reports the uploads performed.
type TransferResult struct {
	Transferred int      `json:"transferred"`
	TransferIDs []string `json:"transfer_ids"`
}

// TransferArtifacts reads each artifact's bytes from the store and
// uploads them under the artifact's original filename, recording a
// transfer row per file. Uploads overwrite, so a retried transfer is
// safe; the invariant after completion is that the original filename is
// present in the target's input folder.
func (a *Activities) TransferArtifacts(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	client := backend.NewHTTPClient(req.TargetBackend, "artifact-transfer")
	result := &TransferResult{}

	for _, artifactID := range req.ArtifactIDs {
		artifact, err := a.Artifacts.FindByID(ctx, artifactID)
		if err != nil {
			return nil, fmt.Errorf("load artifact %s: %w", artifactID, err)
		}

		transfer, err := a.Transfers.Create(ctx, storage.CreateTransferParams{
			ArtifactID:      artifact.ID,
			SourceJobID:     req.SourceJobID,
			TargetJobID:     req.TargetJobID,
			TargetBackend:   req.TargetBackend,
			TargetSubfolder: req.TargetSubfolder,
		})
		if err != nil {
			return nil, err
		}

		if err := a.Transfers.MarkUploading(ctx, transfer.ID); err != nil {
			return nil, err
		}

		data, err := a.Store.Serve(artifact.LocalFilename)
		if err != nil {
			_ = a.Transfers.MarkFailed(ctx, transfer.ID, err.Error())
			return nil, fmt.Errorf("read artifact %s: %w", artifact.LocalFilename, err)
		}

		if _, err := client.Upload(ctx, data, artifact.OriginalFilename, req.TargetSubfolder, true); err != nil {
			_ = a.Transfers.MarkFailed(ctx, transfer.ID, err.Error())
			return nil, fmt.Errorf("upload %s to %s: %w", artifact.OriginalFilename, req.TargetBackend, err)
		}

		if err := a.Transfers.MarkCompleted(ctx, transfer.ID); err != nil {
			return nil, err
		}

		result.Transferred++
		result.TransferIDs = append(result.TransferIDs, transfer.ID)
	}

	a.Log.Info("artifacts transferred",
		"source_job", req.SourceJobID, "target", req.TargetBackend, "count", result.Transferred)
	return result, nil
}

// GetJobArtifactIDs returns the ids of a job's current artifacts, latest
// versions only.
func (a *Activities) GetJobArtifactIDs(ctx context.Context, jobID string) ([]string, error) {
	artifacts, err := a.Artifacts.ListByJob(ctx, jobID, false)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(artifacts))
	for i, artifact := range artifacts {
		ids[i] = artifact.ID
	}
	return ids, nil
}
