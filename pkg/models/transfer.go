package models

import "time"

// ArtifactTransfer records the upload of an artifact's bytes into a
// target backend's input folder, performed when a downstream chain step
// consumes an upstream output on a different backend.
type ArtifactTransfer struct {
	ID              string     `json:"id"`
	ArtifactID      string     `json:"artifact_id"`
	SourceJobID     string     `json:"source_job_id"`
	TargetJobID     string     `json:"target_job_id,omitempty"`
	TargetBackend   string     `json:"target_backend"`
	TargetSubfolder string     `json:"target_subfolder,omitempty"`
	Status          string     `json:"status"`
	UploadedAt      *time.Time `json:"uploaded_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Transfer status values.
const (
	TransferStatusPending   = "pending"
	TransferStatusUploading = "uploading"
	TransferStatusCompleted = "completed"
	TransferStatusFailed    = "failed"
)
