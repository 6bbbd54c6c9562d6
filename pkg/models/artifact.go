package models

import (
	"path/filepath"
	"strings"
	"time"
)

// Artifact represents one output file produced by a job and persisted in
// the artifact store. Artifacts are versioned: a regenerated or edited
// output becomes a new artifact with Version = parent.Version + 1 under
// the same job.
type Artifact struct {
	ID               string         `json:"id"`
	JobID            string         `json:"job_id"`
	OriginalFilename string         `json:"original_filename"`
	LocalFilename    string         `json:"local_filename"`
	LocalPath        string         `json:"local_path"`
	FileType         string         `json:"file_type"`
	FileFormat       string         `json:"file_format,omitempty"`
	FileSize         int64          `json:"file_size,omitempty"`
	NodeID           string         `json:"node_id,omitempty"`
	Subfolder        string         `json:"subfolder,omitempty"`
	BackendFolder    string         `json:"backend_folder_kind"`
	Version          int            `json:"version"`
	IsLatest         bool           `json:"is_latest"`
	ParentArtifactID string         `json:"parent_artifact_id,omitempty"`
	ApprovalStatus   string         `json:"approval_status"`
	Approver         string         `json:"approver,omitempty"`
	DecidedAt        *time.Time     `json:"decided_at,omitempty"`
	RejectionReason  string         `json:"rejection_reason,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Artifact file types.
const (
	FileTypeImage   = "image"
	FileTypeVideo   = "video"
	FileTypeAudio   = "audio"
	FileTypeUnknown = "unknown"
)

// Backend folder kinds, matching the backend's view endpoint.
const (
	FolderOutput = "output"
	FolderInput  = "input"
	FolderTemp   = "temp"
)

// Artifact approval states.
const (
	ArtifactApprovalPending      = "pending"
	ArtifactApprovalApproved     = "approved"
	ArtifactApprovalRejected     = "rejected"
	ArtifactApprovalAutoApproved = "auto_approved"
	ArtifactApprovalEdited       = "edited"
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".webp": true,
	".gif": true, ".bmp": true, ".tiff": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".webm": true, ".mov": true, ".avi": true, ".mkv": true,
}

var audioExts = map[string]bool{
	".wav": true, ".mp3": true, ".flac": true, ".ogg": true,
}

// FileTypeForName classifies a filename by extension.
func FileTypeForName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case imageExts[ext]:
		return FileTypeImage
	case videoExts[ext]:
		return FileTypeVideo
	case audioExts[ext]:
		return FileTypeAudio
	default:
		return FileTypeUnknown
	}
}

// FileFormatForName returns the extension without the leading dot,
// lowercased, or "" when the name has no extension.
func FileFormatForName(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
