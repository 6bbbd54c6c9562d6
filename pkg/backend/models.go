package backend

import (
	"fmt"
)

// SubmitResponse is the backend's answer to a workflow submission.
type SubmitResponse struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number,omitempty"`
}

// FileRef describes one output file as reported by the backend's history.
type FileRef struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder,omitempty"`
	Type      string `json:"type,omitempty"`
}

// NodeOutput groups the files one node produced.
type NodeOutput struct {
	Images []FileRef `json:"images,omitempty"`
	Videos []FileRef `json:"videos,omitempty"`
	Audio  []FileRef `json:"audio,omitempty"`
	GIFs   []FileRef `json:"gifs,omitempty"`
}

// HistoryStatus carries the backend's terminal verdict for a prompt.
type HistoryStatus struct {
	StatusStr string  `json:"status_str"`
	Completed bool    `json:"completed,omitempty"`
	Messages  [][]any `json:"messages,omitempty"`
}

// Backend status strings observed in history.
const (
	HistoryStatusSuccess = "success"
	HistoryStatusError   = "error"
)

// ErrorMessage extracts the best human-readable message from the status
// message log. The backend records entries as [type, payload] pairs.
func (s HistoryStatus) ErrorMessage() string {
	for _, msg := range s.Messages {
		if len(msg) < 2 {
			continue
		}
		switch payload := msg[1].(type) {
		case string:
			return payload
		case map[string]any:
			if m, ok := payload["exception_message"].(string); ok && m != "" {
				return m
			}
		}
	}
	return "unknown error"
}

// HistoryEntry is the backend's per-prompt record.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// History maps prompt id to its record.
type History map[string]HistoryEntry

// QueueStatus is the backend's queue snapshot.
type QueueStatus struct {
	Running []any `json:"queue_running"`
	Pending []any `json:"queue_pending"`
}

// UploadAck is the backend's answer to a file upload.
type UploadAck struct {
	Name      string `json:"name"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

// WSMessage is one push message from the backend's websocket.
type WSMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

// Websocket message types consumed by the tracker.
const (
	WSExecuting            = "executing"
	WSProgress             = "progress"
	WSExecutionSuccess     = "execution_success"
	WSExecutionError       = "execution_error"
	WSExecutionInterrupted = "execution_interrupted"
)

// PromptID returns data.prompt_id when the message is scoped to a prompt.
func (m WSMessage) PromptID() string {
	if m.Data == nil {
		return ""
	}
	id, _ := m.Data["prompt_id"].(string)
	return id
}

// ProgressUpdate is delivered to progress callbacks while a prompt runs.
type ProgressUpdate struct {
	PromptID    string  `json:"prompt_id"`
	CurrentNode string  `json:"current_node,omitempty"`
	Value       float64 `json:"value,omitempty"`
	Max         float64 `json:"max,omitempty"`
}

// Error is a non-2xx answer from a backend. The body is kept verbatim so
// failures can be recorded on the job row.
type Error struct {
	Address string
	Status  int
	Body    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s returned %d: %s", e.Address, e.Status, e.Body)
}
