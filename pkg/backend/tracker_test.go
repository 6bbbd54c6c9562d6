package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend is an httptest-backed render server with a scriptable
// history and an optional websocket script.
type fakeBackend struct {
	mu       sync.Mutex
	history  History
	wsScript []WSMessage
	server   *httptest.Server
	upgrader websocket.Upgrader

	submits int
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	fb := &fakeBackend{history: History{}}

	mux := http.NewServeMux()
	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.submits++
		fb.mu.Unlock()
		json.NewEncoder(w).Encode(SubmitResponse{PromptID: "p-1"})
	})
	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		json.NewEncoder(w).Encode(fb.history)
	})
	mux.HandleFunc("/queue", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(QueueStatus{})
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := fb.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		fb.mu.Lock()
		script := fb.wsScript
		fb.mu.Unlock()
		for _, msg := range script {
			data, _ := json.Marshal(msg)
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
		// Hold the connection open; the tracker closes it on completion.
		time.Sleep(5 * time.Second)
	})

	fb.server = httptest.NewServer(mux)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) setHistory(entry HistoryEntry) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.history = History{"p-1": entry}
}

func TestTracker_PollWinsWhenSocketSilent(t *testing.T) {
	fb := newFakeBackend(t)
	// Success is already in history before tracking starts and the
	// websocket never says a word: the poll task must carry the result.
	fb.setHistory(HistoryEntry{
		Outputs: map[string]NodeOutput{
			"4": {Images: []FileRef{{Filename: "img_00001.png"}}},
		},
		Status: HistoryStatus{StatusStr: HistoryStatusSuccess},
	})

	client := NewClient(fb.server.URL, "test-client")
	tracker := NewTracker(client, "p-1", TrackerOptions{
		PollInterval: 10 * time.Millisecond,
		Timeout:      2 * time.Second,
	})

	start := time.Now()
	result := tracker.Track(context.Background())

	assert.Equal(t, TrackSuccess, result.Status)
	require.NotNil(t, result.History)
	assert.Contains(t, result.History.Outputs, "4")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestTracker_HistoryError(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHistory(HistoryEntry{
		Status: HistoryStatus{
			StatusStr: HistoryStatusError,
			Messages:  [][]any{{"execution_error", "boom"}},
		},
	})

	client := NewClient(fb.server.URL, "test-client")
	tracker := NewTracker(client, "p-1", TrackerOptions{
		PollInterval: 10 * time.Millisecond,
		Timeout:      2 * time.Second,
	})

	result := tracker.Track(context.Background())
	assert.Equal(t, TrackError, result.Status)
	assert.Contains(t, result.Err, "boom")
}

func TestTracker_WebsocketError(t *testing.T) {
	fb := newFakeBackend(t)
	fb.wsScript = []WSMessage{
		{Type: WSExecuting, Data: map[string]any{"node": "3", "prompt_id": "p-1"}},
		{Type: WSExecutionError, Data: map[string]any{
			"prompt_id":         "p-1",
			"exception_message": "CUDA out of memory",
		}},
	}

	var progressMu sync.Mutex
	var nodes []string

	client := NewClient(fb.server.URL, "test-client")
	tracker := NewTracker(client, "p-1", TrackerOptions{
		PollInterval: time.Hour, // force the websocket path
		Timeout:      2 * time.Second,
		OnProgress: func(update ProgressUpdate) {
			progressMu.Lock()
			nodes = append(nodes, update.CurrentNode)
			progressMu.Unlock()
		},
	})

	result := tracker.Track(context.Background())
	assert.Equal(t, TrackError, result.Status)
	assert.Contains(t, result.Err, "CUDA out of memory")

	progressMu.Lock()
	assert.Contains(t, nodes, "3")
	progressMu.Unlock()
}

func TestTracker_WebsocketSuccessFetchesHistory(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHistory(HistoryEntry{
		Outputs: map[string]NodeOutput{
			"4": {Videos: []FileRef{{Filename: "vid_00001.mp4"}}},
		},
		Status: HistoryStatus{StatusStr: HistoryStatusSuccess},
	})
	fb.wsScript = []WSMessage{
		{Type: WSExecutionSuccess, Data: map[string]any{"prompt_id": "p-1"}},
	}

	client := NewClient(fb.server.URL, "test-client")
	tracker := NewTracker(client, "p-1", TrackerOptions{
		PollInterval: time.Hour,
		Timeout:      2 * time.Second,
	})

	result := tracker.Track(context.Background())
	assert.Equal(t, TrackSuccess, result.Status)
	require.NotNil(t, result.History)
	assert.Contains(t, result.History.Outputs, "4")
}

func TestTracker_Interrupted(t *testing.T) {
	fb := newFakeBackend(t)
	fb.wsScript = []WSMessage{
		{Type: WSExecutionInterrupted, Data: map[string]any{"prompt_id": "p-1"}},
	}

	client := NewClient(fb.server.URL, "test-client")
	tracker := NewTracker(client, "p-1", TrackerOptions{
		PollInterval: time.Hour,
		Timeout:      2 * time.Second,
	})

	result := tracker.Track(context.Background())
	assert.Equal(t, TrackInterrupted, result.Status)
}

func TestTracker_OverallTimeout(t *testing.T) {
	fb := newFakeBackend(t)
	// Nothing in history, nothing on the socket.

	client := NewClient(fb.server.URL, "test-client")
	tracker := NewTracker(client, "p-1", TrackerOptions{
		PollInterval: 10 * time.Millisecond,
		Timeout:      100 * time.Millisecond,
	})

	result := tracker.Track(context.Background())
	assert.Equal(t, TrackError, result.Status)
	assert.Contains(t, result.Err, "timed out")
}

func TestTracker_FiltersOtherPrompts(t *testing.T) {
	fb := newFakeBackend(t)
	fb.wsScript = []WSMessage{
		{Type: WSExecutionError, Data: map[string]any{
			"prompt_id":         "someone-else",
			"exception_message": "not ours",
		}},
		{Type: WSExecutionSuccess, Data: map[string]any{"prompt_id": "p-1"}},
	}
	fb.setHistory(HistoryEntry{
		Status: HistoryStatus{StatusStr: HistoryStatusSuccess},
	})

	client := NewClient(fb.server.URL, "test-client")
	tracker := NewTracker(client, "p-1", TrackerOptions{
		PollInterval: time.Hour,
		Timeout:      2 * time.Second,
	})

	result := tracker.Track(context.Background())
	assert.Equal(t, TrackSuccess, result.Status)
}

func TestClient_ExecuteAndTrack(t *testing.T) {
	fb := newFakeBackend(t)
	fb.setHistory(HistoryEntry{
		Outputs: map[string]NodeOutput{
			"4": {Images: []FileRef{{Filename: "img_00001.png"}}},
		},
		Status: HistoryStatus{StatusStr: HistoryStatusSuccess},
	})

	client := NewClient(fb.server.URL, "")
	promptID, result := client.ExecuteAndTrack(context.Background(),
		map[string]any{"3": map[string]any{"class_type": "KSampler"}},
		TrackerOptions{PollInterval: 10 * time.Millisecond, Timeout: 2 * time.Second},
	)

	assert.Equal(t, "p-1", promptID)
	assert.Equal(t, TrackSuccess, result.Status)
	assert.Equal(t, 1, fb.submits)
}

func TestHistoryStatus_ErrorMessage(t *testing.T) {
	status := HistoryStatus{Messages: [][]any{
		{"execution_error", map[string]any{"exception_message": "node 7 exploded"}},
	}}
	assert.Equal(t, "node 7 exploded", status.ErrorMessage())

	assert.Equal(t, "unknown error", HistoryStatus{}.ErrorMessage())
}
