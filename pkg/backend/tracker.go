package backend

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Tracking outcomes.
const (
	TrackSuccess     = "success"
	TrackError       = "error"
	TrackInterrupted = "interrupted"
	TrackUnknown     = "unknown"
)

// TrackingResult is the tracker's terminal verdict for one prompt.
type TrackingResult struct {
	Status  string
	History *HistoryEntry
	Err     string
}

// TrackerOptions tunes a tracker.
type TrackerOptions struct {
	PollInterval time.Duration
	Timeout      time.Duration
	OnProgress   func(ProgressUpdate)
}

// Tracker resolves the outcome of a submitted prompt by racing two
// cooperative tasks against one completion gate: a history poller and a
// websocket listener. The poller covers prompts that finish before the
// socket attaches and sockets that drop mid-stream; the listener covers
// progress reporting and fast completion signalling. Whichever task sets
// the gate first wins and the other is cancelled.
type Tracker struct {
	client   *Client
	promptID string
	opts     TrackerOptions

	once   sync.Once
	result TrackingResult
	done   chan struct{}
}

// NewTracker creates a tracker for one prompt on one backend.
func NewTracker(client *Client, promptID string, opts TrackerOptions) *Tracker {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Minute
	}
	return &Tracker{
		client:   client,
		promptID: promptID,
		opts:     opts,
		done:     make(chan struct{}),
	}
}

// Track runs both tasks until one produces a terminal result or the
// overall deadline elapses.
func (t *Tracker) Track(ctx context.Context) TrackingResult {
	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	go t.pollHistory(ctx)
	go t.listenWebsocket(ctx)

	select {
	case <-t.done:
	case <-ctx.Done():
		t.setResult(TrackingResult{
			Status: TrackError,
			Err:    fmt.Sprintf("tracking timed out after %s", t.opts.Timeout),
		})
	}
	return t.result
}

// pollHistory checks the backend's history every poll interval.
func (t *Tracker) pollHistory(ctx context.Context) {
	ticker := time.NewTicker(t.opts.PollInterval)
	defer ticker.Stop()

	for {
		history, err := t.client.HTTP.GetHistory(ctx, t.promptID)
		if err == nil {
			if entry, ok := history[t.promptID]; ok {
				switch entry.Status.StatusStr {
				case HistoryStatusSuccess:
					t.setResult(TrackingResult{Status: TrackSuccess, History: &entry})
					return
				case HistoryStatusError:
					t.setResult(TrackingResult{
						Status:  TrackError,
						History: &entry,
						Err:     entry.Status.ErrorMessage(),
					})
					return
				}
			}
		}
		// Transient polling errors are absorbed; the next tick retries.

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		case <-t.done:
			return
		}
	}
}

// listenWebsocket consumes push messages for the prompt. A failed or
// dropped connection is not an error: polling carries the outcome.
func (t *Tracker) listenWebsocket(ctx context.Context) {
	stream, err := t.client.WS.Listen(ctx, t.promptID)
	if err != nil {
		return
	}

	for msg := range stream {
		switch msg.Type {
		case WSExecuting:
			node, _ := msg.Data["node"].(string)
			if node != "" && t.opts.OnProgress != nil {
				t.opts.OnProgress(ProgressUpdate{
					PromptID:    t.promptID,
					CurrentNode: node,
				})
			}

		case WSProgress:
			if t.opts.OnProgress != nil {
				value, _ := msg.Data["value"].(float64)
				max, _ := msg.Data["max"].(float64)
				t.opts.OnProgress(ProgressUpdate{
					PromptID: t.promptID,
					Value:    value,
					Max:      max,
				})
			}

		case WSExecutionSuccess:
			// The socket only signals completion; history carries the
			// outputs. A fetch failure here is absorbed, polling follows up.
			history, err := t.client.HTTP.GetHistory(ctx, t.promptID)
			if err != nil {
				continue
			}
			if entry, ok := history[t.promptID]; ok {
				t.setResult(TrackingResult{Status: TrackSuccess, History: &entry})
				return
			}

		case WSExecutionError:
			errMsg, _ := msg.Data["exception_message"].(string)
			if errMsg == "" {
				errMsg = "unknown error"
			}
			t.setResult(TrackingResult{Status: TrackError, Err: errMsg})
			return

		case WSExecutionInterrupted:
			t.setResult(TrackingResult{Status: TrackInterrupted, Err: "execution was interrupted"})
			return
		}
	}
}

// setResult closes the gate exactly once.
func (t *Tracker) setResult(result TrackingResult) {
	t.once.Do(func() {
		t.result = result
		close(t.done)
	})
}
