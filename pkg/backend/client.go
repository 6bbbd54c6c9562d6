// Package backend implements the client for one render server: workflow
// submission, history polling, file transfer, introspection, and the
// websocket progress stream, plus the execution tracker that races the
// two completion channels.
package backend

import (
	"context"

	"github.com/google/uuid"
)

// Client is the high-level handle for one backend. One instance per
// (address, client id); the client id scopes the websocket stream.
type Client struct {
	HTTP *HTTPClient
	WS   *WSClient

	address  string
	clientID string
}

// NewClient creates a client. An empty clientID gets a fresh UUID; durable
// workflow code must instead pass an engine-generated id so replay stays
// deterministic.
func NewClient(address, clientID string) *Client {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Client{
		HTTP:     NewHTTPClient(address, clientID),
		WS:       NewWSClient(address, clientID),
		address:  address,
		clientID: clientID,
	}
}

// Address returns the backend base URL.
func (c *Client) Address() string { return c.address }

// ClientID returns the websocket client id.
func (c *Client) ClientID() string { return c.clientID }

// ExecuteAndTrack submits a workflow and tracks it to a terminal outcome.
func (c *Client) ExecuteAndTrack(ctx context.Context, workflow map[string]any, opts TrackerOptions) (string, TrackingResult) {
	promptID, err := c.HTTP.Submit(ctx, workflow)
	if err != nil {
		return "", TrackingResult{Status: TrackError, Err: err.Error()}
	}

	tracker := NewTracker(c, promptID, opts)
	return promptID, tracker.Track(ctx)
}
