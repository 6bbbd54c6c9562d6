package backend

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// WSClient streams push messages from one backend.
type WSClient struct {
	address  string
	clientID string
	dialer   *websocket.Dialer
}

// NewWSClient creates a websocket client for one backend address.
func NewWSClient(address, clientID string) *WSClient {
	return &WSClient{
		address:  strings.TrimRight(address, "/"),
		clientID: clientID,
		dialer:   websocket.DefaultDialer,
	}
}

// Listen connects and streams messages until the connection drops or ctx
// is cancelled. When promptID is non-empty, messages scoped to a
// different prompt are filtered out; unscoped messages pass through.
// The returned channel closes on disconnect; callers must tolerate a
// silent end of stream.
func (c *WSClient) Listen(ctx context.Context, promptID string) (<-chan WSMessage, error) {
	wsURL, err := c.wsURL()
	if err != nil {
		return nil, err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	out := make(chan WSMessage, 16)

	// Close the connection when the caller goes away so the read loop
	// unblocks.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	go func() {
		defer close(out)
		defer conn.Close()

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind != websocket.TextMessage {
				// Binary frames carry preview image data; the tracker has
				// no use for them.
				continue
			}

			var msg WSMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if promptID != "" {
				if scoped := msg.PromptID(); scoped != "" && scoped != promptID {
					continue
				}
			}

			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func (c *WSClient) wsURL() (string, error) {
	parsed, err := url.Parse(c.address)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = "/ws"
	q := parsed.Query()
	q.Set("clientId", c.clientID)
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}
