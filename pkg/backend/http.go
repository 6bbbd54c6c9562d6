package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPClient speaks the render backend's HTTP contract.
type HTTPClient struct {
	address  string
	clientID string
	http     *http.Client
}

// NewHTTPClient creates a client for one backend address.
func NewHTTPClient(address, clientID string) *HTTPClient {
	return &HTTPClient{
		address:  strings.TrimRight(address, "/"),
		clientID: clientID,
		http: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// Address returns the backend base URL.
func (c *HTTPClient) Address() string { return c.address }

// Submit POSTs a workflow document and returns the backend's opaque prompt id.
func (c *HTTPClient) Submit(ctx context.Context, workflow map[string]any) (string, error) {
	body := map[string]any{
		"prompt":    workflow,
		"client_id": c.clientID,
	}

	var resp SubmitResponse
	if err := c.postJSON(ctx, "/prompt", body, &resp); err != nil {
		return "", err
	}
	if resp.PromptID == "" {
		return "", fmt.Errorf("backend %s returned no prompt_id", c.address)
	}
	return resp.PromptID, nil
}

// GetHistory fetches the per-prompt record. With an empty promptID the
// whole history map is returned.
func (c *HTTPClient) GetHistory(ctx context.Context, promptID string) (History, error) {
	path := "/history"
	if promptID != "" {
		path += "/" + url.PathEscape(promptID)
	}

	var history History
	if err := c.getJSON(ctx, path, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// GetQueue fetches the backend's queue snapshot.
func (c *HTTPClient) GetQueue(ctx context.Context) (*QueueStatus, error) {
	var queue QueueStatus
	if err := c.getJSON(ctx, "/queue", &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

// Download fetches raw file bytes from the backend's view endpoint.
func (c *HTTPClient) Download(ctx context.Context, filename, subfolder, kind string) ([]byte, error) {
	if kind == "" {
		kind = "output"
	}
	q := url.Values{}
	q.Set("filename", filename)
	q.Set("subfolder", subfolder)
	q.Set("type", kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.address+"/view?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s from %s: %w", filename, c.address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.httpError(resp)
	}
	return io.ReadAll(resp.Body)
}

// Upload pushes file bytes into the backend's input folder. Overwrite is
// the default so retried uploads are safe.
func (c *HTTPClient) Upload(ctx context.Context, data []byte, filename, subfolder string, overwrite bool) (*UploadAck, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("image", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if subfolder != "" {
		if err := mw.WriteField("subfolder", subfolder); err != nil {
			return nil, err
		}
	}
	if err := mw.WriteField("overwrite", fmt.Sprintf("%t", overwrite)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address+"/upload/image", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload %s to %s: %w", filename, c.address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.httpError(resp)
	}

	var ack UploadAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("decode upload ack: %w", err)
	}
	return &ack, nil
}

// ObjectInfo fetches node definitions, optionally for one node class.
func (c *HTTPClient) ObjectInfo(ctx context.Context, nodeClass string) (map[string]any, error) {
	path := "/object_info"
	if nodeClass != "" {
		path += "/" + url.PathEscape(nodeClass)
	}
	var info map[string]any
	if err := c.getJSON(ctx, path, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// Models lists the backend's model categories.
func (c *HTTPClient) Models(ctx context.Context) ([]string, error) {
	var categories []string
	if err := c.getJSON(ctx, "/models", &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// ModelsByCategory lists the model files of one category.
func (c *HTTPClient) ModelsByCategory(ctx context.Context, category string) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "/models/"+url.PathEscape(category), &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Embeddings lists the backend's embeddings.
func (c *HTTPClient) Embeddings(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "/embeddings", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Extensions lists the backend's extensions.
func (c *HTTPClient) Extensions(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.getJSON(ctx, "/extensions", &names); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *HTTPClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.address+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s%s: %w", c.address, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.httpError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.address+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s%s: %w", c.address, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.httpError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	return &Error{
		Address: c.address,
		Status:  resp.StatusCode,
		Body:    strings.TrimSpace(string(body)),
	}
}
