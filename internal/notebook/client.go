// Package notebook is a client for the SiYuan kernel HTTP API: daily
// note creation, block insertion and asset upload.
package notebook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/inboxforge/telegram-inbox/internal/attach"
)

// Client talks to one SiYuan kernel.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a kernel client. token may be empty when the kernel
// runs without API authentication.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 7 * time.Second},
	}
}

// Notebook is one notebook known to the kernel.
type Notebook struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Closed bool   `json:"closed"`
}

// envelope is the kernel's uniform response shape.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ListNotebooks returns all notebooks.
func (c *Client) ListNotebooks(ctx context.Context) ([]Notebook, error) {
	data, err := c.post(ctx, "/api/notebook/lsNotebooks", map[string]any{})
	if err != nil {
		return nil, fmt.Errorf("lsNotebooks: %w", err)
	}

	var result struct {
		Notebooks []Notebook `json:"notebooks"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("lsNotebooks: decode: %w", err)
	}
	return result.Notebooks, nil
}

// CreateDailyNote creates or opens today's note in the given notebook
// and returns its document id.
func (c *Client) CreateDailyNote(ctx context.Context, notebookID string) (string, error) {
	data, err := c.post(ctx, "/api/filetree/createDailyNote", map[string]any{
		"notebook": notebookID,
	})
	if err != nil {
		return "", fmt.Errorf("createDailyNote: %w", err)
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("createDailyNote: decode: %w", err)
	}
	return result.ID, nil
}

// PrependBlock inserts markdown as a new block at the top of a note.
func (c *Client) PrependBlock(ctx context.Context, parentID, markdown string) error {
	_, err := c.post(ctx, "/api/block/prependBlock", map[string]any{
		"dataType": "markdown",
		"data":     markdown,
		"parentID": parentID,
	})
	if err != nil {
		return fmt.Errorf("prependBlock: %w", err)
	}
	return nil
}

// Upload implements attach.Uploader: it stores files under the given
// assets directory and returns the kernel's name to path mapping.
func (c *Client) Upload(ctx context.Context, dest string, files []attach.UploadFile) (map[string]string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	if err := w.WriteField("assetsDirPath", dest); err != nil {
		return nil, fmt.Errorf("upload: write field: %w", err)
	}
	for _, f := range files {
		part, err := w.CreateFormFile("file[]", f.Name)
		if err != nil {
			return nil, fmt.Errorf("upload: create part: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("upload: write part: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("upload: close writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/asset/upload", &body)
	if err != nil {
		return nil, fmt.Errorf("upload: create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.authorize(req)

	data, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}

	var result struct {
		SuccMap  map[string]string `json:"succMap"`
		ErrFiles []string          `json:"errFiles"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("upload: decode: %w", err)
	}
	return result.SuccMap, nil
}

// post issues one JSON API call and unwraps the envelope.
func (c *Client) post(ctx context.Context, apiPath string, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+apiPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	return c.do(req)
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
}

func (c *Client) do(req *http.Request) (json.RawMessage, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("kernel error %d: %s", env.Code, env.Msg)
	}
	return env.Data, nil
}
