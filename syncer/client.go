package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/code-cortex/codemirror/models"
)

// Client is the CLI side of the sync boundary, talking to the server's
// /api/codemirror/cli endpoints.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a sync client. Timeout bounds each upload; sync never
// blocks indefinitely.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Upload submits one offline run. A conflict is reported on the returned
// record, not as an error.
func (c *Client) Upload(ctx context.Context, payload UploadPayload) (*models.SyncRecord, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sync payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/codemirror/cli/sync", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sync upload rejected: %s: %s", resp.Status, data)
	}

	var record models.SyncRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode sync response: %w", err)
	}
	return &record, nil
}

// Fetch retrieves the record for a previously issued sync token.
func (c *Client) Fetch(ctx context.Context, syncToken string) (*models.SyncRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/codemirror/cli/sync/"+syncToken, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sync fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sync record %s: %s", syncToken, resp.Status)
	}
	var record models.SyncRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("failed to decode sync record: %w", err)
	}
	return &record, nil
}
