// Package records mirrors application status into the low-code records
// store used by the operations team.
package records

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client performs authenticated PATCH calls against the records store.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// PatchRecord updates one row of a mirrored table.
func (c *Client) PatchRecord(ctx context.Context, tableID string, record map[string]any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/api/v2/tables/%s/records", c.baseURL, tableID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xc-token", c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.logger.Info("records store patch",
		zap.String("table_id", tableID), zap.Int("status", resp.StatusCode))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("records store patch failed: status %d", resp.StatusCode)
	}
	return nil
}
