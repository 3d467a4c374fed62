package statuscheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxStatusBodyBytes = 4 << 20

// HTTPClientConfig configures the export status API client.
type HTTPClientConfig struct {
	// BaseURL includes the API version prefix, e.g. https://host/api/2/v.
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// HTTPClient reads export task status from
// GET {BaseURL}/contracts/{contract}/tasks/{task}.
type HTTPClient struct {
	baseURL  string
	username string
	password string
	http     *http.Client
}

type taskResponse struct {
	State    *string `json:"state"`
	Failures []struct {
		MessageID  string `json:"messageId"`
		Attributes struct {
			GTIN             string   `json:"gtin"`
			Name             string   `json:"name"`
			ReferencePrice   *float64 `json:"referencePrice"`
			MinPriceBoundary *float64 `json:"minPriceBoundary"`
			MaxPriceBoundary *float64 `json:"maxPriceBoundary"`
		} `json:"attributes"`
	} `json:"failures"`
}

// NewHTTPClient creates a status client for the export API.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, statusError(ErrInvalidArgument, fmt.Sprintf("invalid status api url %q", cfg.BaseURL))
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{baseURL: base, username: cfg.Username, password: cfg.Password, http: client}, nil
}

// ExportStatus implements StatusClient.
func (c *HTTPClient) ExportStatus(ctx context.Context, contractID, taskID string) (TaskStatus, error) {
	endpoint := fmt.Sprintf("%s/contracts/%s/tasks/%s", c.baseURL, url.PathEscape(contractID), url.PathEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("build status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("request task status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxStatusBodyBytes))
		return TaskStatus{}, statusError(ErrResponse, fmt.Sprintf("task status request failed with status %d", resp.StatusCode))
	}

	var body taskResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxStatusBodyBytes)).Decode(&body); err != nil {
		return TaskStatus{}, statusError(ErrResponse, fmt.Sprintf("decode task status: %v", err))
	}
	if body.State == nil {
		return TaskStatus{}, statusError(ErrResponse, "task status response has no state")
	}

	status := TaskStatus{State: *body.State, Failures: make([]Failure, 0, len(body.Failures))}
	for _, f := range body.Failures {
		status.Failures = append(status.Failures, Failure{
			MessageID:      f.MessageID,
			GTIN:           f.Attributes.GTIN,
			Name:           f.Attributes.Name,
			ReferencePrice: f.Attributes.ReferencePrice,
			MinPrice:       f.Attributes.MinPriceBoundary,
			MaxPrice:       f.Attributes.MaxPriceBoundary,
		})
	}
	return status, nil
}
