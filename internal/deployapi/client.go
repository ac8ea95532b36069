package deployapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClientConfig configures an HTTP Client.
type ClientConfig struct {
	BaseURL       string
	APIKey        string
	Timeout       time.Duration
	UpdateTimeout time.Duration
	Retries       int
	HTTPClient    *http.Client
	Logger        *slog.Logger
}

// Client is the HTTP implementation of API.
type Client struct {
	baseURL       string
	apiKey        string
	client        *http.Client
	timeout       time.Duration
	updateTimeout time.Duration
	retries       int
	logger        *slog.Logger
}

// statusError is a non-2xx response. 5xx responses are retried.
type statusError struct {
	code   int
	status string
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return "deployment api returned " + e.status
	}
	return fmt.Sprintf("deployment api returned %s: %s", e.status, e.body)
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("deployment api base url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	updateTimeout := cfg.UpdateTimeout
	if updateTimeout <= 0 {
		updateTimeout = 60 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:        cfg.APIKey,
		client:        client,
		timeout:       timeout,
		updateTimeout: updateTimeout,
		retries:       retries,
		logger:        logger,
	}, nil
}

// List returns every deployment visible to the API key.
func (c *Client) List(ctx context.Context) ([]Descriptor, error) {
	var body struct {
		Deployments []Descriptor `json:"deployments"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/deployments", nil, c.timeout, &body); err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	c.logger.Info("listed deployments", "count", len(body.Deployments))
	return body.Deployments, nil
}

// Get returns one deployment.
func (c *Client) Get(ctx context.Context, id string) (*Descriptor, error) {
	var d Descriptor
	if err := c.do(ctx, http.MethodGet, "/v1/deployments/"+url.PathEscape(id), nil, c.timeout, &d); err != nil {
		return nil, fmt.Errorf("get deployment %s: %w", id, err)
	}
	return &d, nil
}

// Update submits a new manifest for id.
func (c *Client) Update(ctx context.Context, id string, m Manifest) (map[string]any, error) {
	payload := map[string]any{"data": m}
	var result map[string]any
	if err := c.do(ctx, http.MethodPut, "/v1/deployments/"+url.PathEscape(id), payload, c.updateTimeout, &result); err != nil {
		return nil, fmt.Errorf("update deployment %s: %w", id, err)
	}
	c.logger.Info("updated deployment", "deployment_id", id)
	return result, nil
}

// Close shuts a deployment down.
func (c *Client) Close(ctx context.Context, id string) (bool, error) {
	if err := c.do(ctx, http.MethodDelete, "/v1/deployments/"+url.PathEscape(id), nil, c.timeout, nil); err != nil {
		return false, fmt.Errorf("close deployment %s: %w", id, err)
	}
	c.logger.Info("closed deployment", "deployment_id", id)
	return true, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any, timeout time.Duration, out any) error {
	var body []byte
	if payload != nil {
		var err error
		if body, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = c.attempt(ctx, method, path, body, timeout, out)
		if lastErr == nil {
			return nil
		}
		var se *statusError
		if errors.As(lastErr, &se) && se.code < 500 {
			return lastErr
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i+1) * 200 * time.Millisecond):
			}
		}
	}
	return lastErr
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte, timeout time.Duration, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{code: resp.StatusCode, status: resp.Status, body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
