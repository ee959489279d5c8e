package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBackendResponseBytes = 2 << 20

// apiClient is the shared HTTP surface for integration backends: a
// base URL, a bearer token, and bounded JSON decoding. Each builtin
// descriptor wraps one per tool bundle.
type apiClient struct {
	baseURL    string
	token      string
	headers    map[string]string
	httpClient *http.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) (*apiClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("backend base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &apiClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

func (c *apiClient) withHeader(key, value string) *apiClient {
	clone := *c
	clone.headers = make(map[string]string, len(c.headers)+1)
	for k, v := range c.headers {
		clone.headers[k] = v
	}
	clone.headers[key] = value
	return &clone
}

func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values) (any, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	c.decorate(req)

	return c.do(req)
}

func (c *apiClient) postJSON(ctx context.Context, path string, payload any) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal backend payload: %w", err)
	}

	endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build backend request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.decorate(req)

	return c.do(req)
}

func (c *apiClient) decorate(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
}

func (c *apiClient) do(req *http.Request) (any, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBackendResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read backend response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("backend returned status=%d", resp.StatusCode)
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, fmt.Errorf("decode backend response: %w", err)
	}
	return decoded, nil
}
