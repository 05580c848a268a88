package pairgate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// HTTPClient talks to the pairgate control surface over HTTP.
// Exactly one of APIKey and Token is normally set.
type HTTPClient struct {
	Base   string
	HTTP   *http.Client
	APIKey string
	Token  string
}

func NewHTTP(base string) *HTTPClient {
	return &HTTPClient{
		Base: strings.TrimRight(base, "/"),
		HTTP: http.DefaultClient,
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) Connect(ctx context.Context, number string) (ConnectResult, error) {
	var out ConnectResult
	err := c.do(ctx, http.MethodPost, "/api/sessions/"+url.PathEscape(number)+"/connect", &out)
	return out, err
}

func (c *HTTPClient) Info(ctx context.Context, number string) (Session, error) {
	var out struct {
		Session Session `json:"session"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(number), &out)
	return out.Session, err
}

func (c *HTTPClient) List(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	err := c.do(ctx, http.MethodGet, "/api/sessions", &out)
	return out.Sessions, err
}

func (c *HTTPClient) Delete(ctx context.Context, number string) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions/"+url.PathEscape(number), nil)
}

func (c *HTTPClient) Stats(ctx context.Context) (Stats, error) {
	var out struct {
		Data Stats `json:"data"`
	}
	err := c.do(ctx, http.MethodGet, "/api/stats", &out)
	return out.Data, err
}

func (c *HTTPClient) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.Base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Method: method, URL: req.URL.String(), StatusCode: resp.StatusCode}
		var body struct {
			Message string `json:"message"`
		}
		if data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
