package formrelay

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

// AdminClient talks to the administrative endpoints of a running relay.
type AdminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewAdminClient(baseURL, token string) *AdminClient {
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *AdminClient) Counts(ctx context.Context) (map[string]int, error) {
	var out map[string]int
	if err := c.do(ctx, http.MethodGet, "/api/all-email-counts", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *AdminClient) Limit(ctx context.Context, identity string) (Status, error) {
	var out Status
	err := c.do(ctx, http.MethodGet, "/api/email-limit/"+url.PathEscape(identity), &out)
	return out, err
}

func (c *AdminClient) Reset(ctx context.Context) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/reset-email-limits", &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(body, &er) == nil && er.Message != "" {
			return fmt.Errorf("%s %s: %s (%s)", method, path, er.Message, resp.Status)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
