// Package scrape fetches page content from the extraction provider so a
// session can be primed with context about a prospect's site.
package scrape

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

// Resource classes the provider is told not to load. Pages are fetched for
// their text, so everything visual is skipped.
var blockedResources = []string{"stylesheet", "image", "media", "font", "script"}

// Client calls the extraction provider on behalf of the gateway.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

type providerResponse struct {
	Content string `json:"content"`
}

// Fetch returns the page content for target, stripped of blocked resources by
// the provider.
func (c *Client) Fetch(ctx context.Context, target string) (string, error) {
	if strings.TrimSpace(target) == "" {
		return "", fmt.Errorf("empty target url")
	}

	q := url.Values{}
	q.Set("url", target)
	q.Set("browser", "false")
	for _, r := range blockedResources {
		q.Add("block_resource", r)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("create scrape request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	res, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("scrape request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("scrape status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed providerResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode scrape response: %w", err)
	}
	if parsed.Content == "" {
		return "", fmt.Errorf("scrape response missing content")
	}
	return parsed.Content, nil
}
